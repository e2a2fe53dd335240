package main

import (
	"os"

	"github.com/grayline-dev/grayline/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
