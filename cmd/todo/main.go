package main

import (
	"os"

	"todos/cli"
)

func main() {
	os.Exit(cli.Execute())
}
