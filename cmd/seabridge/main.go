package main

import (
	"os"

	"SeaIndexBridge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
