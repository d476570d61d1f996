// Package main is the entry point for the etl binary.
package main

import (
	"os"

	cli "etl-catalog/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
