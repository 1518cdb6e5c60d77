// Package main provides the lexstore command-line tool.
package main

import (
	"os"

	"github.com/leapstack-labs/lexstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
