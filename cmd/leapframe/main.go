// Package main is the leapframe command.
package main

import (
	"os"

	"github.com/leapstack-labs/leapframe/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
