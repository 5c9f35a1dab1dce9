// Package main is the schemasync command.
package main

import (
	"os"

	"github.com/leapstack-labs/schemasync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
