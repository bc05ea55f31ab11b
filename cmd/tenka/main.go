// Package main is the entry point for the tenka CLI.
package main

import (
	"os"

	_ "time/tzdata"

	"github.com/KafClaw/tenka/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
