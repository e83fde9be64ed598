// Package main is the entry point for the heygemd daemon.
package main

import (
	"os"

	"github.com/surajit20072003/heygemd/cmd/heygemd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
