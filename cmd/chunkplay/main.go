// Package main is the entry point for the chunkplay application.
package main

import (
	"os"

	"github.com/jmylchreest/chunkplay/cmd/chunkplay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
