// Package main is the entry point for the metaview application.
package main

import (
	"os"

	"github.com/vidinfra/metaview/cmd/metaview/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
