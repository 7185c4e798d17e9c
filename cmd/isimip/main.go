// Package main is the entry point for the isimip CLI.
// The CLI downloads ISIMIP3b bias-adjusted climate files, crops them to a
// bounding box and optionally builds NcML descriptors over the results.
package main

import (
	"os"

	"isimip/cmd/isimip/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
