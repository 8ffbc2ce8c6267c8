// Command cantina is the CLI entry point for the cantina control plane.
package main

import (
	"fmt"
	"os"

	"github.com/cantina-run/cantina/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
