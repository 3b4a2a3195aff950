// Command coda is the coding agent CLI.
package main

import (
	"fmt"
	"os"

	"coda/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
