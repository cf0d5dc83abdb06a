// Package main is the entry point for the crm server and CLI.
package main

import (
	"fmt"
	"os"

	"github.com/asd12288/meydacrm/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
