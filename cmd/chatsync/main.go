// Package main provides the entry point for the chatsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/chatsync/chatsync/cmd/chatsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
