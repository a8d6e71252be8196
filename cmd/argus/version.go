package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the argus version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("argus version %s\n", version)
		},
	}
}
