package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aretw0/vellora"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of vellora",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vellora version %s\n", strings.TrimSpace(vellora.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
