package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/vellora/internal/cli"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Inspect and reset onboarding records",
}

var recordListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations with a record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, _, err := buildApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.ListRecords(cmd.Context(), app, cmd.OutOrStdout())
	},
}

var recordShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show the record of a conversation",
	Long: `Prints the record as JSON. The credential hash is never shown. With --graph
the dialogue is printed as a Mermaid flowchart with the record's progress.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asGraph, _ := cmd.Flags().GetBool("graph")

		app, _, err := buildApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.ShowRecord(cmd.Context(), app, args[0], cmd.OutOrStdout(), asGraph)
	},
}

var recordResetCmd = &cobra.Command{
	Use:   "reset <conversation-id>...",
	Short: "Remove one or more records",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, _, err := buildApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.ResetRecords(cmd.Context(), app, cmd.OutOrStdout(), args...)
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordListCmd, recordShowCmd, recordResetCmd)
	recordShowCmd.Flags().Bool("graph", false, "Print a Mermaid diagram instead of JSON")
}
