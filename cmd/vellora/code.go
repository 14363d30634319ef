package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/vellora/internal/cli"
	"github.com/aretw0/vellora/pkg/adapters/mcp"
)

var codeCmd = &cobra.Command{
	Use:   "code",
	Short: "Manage activation codes",
}

var codeGenerateCmd = &cobra.Command{
	Use:   "generate <plan>",
	Short: "Mint an activation code for a plan",
	Long: `Mints a pending activation code, as a checkout would. With --confirm the
code is released at once so it can be redeemed without a payment.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")

		app, _, err := buildApp(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		code, err := cli.GenerateCode(cmd.Context(), app, args[0], confirm)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(mcp.CodeResult{
			Code:   code.Code,
			Plan:   code.Plan,
			Status: code.Status,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(codeCmd)
	codeCmd.AddCommand(codeGenerateCmd)
	codeGenerateCmd.Flags().Bool("confirm", false, "Mark the code as paid")
}
