package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/aretw0/vellora/internal/cli"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes operator tools (generate_code, confirm_code, inspect_record,
restart_conversation, send_message, list_records) and the plan catalogue to
MCP clients.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		addr, _ := cmd.Flags().GetString("addr")
		baseURL, _ := cmd.Flags().GetString("base-url")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, logger, err := buildApp(sigCtx, cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		srv := app.MCPServer()

		switch transport {
		case "stdio":
			// Ensure logs don't corrupt JSON-RPC on Stdout
			log.SetOutput(cmd.ErrOrStderr())
			logger.Info("Starting Vellora MCP Server (Stdio)")
			return srv.ServeStdio()
		case "sse":
			if baseURL == "" {
				baseURL = "http://localhost" + addr
			}
			if err := srv.ServeSSE(sigCtx, addr, baseURL); err != nil {
				return err
			}
			logger.Info("MCP Server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().String("addr", ":8081", "Address to listen on (only for SSE)")
	mcpCmd.Flags().String("base-url", "", "Public base URL of the SSE endpoint")
}
