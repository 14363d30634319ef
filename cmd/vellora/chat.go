package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/vellora"
	"github.com/aretw0/vellora/internal/cli"
	"github.com/aretw0/vellora/internal/presentation/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Run the onboarding dialogue in the terminal",
	Long: `Runs the onboarding conversation against the configured store, replying in
the terminal instead of the messaging platform. Type /start to begin again,
exit to leave. The password step does not echo when stdin is a terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := "console"
		if len(args) > 0 {
			id = args[0]
		}
		plain, _ := cmd.Flags().GetBool("plain")

		render := tui.PlainRenderer
		if !plain && term.IsTerminal(int(os.Stdout.Fd())) {
			width, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err != nil {
				width = 80
			}
			render = tui.NewRenderer(width)
			tui.PrintBanner(os.Stdout, strings.TrimSpace(vellora.Version))
		}

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		app, _, err := buildApp(sigCtx, cmd, cli.WithMessenger(cli.NewConsole(os.Stdout, render)))
		if err != nil {
			return err
		}
		defer app.Close()

		return cli.Chat(sigCtx, app, cli.ChatOptions{
			ConversationID: id,
			In:             os.Stdin,
			Out:            os.Stdout,
			Secret:         cli.TerminalSecret(os.Stdin),
		})
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().Bool("plain", false, "Print replies without markdown rendering")
}
