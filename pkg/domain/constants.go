package domain

// Command names understood by the controller.
const (
	CommandStart   = "start"
	CommandBegin   = "begin"
	CommandRestart = "restart"
)

// Payment metadata keys shared by the checkout flow and the payment webhook.
const (
	MetadataSetupCode = "setupCode"
	MetadataPlan      = "plan"
)

// IsRestart reports whether a command name resets the dialogue.
func IsRestart(command string) bool {
	switch command {
	case CommandStart, CommandBegin, CommandRestart:
		return true
	}
	return false
}
