package domain

// ChatState is the progress indicator shown while a message is in flight.
// It is a UX signal only and does not track real network progress.
type ChatState string

const (
	ChatStateIdle        ChatState = "idle"
	ChatStateConnecting  ChatState = "connecting"
	ChatStateAnalyzing   ChatState = "analyzing"
	ChatStateResearching ChatState = "researching"
	ChatStateDrafting    ChatState = "drafting"
	ChatStateStreaming   ChatState = "streaming"
	ChatStateComplete    ChatState = "complete"
	ChatStateError       ChatState = "error"
)

// IsTerminal returns true for states after which no further states follow.
func (s ChatState) IsTerminal() bool {
	return s == ChatStateComplete || s == ChatStateError
}
