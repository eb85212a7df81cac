package llm

// Message is a single turn in the conversation sent to the model.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the textual body of the message.
	Content string
}
