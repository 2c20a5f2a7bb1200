package llm

import "context"

// Message is a single turn in a chat exchange with an Agent (C5) provider.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Provider is the common surface all three Agent (C5) provider variants
// (hosted-chat, local-HTTP, CLI-subprocess) implement, letting runner.go and
// the fallback Chain treat them interchangeably.
type Provider interface {
	Chat(ctx context.Context, msgs []Message, model string) (Message, error)
}
