// Package llm defines the reasoning collaborator boundary: conversation
// history plus the current utterance in, reply text out.
package llm

import "context"

// Message is one conversational exchange item.
type Message struct {
	Role    string
	Content string
}

// Context is the input to a single generation call.
type Context struct {
	System    string
	History   []Message
	Utterance string
}

// Usage reports provider token accounting when available.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the generation result.
type Response struct {
	Text         string
	Usage        Usage
	FinishReason string
}

// Adapter defines the contract for any reasoning vendor implementation.
type Adapter interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Generate produces the reply for the current utterance.
	Generate(ctx context.Context, input Context) (Response, error)
}
