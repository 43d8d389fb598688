package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxwire/voxwire/pkg/llm"
)

type LLMConfig struct {
	ResponseText string
	Delay        time.Duration
	Err          error
	// Echo replies with the utterance itself, which makes loopback
	// transcripts easy to follow.
	Echo bool
}

type LLMAdapter struct {
	cfg LLMConfig

	mu     sync.Mutex
	inputs []llm.Context
}

func NewLLMAdapter(cfg LLMConfig) *LLMAdapter {
	if cfg.ResponseText == "" {
		cfg.ResponseText = "mock response"
	}
	return &LLMAdapter{cfg: cfg}
}

func (a *LLMAdapter) Name() string { return "mock_llm" }

func (a *LLMAdapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	a.mu.Lock()
	a.inputs = append(a.inputs, input)
	a.mu.Unlock()

	if a.cfg.Delay > 0 {
		select {
		case <-time.After(a.cfg.Delay):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if a.cfg.Err != nil {
		return llm.Response{}, a.cfg.Err
	}
	text := a.cfg.ResponseText
	if a.cfg.Echo {
		text = input.Utterance
	}
	return llm.Response{Text: text, FinishReason: "stop"}, nil
}

// Inputs returns the generation contexts seen so far.
func (a *LLMAdapter) Inputs() []llm.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]llm.Context, len(a.inputs))
	copy(out, a.inputs)
	return out
}

var _ llm.Adapter = (*LLMAdapter)(nil)
