// Package openai implements the reasoning adapter against the OpenAI
// chat-completions API. Setting BaseURL to an OpenAI-compatible endpoint
// (Groq, local gateways) works unchanged.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voxwire/voxwire/pkg/errorsx"
	"github.com/voxwire/voxwire/pkg/llm"
	"github.com/voxwire/voxwire/pkg/resilience"
)

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Generate(ctx context.Context, input llm.Context) (llm.Response, error) {
	payload := chatRequest{Model: a.Model, Messages: buildMessages(input)}
	body, err := json.Marshal(payload)
	if err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRequest)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRequest)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.client().Do(req)
	if err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRequest)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return llm.Response{}, errorsx.Wrap(resilience.RateLimitError{Provider: a.Name(), Message: msg}, errorsx.ReasonLLMRequest)
		}
		return llm.Response{}, errorsx.Wrap(errors.New(msg), errorsx.ReasonLLMRequest)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return llm.Response{}, errorsx.Wrap(err, errorsx.ReasonLLMRequest)
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{}, errorsx.Wrap(errors.New("no choices in response"), errorsx.ReasonReasoningFailed)
	}

	return llm.Response{
		Text: parsed.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		FinishReason: parsed.Choices[0].FinishReason,
	}, nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func buildMessages(input llm.Context) []chatMessage {
	msgs := make([]chatMessage, 0, len(input.History)+2)
	if input.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: input.System})
	}
	for _, m := range input.History {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	if input.Utterance != "" {
		msgs = append(msgs, chatMessage{Role: "user", Content: input.Utterance})
	}
	return msgs
}

var _ llm.Adapter = (*Adapter)(nil)
