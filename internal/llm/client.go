package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lazypower/parley/internal/config"
)

var (
	// ErrNetworkTimeout is returned when the endpoint does not answer within the request timeout.
	ErrNetworkTimeout = errors.New("inference request timed out")
	// ErrNetworkStatus is returned for any non-200 response.
	ErrNetworkStatus = errors.New("inference endpoint returned error status")
	// ErrMalformedResponse is returned when choices[0].message.content is missing or empty.
	ErrMalformedResponse = errors.New("malformed inference response")
)

// Client is the interface for chat-completion providers.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	Health(ctx context.Context) bool
}

// Message is one chat-completion turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single translation call.
type Request struct {
	Text           string
	TargetLanguage string
	Context        []Message // prior turns; nil for none
}

// Response holds the result of a completion.
type Response struct {
	Content  string
	Provider string
}

// Options carries the sampling and prompt settings copied from config.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TopP         float64
	Timeout      time.Duration
}

// OptionsFrom extracts Options from a config snapshot.
func OptionsFrom(cfg config.Config) Options {
	return Options{
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
		Timeout:      cfg.RequestTimeoutDuration(),
	}
}

// NewClient creates a chat-completion client for the local llama-server or,
// when useOnlineApi is set, for the configured online endpoint.
func NewClient(cfg config.Config) (Client, error) {
	opts := OptionsFrom(cfg)
	if cfg.UseOnlineAPI {
		if cfg.OnlineAPIURL == "" {
			return nil, fmt.Errorf("online api enabled but onlineApiUrl is empty")
		}
		return NewOnline(cfg.OnlineAPIURL, cfg.OnlineAPIKey, opts), nil
	}
	if cfg.LLMServerURL == "" {
		return nil, fmt.Errorf("llmServerUrl is empty")
	}
	return NewLocal(cfg.LLMServerURL, opts), nil
}

// BuildMessages assembles system prompt, context turns, and the user turn.
func BuildMessages(systemPrompt string, req *Request) []Message {
	msgs := make([]Message, 0, len(req.Context)+2)
	msgs = append(msgs, Message{Role: "system", Content: SystemPrompt(systemPrompt, req.TargetLanguage)})
	msgs = append(msgs, req.Context...)
	msgs = append(msgs, Message{Role: "user", Content: req.Text})
	return msgs
}

// SystemPrompt fills every %s in template with the target language.
func SystemPrompt(template, targetLanguage string) string {
	if template == "" {
		template = config.DefaultSystemPrompt
	}
	return strings.ReplaceAll(template, "%s", targetLanguage)
}
