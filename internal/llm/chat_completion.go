package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const healthTimeout = 5 * time.Second

// ChatCompletion calls an OpenAI-compatible /v1/chat/completions endpoint,
// either a local llama-server or an online API.
type ChatCompletion struct {
	endpoint  string
	healthURL string // empty for online APIs
	apiKey    string
	provider  string
	opts      Options
	client    *http.Client
}

// NewLocal creates a client for a llama-server rooted at baseURL.
func NewLocal(baseURL string, opts Options) *ChatCompletion {
	base := strings.TrimRight(baseURL, "/")
	return &ChatCompletion{
		endpoint:  base + "/v1/chat/completions",
		healthURL: base + "/health",
		provider:  "llama-server",
		opts:      opts,
		client:    newHTTPClient(opts.Timeout),
	}
}

// NewOnline creates a client for a full chat-completion URL with bearer auth.
func NewOnline(endpoint, apiKey string, opts Options) *ChatCompletion {
	return &ChatCompletion{
		endpoint: endpoint,
		apiKey:   apiKey,
		provider: "online",
		opts:     opts,
		client:   newHTTPClient(opts.Timeout),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout}).DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Endpoint returns the completion URL this client posts to.
func (c *ChatCompletion) Endpoint() string {
	return c.endpoint
}

type chatRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends a translation request and returns the trimmed content of
// the first choice.
func (c *ChatCompletion) Complete(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(chatRequest{
		Messages:    BuildMessages(c.opts.SystemPrompt, req),
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
		}
		return nil, fmt.Errorf("%s api: %w", c.provider, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
		}
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d: %s", ErrNetworkStatus, resp.StatusCode, truncate(respBody, 200))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil || result.Choices[0].Message.Content == nil {
		return nil, fmt.Errorf("%w: no choices[0].message.content", ErrMalformedResponse)
	}

	content := strings.TrimSpace(*result.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	return &Response{
		Content:  content,
		Provider: c.provider,
	}, nil
}

// Health probes GET /health. Online endpoints have no probe and report
// healthy when an API key is configured.
func (c *ChatCompletion) Health(ctx context.Context) bool {
	if c.healthURL == "" {
		return c.apiKey != ""
	}

	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
