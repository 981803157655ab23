// Package expert answers questions that need up-to-date outside knowledge by
// calling an online answer API that returns text plus source URLs.
package expert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Answer is an expert reply with its sources.
type Answer struct {
	Text    string
	Sources []string
}

// Service is the lookup boundary the router consumes.
type Service interface {
	Lookup(ctx context.Context, question string) (*Answer, error)
}

// Client calls an OpenAI-compatible online answer API (Perplexity and
// compatible endpoints) that includes a citations list in its responses.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithModel sets the model used for lookups.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates an expert lookup client.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 60 * time.Second},
		baseURL: "https://api.perplexity.ai",
		apiKey:  apiKey,
		model:   "sonar",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup asks the expert API one question and returns the answer with its
// source URLs.
func (c *Client) Lookup(ctx context.Context, question string) (*Answer, error) {
	body := expertRequest{
		Model: c.model,
		Messages: []expertMessage{
			{Role: "user", Content: question},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("expert: marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("expert: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("expert: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("expert: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expert: api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var er expertResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("expert: unmarshal response: %w", err)
	}
	if len(er.Choices) == 0 {
		return nil, fmt.Errorf("expert: no choices in response")
	}

	return &Answer{
		Text:    er.Choices[0].Message.Content,
		Sources: er.Citations,
	}, nil
}

// --- wire format ---

type expertRequest struct {
	Model    string          `json:"model"`
	Messages []expertMessage `json:"messages"`
}

type expertMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type expertResponse struct {
	Choices []struct {
		Message expertMessage `json:"message"`
	} `json:"choices"`
	Citations []string `json:"citations"`
}

// Format renders an answer for the user: the text followed by a numbered
// source list. Inline [n] markers in the text line up with the list.
func Format(a *Answer) string {
	text := strings.TrimSpace(a.Text)
	if len(a.Sources) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteString("\n\nSources:")
	for i, src := range a.Sources {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, src)
	}
	return sb.String()
}
