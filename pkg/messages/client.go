package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrNoText is returned when a response carries no text content block.
var ErrNoText = errors.New("messages: response has no text block")

// Client posts prompts to a Messages-style endpoint.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient returns a client; httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("messages: api key is required")
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: httpClient}, nil
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
}

// ContentBlock is one element of a response's content array. Only text blocks
// carry Text.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type Response struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Content    []ContentBlock `json:"content"`
}

type apiError struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// FirstText returns the text of the first block of type "text".
func (r *Response) FirstText() (string, bool) {
	for _, b := range r.Content {
		if b.Type == "text" {
			return b.Text, true
		}
	}
	return "", false
}

// Create sends a single request and decodes the response.
func (c *Client) Create(ctx context.Context, req Request) (*Response, error) {
	if req.Model == "" {
		req.Model = c.cfg.Model
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal messages request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", c.cfg.Version)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if json.Unmarshal(respBytes, &ae) == nil && ae.Error != nil {
			return nil, fmt.Errorf("messages API returned status %d: %s: %s", resp.StatusCode, ae.Error.Type, ae.Error.Message)
		}
		return nil, fmt.Errorf("messages API returned status %d", resp.StatusCode)
	}

	var out Response
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &out, nil
}

// Complete sends prompt as a single user turn and returns the first text block.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.Create(ctx, Request{Messages: []Message{{Role: "user", Content: prompt}}})
	if err != nil {
		return "", err
	}
	text, ok := resp.FirstText()
	if !ok {
		return "", ErrNoText
	}
	return text, nil
}
