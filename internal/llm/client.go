// Package llm is the decision-service boundary: an OpenAI-compatible chat
// completions client. The engine treats it as a black box returning free-form
// text that is expected to parse as JSON.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Service is what the simulation core depends on. Completion returns plain
// text; JSONCompletion asks the provider for a JSON object response.
type Service interface {
	Completion(ctx context.Context, system, user string) (string, error)
	JSONCompletion(ctx context.Context, system, user string) (string, error)
}

type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
}

// FromEnv reads the default provider configuration from the environment.
func FromEnv() Config {
	cfg := Config{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		BaseURL:     os.Getenv("OPENAI_BASE_URL"),
		Model:       os.Getenv("LLM_MODEL"),
		Temperature: 0.7,
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Temperature = f
		}
	}
	return cfg
}

type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: missing api key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-3.5-turbo"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 120 * time.Second},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CheckConnection verifies the provider is reachable with a one-token ping.
// The engine refuses to start when this fails.
func (c *Client) CheckConnection(ctx context.Context) error {
	req := chatRequest{
		Model:     c.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: "ping"}},
		MaxTokens: 1,
	}
	if _, err := c.do(ctx, req); err != nil {
		return fmt.Errorf("llm unreachable: %w", err)
	}
	return nil
}

func (c *Client) Completion(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: &c.cfg.Temperature,
	}
	return c.do(ctx, req)
}

func (c *Client) JSONCompletion(ctx context.Context, system, user string) (string, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system + "\nRespond in JSON format."},
			{Role: "user", Content: user},
		},
		Temperature:    &c.cfg.Temperature,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}
	return c.do(ctx, req)
}

func (c *Client) do(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
