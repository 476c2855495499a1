// Package llm is the narrow request/response boundary to the language model.
//
// The model is an untrusted collaborator: callers send prompt text and get
// raw text back. All structural validation of responses happens in the
// consuming packages; this package only handles transport, retries, and
// fenced-code-block extraction.
package llm

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

// Client sends one prompt to the model and returns its raw text response.
type Client interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (*Response, error)
}

// Response is one model completion plus token accounting.
type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Config selects and authenticates a model provider.
type Config struct {
	Provider    string  `yaml:"provider" json:"provider"` // "openai" or "anthropic"; inferred from model name if empty
	Model       string  `yaml:"model" json:"model"`
	APIKey      string  `yaml:"api_key" json:"api_key"`
	APIURL      string  `yaml:"api_url" json:"api_url"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// NewClient builds a provider client from config.
func NewClient(cfg Config) (Client, error) {
	provider := cfg.Provider
	if provider == "" {
		if strings.HasPrefix(cfg.Model, "claude-") {
			provider = "anthropic"
		} else {
			provider = "openai"
		}
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}
	switch provider {
	case "anthropic":
		baseURL := cfg.APIURL
		if baseURL == "" {
			baseURL = "https://api.anthropic.com"
		}
		return &anthropicClient{cfg: cfg, baseURL: baseURL}, nil
	case "openai":
		baseURL := cfg.APIURL
		if baseURL == "" {
			baseURL = "https://api.openai.com"
		}
		return &openaiClient{cfg: cfg, baseURL: baseURL}, nil
	default:
		return nil, fmt.Errorf("unknown model provider: %v", provider)
	}
}

type anthropicClient struct {
	cfg     Config
	baseURL string
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	System      string             `json:"system,omitempty"`
	Messages    []chatMessage      `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *anthropicClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	reqBody := anthropicRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      systemPrompt,
		Messages:    []chatMessage{{Role: "user", Content: userPrompt}},
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var resp anthropicResponse
	err = doRequestWithRetry(ctx, c.baseURL+"/v1/messages", data, map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": "2023-06-01",
		"content-type":      "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %v", resp.Error.Message)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("anthropic returned empty content")
	}
	return &Response{
		Content:      resp.Content[0].Text,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

type openaiClient struct {
	cfg     Config
	baseURL string
}

type openaiRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openaiClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	messages := []chatMessage{}
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	reqBody := openaiRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Messages:    messages,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	var resp openaiResponse
	err = doRequestWithRetry(ctx, c.baseURL+"/v1/chat/completions", data, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
		"Content-Type":  "application/json",
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("openai API error: %v", resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return &Response{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// doRequestWithRetry POSTs body to url, retrying on 429 and 5xx with
// exponential backoff. Non-retryable HTTP errors surface immediately.
func doRequestWithRetry(ctx context.Context, url string, body []byte, headers map[string]string, result any) error {
	client := &http.Client{Timeout: 120 * time.Second}
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= len(backoffs); attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffs[attempt-1]):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("all retries failed: %w", lastErr)
}
