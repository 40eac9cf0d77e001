package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const chatCompletionsPath = "/chat/completions"

// Completer sends one system/user exchange to a language model and returns the reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientOptions parameterise the chat completion client.
type ClientOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	UserAgent   string
}

// ChatClient talks to an OpenAI-compatible chat completions endpoint.
type ChatClient struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewChatClient constructs a chat completion client.
func NewChatClient(opts ClientOptions, logger zerolog.Logger) *ChatClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.deepseek.com"
	}
	if opts.Model == "" {
		opts.Model = "deepseek-chat"
	}

	return &ChatClient{
		opts:    opts,
		logger:  logger.With().Str("component", "chat_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Complete posts a two-message conversation and returns the first choice.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	if strings.TrimSpace(c.opts.APIKey) == "" {
		return "", errors.New("analyzer api key not configured")
	}

	reqPayload := chatRequest{
		Model: c.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return "", err
	}

	endpoint := c.baseURL + chatCompletionsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "xalpha/1.0")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		return "", parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var chatRes chatResponse
	if err := json.Unmarshal(payloadBytes, &chatRes); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(chatRes.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	c.logger.Debug().
		Str("model", chatRes.Model).
		Int("prompt_tokens", chatRes.Usage.PromptTokens).
		Int("completion_tokens", chatRes.Usage.CompletionTokens).
		Msg("completion received")

	return strings.TrimSpace(chatRes.Choices[0].Message.Content), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Error.Message != "" {
			return fmt.Errorf("chat api error (%d): %s", status, apiErr.Error.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("chat api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error.Type != "" {
			return fmt.Errorf("chat api error (%d): %s", status, apiErr.Error.Type)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("chat api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("chat api error (%d)", status)
}

var _ Completer = (*ChatClient)(nil)
