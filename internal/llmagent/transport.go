package llmagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Config configures the HTTP transport shared by all four agents. It
// carries nothing agent-specific: one Temperature applies to every agent,
// and prompt shape lives in facade.go, not here (spec §4.7 "must not leak
// LM-specific knobs... beyond these four shapes").
type Config struct {
	APIKey      string
	Endpoint    string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// RatePerSecond/Burst configure the token-bucket limiter guarding
	// outbound calls; zero RatePerSecond disables limiting.
	RatePerSecond float64
	Burst         int
}

func (c Config) withDefaults() Config {
	if c.Endpoint == "" {
		c.Endpoint = "https://api.anthropic.com/v1/messages"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Temperature < 0 || c.Temperature > 0.2 {
		c.Temperature = 0.1
	}
	return c
}

// message mirrors the Claude messages-API request shape.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

type chatResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type chatErrorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// client is the low-level HTTP transport. One client instance is shared
// by all four typed agents in a Facade.
type client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

func newClient(cfg Config, logger *log.Logger) *client {
	cfg = cfg.withDefaults()
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[LMAgent] ", log.LstdFlags)
	}
	return &client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger,
	}
}

// send issues one completion call and returns the raw text content. It
// blocks on the rate limiter (if configured) before dialing out.
func (c *client) send(ctx context.Context, system, user string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", fmt.Errorf("lm agent: API key is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("lm agent: rate limiter wait: %w", err)
		}
	}

	reqBody, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		System:      system,
		Messages:    []message{{Role: "user", Content: user}},
	})
	if err != nil {
		return "", fmt.Errorf("lm agent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("lm agent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("lm agent: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("lm agent: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr chatErrorEnvelope
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Message != "" {
			return "", fmt.Errorf("lm agent: %s (%s)", apiErr.Message, apiErr.Type)
		}
		return "", fmt.Errorf("lm agent: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("lm agent: decode response envelope: %w", err)
	}
	var text string
	if len(parsed.Content) > 0 {
		text = parsed.Content[0].Text
	}
	return text, nil
}
