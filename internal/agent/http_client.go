package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient asks a JSON chat endpoint for replies.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPClient creates a client for the /api/ai-chat endpoint under baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		return nil, errors.New("AI HTTP URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse AI HTTP URL: %w", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/ai-chat",
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Reply posts the message and returns the reply text.
func (c *HTTPClient) Reply(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(ChatRequest{Message: text})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close chat response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat backend returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var out ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return "", errEmptyReply
	}
	return reply, nil
}
