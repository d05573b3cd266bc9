package textgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/env"
)

// Client talks to the external text generation API that turns journal text
// into a social post. The quota gate runs before every call and the usage
// ledger commits only after a successful one.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClientFromEnv builds the client from TEXTGEN_API_URL / TEXTGEN_API_KEY.
func NewClientFromEnv() *Client {
	return &Client{
		baseURL: strings.TrimRight(env.GetEnv("TEXTGEN_API_URL", ""), "/"),
		apiKey:  env.GetEnv("TEXTGEN_API_KEY", ""),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Request describes one generation.
type Request struct {
	SourceText string `json:"source_text"`
	Tone       string `json:"tone,omitempty"`
}

type apiResponse struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// Generate produces the post text for the given source. An error means no
// usable text was produced and nothing should be charged against the quota.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("text generation API is not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("text generation request failed: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode text generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("text generation failed: %s", msg)
	}
	if strings.TrimSpace(out.Content) == "" {
		return "", fmt.Errorf("text generation returned empty content")
	}

	return out.Content, nil
}
