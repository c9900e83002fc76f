// Package gemini is a minimal client for the Google Generative Language
// API, used as the primary verification model.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ownedby/ownership-cli/internal/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1/models"

// Client performs Gemini text generation.
type Client interface {
	GenerateContent(ctx context.Context, req GenerateRequest) (string, error)
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the default 45s request timeout. Non-positive
// values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Gemini client for the given API key and model.
func NewClient(apiKey, model string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 45 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type apiPart struct {
	Text string `json:"text"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiRequest struct {
	SystemInstruction *apiContent `json:"systemInstruction,omitempty"`
	Contents          []apiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type apiResponse struct {
	Candidates []struct {
		Content apiContent `json:"content"`
	} `json:"candidates"`
}

func (c *httpClient) GenerateContent(ctx context.Context, req GenerateRequest) (string, error) {
	var body apiRequest
	if req.System != "" {
		body.SystemInstruction = &apiContent{Parts: []apiPart{{Text: req.System}}}
	}
	body.Contents = []apiContent{{Role: "user", Parts: []apiPart{{Text: req.Prompt}}}}
	body.GenerationConfig.Temperature = req.Temperature
	body.GenerationConfig.MaxOutputTokens = req.MaxTokens

	payload, err := json.Marshal(body)
	if err != nil {
		return "", eris.Wrap(err, "gemini: marshal request")
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", eris.Wrap(err, "gemini: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", eris.Wrap(err, "gemini: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "gemini: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("gemini: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", eris.Wrap(err, "gemini: unmarshal response")
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", eris.New("gemini: empty response")
	}

	out := ""
	for _, p := range result.Candidates[0].Content.Parts {
		out += p.Text
	}
	return out, nil
}
