// Package search wraps the Google Custom Search JSON API and page
// fetching for research evidence collection.
package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"

	"github.com/ownedby/ownership-cli/internal/resilience"
)

const defaultBaseURL = "https://www.googleapis.com/customsearch/v1"

// Client performs web searches and page fetches.
type Client interface {
	Search(ctx context.Context, query string, num int) ([]Result, error)
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
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

type httpClient struct {
	apiKey  string
	cseID   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Custom Search client for the given API key and
// search engine ID.
func NewClient(apiKey, cseID string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		cseID:   cseID,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type searchResponse struct {
	Items []Result `json:"items"`
}

func (c *httpClient) Search(ctx context.Context, query string, num int) ([]Result, error) {
	if num <= 0 {
		num = 5
	}
	params := url.Values{}
	params.Set("key", c.apiKey)
	params.Set("cx", c.cseID)
	params.Set("q", query)
	params.Set("num", strconv.Itoa(num))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "search: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "search: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "search: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("search: unexpected status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "search: unmarshal response")
	}
	return result.Items, nil
}

// maxPageBytes bounds how much of a page is read; ownership statements
// live in body text, not in megabytes of markup.
const maxPageBytes = 512 * 1024

// FetchPage downloads a page and extracts its visible text.
func (c *httpClient) FetchPage(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "search: create page request")
	}
	req.Header.Set("User-Agent", "ownership-cli/1.0 (research bot)")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "search: fetch page")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("search: page status %d for %s", resp.StatusCode, pageURL)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(err, resp.StatusCode)
		}
		return "", err
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", eris.Wrap(err, "search: parse page")
	}

	doc.Find("script, style, nav, footer, header, noscript").Remove()

	// Join per text node: adjacent elements must not run together, or
	// phrases like "subsidiary of" and the owner name fuse into one token.
	var parts []string
	for _, node := range doc.Find("body").Nodes {
		collectText(node, &parts)
	}
	return collapseWhitespace(strings.Join(parts, " ")), nil
}

func collectText(n *html.Node, parts *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*parts = append(*parts, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
