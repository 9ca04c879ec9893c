// Package websearch gives the assistant two tools: a web search against the
// DuckDuckGo HTML endpoint, and a page fetch that strips a URL down to
// readable text.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

const (
	defaultSearchURL = "https://html.duckduckgo.com"

	maxBodyBytes    = 5 * 1024 * 1024
	defaultMaxChars = 20000
	userAgent       = "personal-assistant/1.0"
)

// Connector provides web search and page fetch tools.
type Connector struct {
	searchURL string
	client    *http.Client
}

// New creates the websearch connector. searchURL is empty outside tests.
func New(searchURL string) *Connector {
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	return &Connector{
		searchURL: searchURL,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "websearch" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.searchURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("search endpoint unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

type searchParams struct {
	Query string `json:"query" jsonschema_description:"Search query"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Max results, default 5"`
}

type fetchParams struct {
	URL      string `json:"url" jsonschema_description:"Page URL to fetch"`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Truncate extracted text to this many characters"`
}

type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type fetchResult struct {
	URL       string `json:"url"`
	Title     string `json:"title,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
	Status    int    `json:"status_code"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "websearch_search",
			Description: "Search the web and return result titles, URLs, and snippets.",
			Parameters:  tools.ParamsSchema(searchParams{}),
			Call:        c.callSearch,
		},
		{
			Name:        "websearch_fetch",
			Description: "Fetch a web page and return its readable text content.",
			Parameters:  tools.ParamsSchema(fetchParams{}),
			Call:        c.callFetch,
		},
	}
}

func (c *Connector) callSearch(ctx context.Context, args json.RawMessage) (any, error) {
	var params searchParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	limit := params.Limit
	if limit <= 0 || limit > 10 {
		limit = 5
	}

	form := url.Values{}
	form.Set("q", params.Query)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.searchURL+"/html/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	results := parseSearchResults(string(body), limit)
	return map[string]any{"query": params.Query, "results": results}, nil
}

func (c *Connector) callFetch(ctx context.Context, args json.RawMessage) (any, error) {
	var params fetchParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.URL == "" {
		return nil, fmt.Errorf("url is required")
	}
	rawURL := params.URL
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	maxChars := params.MaxChars
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.8,*/*;q=0.5")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading page: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	var title, content string
	switch {
	case strings.Contains(contentType, "text/html"), strings.Contains(contentType, "xhtml"):
		title, content = extractHTML(string(body))
	case utf8.Valid(body):
		content = string(body)
	default:
		content = fmt.Sprintf("binary content (%s), %d bytes", contentType, len(body))
	}

	truncated := false
	if len(content) > maxChars {
		content = truncateUTF8(content, maxChars)
		truncated = true
	}

	return fetchResult{
		URL:       rawURL,
		Title:     title,
		Content:   content,
		Truncated: truncated,
		Status:    resp.StatusCode,
	}, nil
}

// parseSearchResults walks the DuckDuckGo HTML results page. Result links
// carry the result__a class; snippets the result__snippet class.
func parseSearchResults(raw string, limit int) []searchResult {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil
	}

	var results []searchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.A && hasClass(n, "result__a") {
			href := attr(n, "href")
			results = append(results, searchResult{
				Title: strings.TrimSpace(textContent(n)),
				URL:   resolveRedirect(href),
			})
		}
		if n.Type == html.ElementNode && hasClass(n, "result__snippet") && len(results) > 0 {
			if results[len(results)-1].Snippet == "" {
				results[len(results)-1].Snippet = strings.TrimSpace(textContent(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg= redirect links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}

func truncateUTF8(s string, maxChars int) string {
	count := 0
	for i := range s {
		if count >= maxChars {
			return s[:i]
		}
		count++
	}
	return s
}
