// Package confluence wraps the Confluence Cloud REST API: CQL search and
// page retrieval. Auth is either an email + API token pair (basic auth) or
// an OAuth access token.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Credentials is the decrypted credential blob for a Confluence connector.
type Credentials struct {
	BaseURL     string `json:"base_url"`
	Email       string `json:"email,omitempty"`
	APIToken    string `json:"api_token,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

// Connector calls the Confluence Cloud REST API.
type Connector struct {
	creds  Credentials
	client *http.Client
}

// New creates the Confluence connector.
func New(creds Credentials) (*Connector, error) {
	if creds.BaseURL == "" {
		return nil, fmt.Errorf("confluence base_url is required")
	}
	if creds.AccessToken == "" && (creds.Email == "" || creds.APIToken == "") {
		return nil, fmt.Errorf("confluence needs either an access token or email + api token")
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return &Connector{
		creds:  creds,
		client: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "confluence" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/rest/api/space?limit=1", &out)
}

type searchParams struct {
	Query string `json:"query" jsonschema_description:"Search text, matched against page titles and content"`
	Space string `json:"space,omitempty" jsonschema_description:"Restrict to a space key"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Max results, default 10"`
}

type pageParams struct {
	PageID string `json:"page_id" jsonschema_description:"Confluence page ID"`
}

type pageSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Space string `json:"space,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "confluence_search",
			Description: "Search Confluence pages by text, optionally within a space.",
			Parameters:  tools.ParamsSchema(searchParams{}),
			Call:        c.callSearch,
		},
		{
			Name:        "confluence_get_page",
			Description: "Get a Confluence page's content as text by its ID.",
			Parameters:  tools.ParamsSchema(pageParams{}),
			Call:        c.callGetPage,
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
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	cql := fmt.Sprintf(`type=page AND text ~ %q`, params.Query)
	if params.Space != "" {
		cql += fmt.Sprintf(` AND space = %q`, params.Space)
	}

	q := url.Values{}
	q.Set("cql", cql)
	q.Set("limit", fmt.Sprint(limit))

	var raw struct {
		Results []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Space struct {
				Key string `json:"key"`
			} `json:"space"`
			Links struct {
				WebUI string `json:"webui"`
			} `json:"_links"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "/rest/api/content/search?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	results := make([]pageSummary, 0, len(raw.Results))
	for _, r := range raw.Results {
		results = append(results, pageSummary{
			ID:    r.ID,
			Title: r.Title,
			Space: r.Space.Key,
			URL:   c.creds.BaseURL + r.Links.WebUI,
		})
	}
	return map[string]any{"results": results}, nil
}

func (c *Connector) callGetPage(ctx context.Context, args json.RawMessage) (any, error) {
	var params pageParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.PageID == "" {
		return nil, fmt.Errorf("page_id is required")
	}

	var raw struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Space struct {
			Key string `json:"key"`
		} `json:"space"`
		Body struct {
			Storage struct {
				Value string `json:"value"`
			} `json:"storage"`
		} `json:"body"`
		Version struct {
			Number int    `json:"number"`
			When   string `json:"when"`
		} `json:"version"`
	}
	path := "/rest/api/content/" + url.PathEscape(params.PageID) + "?expand=body.storage,space,version"
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	return map[string]any{
		"id":      raw.ID,
		"title":   raw.Title,
		"space":   raw.Space.Key,
		"version": raw.Version.Number,
		"updated": raw.Version.When,
		"content": stripStorageMarkup(raw.Body.Storage.Value),
	}, nil
}

func (c *Connector) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.creds.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.creds.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.creds.AccessToken)
	} else {
		req.SetBasicAuth(c.creds.Email, c.creds.APIToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("confluence request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("confluence auth failed (%d): check credentials", resp.StatusCode)
	case http.StatusNotFound:
		return fmt.Errorf("not found")
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("confluence returned %d: %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// stripStorageMarkup reduces Confluence storage-format XHTML to plain text.
// Good enough for feeding page content to the model.
func stripStorageMarkup(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
