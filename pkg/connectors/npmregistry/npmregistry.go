// Package npmregistry looks up packages on the npm registry.
package npmregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

const defaultBaseURL = "https://registry.npmjs.org"

// Connector queries the npm registry's public JSON API.
type Connector struct {
	baseURL string
	client  *http.Client
}

// New creates the npm registry connector. baseURL is empty outside tests.
func New(baseURL string) *Connector {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Connector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "npm" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	var out map[string]any
	return c.getJSON(ctx, "/-/ping", &out)
}

type packageParams struct {
	Name    string `json:"name" jsonschema_description:"Package name, e.g. react or @types/node"`
	Version string `json:"version,omitempty" jsonschema_description:"Exact version; omit for the latest"`
}

type searchParams struct {
	Query string `json:"query" jsonschema_description:"Search text"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Max results, default 10"`
}

type packageInfo struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	License     string            `json:"license,omitempty"`
	Homepage    string            `json:"homepage,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Deps        map[string]string `json:"dependencies,omitempty"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "npm_package_info",
			Description: "Look up an npm package: latest or specific version, description, license, and dependencies.",
			Parameters:  tools.ParamsSchema(packageParams{}),
			Call:        c.callPackageInfo,
		},
		{
			Name:        "npm_search",
			Description: "Search the npm registry for packages matching a query.",
			Parameters:  tools.ParamsSchema(searchParams{}),
			Call:        c.callSearch,
		},
	}
}

func (c *Connector) callPackageInfo(ctx context.Context, args json.RawMessage) (any, error) {
	var params packageParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	path := "/" + url.PathEscape(params.Name)
	if params.Version != "" {
		path += "/" + url.PathEscape(params.Version)
	} else {
		path += "/latest"
	}

	var info packageInfo
	if err := c.getJSON(ctx, path, &info); err != nil {
		return nil, err
	}
	return info, nil
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

	q := url.Values{}
	q.Set("text", params.Query)
	q.Set("size", fmt.Sprint(limit))

	var raw struct {
		Objects []struct {
			Package packageInfo `json:"package"`
		} `json:"objects"`
		Total int `json:"total"`
	}
	if err := c.getJSON(ctx, "/-/v1/search?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	results := make([]packageInfo, 0, len(raw.Objects))
	for _, obj := range raw.Objects {
		results = append(results, obj.Package)
	}
	return map[string]any{"total": raw.Total, "results": results}, nil
}

func (c *Connector) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("npm registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("package not found")
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("npm registry returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
