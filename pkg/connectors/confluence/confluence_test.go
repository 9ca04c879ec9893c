package confluence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeConfluence(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/space", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "dev@example.com" || pass != "token123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	})
	mux.HandleFunc("/rest/api/content/search", func(w http.ResponseWriter, r *http.Request) {
		cql := r.URL.Query().Get("cql")
		assert.Contains(t, cql, `text ~ "deploy runbook"`)
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"id":     "12345",
				"title":  "Deploy Runbook",
				"space":  map[string]any{"key": "OPS"},
				"_links": map[string]any{"webui": "/spaces/OPS/pages/12345"},
			}},
		})
	})
	mux.HandleFunc("/rest/api/content/12345", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "12345",
			"title": "Deploy Runbook",
			"space": map[string]any{"key": "OPS"},
			"body": map[string]any{
				"storage": map[string]any{"value": "<p>Step one: <strong>freeze</strong> deploys.</p>"},
			},
			"version": map[string]any{"number": 7, "when": "2025-05-01T10:00:00Z"},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConnector(t *testing.T, baseURL string) *Connector {
	t.Helper()
	c, err := New(Credentials{BaseURL: baseURL, Email: "dev@example.com", APIToken: "token123"})
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	_, err := New(Credentials{})
	assert.Error(t, err)

	_, err = New(Credentials{BaseURL: "https://x.atlassian.net/wiki"})
	assert.Error(t, err)

	_, err = New(Credentials{BaseURL: "https://x.atlassian.net/wiki", AccessToken: "tok"})
	assert.NoError(t, err)
}

func TestSearch(t *testing.T) {
	srv := fakeConfluence(t)
	c := testConnector(t, srv.URL)

	out, err := c.callSearch(context.Background(), json.RawMessage(`{"query":"deploy runbook"}`))
	require.NoError(t, err)

	results := out.(map[string]any)["results"].([]pageSummary)
	require.Len(t, results, 1)
	assert.Equal(t, "12345", results[0].ID)
	assert.Equal(t, "OPS", results[0].Space)
	assert.Equal(t, srv.URL+"/spaces/OPS/pages/12345", results[0].URL)
}

func TestGetPage(t *testing.T) {
	srv := fakeConfluence(t)
	c := testConnector(t, srv.URL)

	out, err := c.callGetPage(context.Background(), json.RawMessage(`{"page_id":"12345"}`))
	require.NoError(t, err)

	m := out.(map[string]any)
	assert.Equal(t, "Deploy Runbook", m["title"])
	assert.Equal(t, 7, m["version"])
	assert.Equal(t, "Step one: freeze deploys.", m["content"])
}

func TestGetPageNotFound(t *testing.T) {
	srv := fakeConfluence(t)
	c := testConnector(t, srv.URL)

	_, err := c.callGetPage(context.Background(), json.RawMessage(`{"page_id":"99999"}`))
	assert.Error(t, err)
}

func TestHealthCheckBadCredentials(t *testing.T) {
	srv := fakeConfluence(t)
	c, err := New(Credentials{BaseURL: srv.URL, Email: "dev@example.com", APIToken: "wrong"})
	require.NoError(t, err)

	err = c.HealthCheck(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth failed")
}

func TestHealthCheck(t *testing.T) {
	srv := fakeConfluence(t)
	assert.NoError(t, testConnector(t, srv.URL).HealthCheck(context.Background()))
}

func TestStripStorageMarkup(t *testing.T) {
	in := `<p>Hello <ac:link><ri:page ri:content-title="Other"/></ac:link> world</p>`
	assert.Equal(t, "Hello world", stripStorageMarkup(in))
}
