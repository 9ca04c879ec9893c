package googlecloud

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// fakeGCS serves the subset of the Cloud Storage JSON API the connector
// touches: bucket listing, object listing, single object attrs.
func fakeGCS(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "demo-project", r.URL.Query().Get("project"))
		json.NewEncoder(w).Encode(map[string]any{
			"items": []map[string]any{
				{
					"name":         "demo-assets",
					"location":     "EU",
					"storageClass": "STANDARD",
					"timeCreated":  "2024-11-05T08:00:00Z",
				},
				{
					"name":         "demo-backups",
					"location":     "US",
					"storageClass": "COLDLINE",
					"timeCreated":  "2024-01-20T08:00:00Z",
				},
			},
		})
	})
	mux.HandleFunc("/b/demo-assets/o", func(w http.ResponseWriter, r *http.Request) {
		items := []map[string]any{
			{
				"name":        "img/logo.png",
				"size":        "2048",
				"contentType": "image/png",
				"updated":     "2025-02-01T12:00:00Z",
			},
			{
				"name":        "img/banner.png",
				"size":        "4096",
				"contentType": "image/png",
				"updated":     "2025-02-02T12:00:00Z",
			},
			{
				"name":        "notes.txt",
				"size":        "64",
				"contentType": "text/plain",
				"updated":     "2025-03-01T12:00:00Z",
			},
		}
		prefix := r.URL.Query().Get("prefix")
		filtered := items[:0:0]
		for _, item := range items {
			if strings.HasPrefix(item["name"].(string), prefix) {
				filtered = append(filtered, item)
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"items": filtered})
	})
	mux.HandleFunc("/b/demo-assets/o/", func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/b/demo-assets/o/")
		if name != "notes.txt" {
			http.Error(w, `{"error":{"code":404,"message":"Not Found"}}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":        "notes.txt",
			"bucket":      "demo-assets",
			"size":        "64",
			"contentType": "text/plain",
			"updated":     "2025-03-01T12:00:00Z",
			"md5Hash":     "1B2M2Y8AsgTpgAmY7PhCfg==",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConnector(t *testing.T) *Connector {
	t.Helper()
	srv := fakeGCS(t)
	c, err := New(context.Background(), Credentials{ProjectID: "demo-project"},
		option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return c
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), Credentials{})
	assert.Error(t, err)
}

func TestListBuckets(t *testing.T) {
	c := testConnector(t)

	out, err := c.callListBuckets(context.Background(), nil)
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "demo-project", result["project"])
	buckets := result["buckets"].([]bucketInfo)
	require.Len(t, buckets, 2)
	assert.Equal(t, "demo-assets", buckets[0].Name)
	assert.Equal(t, "EU", buckets[0].Location)
	assert.Equal(t, "COLDLINE", buckets[1].Class)
}

func TestListObjects(t *testing.T) {
	c := testConnector(t)

	out, err := c.callListObjects(context.Background(),
		json.RawMessage(`{"bucket":"demo-assets","prefix":"img/"}`))
	require.NoError(t, err)

	objects := out.(map[string]any)["objects"].([]objectInfo)
	require.Len(t, objects, 2)
	assert.Equal(t, "img/logo.png", objects[0].Name)
	assert.Equal(t, int64(2048), objects[0].Size)
	assert.Equal(t, "image/png", objects[0].ContentType)
}

func TestListObjectsRespectsLimit(t *testing.T) {
	c := testConnector(t)

	out, err := c.callListObjects(context.Background(),
		json.RawMessage(`{"bucket":"demo-assets","limit":1}`))
	require.NoError(t, err)

	objects := out.(map[string]any)["objects"].([]objectInfo)
	assert.Len(t, objects, 1)
}

func TestListObjectsRequiresBucket(t *testing.T) {
	c := testConnector(t)

	_, err := c.callListObjects(context.Background(), json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")
}

func TestObjectInfo(t *testing.T) {
	c := testConnector(t)

	out, err := c.callObjectInfo(context.Background(),
		json.RawMessage(`{"bucket":"demo-assets","object":"notes.txt"}`))
	require.NoError(t, err)

	result := out.(map[string]any)
	assert.Equal(t, "notes.txt", result["name"])
	assert.Equal(t, int64(64), result["size"])
	assert.Equal(t, "text/plain", result["content_type"])
}

func TestObjectInfoNotFound(t *testing.T) {
	c := testConnector(t)

	_, err := c.callObjectInfo(context.Background(),
		json.RawMessage(`{"bucket":"demo-assets","object":"missing.txt"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestHealthCheck(t *testing.T) {
	c := testConnector(t)
	assert.NoError(t, c.HealthCheck(context.Background()))
}
