// Package googlecloud exposes Google Cloud Storage tools: bucket and object
// listing plus object metadata. Auth is a service account key stored on the
// connector row.
package googlecloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Credentials is the decrypted credential blob for a Google Cloud connector.
type Credentials struct {
	ProjectID          string          `json:"project_id"`
	ServiceAccountJSON json.RawMessage `json:"service_account_json"`
}

// Connector provides Cloud Storage tools.
type Connector struct {
	client    *storage.Client
	projectID string
}

// New creates the Google Cloud connector. With empty credentials the
// client falls back to application default credentials. Extra options let
// tests point the client at a local fake endpoint.
func New(ctx context.Context, creds Credentials, extra ...option.ClientOption) (*Connector, error) {
	if creds.ProjectID == "" {
		return nil, fmt.Errorf("googlecloud project_id is required")
	}

	var opts []option.ClientOption
	if len(creds.ServiceAccountJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(creds.ServiceAccountJSON))
	}
	opts = append(opts, extra...)

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return &Connector{client: client, projectID: creds.ProjectID}, nil
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "googlecloud" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	it := c.client.Buckets(ctx, c.projectID)
	if _, err := it.Next(); err != nil && err != iterator.Done {
		return fmt.Errorf("listing buckets: %w", err)
	}
	return nil
}

type listObjectsParams struct {
	Bucket string `json:"bucket" jsonschema_description:"Cloud Storage bucket name"`
	Prefix string `json:"prefix,omitempty" jsonschema_description:"Object name prefix filter"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Max objects, default 25"`
}

type objectParams struct {
	Bucket string `json:"bucket" jsonschema_description:"Cloud Storage bucket name"`
	Object string `json:"object" jsonschema_description:"Full object name"`
}

type emptyParams struct{}

type bucketInfo struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	Class    string `json:"storage_class,omitempty"`
	Created  string `json:"created,omitempty"`
}

type objectInfo struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	Updated     string `json:"updated,omitempty"`
}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "gcs_list_buckets",
			Description: "List Cloud Storage buckets in the project.",
			Parameters:  tools.ParamsSchema(emptyParams{}),
			Call:        c.callListBuckets,
		},
		{
			Name:        "gcs_list_objects",
			Description: "List objects in a Cloud Storage bucket, optionally under a name prefix.",
			Parameters:  tools.ParamsSchema(listObjectsParams{}),
			Call:        c.callListObjects,
		},
		{
			Name:        "gcs_object_info",
			Description: "Get metadata for a single Cloud Storage object.",
			Parameters:  tools.ParamsSchema(objectParams{}),
			Call:        c.callObjectInfo,
		},
	}
}

func (c *Connector) callListBuckets(ctx context.Context, _ json.RawMessage) (any, error) {
	var buckets []bucketInfo
	it := c.client.Buckets(ctx, c.projectID)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing buckets: %w", err)
		}
		buckets = append(buckets, bucketInfo{
			Name:     attrs.Name,
			Location: attrs.Location,
			Class:    attrs.StorageClass,
			Created:  attrs.Created.Format(time.RFC3339),
		})
	}
	return map[string]any{"project": c.projectID, "buckets": buckets}, nil
}

func (c *Connector) callListObjects(ctx context.Context, args json.RawMessage) (any, error) {
	var params listObjectsParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	limit := params.Limit
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	var objects []objectInfo
	it := c.client.Bucket(params.Bucket).Objects(ctx, &storage.Query{Prefix: params.Prefix})
	for len(objects) < limit {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects in %s: %w", params.Bucket, err)
		}
		objects = append(objects, objectInfo{
			Name:        attrs.Name,
			Size:        attrs.Size,
			ContentType: attrs.ContentType,
			Updated:     attrs.Updated.Format(time.RFC3339),
		})
	}
	return map[string]any{"bucket": params.Bucket, "objects": objects}, nil
}

func (c *Connector) callObjectInfo(ctx context.Context, args json.RawMessage) (any, error) {
	var params objectParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Bucket == "" || params.Object == "" {
		return nil, fmt.Errorf("bucket and object are required")
	}

	attrs, err := c.client.Bucket(params.Bucket).Object(params.Object).Attrs(ctx)
	if err == storage.ErrObjectNotExist {
		return nil, fmt.Errorf("object %s/%s not found", params.Bucket, params.Object)
	}
	if err != nil {
		return nil, fmt.Errorf("object attrs: %w", err)
	}

	return map[string]any{
		"name":         attrs.Name,
		"bucket":       attrs.Bucket,
		"size":         attrs.Size,
		"content_type": attrs.ContentType,
		"updated":      attrs.Updated.Format(time.RFC3339),
		"md5":          fmt.Sprintf("%x", attrs.MD5),
	}, nil
}
