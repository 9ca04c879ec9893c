package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	failIdentity bool
}

func (f *fakeAPI) CallerIdentity(ctx context.Context) (string, string, error) {
	if f.failIdentity {
		return "", "", fmt.Errorf("sts get-caller-identity: InvalidClientTokenId")
	}
	return "123456789012", "arn:aws:iam::123456789012:user/assistant", nil
}

func (f *fakeAPI) ListBuckets(ctx context.Context) ([]bucketInfo, error) {
	return []bucketInfo{
		{Name: "logs-prod", Created: "2024-01-01T00:00:00Z"},
		{Name: "backups", Created: "2023-06-15T00:00:00Z"},
	}, nil
}

func (f *fakeAPI) ListObjects(ctx context.Context, bucket, prefix string, limit int32) ([]objectInfo, error) {
	if bucket != "logs-prod" {
		return nil, fmt.Errorf("s3 list-objects %s: NoSuchBucket", bucket)
	}
	return []objectInfo{{Key: prefix + "app.log", Size: 2048}}, nil
}

func (f *fakeAPI) DescribeInstances(ctx context.Context) ([]instanceInfo, error) {
	return []instanceInfo{
		{ID: "i-0abc", Name: "web-1", Type: "t3.micro", State: "running", Zone: "us-east-1a"},
	}, nil
}

func fakeConnector(fail bool) *Connector {
	return &Connector{api: &fakeAPI{failIdentity: fail}}
}

func TestIdentity(t *testing.T) {
	out, err := fakeConnector(false).callIdentity(context.Background(), nil)
	require.NoError(t, err)

	m := out.(map[string]string)
	assert.Equal(t, "123456789012", m["account"])
	assert.Contains(t, m["arn"], "user/assistant")
}

func TestHealthCheck(t *testing.T) {
	assert.NoError(t, fakeConnector(false).HealthCheck(context.Background()))
	assert.Error(t, fakeConnector(true).HealthCheck(context.Background()))
}

func TestListBuckets(t *testing.T) {
	out, err := fakeConnector(false).callListBuckets(context.Background(), nil)
	require.NoError(t, err)

	buckets := out.(map[string]any)["buckets"].([]bucketInfo)
	require.Len(t, buckets, 2)
	assert.Equal(t, "logs-prod", buckets[0].Name)
}

func TestListObjects(t *testing.T) {
	c := fakeConnector(false)

	out, err := c.callListObjects(context.Background(), json.RawMessage(`{"bucket":"logs-prod","prefix":"2025/"}`))
	require.NoError(t, err)

	objects := out.(map[string]any)["objects"].([]objectInfo)
	require.Len(t, objects, 1)
	assert.Equal(t, "2025/app.log", objects[0].Key)
}

func TestListObjectsMissingBucket(t *testing.T) {
	c := fakeConnector(false)
	_, err := c.callListObjects(context.Background(), json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestDescribeInstances(t *testing.T) {
	out, err := fakeConnector(false).callDescribeInstances(context.Background(), nil)
	require.NoError(t, err)

	instances := out.(map[string]any)["instances"].([]instanceInfo)
	require.Len(t, instances, 1)
	assert.Equal(t, "web-1", instances[0].Name)
	assert.Equal(t, "running", instances[0].State)
}

func TestToolNames(t *testing.T) {
	names := make([]string, 0)
	for _, tool := range fakeConnector(false).Tools() {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, names,
		[]string{"aws_identity", "aws_list_buckets", "aws_list_objects", "aws_ec2_instances"})
}
