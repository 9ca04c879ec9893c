// Package aws exposes read-oriented AWS tools: caller identity, S3 bucket
// and object listing, and EC2 instance inventory. Static credentials come
// from the connector row; when absent the SDK's default chain applies.
package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/nick-cummings/personal-assistant/pkg/tools"
)

// Credentials is the decrypted credential blob for an AWS connector.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	SessionToken    string `json:"session_token,omitempty"`
	Region          string `json:"region,omitempty"`
}

// api abstracts the three service clients so tests can fake them.
type api interface {
	CallerIdentity(ctx context.Context) (account, arn string, err error)
	ListBuckets(ctx context.Context) ([]bucketInfo, error)
	ListObjects(ctx context.Context, bucket, prefix string, limit int32) ([]objectInfo, error)
	DescribeInstances(ctx context.Context) ([]instanceInfo, error)
}

// Connector provides AWS tools backed by aws-sdk-go-v2.
type Connector struct {
	api api
}

type bucketInfo struct {
	Name    string `json:"name"`
	Created string `json:"created,omitempty"`
}

type objectInfo struct {
	Key      string `json:"key"`
	Size     int64  `json:"size"`
	Modified string `json:"modified,omitempty"`
}

type instanceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Type   string `json:"type"`
	State  string `json:"state"`
	Zone   string `json:"zone,omitempty"`
	Public string `json:"public_ip,omitempty"`
}

// New creates the AWS connector, building SDK clients from the stored
// credentials or the default chain.
func New(ctx context.Context, creds Credentials) (*Connector, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if creds.Region != "" {
		opts = append(opts, awsconfig.WithRegion(creds.Region))
	}
	if creds.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Connector{api: &sdkAPI{
		sts: sts.NewFromConfig(cfg),
		s3:  s3.NewFromConfig(cfg),
		ec2: ec2.NewFromConfig(cfg),
	}}, nil
}

// Type implements connectors.Connector.
func (c *Connector) Type() string { return "aws" }

// HealthCheck implements connectors.Connector.
func (c *Connector) HealthCheck(ctx context.Context) error {
	_, _, err := c.api.CallerIdentity(ctx)
	return err
}

type listObjectsParams struct {
	Bucket string `json:"bucket" jsonschema_description:"S3 bucket name"`
	Prefix string `json:"prefix,omitempty" jsonschema_description:"Key prefix filter"`
	Limit  int    `json:"limit,omitempty" jsonschema_description:"Max objects, default 25"`
}

type emptyParams struct{}

// Tools implements connectors.Connector.
func (c *Connector) Tools() []tools.Tool {
	return []tools.Tool{
		{
			Name:        "aws_identity",
			Description: "Show the AWS account and ARN of the configured credentials.",
			Parameters:  tools.ParamsSchema(emptyParams{}),
			Call:        c.callIdentity,
		},
		{
			Name:        "aws_list_buckets",
			Description: "List S3 buckets in the account.",
			Parameters:  tools.ParamsSchema(emptyParams{}),
			Call:        c.callListBuckets,
		},
		{
			Name:        "aws_list_objects",
			Description: "List objects in an S3 bucket, optionally under a key prefix.",
			Parameters:  tools.ParamsSchema(listObjectsParams{}),
			Call:        c.callListObjects,
		},
		{
			Name:        "aws_ec2_instances",
			Description: "List EC2 instances with their state, type, and addresses.",
			Parameters:  tools.ParamsSchema(emptyParams{}),
			Call:        c.callDescribeInstances,
		},
	}
}

func (c *Connector) callIdentity(ctx context.Context, _ json.RawMessage) (any, error) {
	account, arn, err := c.api.CallerIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{"account": account, "arn": arn}, nil
}

func (c *Connector) callListBuckets(ctx context.Context, _ json.RawMessage) (any, error) {
	buckets, err := c.api.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"buckets": buckets}, nil
}

func (c *Connector) callListObjects(ctx context.Context, args json.RawMessage) (any, error) {
	var params listObjectsParams
	if err := tools.UnmarshalArgs(args, &params); err != nil {
		return nil, err
	}
	if params.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	limit := int32(params.Limit)
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	objects, err := c.api.ListObjects(ctx, params.Bucket, params.Prefix, limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"bucket": params.Bucket, "objects": objects}, nil
}

func (c *Connector) callDescribeInstances(ctx context.Context, _ json.RawMessage) (any, error) {
	instances, err := c.api.DescribeInstances(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"instances": instances}, nil
}

// sdkAPI is the real implementation over the service clients.
type sdkAPI struct {
	sts *sts.Client
	s3  *s3.Client
	ec2 *ec2.Client
}

func (a *sdkAPI) CallerIdentity(ctx context.Context) (string, string, error) {
	out, err := a.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", "", fmt.Errorf("sts get-caller-identity: %w", err)
	}
	return awssdk.ToString(out.Account), awssdk.ToString(out.Arn), nil
}

func (a *sdkAPI) ListBuckets(ctx context.Context) ([]bucketInfo, error) {
	out, err := a.s3.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("s3 list-buckets: %w", err)
	}
	buckets := make([]bucketInfo, 0, len(out.Buckets))
	for _, b := range out.Buckets {
		info := bucketInfo{Name: awssdk.ToString(b.Name)}
		if b.CreationDate != nil {
			info.Created = b.CreationDate.Format(time.RFC3339)
		}
		buckets = append(buckets, info)
	}
	return buckets, nil
}

func (a *sdkAPI) ListObjects(ctx context.Context, bucket, prefix string, limit int32) ([]objectInfo, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  awssdk.String(bucket),
		MaxKeys: awssdk.Int32(limit),
	}
	if prefix != "" {
		input.Prefix = awssdk.String(prefix)
	}

	out, err := a.s3.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3 list-objects %s: %w", bucket, err)
	}
	objects := make([]objectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		info := objectInfo{
			Key:  awssdk.ToString(obj.Key),
			Size: awssdk.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			info.Modified = obj.LastModified.Format(time.RFC3339)
		}
		objects = append(objects, info)
	}
	return objects, nil
}

func (a *sdkAPI) DescribeInstances(ctx context.Context) ([]instanceInfo, error) {
	var instances []instanceInfo
	paginator := ec2.NewDescribeInstancesPaginator(a.ec2, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("ec2 describe-instances: %w", err)
		}
		for _, res := range page.Reservations {
			for _, inst := range res.Instances {
				info := instanceInfo{
					ID:     awssdk.ToString(inst.InstanceId),
					Type:   string(inst.InstanceType),
					Name:   nameTag(inst.Tags),
					Public: awssdk.ToString(inst.PublicIpAddress),
				}
				if inst.State != nil {
					info.State = string(inst.State.Name)
				}
				if inst.Placement != nil {
					info.Zone = awssdk.ToString(inst.Placement.AvailabilityZone)
				}
				instances = append(instances, info)
			}
		}
	}
	return instances, nil
}

func nameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if awssdk.ToString(tag.Key) == "Name" {
			return awssdk.ToString(tag.Value)
		}
	}
	return ""
}
