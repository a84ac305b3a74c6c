// Package s3 provisions per-organization prefixes in an object storage
// bucket. Each organization gets a marker object under its prefix and each
// user a grant object under the organization's users/ prefix, which the
// gateway's storage policy evaluates.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
)

// maxKeysPerDelete is the DeleteObjects request limit.
const maxKeysPerDelete = 1000

const markerObject = ".orgsync"

// API is the subset of *s3.Client used by the connector.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

var _ API = (*s3.Client)(nil)

// Config holds settings for the storage connector.
type Config struct {
	Bucket string `yaml:"bucket" validate:"required"`

	// Prefix is prepended to every organization prefix.
	// Default: orgs/
	Prefix string `yaml:"prefix"`

	// Endpoint overrides the service endpoint, for S3 compatible stores.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`

	// UsePathStyle addresses the bucket in the path rather than the host.
	UsePathStyle bool `yaml:"use_path_style"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "orgs/"
	}
	if !strings.HasSuffix(c.Prefix, "/") {
		c.Prefix += "/"
	}
}

// ClientOptions returns the s3 client options implied by cfg.
func (c Config) ClientOptions() []func(*s3.Options) {
	var opts []func(*s3.Options)
	if c.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(c.Endpoint)
		})
	}
	if c.UsePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	return opts
}

type grant struct {
	Organization string    `json:"organization"`
	User         string    `json:"user,omitempty"`
	GrantedAt    time.Time `json:"granted_at"`
}

// Connector manages organization prefixes.
type Connector struct {
	name string
	api  API
	cfg  Config
}

// New creates a connector named name.
func New(name string, api API, cfg Config) *Connector {
	cfg.ApplyDefaults()
	return &Connector{name: name, api: api, cfg: cfg}
}

func (c *Connector) Name() string { return c.name }

// AddOrganization writes the organization marker object.
func (c *Connector) AddOrganization(ctx context.Context, orgID string) error {
	key := c.orgPrefix(orgID) + markerObject
	if err := c.put(ctx, key, grant{Organization: orgID, GrantedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to write marker of organization %s: %w", orgID, err)
	}
	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Str("key", key).Msg("Wrote organization marker")
	return nil
}

// AddUserToOrg writes the user grant object.
func (c *Connector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	if err := c.put(ctx, c.userKey(userID, orgID), grant{Organization: orgID, User: userID, GrantedAt: time.Now().UTC()}); err != nil {
		return fmt.Errorf("failed to write grant of user %s in organization %s: %w", userID, orgID, err)
	}
	return nil
}

// RemoveUserFromOrg deletes the user grant object.
func (c *Connector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(c.userKey(userID, orgID)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete grant of user %s in organization %s: %w", userID, orgID, err)
	}
	return nil
}

// RemoveOrganization deletes every object under the organization prefix.
func (c *Connector) RemoveOrganization(ctx context.Context, orgID string) error {
	prefix := c.orgPrefix(orgID)

	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})

	var keys []types.ObjectIdentifier
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects of organization %s: %w", orgID, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, types.ObjectIdentifier{Key: obj.Key})
		}
	}

	for start := 0; start < len(keys); start += maxKeysPerDelete {
		batch := keys[start:min(start+maxKeysPerDelete, len(keys))]

		out, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.cfg.Bucket),
			Delete: &types.Delete{Objects: batch, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("failed to delete objects of organization %s: %w", orgID, err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("failed to delete %d objects of organization %s, first %s: %s",
				len(out.Errors), orgID, aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}

	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Int("objects", len(keys)).Msg("Deleted organization prefix")
	return nil
}

// Synchronize checks the bucket is reachable.
func (c *Connector) Synchronize(ctx context.Context) error {
	if _, err := c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.cfg.Bucket)}); err != nil {
		return fmt.Errorf("bucket %s unavailable: %w", c.cfg.Bucket, err)
	}
	return nil
}

func (c *Connector) put(ctx context.Context, key string, body grant) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (c *Connector) orgPrefix(orgID string) string {
	return c.cfg.Prefix + orgID + "/"
}

func (c *Connector) userKey(userID, orgID string) string {
	return c.orgPrefix(orgID) + "users/" + userID
}
