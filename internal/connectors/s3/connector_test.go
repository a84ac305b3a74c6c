package s3

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"
)

// fakeBucket is an in-memory bucket listing two keys per page.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	deletes int
	headErr error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}}
}

func (b *fakeBucket) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (b *fakeBucket) DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes++
	for _, obj := range params.Delete.Objects {
		delete(b.objects, aws.ToString(obj.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (b *fakeBucket) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, aws.ToString(params.Prefix)) && key > aws.ToString(params.ContinuationToken) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)

	out := &s3.ListObjectsV2Output{}
	if len(keys) > 2 {
		keys = keys[:2]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[1])
	}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func (b *fakeBucket) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, b.headErr
}

func (b *fakeBucket) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.objects))
	for key := range b.objects {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

func TestConnector_Objects(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeBucket()
	c := New("storage", bucket, Config{Bucket: "tenants", Prefix: "gateway"})

	require.NoError(t, c.AddOrganization(ctx, "org-1"))
	require.NoError(t, c.AddOrganization(ctx, "org-2"))
	for i := range 3 {
		require.NoError(t, c.AddUserToOrg(ctx, fmt.Sprintf("user-%d", i), "org-1"))
	}

	require.Equal(t, []string{
		"gateway/org-1/.orgsync",
		"gateway/org-1/users/user-0",
		"gateway/org-1/users/user-1",
		"gateway/org-1/users/user-2",
		"gateway/org-2/.orgsync",
	}, bucket.keys())

	var g grant
	require.NoError(t, json.Unmarshal(bucket.objects["gateway/org-1/users/user-1"], &g))
	require.Equal(t, "org-1", g.Organization)
	require.Equal(t, "user-1", g.User)

	require.NoError(t, c.RemoveUserFromOrg(ctx, "user-0", "org-1"))
	require.NotContains(t, bucket.keys(), "gateway/org-1/users/user-0")

	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.Equal(t, []string{"gateway/org-2/.orgsync"}, bucket.keys())
	require.Equal(t, 1, bucket.deletes)

	// Nothing left to delete
	require.NoError(t, c.RemoveOrganization(ctx, "org-1"))
	require.Equal(t, 1, bucket.deletes)
}

func TestConnector_Synchronize(t *testing.T) {
	bucket := newFakeBucket()
	c := New("storage", bucket, Config{Bucket: "tenants"})

	require.NoError(t, c.Synchronize(context.Background()))

	bucket.headErr = errors.New("NoSuchBucket")
	require.ErrorContains(t, c.Synchronize(context.Background()), "bucket tenants unavailable")
}

func TestConfig_ClientOptions(t *testing.T) {
	cfg := Config{Bucket: "tenants", Endpoint: "http://localhost:9000", UsePathStyle: true}

	var o s3.Options
	for _, opt := range cfg.ClientOptions() {
		opt(&o)
	}
	require.Equal(t, "http://localhost:9000", aws.ToString(o.BaseEndpoint))
	require.True(t, o.UsePathStyle)
}
