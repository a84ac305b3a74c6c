// Package sqs gives every organization its own queue on the queue manager.
// Users are recorded as queue tags that the gateway turns into queue access.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/rs/zerolog"
)

const (
	orgTag        = "orgsync:organization"
	userTagPrefix = "orgsync:user:"
)

var ErrOrgNotProvisioned = errors.New("organization queue does not exist")

// API is the subset of *sqs.Client used by the connector.
type API interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	DeleteQueue(ctx context.Context, params *sqs.DeleteQueueInput, optFns ...func(*sqs.Options)) (*sqs.DeleteQueueOutput, error)
	TagQueue(ctx context.Context, params *sqs.TagQueueInput, optFns ...func(*sqs.Options)) (*sqs.TagQueueOutput, error)
	UntagQueue(ctx context.Context, params *sqs.UntagQueueInput, optFns ...func(*sqs.Options)) (*sqs.UntagQueueOutput, error)
	ListQueues(ctx context.Context, params *sqs.ListQueuesInput, optFns ...func(*sqs.Options)) (*sqs.ListQueuesOutput, error)
}

var _ API = (*sqs.Client)(nil)

// Config holds settings for the queue connector.
type Config struct {
	// QueuePrefix is prepended to the organization id to name its queue.
	// Default: orgsync
	QueuePrefix string `yaml:"queue_prefix" validate:"omitempty,max=40"`

	// VisibilityTimeout applied to created queues, in seconds.
	// Default: 300
	VisibilityTimeout int `yaml:"visibility_timeout" validate:"gte=0,lte=43200"`

	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.QueuePrefix == "" {
		c.QueuePrefix = "orgsync"
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 300
	}
}

// ClientOptions returns the sqs client options implied by cfg.
func (c Config) ClientOptions() []func(*sqs.Options) {
	if c.Endpoint == "" {
		return nil
	}
	return []func(*sqs.Options){func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(c.Endpoint)
	}}
}

// Connector manages organization queues.
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

// AddOrganization creates the organization queue, reusing an existing one.
func (c *Connector) AddOrganization(ctx context.Context, orgID string) error {
	name := c.queueName(orgID)

	out, err := c.api.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(name),
		Attributes: map[string]string{
			string(types.QueueAttributeNameVisibilityTimeout): strconv.Itoa(c.cfg.VisibilityTimeout),
		},
		Tags: map[string]string{orgTag: orgID},
	})
	if err != nil {
		// Exists with different attributes; keep it
		var exists *types.QueueNameExists
		if errors.As(err, &exists) {
			_, err = c.queueURL(ctx, orgID)
		}
		if err != nil {
			return fmt.Errorf("failed to create queue %s: %w", name, err)
		}
		return nil
	}

	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Str("queue_url", aws.ToString(out.QueueUrl)).Msg("Created organization queue")
	return nil
}

// AddUserToOrg tags the organization queue with the user.
func (c *Connector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	url, err := c.queueURL(ctx, orgID)
	if isNotExist(err) {
		return fmt.Errorf("add user %s: %w: %s", userID, ErrOrgNotProvisioned, orgID)
	}
	if err != nil {
		return err
	}

	_, err = c.api.TagQueue(ctx, &sqs.TagQueueInput{
		QueueUrl: aws.String(url),
		Tags:     map[string]string{userTagPrefix + userID: "member"},
	})
	if err != nil {
		return fmt.Errorf("failed to tag queue of organization %s with user %s: %w", orgID, userID, err)
	}
	return nil
}

// RemoveUserFromOrg removes the user tag from the organization queue.
func (c *Connector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	url, err := c.queueURL(ctx, orgID)
	if isNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.api.UntagQueue(ctx, &sqs.UntagQueueInput{
		QueueUrl: aws.String(url),
		TagKeys:  []string{userTagPrefix + userID},
	})
	if err != nil {
		return fmt.Errorf("failed to untag queue of organization %s: %w", orgID, err)
	}
	return nil
}

// RemoveOrganization deletes the organization queue.
func (c *Connector) RemoveOrganization(ctx context.Context, orgID string) error {
	url, err := c.queueURL(ctx, orgID)
	if isNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = c.api.DeleteQueue(ctx, &sqs.DeleteQueueInput{QueueUrl: aws.String(url)})
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to delete queue of organization %s: %w", orgID, err)
	}

	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Msg("Deleted organization queue")
	return nil
}

// Synchronize checks the queue manager is reachable.
func (c *Connector) Synchronize(ctx context.Context) error {
	out, err := c.api.ListQueues(ctx, &sqs.ListQueuesInput{
		QueueNamePrefix: aws.String(c.cfg.QueuePrefix + "-"),
		MaxResults:      aws.Int32(1000),
	})
	if err != nil {
		return fmt.Errorf("failed to list queues: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Int("queues", len(out.QueueUrls)).Msg("Queue manager reachable")
	return nil
}

func (c *Connector) queueURL(ctx context.Context, orgID string) (string, error) {
	out, err := c.api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(c.queueName(orgID))})
	if err != nil {
		return "", fmt.Errorf("failed to resolve queue of organization %s: %w", orgID, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

func (c *Connector) queueName(orgID string) string {
	return c.cfg.QueuePrefix + "-" + orgID
}

func isNotExist(err error) bool {
	var notExist *types.QueueDoesNotExist
	return errors.As(err, &notExist)
}
