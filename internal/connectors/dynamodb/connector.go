// Package dynamodb maintains the identity-group mapping table read by the
// gateway's identity provider. Every organization is a group; its items are
// a group marker plus one item per member user.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

const (
	attrGroup   = "group_id"
	attrMember  = "member_id"
	attrAddedAt = "added_at"

	// groupMarker is the member id of the item representing the group itself.
	groupMarker = "#group"

	tableWaitTimeout = 30 * time.Second
)

// API is the subset of *dynamodb.Client used by the connector.
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Config holds settings for the identity-group connector.
type Config struct {
	Table string `yaml:"table" validate:"required"`

	// CreateTable creates the table on synchronize when it is missing.
	CreateTable bool `yaml:"create_table"`

	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// ClientOptions returns the dynamodb client options implied by cfg.
func (c Config) ClientOptions() []func(*dynamodb.Options) {
	if c.Endpoint == "" {
		return nil
	}
	return []func(*dynamodb.Options){func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(c.Endpoint)
	}}
}

// Connector manages group mapping items.
type Connector struct {
	name string
	api  API
	cfg  Config

	// waitForTable blocks until a created table is active.
	waitForTable func(ctx context.Context, table string) error
}

// New creates a connector named name.
func New(name string, api API, cfg Config) *Connector {
	c := &Connector{name: name, api: api, cfg: cfg}
	c.waitForTable = func(ctx context.Context, table string) error {
		waiter := dynamodb.NewTableExistsWaiter(api)
		return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, tableWaitTimeout)
	}
	return c
}

func (c *Connector) Name() string { return c.name }

// AddOrganization writes the group marker item.
func (c *Connector) AddOrganization(ctx context.Context, orgID string) error {
	if err := c.put(ctx, orgID, groupMarker); err != nil {
		return fmt.Errorf("failed to write group of organization %s: %w", orgID, err)
	}
	return nil
}

// AddUserToOrg writes the membership item.
func (c *Connector) AddUserToOrg(ctx context.Context, userID, orgID string) error {
	if err := c.put(ctx, orgID, userID); err != nil {
		return fmt.Errorf("failed to write membership of user %s in organization %s: %w", userID, orgID, err)
	}
	return nil
}

// RemoveUserFromOrg deletes the membership item.
func (c *Connector) RemoveUserFromOrg(ctx context.Context, userID, orgID string) error {
	if err := c.delete(ctx, orgID, userID); err != nil {
		return fmt.Errorf("failed to delete membership of user %s in organization %s: %w", userID, orgID, err)
	}
	return nil
}

// RemoveOrganization deletes every item of the organization group.
func (c *Connector) RemoveOrganization(ctx context.Context, orgID string) error {
	paginator := dynamodb.NewQueryPaginator(c.api, &dynamodb.QueryInput{
		TableName:              aws.String(c.cfg.Table),
		KeyConditionExpression: aws.String("#g = :g"),
		ExpressionAttributeNames: map[string]string{
			"#g": attrGroup,
			"#m": attrMember,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":g": &types.AttributeValueMemberS{Value: orgID},
		},
		ProjectionExpression: aws.String("#m"),
	})

	var members []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to query group of organization %s: %w", orgID, err)
		}
		for _, item := range page.Items {
			if m, ok := item[attrMember].(*types.AttributeValueMemberS); ok {
				members = append(members, m.Value)
			}
		}
	}

	// The marker goes last so a partial removal is retried from the query
	for _, member := range members {
		if member == groupMarker {
			continue
		}
		if err := c.delete(ctx, orgID, member); err != nil {
			return fmt.Errorf("failed to delete member %s of organization %s: %w", member, orgID, err)
		}
	}
	if err := c.delete(ctx, orgID, groupMarker); err != nil {
		return fmt.Errorf("failed to delete group of organization %s: %w", orgID, err)
	}

	zerolog.Ctx(ctx).Debug().Str("org_id", orgID).Int("members", len(members)).Msg("Deleted organization group")
	return nil
}

// Synchronize checks the table exists, creating it when configured to.
func (c *Connector) Synchronize(ctx context.Context) error {
	_, err := c.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.cfg.Table)})
	if err == nil {
		return nil
	}

	var notFound *types.ResourceNotFoundException
	if !c.cfg.CreateTable || !errors.As(err, &notFound) {
		return fmt.Errorf("table %s unavailable: %w", c.cfg.Table, err)
	}

	return c.createTable(ctx)
}

func (c *Connector) createTable(ctx context.Context) error {
	_, err := c.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(c.cfg.Table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrGroup), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrMember), KeyType: types.KeyTypeRange},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrGroup), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrMember), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		// Created concurrently by another instance
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create table %s: %w", c.cfg.Table, err)
		}
	}

	zerolog.Ctx(ctx).Info().Str("table", c.cfg.Table).Msg("Created group mapping table")

	return c.waitForTable(ctx, c.cfg.Table)
}

func (c *Connector) put(ctx context.Context, group, member string) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.cfg.Table),
		Item: map[string]types.AttributeValue{
			attrGroup:   &types.AttributeValueMemberS{Value: group},
			attrMember:  &types.AttributeValueMemberS{Value: member},
			attrAddedAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().Unix(), 10)},
		},
	})
	return err
}

func (c *Connector) delete(ctx context.Context, group, member string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.cfg.Table),
		Key: map[string]types.AttributeValue{
			attrGroup:  &types.AttributeValueMemberS{Value: group},
			attrMember: &types.AttributeValueMemberS{Value: member},
		},
	})
	return err
}
