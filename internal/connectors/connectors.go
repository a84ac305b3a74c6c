// Package connectors assembles the engine's connector list from the
// configuration file.
package connectors

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/config"
	dynamoconnector "github.com/wolfeidau/orgsync/internal/connectors/dynamodb"
	s3connector "github.com/wolfeidau/orgsync/internal/connectors/s3"
	sqsconnector "github.com/wolfeidau/orgsync/internal/connectors/sqs"
	"github.com/wolfeidau/orgsync/internal/connectors/warehouse"
	zkconnector "github.com/wolfeidau/orgsync/internal/connectors/zookeeper"
	"github.com/wolfeidau/orgsync/internal/engine"
	"github.com/wolfeidau/orgsync/internal/store/postgres"
	zkstore "github.com/wolfeidau/orgsync/internal/store/zookeeper"
)

var ErrUnknownType = errors.New("unknown connector type")

// builder creates connectors, sharing one AWS configuration between the
// AWS backed connectors.
type builder struct {
	awsCfg  *aws.Config
	closers []func()
}

// Build creates one connector per configured entry, in order. The returned close func
// releases the connections opened for them.
func Build(ctx context.Context, defs []config.Connector) ([]engine.Connector, func(), error) {
	b := &builder{}

	built := make([]engine.Connector, 0, len(defs))
	for _, def := range defs {
		c, err := b.build(ctx, def)
		if err != nil {
			b.close()
			return nil, nil, fmt.Errorf("connector %s: %w", def.Name, err)
		}

		log.Info().Str("connector", def.Name).Str("type", def.Type).Msg("Connector configured")
		built = append(built, c)
	}

	return built, b.close, nil
}

func (b *builder) build(ctx context.Context, def config.Connector) (engine.Connector, error) {
	switch def.Type {
	case config.TypeZooKeeper:
		conn, err := zkstore.Dial(ctx, def.ZooKeeper.Ensemble)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, conn.Close)
		return zkconnector.New(def.Name, conn, def.ZooKeeper.Config), nil

	case config.TypeWarehouse:
		pool, err := postgres.NewPool(ctx, &def.Warehouse.Pool)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		return warehouse.New(def.Name, pool, *def.Warehouse), nil

	case config.TypeS3:
		cfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg, def.S3.ClientOptions()...)
		return s3connector.New(def.Name, client, *def.S3), nil

	case config.TypeSQS:
		cfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		client := sqs.NewFromConfig(cfg, def.SQS.ClientOptions()...)
		return sqsconnector.New(def.Name, client, *def.SQS), nil

	case config.TypeDynamoDB:
		cfg, err := b.aws(ctx)
		if err != nil {
			return nil, err
		}
		client := dynamodb.NewFromConfig(cfg, def.DynamoDB.ClientOptions()...)
		return dynamoconnector.New(def.Name, client, *def.DynamoDB), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, def.Type)
	}
}

func (b *builder) aws(ctx context.Context) (aws.Config, error) {
	if b.awsCfg != nil {
		return *b.awsCfg, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	b.awsCfg = &cfg

	return cfg, nil
}

func (b *builder) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
