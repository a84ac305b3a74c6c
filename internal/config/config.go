// Package config loads the server's YAML configuration: ledger layout,
// fan-out settings, job registry bounds and the connector list.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	dynamoconnector "github.com/wolfeidau/orgsync/internal/connectors/dynamodb"
	s3connector "github.com/wolfeidau/orgsync/internal/connectors/s3"
	sqsconnector "github.com/wolfeidau/orgsync/internal/connectors/sqs"
	"github.com/wolfeidau/orgsync/internal/connectors/warehouse"
	zkconnector "github.com/wolfeidau/orgsync/internal/connectors/zookeeper"
	"github.com/wolfeidau/orgsync/internal/store"
	zkstore "github.com/wolfeidau/orgsync/internal/store/zookeeper"
	"gopkg.in/yaml.v3"
)

// DefaultLedgerRoot is the ledger root used when none is configured.
const DefaultLedgerRoot = "/orgsync/ledger"

// Connector types
const (
	TypeZooKeeper = "zookeeper"
	TypeWarehouse = "warehouse"
	TypeS3        = "s3"
	TypeSQS       = "sqs"
	TypeDynamoDB  = "dynamodb"
)

// Config is the root of the configuration file.
type Config struct {
	Ledger     Ledger      `yaml:"ledger"`
	Engine     Engine      `yaml:"engine"`
	Jobs       Jobs        `yaml:"jobs"`
	Connectors []Connector `yaml:"connectors" validate:"unique=Name,dive"`
}

// Ledger places the provisioning ledger in the node store.
type Ledger struct {
	Root string      `yaml:"root" validate:"omitempty,startswith=/"`
	ACL  []store.ACL `yaml:"acl" validate:"dive"`
}

// Engine holds fan-out settings.
type Engine struct {
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxParallel int           `yaml:"max_parallel" validate:"gte=0"`
}

// Jobs holds job registry bounds.
type Jobs struct {
	Capacity    int           `yaml:"capacity" validate:"gte=0"`
	TTL         time.Duration `yaml:"ttl" validate:"gte=0"`
	GracePeriod time.Duration `yaml:"grace_period" validate:"gte=0"`
}

// Connector selects and configures one backend connector. Exactly the
// section matching Type is read.
type Connector struct {
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=zookeeper warehouse s3 sqs dynamodb"`

	ZooKeeper *ZooKeeper              `yaml:"zookeeper" validate:"required_if=Type zookeeper"`
	Warehouse *warehouse.Config       `yaml:"warehouse" validate:"required_if=Type warehouse"`
	S3        *s3connector.Config     `yaml:"s3" validate:"required_if=Type s3"`
	SQS       *sqsconnector.Config    `yaml:"sqs" validate:"required_if=Type sqs"`
	DynamoDB  *dynamoconnector.Config `yaml:"dynamodb" validate:"required_if=Type dynamodb"`
}

// ZooKeeper configures the coordination ACL connector and the ensemble it
// connects to.
type ZooKeeper struct {
	zkconnector.Config `yaml:",inline"`

	Ensemble zkstore.Config `yaml:"ensemble"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Ledger.Root == "" {
		c.Ledger.Root = DefaultLedgerRoot
	}
}

// Load reads the file at path. Environment variables referenced as ${VAR}
// are expanded before parsing so secrets stay out of the file. An empty
// path yields the defaults with no connectors.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		cfg.ApplyDefaults()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, validates and defaults a configuration document.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg.ApplyDefaults()

	return cfg, nil
}
