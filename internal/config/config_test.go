package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/orgsync/internal/store"
)

const fullConfig = `
ledger:
  root: /gateway/ledger
  acl:
    - scheme: sasl
      id: gateway
      perms: 31
engine:
  timeout: 5s
  max_parallel: 3
jobs:
  capacity: 50
  ttl: 10m
  grace_period: 1s
connectors:
  - name: coordination
    type: zookeeper
    zookeeper:
      base: /kafka/acl
      perms: 1
      ensemble:
        servers: [zk-1:2181, zk-2:2181]
  - name: warehouse
    type: warehouse
    warehouse:
      role_prefix: gw_
      pool:
        conn_string: ${TEST_WAREHOUSE_DSN}
  - name: storage
    type: s3
    s3:
      bucket: tenants
  - name: queues
    type: sqs
    sqs:
      queue_prefix: tenants
  - name: groups
    type: dynamodb
    dynamodb:
      table: group_mappings
      create_table: true
`

func TestParse(t *testing.T) {
	t.Setenv("TEST_WAREHOUSE_DSN", "postgres://orgsync@db:5432/warehouse")

	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)

	require.Equal(t, "/gateway/ledger", cfg.Ledger.Root)
	require.Equal(t, []store.ACL{{Scheme: "sasl", ID: "gateway", Perms: 31}}, cfg.Ledger.ACL)
	require.Equal(t, 5*time.Second, cfg.Engine.Timeout)
	require.Equal(t, 3, cfg.Engine.MaxParallel)
	require.Equal(t, Jobs{Capacity: 50, TTL: 10 * time.Minute, GracePeriod: time.Second}, cfg.Jobs)

	require.Len(t, cfg.Connectors, 5)
	zk := cfg.Connectors[0].ZooKeeper
	require.NotNil(t, zk)
	require.Equal(t, "/kafka/acl", zk.Base)
	require.Equal(t, int32(1), zk.Perms)
	require.Equal(t, []string{"zk-1:2181", "zk-2:2181"}, zk.Ensemble.Servers)

	require.Equal(t, "postgres://orgsync@db:5432/warehouse", cfg.Connectors[1].Warehouse.Pool.ConnString)
	require.Equal(t, "tenants", cfg.Connectors[2].S3.Bucket)
	require.Equal(t, "tenants", cfg.Connectors[3].SQS.QueuePrefix)
	require.True(t, cfg.Connectors[4].DynamoDB.CreateTable)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	require.NoError(t, err)
	require.Equal(t, DefaultLedgerRoot, cfg.Ledger.Root)
	require.Empty(t, cfg.Connectors)

	cfg, err = Load("")
	require.NoError(t, err)
	require.Equal(t, DefaultLedgerRoot, cfg.Ledger.Root)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "ledger:\n  rooot: /x\n"},
		{"relative root", "ledger:\n  root: ledger\n"},
		{"unknown type", "connectors:\n  - name: a\n    type: ldap\n"},
		{"missing section", "connectors:\n  - name: a\n    type: s3\n"},
		{"missing bucket", "connectors:\n  - name: a\n    type: s3\n    s3: {prefix: x}\n"},
		{"duplicate name", "connectors:\n  - {name: a, type: s3, s3: {bucket: b}}\n  - {name: a, type: s3, s3: {bucket: c}}\n"},
		{"bad acl", "ledger:\n  acl:\n    - {scheme: sasl}\n"},
		{"zookeeper without servers", "connectors:\n  - name: a\n    type: zookeeper\n    zookeeper: {base: /acl}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orgsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  timeout: 2s\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Engine.Timeout)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
