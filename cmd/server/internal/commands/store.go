package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/orgsync/internal/store"
	memorystore "github.com/wolfeidau/orgsync/internal/store/memory"
	postgresstore "github.com/wolfeidau/orgsync/internal/store/postgres"
	zkstore "github.com/wolfeidau/orgsync/internal/store/zookeeper"
)

// StoreFlags selects and configures the node store holding the ledger.
type StoreFlags struct {
	StoreType      string              `help:"node store type" default:"memory" env:"ORGSYNC_STORE_TYPE" enum:"memory,postgres,zookeeper"`
	PostgresStore  PostgresStoreFlags  `embed:"" prefix:"postgres-"`
	ZooKeeperStore ZooKeeperStoreFlags `embed:"" prefix:"zookeeper-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`
	QueryTimeout    time.Duration `help:"maximum time a node store query can run" default:"10s"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"ORGSYNC_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresStoreFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
	}
}

type ZooKeeperStoreFlags struct {
	Servers        []string      `help:"ZooKeeper ensemble addresses" env:"ORGSYNC_ZOOKEEPER_SERVERS"`
	Chroot         string        `help:"path every node store path is resolved under" default:"/" env:"ORGSYNC_ZOOKEEPER_CHROOT"`
	SessionTimeout time.Duration `help:"ZooKeeper session timeout" default:"15s"`
	AuthScheme     string        `help:"ZooKeeper auth scheme, for example digest" env:"ORGSYNC_ZOOKEEPER_AUTH_SCHEME"`
	AuthSecret     string        `help:"ZooKeeper auth credentials" env:"ORGSYNC_ZOOKEEPER_AUTH_SECRET"`
}

func (s *ZooKeeperStoreFlags) validate() error {
	if len(s.Servers) == 0 {
		return errors.New("ZooKeeper servers are required (--zookeeper-servers or ORGSYNC_ZOOKEEPER_SERVERS)")
	}
	return nil
}

// openStore creates the selected node store. The returned func releases its
// connections.
func (f *StoreFlags) openStore(ctx context.Context, defaultACL []store.ACL) (store.NodeStore, func(), error) {
	switch f.StoreType {
	case "postgres":
		if err := f.PostgresStore.validate(); err != nil {
			return nil, nil, err
		}

		pool, err := postgresstore.NewPool(ctx, f.PostgresStore.poolConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		if f.PostgresStore.AutoMigrate {
			if err := postgresstore.RunMigrations(ctx, pool); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("Database migrations completed")
		}

		st, err := postgresstore.NewNodeStore(pool, &postgresstore.NodeStoreConfig{
			DefaultACL:          defaultACL,
			QueryTimeoutSeconds: int32(f.PostgresStore.QueryTimeout / time.Second),
		})
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create node store: %w", err)
		}

		log.Info().Msg("Using PostgreSQL node store")
		return st, pool.Close, nil

	case "zookeeper":
		if err := f.ZooKeeperStore.validate(); err != nil {
			return nil, nil, err
		}

		conn, err := zkstore.Dial(ctx, zkstore.Config{
			Servers:        f.ZooKeeperStore.Servers,
			SessionTimeout: f.ZooKeeperStore.SessionTimeout,
			AuthScheme:     f.ZooKeeperStore.AuthScheme,
			AuthSecret:     f.ZooKeeperStore.AuthSecret,
		})
		if err != nil {
			return nil, nil, err
		}

		st, err := zkstore.NewNodeStore(conn, f.ZooKeeperStore.Chroot, defaultACL...)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to create node store: %w", err)
		}

		log.Info().Str("chroot", f.ZooKeeperStore.Chroot).Msg("Using ZooKeeper node store")
		return st, conn.Close, nil

	default:
		log.Info().Msg("Using in-memory node store")
		return memorystore.NewNodeStore(defaultACL...), func() {}, nil
	}
}
