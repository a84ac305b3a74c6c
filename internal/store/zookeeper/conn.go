package zookeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Conn is the subset of *zk.Conn used by the node store and the ACL connector.
type Conn interface {
	Exists(path string) (bool, *zk.Stat, error)
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Delete(path string, version int32) error
	Get(path string) ([]byte, *zk.Stat, error)
	Set(path string, data []byte, version int32) (*zk.Stat, error)
	Children(path string) ([]string, *zk.Stat, error)
	GetACL(path string) ([]zk.ACL, *zk.Stat, error)
	SetACL(path string, acl []zk.ACL, version int32) (*zk.Stat, error)
}

var _ Conn = (*zk.Conn)(nil)

// Config holds connection settings for a ZooKeeper ensemble.
type Config struct {
	Servers        []string      `yaml:"servers" validate:"required,min=1"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	AuthScheme     string        `yaml:"auth_scheme"`
	AuthSecret     string        `yaml:"auth_secret"`
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 15 * time.Second
	}
}

// Dial connects to the ensemble and waits until a session is established or
// ctx is done.
func Dial(ctx context.Context, cfg Config) (*zk.Conn, error) {
	cfg.ApplyDefaults()

	conn, events, err := zk.Connect(cfg.Servers, cfg.SessionTimeout, zk.WithLogger(zkLogger{logger: log.Logger}))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}

	for {
		select {
		case ev := <-events:
			if ev.State != zk.StateHasSession {
				continue
			}
			if cfg.AuthScheme != "" {
				if err := conn.AddAuth(cfg.AuthScheme, []byte(cfg.AuthSecret)); err != nil {
					conn.Close()
					return nil, fmt.Errorf("failed to authenticate with zookeeper: %w", err)
				}
			}
			log.Info().Strs("servers", cfg.Servers).Msg("ZooKeeper session established")
			go drainEvents(events)
			return conn, nil
		case <-ctx.Done():
			conn.Close()
			return nil, fmt.Errorf("waiting for zookeeper session: %w", ctx.Err())
		}
	}
}

func drainEvents(events <-chan zk.Event) {
	for ev := range events {
		log.Debug().Str("state", ev.State.String()).Str("path", ev.Path).Msg("ZooKeeper event")
	}
}

// zkLogger routes the client's internal logging through zerolog.
type zkLogger struct {
	logger zerolog.Logger
}

func (l zkLogger) Printf(format string, args ...any) {
	l.logger.Debug().Str("component", "zookeeper").Msgf(format, args...)
}
