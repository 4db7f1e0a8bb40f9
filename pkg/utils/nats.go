package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig controls the lifecycle event bus connection.
type NATSConfig struct {
	URL            string
	Name           string
	ConnectTimeout time.Duration
}

func (c NATSConfig) withDefaults() NATSConfig {
	out := c
	if out.Name == "" {
		out.Name = "tty-relay"
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = 2 * time.Second
	}
	return out
}

// OpenNATS connects to the bus. The connection retries in the background after
// the initial connect; callers should Drain it on shutdown.
func OpenNATS(ctx context.Context, cfg NATSConfig) (*nats.Conn, error) {
	cfg = cfg.withDefaults()
	if cfg.URL == "" {
		return nil, fmt.Errorf("nats url is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return conn, nil
}
