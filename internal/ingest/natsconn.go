package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// ConnectOptions configures the NATS connection.
type ConnectOptions struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

// Connect dials NATS with a bounded reconnect policy and fails fast when the
// first connection attempt does not succeed.
func Connect(opts ConnectOptions) (*nats.Conn, error) {
	url := strings.TrimSpace(opts.URL)
	if url == "" {
		url = nats.DefaultURL
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	conn, err := nats.Connect(url,
		nats.Name(opts.Name),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			url, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return conn, nil
}
