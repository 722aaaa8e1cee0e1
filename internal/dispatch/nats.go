package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MrWong99/echocrafter/pkg/provider/intent"
	"github.com/MrWong99/echocrafter/pkg/provider/stt"
)

var _ Dispatcher = (*NATS)(nil)

// NATSConfig configures the [NATS] sink.
type NATSConfig struct {
	// URL is a comma-separated list of server URLs.
	URL string

	// Prefix is the subject prefix; events go to <Prefix>.wake,
	// <Prefix>.intent and <Prefix>.transcript. Default "echocrafter".
	Prefix string

	// Name identifies the connection on the server.
	Name string

	// Token, when set, authenticates the connection.
	Token string

	// ConnectTimeout bounds the initial connection. Default 2s.
	ConnectTimeout time.Duration
}

// NATS publishes events as JSON messages.
type NATS struct {
	conn   *nats.Conn
	prefix string
	log    *slog.Logger
}

// ConnectNATS dials the configured servers.
func ConnectNATS(cfg NATSConfig, log *slog.Logger) (*NATS, error) {
	if cfg.URL == "" {
		return nil, errors.New("dispatch: nats url must not be empty")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "echocrafter"
	}
	if cfg.Name == "" {
		cfg.Name = "echocrafter"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	options := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("dispatch: nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("dispatch: nats reconnected", "url", c.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("dispatch: connect to nats: %w", err)
	}
	log.Info("dispatch: connected to NATS", "url", conn.ConnectedUrl(), "prefix", cfg.Prefix)
	return &NATS{conn: conn, prefix: strings.TrimSuffix(cfg.Prefix, "."), log: log}, nil
}

// Subject returns the subject events of type are published on.
func (n *NATS) Subject(typ string) string { return n.prefix + "." + typ }

// WakeWord implements [Dispatcher].
func (n *NATS) WakeWord(ctx context.Context, keyword int) error {
	return n.publish(ctx, wakeEvent(keyword))
}

// Intent implements [Dispatcher].
func (n *NATS) Intent(ctx context.Context, in intent.Intent) error {
	return n.publish(ctx, intentEvent(in))
}

// Transcript implements [Dispatcher].
func (n *NATS) Transcript(ctx context.Context, t stt.Transcript) error {
	return n.publish(ctx, transcriptEvent(t))
}

func (n *NATS) publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("dispatch: nats: marshal %s: %w", ev.Type, err)
	}
	if err := n.conn.Publish(n.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("dispatch: nats: publish %s: %w", ev.Type, err)
	}
	// Flush so an event is on the wire before the session moves on.
	var ferr error
	if _, ok := ctx.Deadline(); ok {
		ferr = n.conn.FlushWithContext(ctx)
	} else {
		ferr = n.conn.FlushTimeout(2 * time.Second)
	}
	if ferr != nil {
		return fmt.Errorf("dispatch: nats: flush: %w", ferr)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (n *NATS) Healthy() bool {
	return n.conn != nil && n.conn.Status() == nats.CONNECTED
}

// Close drains and closes the connection.
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	n.conn.Close()
	return err
}
