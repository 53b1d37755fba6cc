// Package bus is a thin JSON layer over a NATS connection.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultHandlerTimeout bounds the context passed to subscription handlers.
const DefaultHandlerTimeout = 30 * time.Second

// Handler receives the raw payload of one message.
type Handler func(ctx context.Context, data []byte)

type Client struct {
	nc             *nats.Conn
	logger         *slog.Logger
	handlerTimeout time.Duration
}

type Option func(*Client)

// WithLogger sets the logger used for connection events.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHandlerTimeout overrides DefaultHandlerTimeout. Zero disables the
// deadline.
func WithHandlerTimeout(d time.Duration) Option {
	return func(c *Client) { c.handlerTimeout = d }
}

func Connect(url string, opts ...Option) (*Client, error) {
	c := &Client{logger: slog.Default(), handlerTimeout: DefaultHandlerTimeout}
	for _, opt := range opts {
		opt(c)
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				c.logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	c.nc = nc
	return c, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	return c.nc.Publish(subject, b)
}

// DefaultFlushTimeout bounds Flush when ctx carries no deadline.
const DefaultFlushTimeout = 5 * time.Second

// Flush waits until the server has processed everything published so far.
func (c *Client) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultFlushTimeout)
		defer cancel()
	}
	return c.nc.FlushWithContext(ctx)
}

func (c *Client) SubscribeJSON(subject string, handler Handler) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, c.wrap(handler))
}

// QueueSubscribeJSON delivers each message on subject to one member of queue.
func (c *Client) QueueSubscribeJSON(subject, queue string, handler Handler) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, c.wrap(handler))
}

func (c *Client) wrap(handler Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if c.handlerTimeout <= 0 {
			handler(context.Background(), msg.Data)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.handlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	}
}
