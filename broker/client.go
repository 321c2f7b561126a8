package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/opd-ai/securenet/transport"
	"github.com/sirupsen/logrus"
)

// Client is a transport.PubSubClient over one NATS connection. Each
// subscription delivers on its own goroutine in publish order.
type Client struct {
	url         string
	name        string
	dialTimeout time.Duration

	mu   sync.Mutex
	conn *nats.Conn
}

// NewClient returns an unconnected client for the server at url. A bare
// host:port is treated as nats://host:port.
func NewClient(url, name string, dialTimeout time.Duration) *Client {
	if !strings.Contains(url, "://") {
		url = "nats://" + url
	}
	if dialTimeout <= 0 {
		dialTimeout = nats.DefaultTimeout
	}
	return &Client{url: url, name: name, dialTimeout: dialTimeout}
}

// Connect dials the server. Calling it on a connected client is a no-op.
// Lost connections are not re-established.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timeout := c.dialTimeout
	if d, ok := ctx.Deadline(); ok && time.Until(d) < timeout {
		timeout = time.Until(d)
	}

	conn, err := nats.Connect(c.url,
		nats.Name(c.name),
		nats.Timeout(timeout),
		nats.NoReconnect(),
		nats.ErrorHandler(c.asyncError),
	)
	if err != nil {
		return err
	}
	c.conn = conn

	logrus.WithFields(logrus.Fields{
		"function": "Client.Connect",
		"url":      conn.ConnectedUrlRedacted(),
		"name":     c.name,
	}).Debug("Connected to broker")
	return nil
}

func (c *Client) asyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	fields := logrus.Fields{
		"function": "Client.asyncError",
		"name":     c.name,
		"error":    err.Error(),
	}
	if sub != nil {
		fields["topic"] = sub.Subject
	}
	logrus.WithFields(fields).Warn("Broker connection error")
}

func (c *Client) current() (*nats.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || c.conn.IsClosed() {
		return nil, transport.ErrNotConnected
	}
	return c.conn, nil
}

// Publish sends payload to topic and returns once the server has it.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	if err := conn.Publish(topic, payload); err != nil {
		return err
	}
	return c.flush(ctx, conn)
}

// Subscribe registers handler for topic and returns once the server has
// the subscription.
func (c *Client) Subscribe(ctx context.Context, topic string, handler transport.MessageHandler) error {
	conn, err := c.current()
	if err != nil {
		return err
	}
	_, err = conn.Subscribe(topic, func(m *nats.Msg) {
		handler(m.Subject, m.Data)
	})
	if err != nil {
		return err
	}
	return c.flush(ctx, conn)
}

func (c *Client) flush(ctx context.Context, conn *nats.Conn) error {
	if _, ok := ctx.Deadline(); ok {
		return conn.FlushWithContext(ctx)
	}
	return conn.FlushTimeout(c.dialTimeout)
}

// Close disconnects and drops every subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return nil
}

// Factory hands out broker clients to the socket layer.
type Factory struct {
	Addr        string
	DialTimeout time.Duration
}

// NewFactory returns a Factory for the server at addr.
func NewFactory(addr string, dialTimeout time.Duration) *Factory {
	return &Factory{Addr: addr, DialTimeout: dialTimeout}
}

// Client implements transport.ClientFactory. Every socket gets its own
// connection, named after the parties it serves.
func (f *Factory) Client(self identity.ID, _ crypto.KeyCapability, recipient *identity.ID) (transport.PubSubClient, error) {
	if f.Addr == "" {
		return nil, errors.New("broker address not set")
	}

	name := "securenet:" + self.String()
	fields := logrus.Fields{
		"function": "Factory.Client",
		"self":     self.String(),
		"broker":   f.Addr,
	}
	if recipient != nil {
		name += ">" + recipient.String()
		fields["recipient"] = recipient.String()
	}
	logrus.WithFields(fields).Debug("Creating broker client")
	return NewClient(f.Addr, name, f.DialTimeout), nil
}
