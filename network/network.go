// Package network binds a secure.Context to the transport socket layer and
// exposes one authenticated send/receive surface keyed by identity.
//
// A Network owns a single receive socket for its local identity. Inbound
// payloads are opened by the secure context; accepted packets are fanned out
// to Receive listeners and every failure goes to OnError listeners, so one
// bad payload never stops the receive loop.
//
// Send opens a send socket per call unless WithSendSocketCache is given.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/securenet/directory"
	"github.com/opd-ai/securenet/envelope"
	"github.com/opd-ai/securenet/events"
	"github.com/opd-ai/securenet/identity"
	"github.com/opd-ai/securenet/secure"
	"github.com/opd-ai/securenet/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotInitialized is returned by operations that need Initialize.
	ErrNotInitialized = errors.New("network not initialized")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("network closed")
)

// Listener receives accepted data. sender is nil for anonymous packets.
type Listener func(data json.RawMessage, sender *identity.ID)

type inbound struct {
	data   json.RawMessage
	sender *identity.ID
}

// Option configures a Network.
type Option func(*Network)

// WithSendSocketCache reuses one connected send socket per recipient
// instead of connecting on every Send.
func WithSendSocketCache() Option {
	return func(n *Network) {
		n.cache = make(map[string]*transport.SendSocket)
	}
}

// WithScheme selects the envelope scheme for outgoing packets.
func WithScheme(s envelope.Scheme) Option {
	return func(n *Network) {
		n.contextOpts = append(n.contextOpts, secure.WithScheme(s))
	}
}

// WithRegisterer registers the network's counters on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(n *Network) {
		n.registerer = reg
	}
}

// Network is a secure send/receive endpoint for one identity.
type Network struct {
	claim   *secure.Claim
	secure  *secure.Context
	sockets *transport.SocketFactory
	metrics *metrics

	contextOpts []secure.Option
	registerer  prometheus.Registerer

	messages events.Emitter[inbound]
	errs     events.Emitter[error]

	mu      sync.Mutex
	receive *transport.ReceiveSocket
	cache   map[string]*transport.SendSocket
	closed  bool
}

// New creates a Network for claim. claim must not be nil.
func New(dir directory.Directory, clients transport.ClientFactory, claim *secure.Claim, opts ...Option) (*Network, error) {
	if claim == nil || claim.Keys == nil || claim.ID.IsZero() {
		return nil, secure.ErrNoClaim
	}

	n := &Network{
		claim:   claim,
		sockets: transport.NewSocketFactory(clients),
	}
	for _, opt := range opts {
		opt(n)
	}

	m, err := newMetrics(n.registerer)
	if err != nil {
		return nil, err
	}
	n.metrics = m
	n.secure = secure.NewContext(claim, dir, n.contextOpts...)
	return n, nil
}

// Self returns the local identity.
func (n *Network) Self() identity.ID {
	return n.claim.ID
}

// Initialize opens and connects the receive socket. Calling it again is a
// no-op.
func (n *Network) Initialize(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.receive != nil {
		return nil
	}

	sock, err := n.sockets.OpenReceive(n.claim.ID, n.claim.Keys)
	if err != nil {
		return err
	}
	sock.OnMessage(n.handleDelivery)
	if err := sock.Connect(ctx); err != nil {
		sock.Close()
		return err
	}
	n.receive = sock

	logrus.WithFields(logrus.Fields{
		"function":  "Network.Initialize",
		"self":      n.claim.ID.String(),
		"socket_id": sock.ID(),
	}).Info("Secure network listening")
	return nil
}

func (n *Network) handleDelivery(d transport.Delivery) {
	packet, err := n.secure.ProcessIncoming(context.Background(), d.Payload)
	if err != nil {
		kind := errorKind(err)
		n.metrics.receiveErrors.WithLabelValues(kind).Inc()

		logrus.WithFields(logrus.Fields{
			"function": "Network.handleDelivery",
			"self":     n.claim.ID.String(),
			"kind":     kind,
			"error":    err.Error(),
		}).Warn("Dropped inbound payload")

		n.errs.Emit(err)
		return
	}

	n.metrics.received.Inc()
	n.messages.Emit(inbound{data: packet.Data, sender: packet.Sender()})
}

// Send seals data for recipient and publishes it. The recipient is resolved
// before any socket is opened, so unknown recipients fail with
// secure.ErrNoSuchUser without touching the transport.
func (n *Network) Send(ctx context.Context, recipient identity.ID, data any) error {
	if n.isClosed() {
		return ErrClosed
	}

	env, err := n.secure.ProcessOutgoing(ctx, data, recipient)
	if err != nil {
		return err
	}

	if n.cache != nil {
		return n.sendCached(ctx, recipient, env)
	}

	sock, err := n.sockets.OpenSend(n.claim.ID, recipient, n.claim.Keys)
	if err != nil {
		return err
	}
	defer sock.Close()

	if err := sock.Connect(ctx); err != nil {
		return err
	}
	if err := sock.Send(ctx, env); err != nil {
		return err
	}
	n.metrics.sent.Inc()
	return nil
}

func (n *Network) sendCached(ctx context.Context, recipient identity.ID, env []byte) error {
	key := recipient.String()

	n.mu.Lock()
	sock, ok := n.cache[key]
	if !ok {
		var err error
		sock, err = n.sockets.OpenSend(n.claim.ID, recipient, n.claim.Keys)
		if err != nil {
			n.mu.Unlock()
			return err
		}
		n.cache[key] = sock
	}
	n.mu.Unlock()

	err := sock.Connect(ctx)
	if err == nil {
		err = sock.Send(ctx, env)
	}
	if err != nil {
		n.evict(key, sock)
		return err
	}
	n.metrics.sent.Inc()
	return nil
}

func (n *Network) evict(key string, sock *transport.SendSocket) {
	n.mu.Lock()
	if n.cache[key] == sock {
		delete(n.cache, key)
	}
	n.mu.Unlock()
	sock.Close()
}

// Receive registers a listener for accepted data.
func (n *Network) Receive(listener Listener) {
	if listener == nil {
		return
	}
	n.messages.On(func(in inbound) {
		listener(in.data, in.sender)
	})
}

// OnError registers a listener for inbound processing failures.
func (n *Network) OnError(listener func(error)) {
	n.errs.On(listener)
}

// Close tears down the receive socket and any cached send sockets.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true

	var errs []error
	if n.receive != nil {
		if err := n.receive.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for key, sock := range n.cache {
		if err := sock.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close send socket to %s: %w", key, err))
		}
		delete(n.cache, key)
	}
	return errors.Join(errs...)
}

func (n *Network) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// errorKind labels a receive failure for metrics and logs.
func errorKind(err error) string {
	switch {
	case errors.Is(err, envelope.ErrDecryptionFailed):
		return "decryption_failed"
	case errors.Is(err, envelope.ErrMalformedEnvelope), errors.Is(err, envelope.ErrUnknownScheme):
		return "malformed_envelope"
	case errors.Is(err, secure.ErrMalformedPacket):
		return "malformed_packet"
	case errors.Is(err, secure.ErrUnknownCertificateClaim):
		return "unknown_claim"
	case errors.Is(err, secure.ErrIdentityValidationFailed):
		return "identity_validation_failed"
	default:
		return "other"
	}
}
