package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/events"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

// SocketType distinguishes send from receive sockets.
type SocketType string

const (
	// SocketSend publishes to a recipient's topic.
	SocketSend SocketType = "send"
	// SocketReceive subscribes to the owner's topic.
	SocketReceive SocketType = "receive"
)

// ErrInvalidSocketType is returned when a socket is built with a type other
// than send or receive.
var ErrInvalidSocketType = errors.New("socket type must be send or receive")

// baseSocket holds what both socket kinds share.
type baseSocket struct {
	id     string
	typ    SocketType
	client PubSubClient
	self   identity.ID

	mu        sync.Mutex
	connected bool
}

func newBaseSocket(typ SocketType, client PubSubClient, self identity.ID) (*baseSocket, error) {
	if typ != SocketSend && typ != SocketReceive {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSocketType, typ)
	}
	return &baseSocket{
		id:     fmt.Sprintf("socket:%s:%s", typ, uuid.NewString()),
		typ:    typ,
		client: client,
		self:   self,
	}, nil
}

// ID returns the unique socket identifier.
func (s *baseSocket) ID() string { return s.id }

// Type returns the socket type.
func (s *baseSocket) Type() SocketType { return s.typ }

// Self returns the identity owning the socket.
func (s *baseSocket) Self() identity.ID { return s.self }

// IsConnected reports whether Connect has succeeded.
func (s *baseSocket) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Close closes the underlying client.
func (s *baseSocket) Close() error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return s.client.Close()
}

// SendSocket publishes raw payloads to one recipient.
type SendSocket struct {
	*baseSocket
	recipient identity.ID
}

// Recipient returns the identity this socket publishes to.
func (s *SendSocket) Recipient() identity.ID { return s.recipient }

// Connect connects the underlying client. Repeat calls are no-ops.
func (s *SendSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("send socket connect: %w", err)
	}
	s.connected = true
	return nil
}

// Send publishes payload to the recipient's topic.
func (s *SendSocket) Send(ctx context.Context, payload []byte) error {
	topic := Topic(s.recipient)

	logrus.WithFields(logrus.Fields{
		"function":     "SendSocket.Send",
		"socket_id":    s.id,
		"topic":        topic,
		"payload_size": len(payload),
	}).Debug("Publishing payload")

	if err := s.client.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// ReceiveSocket delivers payloads published to its owner's topic.
type ReceiveSocket struct {
	*baseSocket
	messages events.Emitter[Delivery]
}

// Delivery is one inbound payload.
type Delivery struct {
	Topic   string
	Payload []byte
}

// OnMessage registers a listener invoked once per inbound payload, in the
// order the client delivers them.
func (s *ReceiveSocket) OnMessage(listener func(Delivery)) {
	s.messages.On(listener)
}

// Connect connects the client and subscribes to the owner's topic. Repeat
// calls are no-ops.
func (s *ReceiveSocket) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	topic := Topic(s.self)
	if err := s.client.Connect(ctx); err != nil {
		return fmt.Errorf("receive socket connect: %w", err)
	}
	if err := s.client.Subscribe(ctx, topic, s.deliver); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	s.connected = true

	logrus.WithFields(logrus.Fields{
		"function":  "ReceiveSocket.Connect",
		"socket_id": s.id,
		"topic":     topic,
	}).Info("Receive socket subscribed")

	return nil
}

func (s *ReceiveSocket) deliver(topic string, payload []byte) {
	logrus.WithFields(logrus.Fields{
		"function":     "ReceiveSocket.deliver",
		"socket_id":    s.id,
		"topic":        topic,
		"payload_size": len(payload),
	}).Debug("Received payload from pub/sub client")

	s.messages.Emit(Delivery{Topic: topic, Payload: payload})
}

// SocketFactory opens sockets through a ClientFactory.
type SocketFactory struct {
	clients ClientFactory
}

// NewSocketFactory wraps a ClientFactory.
func NewSocketFactory(clients ClientFactory) *SocketFactory {
	return &SocketFactory{clients: clients}
}

// OpenReceive returns an unconnected receive socket for self.
func (f *SocketFactory) OpenReceive(self identity.ID, keys crypto.KeyCapability) (*ReceiveSocket, error) {
	client, err := f.clients.Client(self, keys, nil)
	if err != nil {
		return nil, fmt.Errorf("create receive client: %w", err)
	}
	base, err := newBaseSocket(SocketReceive, client, self)
	if err != nil {
		return nil, err
	}
	return &ReceiveSocket{baseSocket: base}, nil
}

// OpenSend returns an unconnected send socket from self to recipient.
func (f *SocketFactory) OpenSend(self, recipient identity.ID, keys crypto.KeyCapability) (*SendSocket, error) {
	client, err := f.clients.Client(self, keys, &recipient)
	if err != nil {
		return nil, fmt.Errorf("create send client: %w", err)
	}
	base, err := newBaseSocket(SocketSend, client, self)
	if err != nil {
		return nil, err
	}
	return &SendSocket{baseSocket: base, recipient: recipient}, nil
}
