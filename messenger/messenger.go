// Package messenger is the typed message surface over a secure network.
//
// A ProtocolMessenger is built once from a fixed list of message types, each
// with a content schema. Outgoing messages are validated before they reach
// the network; incoming messages are validated before they reach the
// listeners registered for their type. Anything rejected on the way in is
// reported to OnError listeners instead.
package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/securenet/events"
	"github.com/opd-ai/securenet/identity"
	"github.com/opd-ai/securenet/network"
	"github.com/opd-ai/securenet/schema"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnrecognizedMessageType is returned for types absent from the
	// protocol.
	ErrUnrecognizedMessageType = errors.New("did not recognize message type")

	// ErrSchemaValidationFailed is matched by every *SchemaValidationError.
	ErrSchemaValidationFailed = errors.New("could not validate message as per schema")

	// ErrMalformedMessage is reported when inbound data is not a message.
	ErrMalformedMessage = errors.New("malformed protocol message")

	// ErrDuplicateMessageType is returned by New when a type is declared
	// twice.
	ErrDuplicateMessageType = errors.New("duplicate message type")
)

// SchemaValidationError reports which type failed and why.
type SchemaValidationError struct {
	MessageType string
	Err         error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s- %s: %v", ErrSchemaValidationFailed, e.MessageType, e.Err)
}

func (e *SchemaValidationError) Unwrap() error { return e.Err }

func (e *SchemaValidationError) Is(target error) bool {
	return target == ErrSchemaValidationFailed
}

// Message is the protocol envelope carried as network data.
type Message struct {
	Type    string `json:"type"`
	Content any    `json:"content"`
}

// MessageSchema declares one message type.
type MessageSchema struct {
	MessageType string
	Schema      schema.Schema
}

// Listener receives validated content. sender is nil when the message
// arrived without a certificate.
type Listener func(content json.RawMessage, sender *identity.ID)

// Network is what a ProtocolMessenger needs from the layer below.
type Network interface {
	Initialize(ctx context.Context) error
	Send(ctx context.Context, recipient identity.ID, data any) error
	Receive(listener network.Listener)
	OnError(listener func(error))
}

type delivery struct {
	content json.RawMessage
	sender  *identity.ID
}

// ProtocolMessenger validates and dispatches typed messages.
type ProtocolMessenger struct {
	net       Network
	schemas   map[string]schema.Schema
	listeners *events.Bus[delivery]
	errs      events.Emitter[error]
}

// New builds a messenger for protocol and hooks it to net's receive and
// error surfaces.
func New(net Network, protocol []MessageSchema) (*ProtocolMessenger, error) {
	schemas := make(map[string]schema.Schema, len(protocol))
	for _, ms := range protocol {
		if ms.MessageType == "" || ms.Schema == nil {
			return nil, fmt.Errorf("message schema needs a type and a schema: %q", ms.MessageType)
		}
		if _, dup := schemas[ms.MessageType]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateMessageType, ms.MessageType)
		}
		schemas[ms.MessageType] = ms.Schema
	}

	m := &ProtocolMessenger{
		net:       net,
		schemas:   schemas,
		listeners: events.NewBus[delivery](),
	}
	net.Receive(m.handleNewMessage)
	net.OnError(func(err error) {
		m.errs.Emit(err)
	})
	return m, nil
}

// Initialize starts the underlying network's receive path.
func (m *ProtocolMessenger) Initialize(ctx context.Context) error {
	return m.net.Initialize(ctx)
}

// Send validates msg and sends it to recipient. Nothing is sent when
// validation fails.
func (m *ProtocolMessenger) Send(ctx context.Context, msg Message, recipient identity.ID) error {
	if err := m.ValidateMessage(msg); err != nil {
		return err
	}
	return m.net.Send(ctx, recipient, msg)
}

// On registers listener for messages of messageType. Unknown types fail
// with ErrUnrecognizedMessageType and register nothing.
func (m *ProtocolMessenger) On(messageType string, listener Listener) error {
	if _, err := m.schema(messageType); err != nil {
		return err
	}
	if listener == nil {
		return nil
	}
	m.listeners.On(messageType, func(d delivery) {
		listener(d.content, d.sender)
	})
	return nil
}

// OnError registers a listener for inbound failures from this layer and
// the network below it.
func (m *ProtocolMessenger) OnError(listener func(error)) {
	m.errs.On(listener)
}

// ValidateMessage checks msg's type and content.
func (m *ProtocolMessenger) ValidateMessage(msg Message) error {
	s, err := m.schema(msg.Type)
	if err != nil {
		return err
	}
	if err := s.Validate(msg.Content); err != nil {
		return &SchemaValidationError{MessageType: msg.Type, Err: err}
	}
	return nil
}

func (m *ProtocolMessenger) schema(messageType string) (schema.Schema, error) {
	s, ok := m.schemas[messageType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnrecognizedMessageType, messageType)
	}
	return s, nil
}

// wireMessage keeps content raw so listeners get exactly what was sent.
type wireMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

func (m *ProtocolMessenger) handleNewMessage(data json.RawMessage, sender *identity.ID) {
	var wm wireMessage
	if err := json.Unmarshal(data, &wm); err != nil {
		m.reject(fmt.Errorf("%w: %v", ErrMalformedMessage, err), sender)
		return
	}
	if wm.Content == nil {
		wm.Content = json.RawMessage("null")
	}

	if err := m.ValidateMessage(Message{Type: wm.Type, Content: wm.Content}); err != nil {
		m.reject(err, sender)
		return
	}

	n := m.listeners.Emit(wm.Type, delivery{content: wm.Content, sender: sender})
	logrus.WithFields(logrus.Fields{
		"function":  "ProtocolMessenger.handleNewMessage",
		"type":      wm.Type,
		"listeners": n,
	}).Debug("Dispatched message")
}

func (m *ProtocolMessenger) reject(err error, sender *identity.ID) {
	fields := logrus.Fields{
		"function": "ProtocolMessenger.handleNewMessage",
		"error":    err.Error(),
	}
	if sender != nil {
		fields["sender"] = sender.String()
	}
	logrus.WithFields(fields).Warn("Rejected inbound message")
	m.errs.Emit(err)
}
