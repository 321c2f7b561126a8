// Package secure turns application data into authenticated, encrypted
// packets and back.
//
// A Context is the only place where plain data crosses into wire bytes.
// Outgoing data is wrapped in a Packet carrying the sender's certificate,
// serialised to JSON, and sealed to the recipient's directory key. Incoming
// envelopes are opened with the local key capability and, when they carry a
// certificate, checked against the claimed sender's directory key.
//
// Packets without a certificate are accepted as anonymous; Packet.Sender
// returns nil for them.
package secure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opd-ai/securenet/certificate"
	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/directory"
	"github.com/opd-ai/securenet/envelope"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSuchUser is returned when a recipient has no directory entry.
	ErrNoSuchUser = errors.New("no such user")

	// ErrUnknownCertificateClaim is returned when a certificate names an
	// identity the directory does not know.
	ErrUnknownCertificateClaim = errors.New("claimed sender does not exist")

	// ErrIdentityValidationFailed is returned when a certificate does not
	// verify against the claimed sender's key.
	ErrIdentityValidationFailed = errors.New("could not validate identity")

	// ErrMalformedPacket is returned when decrypted content is not a packet.
	ErrMalformedPacket = errors.New("malformed secure packet")

	// ErrNoClaim is returned when an operation needs a local identity and
	// the context was built without one.
	ErrNoClaim = errors.New("no local identity claim configured")
)

// Claim binds the local identity to the capability that can sign for it.
type Claim struct {
	ID   identity.ID
	Keys crypto.KeyCapability
}

// Packet is the plaintext carried inside an envelope.
type Packet struct {
	Certificate *certificate.Certificate `json:"certificate,omitempty"`
	Data        json.RawMessage          `json:"data"`
}

// Sender returns the verified sender of a packet accepted by
// ProcessIncoming, or nil when the packet was anonymous.
func (p *Packet) Sender() *identity.ID {
	if p.Certificate == nil {
		return nil
	}
	id, err := p.Certificate.ClaimID()
	if err != nil {
		return nil
	}
	return &id
}

// Option configures a Context.
type Option func(*Context)

// WithScheme selects the envelope scheme for outgoing packets.
func WithScheme(s envelope.Scheme) Option {
	return func(c *Context) {
		c.envelopes.Scheme = s
	}
}

// Context performs the outgoing and incoming packet transformations for one
// local identity. It keeps no per-message state and is safe for concurrent
// use when its directory is.
type Context struct {
	claim     *Claim
	dir       directory.Directory
	envelopes envelope.Manager
}

// NewContext returns a Context. A nil claim yields an anonymous context that
// can send but not receive.
func NewContext(claim *Claim, dir directory.Directory, opts ...Option) *Context {
	c := &Context{claim: claim, dir: dir}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Claim returns the local claim, or nil for an anonymous context.
func (c *Context) Claim() *Claim {
	return c.claim
}

// ProcessOutgoing wraps data in a packet and seals it to recipient. data is
// serialised with encoding/json; json.RawMessage passes through as is.
func (c *Context) ProcessOutgoing(ctx context.Context, data any, recipient identity.ID) ([]byte, error) {
	packet := Packet{}
	if c.claim != nil {
		cert, err := certificate.Make(ctx, c.claim.ID, c.claim.Keys)
		if err != nil {
			return nil, err
		}
		packet.Certificate = cert
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise data: %w", err)
	}
	packet.Data = raw

	serialised, err := json.Marshal(packet)
	if err != nil {
		return nil, fmt.Errorf("failed to serialise packet: %w", err)
	}

	entry, err := c.dir.Lookup(ctx, recipient)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchUser, recipient)
		}
		return nil, fmt.Errorf("recipient lookup failed: %w", err)
	}

	env, err := c.envelopes.Encrypt(serialised, entry.PublicKey)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":      "ProcessOutgoing",
		"recipient":     recipient.String(),
		"authenticated": packet.Certificate != nil,
		"envelope_size": len(env),
	}).Debug("Sealed outgoing packet")

	return env, nil
}

// ProcessIncoming opens env and validates the packet inside. The returned
// error wraps envelope.ErrDecryptionFailed, ErrMalformedPacket,
// ErrUnknownCertificateClaim or ErrIdentityValidationFailed as appropriate.
func (c *Context) ProcessIncoming(ctx context.Context, env []byte) (*Packet, error) {
	if c.claim == nil {
		return nil, ErrNoClaim
	}

	plaintext, err := envelope.Decrypt(ctx, env, c.claim.Keys)
	if err != nil {
		return nil, err
	}

	var packet Packet
	if err := json.Unmarshal(plaintext, &packet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}
	if packet.Data == nil {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedPacket)
	}

	if packet.Certificate == nil {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessIncoming",
			"self":     c.claim.ID.String(),
		}).Debug("Accepted anonymous packet")
		return &packet, nil
	}

	if err := c.verifySender(ctx, packet.Certificate); err != nil {
		return nil, err
	}
	return &packet, nil
}

func (c *Context) verifySender(ctx context.Context, cert *certificate.Certificate) error {
	claimed, err := cert.ClaimID()
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnknownCertificateClaim, cert.Claim)
	}

	entry, err := c.dir.Lookup(ctx, claimed)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownCertificateClaim, claimed)
		}
		return fmt.Errorf("sender lookup failed: %w", err)
	}

	if !certificate.Verify(cert, entry.PublicKey) {
		logrus.WithFields(logrus.Fields{
			"function": "ProcessIncoming",
			"claim":    claimed.String(),
		}).Warn("Certificate did not verify against directory key")
		return fmt.Errorf("%w: %s", ErrIdentityValidationFailed, claimed)
	}
	return nil
}
