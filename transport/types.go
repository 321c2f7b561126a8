package transport

import (
	"context"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
)

// TopicPrefix is prepended to an identifier to form its inbox topic.
const TopicPrefix = "topic_"

// MessageHandler processes a raw payload delivered on topic.
type MessageHandler func(topic string, payload []byte)

// PubSubClient is the publish/subscribe capability a socket is built on.
// Implementations decide what a connection is; callers only rely on
// Connect being called before Publish or Subscribe.
type PubSubClient interface {
	// Connect establishes the underlying connection.
	Connect(ctx context.Context) error

	// Publish sends payload to every subscriber of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers handler for all future messages on topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) error

	// Close releases the connection and any subscriptions.
	Close() error
}

// ClientFactory hands out PubSubClients scoped to a party. recipient is nil
// for receive-side clients.
type ClientFactory interface {
	Client(self identity.ID, keys crypto.KeyCapability, recipient *identity.ID) (PubSubClient, error)
}

// Topic returns the inbox topic for id.
func Topic(id identity.ID) string {
	return TopicPrefix + id.String()
}
