package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

// DefaultQueueSize is the per-subscription delivery buffer of a MemoryBroker.
const DefaultQueueSize = 256

var (
	// ErrNotConnected is returned when a client is used before Connect.
	ErrNotConnected = errors.New("pub/sub client not connected")
	// ErrBrokerClosed is returned once the broker has been shut down.
	ErrBrokerClosed = errors.New("broker closed")
)

// Publication records one Publish call on a MemoryBroker.
type Publication struct {
	Topic   string
	Payload []byte
}

// MemoryBroker is an in-process pub/sub broker. Each subscription is served
// by its own goroutine, so a subscriber sees messages in publish order.
// MemoryBroker also implements ClientFactory.
type MemoryBroker struct {
	mu        sync.RWMutex
	subs      map[string][]*memorySubscription
	published []Publication
	clients   int
	queueSize int
	closed    bool
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	logrus.WithFields(logrus.Fields{
		"function": "NewMemoryBroker",
	}).Debug("Creating in-memory pub/sub broker")

	return &MemoryBroker{
		subs:      make(map[string][]*memorySubscription),
		queueSize: DefaultQueueSize,
	}
}

// Client implements ClientFactory.
func (b *MemoryBroker) Client(self identity.ID, _ crypto.KeyCapability, recipient *identity.ID) (PubSubClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}
	b.clients++

	fields := logrus.Fields{
		"function": "MemoryBroker.Client",
		"self":     self.String(),
	}
	if recipient != nil {
		fields["recipient"] = recipient.String()
	}
	logrus.WithFields(fields).Debug("Handing out in-memory client")

	return &memoryClient{broker: b}, nil
}

// ClientsCreated returns how many clients have been handed out.
func (b *MemoryBroker) ClientsCreated() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.clients
}

// Published returns a copy of every publication so far.
func (b *MemoryBroker) Published() []Publication {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Publication, len(b.published))
	copy(out, b.published)
	return out
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// Inject delivers payload to topic as if a client had published it.
func (b *MemoryBroker) Inject(ctx context.Context, topic string, payload []byte) error {
	return b.publish(ctx, topic, payload)
}

// Close stops every subscription. Pending deliveries are dropped.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, sub := range subs {
			sub.stop()
		}
		delete(b.subs, topic)
	}
	return nil
}

func (b *MemoryBroker) publish(ctx context.Context, topic string, payload []byte) error {
	data := make([]byte, len(payload))
	copy(data, payload)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.published = append(b.published, Publication{Topic: topic, Payload: data})
	subs := make([]*memorySubscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, sub := range subs {
		if err := sub.enqueue(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBroker) subscribe(topic string, handler MessageHandler) (*memorySubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	sub := &memorySubscription{
		topic:   topic,
		handler: handler,
		queue:   make(chan []byte, b.queueSize),
		done:    make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	go sub.run()

	return sub, nil
}

func (b *MemoryBroker) unsubscribe(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.topic]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
	sub.stop()
}

type memorySubscription struct {
	topic   string
	handler MessageHandler
	queue   chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *memorySubscription) enqueue(ctx context.Context, payload []byte) error {
	select {
	case s.queue <- payload:
		return nil
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *memorySubscription) run() {
	for {
		select {
		case payload := <-s.queue:
			s.handler(s.topic, payload)
		case <-s.done:
			return
		}
	}
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// memoryClient is a PubSubClient bound to a MemoryBroker.
type memoryClient struct {
	broker *MemoryBroker

	mu        sync.Mutex
	connected bool
	subs      []*memorySubscription
}

func (c *memoryClient) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.broker.mu.RLock()
	closed := c.broker.closed
	c.broker.mu.RUnlock()
	if closed {
		return ErrBrokerClosed
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

func (c *memoryClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	return c.broker.publish(ctx, topic, payload)
}

func (c *memoryClient) Subscribe(_ context.Context, topic string, handler MessageHandler) error {
	if !c.isConnected() {
		return ErrNotConnected
	}
	sub, err := c.broker.subscribe(topic, handler)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

func (c *memoryClient) Close() error {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.connected = false
	c.mu.Unlock()

	for _, sub := range subs {
		c.broker.unsubscribe(sub)
	}
	return nil
}

func (c *memoryClient) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
