package transport

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWait = 2 * time.Second

var (
	alice = identity.MustParse("alice@example")
	bob   = identity.MustParse("bob@example")
)

// countingClient records calls and can be told to fail.
type countingClient struct {
	mu         sync.Mutex
	connects   int
	subscribes int
	publishes  []Publication
	connectErr error
}

func (c *countingClient) Connect(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.connectErr
}

func (c *countingClient) Publish(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishes = append(c.publishes, Publication{Topic: topic, Payload: payload})
	return nil
}

func (c *countingClient) Subscribe(context.Context, string, MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribes++
	return nil
}

func (c *countingClient) Close() error { return nil }

type staticFactory struct {
	client PubSubClient
	err    error
}

func (f staticFactory) Client(identity.ID, crypto.KeyCapability, *identity.ID) (PubSubClient, error) {
	return f.client, f.err
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "topic_alice@example", Topic(alice))
}

func TestNewBaseSocketRejectsUnknownType(t *testing.T) {
	_, err := newBaseSocket(SocketType("broadcast"), &countingClient{}, alice)
	assert.ErrorIs(t, err, ErrInvalidSocketType)

	s, err := newBaseSocket(SocketSend, &countingClient{}, alice)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s.ID(), "socket:send:"))
}

func TestSocketIDsAreUnique(t *testing.T) {
	f := NewSocketFactory(staticFactory{client: &countingClient{}})
	a, err := f.OpenSend(alice, bob, nil)
	require.NoError(t, err)
	b, err := f.OpenSend(alice, bob, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestSendSocketConnectIdempotent(t *testing.T) {
	client := &countingClient{}
	f := NewSocketFactory(staticFactory{client: client})

	s, err := f.OpenSend(alice, bob, nil)
	require.NoError(t, err)
	assert.False(t, s.IsConnected())

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, client.connects)
	assert.True(t, s.IsConnected())

	require.NoError(t, s.Send(context.Background(), []byte("hi")))
	require.Len(t, client.publishes, 1)
	assert.Equal(t, "topic_bob@example", client.publishes[0].Topic)
	assert.Equal(t, bob, s.Recipient())
	assert.Equal(t, alice, s.Self())
}

func TestReceiveSocketConnectIdempotent(t *testing.T) {
	client := &countingClient{}
	f := NewSocketFactory(staticFactory{client: client})

	s, err := f.OpenReceive(alice, nil)
	require.NoError(t, err)
	assert.Equal(t, SocketReceive, s.Type())

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, client.connects)
	assert.Equal(t, 1, client.subscribes)
}

func TestConnectFailureLeavesSocketDisconnected(t *testing.T) {
	client := &countingClient{connectErr: errors.New("refused")}
	f := NewSocketFactory(staticFactory{client: client})

	s, err := f.OpenReceive(alice, nil)
	require.NoError(t, err)
	assert.Error(t, s.Connect(context.Background()))
	assert.False(t, s.IsConnected())
}

func TestFactoryErrorPropagates(t *testing.T) {
	f := NewSocketFactory(staticFactory{err: errors.New("no broker")})

	_, err := f.OpenSend(alice, bob, nil)
	assert.Error(t, err)
	_, err = f.OpenReceive(alice, nil)
	assert.Error(t, err)
}

func TestSendReceiveOverMemoryBroker(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()
	f := NewSocketFactory(broker)
	ctx := context.Background()

	recv, err := f.OpenReceive(bob, nil)
	require.NoError(t, err)

	got := make(chan Delivery, 10)
	recv.OnMessage(func(d Delivery) { got <- d })
	require.NoError(t, recv.Connect(ctx))

	send, err := f.OpenSend(alice, bob, nil)
	require.NoError(t, err)
	require.NoError(t, send.Connect(ctx))

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, send.Send(ctx, []byte(msg)))
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case d := <-got:
			assert.Equal(t, "topic_bob@example", d.Topic)
			assert.Equal(t, want, string(d.Payload))
		case <-time.After(testWait):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
