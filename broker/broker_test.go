package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/securenet/directory"
	"github.com/opd-ai/securenet/identity"
	"github.com/opd-ai/securenet/keymanager"
	"github.com/opd-ai/securenet/network"
	"github.com/opd-ai/securenet/secure"
	"github.com/opd-ai/securenet/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func startServer(t *testing.T) *Server {
	t.Helper()
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connect(t *testing.T, srv *Server) *Client {
	t.Helper()
	c := NewClient(srv.Addr(), t.Name(), time.Second)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(_ string, payload []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(payload))
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestPublishSubscribeOrder(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	sub := connect(t, srv)
	pub := connect(t, srv)

	var got collector
	require.NoError(t, sub.Subscribe(ctx, "topic_bob", got.handle))
	assert.True(t, srv.HasSubscribers("topic_bob"))

	var want []string
	for i := 0; i < 50; i++ {
		msg := fmt.Sprintf("m%d", i)
		want = append(want, msg)
		require.NoError(t, pub.Publish(ctx, "topic_bob", []byte(msg)))
	}

	require.Eventually(t, func() bool { return len(got.snapshot()) == len(want) }, waitFor, 5*time.Millisecond)
	assert.Equal(t, want, got.snapshot())
}

func TestTopicsAreIsolated(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	c := connect(t, srv)
	var bob, carol collector
	require.NoError(t, c.Subscribe(ctx, "topic_bob", bob.handle))
	require.NoError(t, c.Subscribe(ctx, "topic_carol", carol.handle))
	require.NoError(t, c.Subscribe(ctx, "topic_carol", carol.handle))

	require.NoError(t, c.Publish(ctx, "topic_carol", []byte("hi carol")))
	require.NoError(t, c.Publish(ctx, "topic_nobody", []byte("lost")))

	require.Eventually(t, func() bool { return len(carol.snapshot()) == 2 }, waitFor, 5*time.Millisecond)
	assert.Equal(t, []string{"hi carol", "hi carol"}, carol.snapshot())
	assert.Empty(t, bob.snapshot())
}

func TestNamespacedTopic(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	c := connect(t, srv)

	topic := transport.Topic(identity.MustParse("bob@mail.example"))
	var got collector
	require.NoError(t, c.Subscribe(ctx, topic, got.handle))
	require.NoError(t, c.Publish(ctx, topic, []byte("x")))
	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, waitFor, 5*time.Millisecond)
}

func TestClientNotConnected(t *testing.T) {
	c := NewClient("127.0.0.1:1", "idle", time.Second)
	ctx := context.Background()

	assert.ErrorIs(t, c.Publish(ctx, "t", []byte("x")), transport.ErrNotConnected)
	assert.ErrorIs(t, c.Subscribe(ctx, "t", func(string, []byte) {}), transport.ErrNotConnected)
	assert.NoError(t, c.Close())
}

func TestConnectFailsWithoutServer(t *testing.T) {
	srv := startServer(t)
	addr := srv.Addr()
	require.NoError(t, srv.Close())

	c := NewClient(addr, "late", 200*time.Millisecond)
	assert.Error(t, c.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Connect(ctx), context.Canceled)
}

func TestConnectIdempotent(t *testing.T) {
	srv := startServer(t)
	c := connect(t, srv)
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, srv.Clients())
}

func TestSubscriptionsDroppedOnDisconnect(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	c := NewClient(srv.Addr(), "short-lived", time.Second)
	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Subscribe(ctx, "topic_x", func(string, []byte) {}))
	assert.True(t, srv.HasSubscribers("topic_x"))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return !srv.HasSubscribers("topic_x") }, waitFor, 5*time.Millisecond)
	assert.ErrorIs(t, c.Publish(ctx, "topic_x", []byte("x")), transport.ErrNotConnected)
}

func TestServerClose(t *testing.T) {
	srv, err := Listen("127.0.0.1:0")
	require.NoError(t, err)

	c := NewClient(srv.Addr(), "victim", time.Second)
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		srv.Wait()
		close(done)
	}()

	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("Wait did not return after Close")
	}
	require.Eventually(t, func() bool {
		return c.Publish(context.Background(), "t", []byte("x")) != nil
	}, waitFor, 5*time.Millisecond)
	c.Close()
}

func TestListenRejectsBadAddress(t *testing.T) {
	_, err := Listen("no-port")
	assert.Error(t, err)
	_, err = Listen("127.0.0.1:http")
	assert.Error(t, err)
}

func TestFactory(t *testing.T) {
	id := identity.MustParse("alice@example")

	_, err := (&Factory{}).Client(id, nil, nil)
	assert.Error(t, err)

	client, err := NewFactory("127.0.0.1:4222", time.Second).Client(id, nil, &id)
	require.NoError(t, err)
	require.IsType(t, &Client{}, client)
	assert.Equal(t, "nats://127.0.0.1:4222", client.(*Client).url)
	assert.Equal(t, "securenet:alice@example>alice@example", client.(*Client).name)
}

func TestSecureNetworkOverBroker(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	alice := identity.MustParse("alice@example")
	bob := identity.MustParse("bob@example")

	aliceKeys, err := keymanager.Generate()
	require.NoError(t, err)
	bobKeys, err := keymanager.Generate()
	require.NoError(t, err)
	dir, err := directory.NewMemory(
		directory.Entry{ID: alice, PublicKey: aliceKeys.PublicKey()},
		directory.Entry{ID: bob, PublicKey: bobKeys.PublicKey()},
	)
	require.NoError(t, err)

	clients := NewFactory(srv.Addr(), time.Second)
	aliceNet, err := network.New(dir, clients, &secure.Claim{ID: alice, Keys: aliceKeys})
	require.NoError(t, err)
	defer aliceNet.Close()
	bobNet, err := network.New(dir, clients, &secure.Claim{ID: bob, Keys: bobKeys})
	require.NoError(t, err)
	defer bobNet.Close()

	var mu sync.Mutex
	var got []string
	var from []*identity.ID
	bobNet.Receive(func(data json.RawMessage, sender *identity.ID) {
		mu.Lock()
		got = append(got, string(data))
		from = append(from, sender)
		mu.Unlock()
	})
	require.NoError(t, bobNet.Initialize(ctx))
	require.True(t, srv.HasSubscribers(transport.Topic(bob)))

	require.NoError(t, aliceNet.Send(ctx, bob, map[string]string{"text": "over nats"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"text":"over nats"}`, got[0])
	require.NotNil(t, from[0])
	assert.True(t, alice.Equal(*from[0]))
}
