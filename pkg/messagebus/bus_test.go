package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/metastore"
)

// fakeClient is a minimal in-memory metastore.Client sufficient to drive
// the bus's drain/ack cycle without the raft-backed store.
type fakeClient struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

func newFakeClient() *fakeClient {
	return &fakeClient{nodes: make(map[string][]byte)}
}

func (c *fakeClient) Create(ctx context.Context, path string, data []byte, mode metastore.Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[path] = data
	return nil
}

func (c *fakeClient) SetData(ctx context.Context, path string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[path] = data
	return nil
}

func (c *fakeClient) GetData(ctx context.Context, path string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.nodes[path]
	if !ok {
		return nil, metastore.ErrNoNode
	}
	return data, nil
}

func (c *fakeClient) Delete(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, path)
	return nil
}

func (c *fakeClient) GetChildren(ctx context.Context, path string, watch bool) ([]string, metastore.Watch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := path + "/"
	var names []string
	for p := range c.nodes {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			names = append(names, p[len(prefix):])
		}
	}
	ch := make(chan metastore.Event)
	close(ch)
	return names, ch, nil
}

func (c *fakeClient) Exists(ctx context.Context, path string, watch bool) (bool, metastore.Watch, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[path]
	ch := make(chan metastore.Event)
	close(ch)
	return ok, ch, nil
}

func (c *fakeClient) Close() error { return nil }

type fakeRegistry struct {
	mu            sync.Mutex
	allCalls      int
	runnableCalls []string
}

func (r *fakeRegistry) SendToAll(ctx context.Context, payload []byte, onComplete func()) {
	r.mu.Lock()
	r.allCalls++
	r.mu.Unlock()
	onComplete()
}

func (r *fakeRegistry) SendToRunnable(ctx context.Context, runnable string, payload []byte, onComplete func()) {
	r.mu.Lock()
	r.runnableCalls = append(r.runnableCalls, runnable)
	r.mu.Unlock()
	onComplete()
}

type fakeInstanceChanger struct {
	mu      sync.Mutex
	calls   []string
}

func (ic *fakeInstanceChanger) RequestChange(runnable string, newCount int, original Message, onComplete func()) {
	ic.mu.Lock()
	ic.calls = append(ic.calls, fmt.Sprintf("%s->%d", runnable, newCount))
	ic.mu.Unlock()
	onComplete()
}

type fakeCredentials struct {
	mu    sync.Mutex
	calls int
}

func (c *fakeCredentials) InvalidateAndReplicate(ctx context.Context) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func writeMessage(t *testing.T, client *fakeClient, path string, msg Message) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, client.Create(context.Background(), path, data, metastore.Persistent))
}

func TestInstancesCommandRoutesToInstanceChanger(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	ic := &fakeInstanceChanger{}
	cred := &fakeCredentials{}
	bus := New(client, "/app/messages", reg, ic, cred)

	writeMessage(t, client, "/app/messages/msg0", Message{
		Type: TypeSystem, Scope: ScopeRunnable, RunnableName: "echo",
		Command: Command{Name: commandInstances, Options: map[string]string{"count": "3"}},
	})

	require.NoError(t, bus.drain(context.Background()))
	assert.Equal(t, []string{"echo->3"}, ic.calls)
	_, err := client.GetData(context.Background(), "/app/messages/msg0")
	assert.ErrorIs(t, err, metastore.ErrNoNode, "message should be acked (deleted) after dispatch")
}

func TestSecureStoreUpdatedInvalidatesAndReplicates(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	ic := &fakeInstanceChanger{}
	cred := &fakeCredentials{}
	bus := New(client, "/app/messages", reg, ic, cred)

	writeMessage(t, client, "/app/messages/msg0", Message{
		Type: TypeSystem, Scope: ScopeApplication,
		Command: Command{Name: commandSecureStoreUpdated},
	})

	require.NoError(t, bus.drain(context.Background()))
	assert.Equal(t, 1, cred.calls)
	assert.Equal(t, 1, reg.allCalls)
}

func TestAllRunnableScopeFansOutToSendToAll(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	bus := New(client, "/app/messages", reg, &fakeInstanceChanger{}, &fakeCredentials{})

	writeMessage(t, client, "/app/messages/msg0", Message{Scope: ScopeAllRunnable, Command: Command{Name: "noop"}})
	require.NoError(t, bus.drain(context.Background()))
	assert.Equal(t, 1, reg.allCalls)
}

func TestRunnableScopeRoutesToSendToRunnable(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	bus := New(client, "/app/messages", reg, &fakeInstanceChanger{}, &fakeCredentials{})

	writeMessage(t, client, "/app/messages/msg0", Message{Scope: ScopeRunnable, RunnableName: "worker", Command: Command{Name: "noop"}})
	require.NoError(t, bus.drain(context.Background()))
	assert.Equal(t, []string{"worker"}, reg.runnableCalls)
}

func TestUnrecognizedMessageIsAckedWithoutSideEffect(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	bus := New(client, "/app/messages", reg, &fakeInstanceChanger{}, &fakeCredentials{})

	writeMessage(t, client, "/app/messages/msg0", Message{Scope: "BOGUS", Command: Command{Name: "bogus"}})
	require.NoError(t, bus.drain(context.Background()))
	assert.Zero(t, reg.allCalls)
	assert.Empty(t, reg.runnableCalls)
	_, err := client.GetData(context.Background(), "/app/messages/msg0")
	assert.ErrorIs(t, err, metastore.ErrNoNode)
}

func TestMessagesDispatchedInStoreSequenceOrder(t *testing.T) {
	client := newFakeClient()
	reg := &fakeRegistry{}
	bus := New(client, "/app/messages", reg, &fakeInstanceChanger{}, &fakeCredentials{})

	writeMessage(t, client, "/app/messages/msg1", Message{Scope: ScopeRunnable, RunnableName: "b", Command: Command{Name: "noop"}})
	writeMessage(t, client, "/app/messages/msg0", Message{Scope: ScopeRunnable, RunnableName: "a", Command: Command{Name: "noop"}})

	require.NoError(t, bus.drain(context.Background()))
	assert.Equal(t, []string{"a", "b"}, reg.runnableCalls)
}
