package raftstore

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cuemby/warren/pkg/metastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	dir := t.TempDir()
	c, err := NewClient(Config{
		NodeID:   "am-0",
		BindAddr: freeAddr(t),
		DataDir:  dir,
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return c.raft.State().String() == "Leader"
	}, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// freeAddr grabs an OS-assigned loopback port and releases it immediately
// for Raft's TCP transport to rebind; racy only against other processes on
// the same host, which is acceptable for this reference store's own tests.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestCreateGetDelete(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/app1", []byte("state"), metastore.Persistent))
	data, err := c.GetData(ctx, "/app1")
	require.NoError(t, err)
	assert.Equal(t, []byte("state"), data)

	require.NoError(t, c.Delete(ctx, "/app1"))
	_, err = c.GetData(ctx, "/app1")
	assert.ErrorIs(t, err, metastore.ErrNoNode)
}

func TestCreateDuplicateFails(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "/app1", nil, metastore.Persistent))
	err := c.Create(ctx, "/app1", nil, metastore.Persistent)
	assert.ErrorIs(t, err, metastore.ErrNodeExists)
}

func TestGetChildren(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "/app1", nil, metastore.Persistent))
	require.NoError(t, c.Create(ctx, "/app1/runnables", nil, metastore.Persistent))
	require.NoError(t, c.Create(ctx, "/app1/runnables/echo", nil, metastore.Persistent))
	require.NoError(t, c.Create(ctx, "/app1/kafka", nil, metastore.Persistent))

	children, _, err := c.GetChildren(ctx, "/app1", false)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"runnables", "kafka"}, children)
}

func TestExpireSessionRemovesEphemerals(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Create(ctx, "/app1", nil, metastore.Persistent))
	require.NoError(t, c.Create(ctx, "/app1/live", []byte("alive"), metastore.Ephemeral))

	found, _, err := c.Exists(ctx, "/app1/live", false)
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, c.ExpireSession())

	found, _, err = c.Exists(ctx, "/app1/live", false)
	require.NoError(t, err)
	assert.False(t, found)

	// the persistent parent node survives session expiry.
	found, _, err = c.Exists(ctx, "/app1", false)
	require.NoError(t, err)
	assert.True(t, found)
}

// TestWatchSurvivesDisconnectReconnectCycle exercises the spec §4.1
// contract against this reference store: a watcher keeps receiving events
// during a simulated disconnection and is sent a re-arm event on
// reconnect.
func TestWatchSurvivesDisconnectReconnectCycle(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Create(ctx, "/app1", []byte("v1"), metastore.Persistent))

	_, watch, err := c.Exists(ctx, "/app1", true)
	require.NoError(t, err)

	c.SimulateDisconnect()
	// A change happens while "disconnected" — in this reference store
	// changes still apply and watchers are still notified in-band (there
	// is no real transport to sever).
	require.NoError(t, c.SetData(ctx, "/app1", []byte("v2")))

	select {
	case ev := <-watch:
		assert.Equal(t, metastore.EventNodeDataChanged, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected the in-band dataChanged event")
	}

	c.Reconnect()
	select {
	case ev := <-watch:
		assert.Equal(t, metastore.EventReArmed, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a re-arm event after reconnect")
	}
}
