package rmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/spec"
)

type recordingHandler struct {
	acquired  []AcquiredContainer
	completed []CompletedContainer
}

func (h *recordingHandler) Acquired(containers []AcquiredContainer) {
	h.acquired = append(h.acquired, containers...)
}

func (h *recordingHandler) Completed(statuses []CompletedContainer) {
	h.completed = append(h.completed, statuses...)
}

func TestFakeClientAddAndCompleteContainerRequest(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()

	id, err := c.AddContainerRequest(ctx, spec.Capability{VCores: 1, MemoryMB: 512}, 3)
	require.NoError(t, err)
	assert.Len(t, c.OutstandingRequests(), 1)

	require.NoError(t, c.CompleteContainerRequest(ctx, id))
	assert.Empty(t, c.OutstandingRequests())
}

func TestFakeClientCompleteUnknownRequestErrors(t *testing.T) {
	c := NewFakeClient()
	err := c.CompleteContainerRequest(context.Background(), "does-not-exist")
	assert.Error(t, err)
}

func TestFakeClientAllocateDeliversQueuedResultsOnce(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()
	c.QueueAcquired(AcquiredContainer{ContainerId: "c1", Host: "h1"})
	c.QueueCompleted(CompletedContainer{ContainerId: "c0", ExitCode: 0})

	h := &recordingHandler{}
	require.NoError(t, c.Allocate(ctx, 0.5, h))
	assert.Len(t, h.acquired, 1)
	assert.Len(t, h.completed, 1)

	h2 := &recordingHandler{}
	require.NoError(t, c.Allocate(ctx, 0.5, h2))
	assert.Empty(t, h2.acquired)
	assert.Empty(t, h2.completed)
}

func TestFakeClientStartSetTrackerStop(t *testing.T) {
	ctx := context.Background()
	c := NewFakeClient()

	require.NoError(t, c.Start(ctx, "run-1", "host:1234"))
	require.NoError(t, c.SetTracker(ctx, "0.0.0.0:9090", "http://host:9090/"))
	assert.Equal(t, "http://host:9090/", c.TrackerURL())

	require.NoError(t, c.Stop(ctx, "SUCCEEDED"))
	stopped, status := c.Stopped()
	assert.True(t, stopped)
	assert.Equal(t, "SUCCEEDED", status)
}

var _ Client = (*FakeClient)(nil)
var _ Client = (*GRPCClient)(nil)
