package instancechange

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/messagebus"
	"github.com/cuemby/warren/pkg/provisioning"
	"github.com/cuemby/warren/pkg/spec"
)

type fakeRegistry struct {
	mu            sync.Mutex
	count         int
	removeLastN   int
	sentRunnables []string
}

func (r *fakeRegistry) WaitForCount(runnable string, count int) {
	// test registries are pre-set to the expected count before the
	// request is issued, so this never actually blocks.
}

func (r *fakeRegistry) Count(runnable string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *fakeRegistry) RemoveLast(ctx context.Context, runnable string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLastN++
	r.count--
	return nil
}

func (r *fakeRegistry) SendToRunnable(ctx context.Context, runnable string, payload []byte, onComplete func()) {
	r.mu.Lock()
	r.sentRunnables = append(r.sentRunnables, runnable)
	r.mu.Unlock()
	if onComplete != nil {
		onComplete()
	}
}

type fakeRequester struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeRequester) AddContainerRequest(ctx context.Context, capability spec.Capability, count int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return "req-0", nil
}

func testApp() *spec.Application {
	return &spec.Application{
		Runnables: map[string]spec.RuntimeSpec{
			"echo": {Resource: spec.Resource{VCores: 1, MemoryMB: 512, Instances: 2}},
		},
	}
}

func waitForComplete(t *testing.T) (func(), <-chan struct{}) {
	done := make(chan struct{})
	return func() { close(done) }, done
}

func TestScaleDownRemovesExactDelta(t *testing.T) {
	app := testApp()
	reg := &fakeRegistry{count: 3}
	expected := provisioning.NewExpectedCounts(app)
	expected.SetDesired("echo", 3)
	queue := provisioning.NewQueue()
	w := New(app, reg, queue, expected, &fakeRequester{})
	defer w.Stop()

	onComplete, done := waitForComplete(t)
	w.RequestChange("echo", 1, messagebus.Message{}, onComplete)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onComplete")
	}

	assert.Equal(t, 2, reg.removeLastN)
	assert.Equal(t, 1, expected.Desired("echo"), "desired should be the requested newCount")
	assert.Equal(t, []string{"echo"}, reg.sentRunnables)
}

func TestScaleUpEnqueuesDeltaRequest(t *testing.T) {
	app := testApp()
	reg := &fakeRegistry{count: 2}
	expected := provisioning.NewExpectedCounts(app)
	expected.SetDesired("echo", 2)
	queue := provisioning.NewQueue()
	w := New(app, reg, queue, expected, &fakeRequester{})
	defer w.Stop()

	onComplete, done := waitForComplete(t)
	w.RequestChange("echo", 5, messagebus.Message{}, onComplete)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for onComplete")
	}

	require.Equal(t, 1, queue.Len())
	head := queue.Peek()
	assert.Equal(t, 3, head.Remaining)
	assert.Equal(t, 5, expected.Desired("echo"))
}

func TestStopDiscardsPendingRequestsAndCompletesCallback(t *testing.T) {
	app := testApp()
	reg := &fakeRegistry{count: 2}
	expected := provisioning.NewExpectedCounts(app)
	queue := provisioning.NewQueue()
	w := New(app, reg, queue, expected, &fakeRequester{})
	w.Stop()

	onComplete, done := waitForComplete(t)
	w.RequestChange("echo", 4, messagebus.Message{}, onComplete)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("onComplete should still fire after Stop")
	}
}
