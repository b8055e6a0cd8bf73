package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cuemby/warren/pkg/runid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	runID   runid.RunId
	stopped bool
}

func (f *fakeController) RunId() runid.RunId                 { return f.runID }
func (f *fakeController) Send(ctx context.Context, p []byte) error { return nil }
func (f *fakeController) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}
func (f *fakeController) Completed(status CompletionStatus) {}

type fakeLauncher struct {
	mu      sync.Mutex
	n       int
}

func (l *fakeLauncher) Launch(ctx context.Context, runnable string, info ContainerInfo, runID runid.RunId) (Controller, error) {
	l.mu.Lock()
	l.n++
	l.mu.Unlock()
	return &fakeController{runID: runID}, nil
}

func newTestRegistry() *Registry {
	return New("app-1", RunningContainer{})
}

func TestStartAssignsLowestFreeInstanceID(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	rc0, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	assert.Equal(t, 0, rc0.InstanceID)

	rc1, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c1"}, l)
	require.NoError(t, err)
	assert.Equal(t, 1, rc1.InstanceID)

	assert.Equal(t, 2, r.Count("echo"))
}

func TestRemoveLastThenStartReusesSlotAtOrBelow(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: fmt.Sprintf("c%d", i)}, l)
		require.NoError(t, err)
	}

	require.NoError(t, r.RemoveLast(ctx, "echo")) // removes instance 2
	rc, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c-new"}, l)
	require.NoError(t, err)
	assert.LessOrEqual(t, rc.InstanceID, 2)
}

func TestSameBaseWhileInstancesLive(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	rc0, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	rc1, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c1"}, l)
	require.NoError(t, err)

	assert.Equal(t, rc0.RunId.Base(), rc1.RunId.Base())
}

func TestBaseRotatesWhenRunnableEmptied(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	rc0, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	require.NoError(t, r.RemoveLast(ctx, "echo"))

	rc1, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c1"}, l)
	require.NoError(t, err)

	assert.NotEqual(t, rc0.RunId.Base(), rc1.RunId.Base())
}

func TestResourceReportNeverListsUnknownContainer(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	_, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	_, err = r.Start(ctx, "web", ContainerInfo{ContainerID: "c1"}, l)
	require.NoError(t, err)

	report := r.GetResourceReport()
	known := make(map[string]bool)
	for _, id := range r.GetContainerIds() {
		known[id] = true
	}
	for _, list := range report.PerRunnable {
		for _, rc := range list {
			assert.True(t, known[rc.ContainerID])
		}
	}
}

func TestHandleCompletedNoopsWhenAlreadyRemoved(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	_, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	require.NoError(t, r.RemoveLast(ctx, "echo"))

	restart := map[string]bool{}
	// container c0 was already removed via RemoveLast; this must not panic
	// or mark it for restart.
	r.HandleCompleted(CompletionStatus{ContainerID: "c0", Abnormal: true}, restart)
	assert.Empty(t, restart)
}

func TestHandleCompletedAbnormalAddsToRestartSet(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	_, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)

	restart := map[string]bool{}
	r.HandleCompleted(CompletionStatus{ContainerID: "c0", Abnormal: true}, restart)
	assert.True(t, restart["echo"])
	assert.Equal(t, 0, r.Count("echo"))
}

func TestStopAllReverseStartSequence(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	_, err := r.Start(ctx, "a", ContainerInfo{ContainerID: "a0"}, l)
	require.NoError(t, err)
	_, err = r.Start(ctx, "b", ContainerInfo{ContainerID: "b0"}, l)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, r.StartSequence())

	r.StopAll(ctx)
	assert.True(t, r.IsEmpty())
}

func TestWaitForCountUnblocksOnSignal(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		r.WaitForCount("echo", 2)
		close(done)
	}()

	_, err := r.Start(ctx, "echo", ContainerInfo{ContainerID: "c0"}, l)
	require.NoError(t, err)
	_, err = r.Start(ctx, "echo", ContainerInfo{ContainerID: "c1"}, l)
	require.NoError(t, err)

	<-done
}

func TestSendToRunnableInvokesOnCompleteWhenEmpty(t *testing.T) {
	r := newTestRegistry()
	called := make(chan struct{})
	r.SendToRunnable(context.Background(), "nobody", []byte("hi"), func() { close(called) })
	<-called
}

// TestRegistryInvariantSequence drives a random sequence of start /
// removeLast / handleCompleted operations and checks, after every step,
// that count(r) matches the test's own record of live instances (spec §8).
func TestRegistryInvariantSequence(t *testing.T) {
	r := newTestRegistry()
	l := &fakeLauncher{}
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	runnable := "echo"
	live := map[int]string{} // instanceID -> containerID, mirrors expectations
	nextContainer := 0

	for step := 0; step < 200; step++ {
		switch rng.Intn(3) {
		case 0: // start
			cid := fmt.Sprintf("c%d", nextContainer)
			nextContainer++
			rc, err := r.Start(ctx, runnable, ContainerInfo{ContainerID: cid}, l)
			require.NoError(t, err)
			live[rc.InstanceID] = cid
		case 1: // removeLast
			if r.Count(runnable) == 0 {
				continue
			}
			highestBefore := highestKey(live)
			err := r.RemoveLast(ctx, runnable)
			require.NoError(t, err)
			delete(live, highestBefore)
		case 2: // handleCompleted on an arbitrary live container
			if len(live) == 0 {
				continue
			}
			var cid string
			for _, v := range live {
				cid = v
				break
			}
			restart := map[string]bool{}
			r.HandleCompleted(CompletionStatus{ContainerID: cid}, restart)
			for id, v := range live {
				if v == cid {
					delete(live, id)
					break
				}
			}
		}

		assert.Equal(t, len(live), r.Count(runnable), "step %d", step)
	}
}

// TestResourceReportJSONRoundTrip checks the spec §8 property:
// ResourceReport -> JSON -> ResourceReport is identity (modulo the
// deliberately dropped RunId field, which spec §6's wire shape doesn't
// carry).
func TestResourceReportJSONRoundTrip(t *testing.T) {
	original := ResourceReport{
		AppId: "app-1",
		AppMasterResources: RunningContainer{
			InstanceID: 0, ContainerID: "am0", Host: "h0", VCores: 1, MemoryMB: 512,
		},
		PerRunnable: map[string][]RunningContainer{
			"echo": {
				{RunnableName: "echo", InstanceID: 0, ContainerID: "c0", Host: "h1", VCores: 1, MemoryMB: 1024},
				{RunnableName: "echo", InstanceID: 1, ContainerID: "c1", Host: "h2", VCores: 1, MemoryMB: 1024},
			},
		},
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded ResourceReport
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, original, decoded)
}

func highestKey(m map[int]string) int {
	highest := -1
	for k := range m {
		if k > highest {
			highest = k
		}
	}
	return highest
}
