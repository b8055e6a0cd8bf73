package rmclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/warren/pkg/spec"
)

// FakeClient is an in-memory Client used by provisioning-loop tests. It
// lets a test synchronously queue acquisitions/completions to be returned
// on the next Allocate call, and records every request made against it.
type FakeClient struct {
	mu sync.Mutex

	started  bool
	appRunId string
	amHost   string

	nextRequestId int
	requests      map[string]requestRecord

	pendingAcquired  []AcquiredContainer
	pendingCompleted []CompletedContainer

	trackerURL string
	stopped    bool
	finalStatus string
}

type requestRecord struct {
	Capability spec.Capability
	Count      int
	Completed  bool
}

// NewFakeClient returns a ready-to-use fake.
func NewFakeClient() *FakeClient {
	return &FakeClient{requests: make(map[string]requestRecord)}
}

func (f *FakeClient) Start(ctx context.Context, appRunId, amHost string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	f.appRunId = appRunId
	f.amHost = amHost
	return nil
}

func (f *FakeClient) AddContainerRequest(ctx context.Context, capability spec.Capability, count int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextRequestId++
	id := fmt.Sprintf("req-%d", f.nextRequestId)
	f.requests[id] = requestRecord{Capability: capability, Count: count}
	return id, nil
}

func (f *FakeClient) CompleteContainerRequest(ctx context.Context, requestId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.requests[requestId]
	if !ok {
		return fmt.Errorf("rmclient: unknown request id %q", requestId)
	}
	rec.Completed = true
	f.requests[requestId] = rec
	return nil
}

// Allocate returns whatever has been queued via QueueAcquired/QueueCompleted
// since the last call, then clears the queue, mirroring one poll cycle.
func (f *FakeClient) Allocate(ctx context.Context, progress float32, handler AllocationHandler) error {
	f.mu.Lock()
	acquired := f.pendingAcquired
	completed := f.pendingCompleted
	f.pendingAcquired = nil
	f.pendingCompleted = nil
	f.mu.Unlock()

	if len(acquired) > 0 {
		handler.Acquired(acquired)
	}
	if len(completed) > 0 {
		handler.Completed(completed)
	}
	return nil
}

func (f *FakeClient) SetTracker(ctx context.Context, bindAddress, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackerURL = url
	return nil
}

func (f *FakeClient) Stop(ctx context.Context, finalStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	f.finalStatus = finalStatus
	return nil
}

// QueueAcquired arranges for containers to be delivered on the next
// Allocate call.
func (f *FakeClient) QueueAcquired(containers ...AcquiredContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingAcquired = append(f.pendingAcquired, containers...)
}

// QueueCompleted arranges for completion statuses to be delivered on the
// next Allocate call.
func (f *FakeClient) QueueCompleted(statuses ...CompletedContainer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pendingCompleted = append(f.pendingCompleted, statuses...)
}

// OutstandingRequests returns the not-yet-completed requests, keyed by id.
func (f *FakeClient) OutstandingRequests() map[string]spec.Capability {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]spec.Capability)
	for id, rec := range f.requests {
		if !rec.Completed {
			out[id] = rec.Capability
		}
	}
	return out
}

// Stopped reports whether Stop was called, and with what status.
func (f *FakeClient) Stopped() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped, f.finalStatus
}

// TrackerURL returns the last URL passed to SetTracker.
func (f *FakeClient) TrackerURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trackerURL
}
