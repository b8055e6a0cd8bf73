// Package provisioning implements the 1 Hz ProvisioningLoop (spec §4.4):
// it drives container requests against the resource manager, dispatches
// acquisitions and completions into the registry, enforces order-group
// sequencing, and invokes the event handler on timeout.
package provisioning

import (
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/spec"
)

// ProvisionRequest tracks one outstanding addContainerRequest batch until
// every requested container has been matched (spec §4.4).
type ProvisionRequest struct {
	Runnable    string
	RuntimeSpec spec.RuntimeSpec
	RequestId   string
	Remaining   int
}

// Queue is the thread-safe FIFO of ProvisionRequests, written by both the
// main provisioning loop and InstanceChangeWorker (spec §5 "the provisioning
// queue is touched only by the main thread and by InstanceChangeWorker.run").
type Queue struct {
	mu    sync.Mutex
	items []*ProvisionRequest
}

// NewQueue returns an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends req to the tail.
func (q *Queue) Push(req *ProvisionRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, req)
}

// Peek returns the head without removing it, or nil if empty.
func (q *Queue) Peek() *ProvisionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Pop removes and returns the head, or nil if empty.
func (q *Queue) Pop() *ProvisionRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Len reports the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// ExpectedCounts is the thread-safe per-runnable {desired, requestedAt}
// table (spec §3 "ExpectedCount"), shared by reference between the
// ProvisioningLoop and InstanceChangeWorker.
type ExpectedCounts struct {
	mu     sync.Mutex
	counts map[string]*expectedCount
}

type expectedCount struct {
	desired     int
	requestedAt time.Time
}

// NewExpectedCounts builds the table from an application spec, seeding
// every runnable's desired count from its declared instance count.
func NewExpectedCounts(app *spec.Application) *ExpectedCounts {
	ec := &ExpectedCounts{counts: make(map[string]*expectedCount)}
	now := time.Now()
	for name, rt := range app.Runnables {
		ec.counts[name] = &expectedCount{desired: rt.Resource.Instances, requestedAt: now}
	}
	return ec
}

// Desired returns the current desired count for runnable.
func (ec *ExpectedCounts) Desired(runnable string) int {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if c, ok := ec.counts[runnable]; ok {
		return c.desired
	}
	return 0
}

// RequestedAt returns the last bump time for runnable.
func (ec *ExpectedCounts) RequestedAt(runnable string) time.Time {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if c, ok := ec.counts[runnable]; ok {
		return c.requestedAt
	}
	return time.Time{}
}

// SetDesired atomically sets the desired count and bumps requestedAt
// (spec §4.6 step 2).
func (ec *ExpectedCounts) SetDesired(runnable string, desired int) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	c, ok := ec.counts[runnable]
	if !ok {
		c = &expectedCount{}
		ec.counts[runnable] = c
	}
	c.desired = desired
	c.requestedAt = time.Now()
}

// BumpRequestedAt resets runnable's timeout window without changing its
// desired count (spec §4.4 completion handling: "Update that runnable's
// requestedAt").
func (ec *ExpectedCounts) BumpRequestedAt(runnable string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if c, ok := ec.counts[runnable]; ok {
		c.requestedAt = time.Now()
	}
}

// Runnables returns the set of runnable names tracked.
func (ec *ExpectedCounts) Runnables() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	names := make([]string, 0, len(ec.counts))
	for name := range ec.counts {
		names = append(names, name)
	}
	return names
}
