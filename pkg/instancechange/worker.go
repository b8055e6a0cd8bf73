// Package instancechange implements InstanceChangeWorker (spec §4.6): a
// single-threaded serial executor that reconciles a runnable's desired
// instance count against its running containers.
package instancechange

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/messagebus"
	"github.com/cuemby/warren/pkg/obsmetrics"
	"github.com/cuemby/warren/pkg/provisioning"
	"github.com/cuemby/warren/pkg/spec"
)

// ResourceRequester is the subset of rmclient.Client a scale-up needs to
// actually place the request with the resource manager, matching the
// provisioning loop's own addContainerRequest call (spec §4.4 step 4) so a
// scale-up isn't just appended to the queue with nothing behind it.
type ResourceRequester interface {
	AddContainerRequest(ctx context.Context, capability spec.Capability, count int) (requestId string, err error)
}

// Registry is the subset of ContainerRegistry a change request needs.
type Registry interface {
	WaitForCount(runnable string, count int)
	Count(runnable string) int
	RemoveLast(ctx context.Context, runnable string) error
	SendToRunnable(ctx context.Context, runnable string, payload []byte, onComplete func())
}

type request struct {
	runnable   string
	newCount   int
	original   messagebus.Message
	onComplete func()
}

// Worker serializes every instance-count change through a single
// goroutine reading from a bounded channel (spec §5: "a dedicated
// instance-change thread serializes all instance-count reconciliations").
type Worker struct {
	app      *spec.Application
	registry Registry
	queue    *provisioning.Queue
	expected *provisioning.ExpectedCounts
	rm       ResourceRequester

	requests chan request
	done     chan struct{}

	mu      sync.Mutex
	stopped bool
}

// New builds a Worker and starts its processing goroutine.
func New(app *spec.Application, registry Registry, queue *provisioning.Queue, expected *provisioning.ExpectedCounts, rm ResourceRequester) *Worker {
	w := &Worker{
		app:      app,
		registry: registry,
		queue:    queue,
		expected: expected,
		rm:       rm,
		requests: make(chan request, 64),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// RequestChange implements messagebus.InstanceChanger. Submission is
// serialized against Stop via mu so the two never race over whether a
// request lands in the channel or is completed inline: once Stop has
// marked the worker stopped, every subsequent RequestChange completes its
// callback directly instead of being selected against a closed done
// channel (which Go would otherwise pick at random relative to a still-open
// buffered send).
func (w *Worker) RequestChange(runnable string, newCount int, original messagebus.Message, onComplete func()) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		if onComplete != nil {
			onComplete()
		}
		return
	}
	w.requests <- request{runnable: runnable, newCount: newCount, original: original, onComplete: onComplete}
	w.mu.Unlock()
}

// Stop discards any further pending requests and stops accepting new ones
// (spec §5: "InstanceChangeWorker tasks respond to interruption by
// discarding their pending work and completing their callbacks"). Every
// request already buffered in the channel at the time of the call still
// gets its onComplete invoked, via run's drain on exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.done)
	w.mu.Unlock()
}

func (w *Worker) run() {
	ctx := context.Background()
	for {
		select {
		case <-w.done:
			w.drainPending()
			return
		case req := <-w.requests:
			w.process(ctx, req)
		}
	}
}

// drainPending completes the callback of every request that was buffered
// in the channel before Stop closed done, without running its
// reconciliation (spec §5: "discarding their pending work").
func (w *Worker) drainPending() {
	for {
		select {
		case req := <-w.requests:
			if req.onComplete != nil {
				req.onComplete()
			}
		default:
			return
		}
	}
}

func (w *Worker) process(ctx context.Context, req request) {
	oldCount := w.expected.Desired(req.runnable)

	// Step 1: block until running count matches the expected old count, so
	// we don't race with in-flight container starts.
	w.registry.WaitForCount(req.runnable, oldCount)

	// Step 2: atomically set desired and bump requestedAt.
	w.expected.SetDesired(req.runnable, req.newCount)

	switch {
	case req.newCount < oldCount:
		for i := 0; i < oldCount-req.newCount; i++ {
			if err := w.registry.RemoveLast(ctx, req.runnable); err != nil {
				log.WithComponent("instancechange").Warn().Msg(fmt.Sprintf("removeLast(%s): %v", req.runnable, err))
			}
		}
	case req.newCount > oldCount:
		rt, ok := w.app.Runnables[req.runnable]
		if ok {
			count := req.newCount - oldCount
			requestId, err := w.rm.AddContainerRequest(ctx, rt.Resource.Of(), count)
			if err != nil {
				log.WithComponent("instancechange").Warn().Msg(fmt.Sprintf("addContainerRequest(%s): %v", req.runnable, err))
			}
			w.queue.Push(&provisioning.ProvisionRequest{
				Runnable:    req.runnable,
				RuntimeSpec: rt,
				RequestId:   requestId,
				Remaining:   count,
			})
		}
	}

	obsmetrics.InstanceChangesProcessed.WithLabelValues(req.runnable).Inc()

	// Step 5: broadcast the original message to every current instance,
	// then run onComplete.
	payload := marshalOriginal(req.original)
	w.registry.SendToRunnable(ctx, req.runnable, payload, req.onComplete)
}

func marshalOriginal(msg messagebus.Message) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		log.WithComponent("instancechange").Warn().Msg(fmt.Sprintf("marshal original message: %v", err))
		return nil
	}
	return data
}
