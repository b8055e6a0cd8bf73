package provisioning

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/warren/pkg/eventhandler"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/obsmetrics"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/rmclient"
	"github.com/cuemby/warren/pkg/spec"
)

const defaultTimeoutCheckInterval = 30 * time.Second

// Loop is the ProvisioningLoop (spec §4.4): a single top-level control
// loop, ticked at roughly 1 Hz by the caller.
type Loop struct {
	app          *spec.Application
	rm           rmclient.Client
	registry     *registry.Registry
	launcher     registry.Launcher
	queue        *Queue
	expected     *ExpectedCounts
	eventHandler eventhandler.EventHandler

	batches      []*batch
	batchCursor  int
	currentBatch *batch

	nextTimeoutCheck time.Time
	defaultTimeout   time.Duration

	shutdownRequested bool
}

// New builds a ProvisioningLoop for app, wired to the given collaborators.
// defaultTimeout is the retry interval used when the event handler errors
// (spec §4.4 "On exception from the handler, log and retry at
// nextTimeoutCheck + defaultTimeout") and seeds the first check deadline.
func New(app *spec.Application, rm rmclient.Client, reg *registry.Registry, launcher registry.Launcher, queue *Queue, expected *ExpectedCounts, handler eventhandler.EventHandler, defaultTimeout time.Duration) *Loop {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultTimeoutCheckInterval
	}
	return &Loop{
		app:              app,
		rm:               rm,
		registry:         reg,
		launcher:         launcher,
		queue:            queue,
		expected:         expected,
		eventHandler:     handler,
		batches:          buildBatches(app),
		defaultTimeout:   defaultTimeout,
		nextTimeoutCheck: time.Now().Add(defaultTimeout),
	}
}

// ShutdownRequested reports whether the event handler (or a provisioning
// timeout with a negative action) has asked the AM to shut down.
func (l *Loop) ShutdownRequested() bool {
	return l.shutdownRequested
}

// Done reports the loop's exit condition (spec §4.4 step 2): nothing
// outstanding, nothing pending, nothing running.
func (l *Loop) Done() bool {
	return l.queue.Len() == 0 && !l.hasPendingBatch() && l.registry.CountAll() == 0
}

func (l *Loop) hasPendingBatch() bool {
	if l.currentBatch != nil && !l.currentBatch.exhausted() {
		return true
	}
	return l.batchCursor < len(l.batches)
}

// Tick runs one iteration of the loop: allocate, check exit, pull/expand
// the next batch, check provisioning timeouts.
func (l *Loop) Tick(ctx context.Context) error {
	obsmetrics.ProvisioningLoopIterations.Inc()

	handler := &allocationHandler{loop: l}
	if err := l.rm.Allocate(ctx, 0.0, handler); err != nil {
		return fmt.Errorf("provisioning: allocate: %w", err)
	}
	obsmetrics.AllocateCycles.Inc()

	if l.queue.Len() == 0 {
		if l.currentBatch == nil || l.currentBatch.exhausted() {
			l.advanceBatch()
		}
		if l.currentBatch != nil {
			if group, ok := l.currentBatch.next(); ok {
				if err := l.expandGroup(ctx, group); err != nil {
					return err
				}
			}
		}
	}

	if time.Now().After(l.nextTimeoutCheck) || time.Now().Equal(l.nextTimeoutCheck) {
		l.checkProvisioningTimeouts(ctx)
	}

	return nil
}

// advanceBatch pulls the next non-empty batch from the ordered list,
// dropping any batch whose groups are all empty (spec §4.4 step 3: "If
// the batch yields no further resource-group iterations, drop it and move
// on").
func (l *Loop) advanceBatch() {
	for l.batchCursor < len(l.batches) {
		b := l.batches[l.batchCursor]
		l.batchCursor++
		if !b.exhausted() {
			l.currentBatch = b
			return
		}
	}
	l.currentBatch = nil
}

// expandGroup computes newContainers for each runnable in the group and
// submits an addContainerRequest + queue entry for each that needs more
// (spec §4.4 step 4).
func (l *Loop) expandGroup(ctx context.Context, group capabilityGroup) error {
	for _, runnable := range group.runnables {
		desired := l.expected.Desired(runnable)
		running := l.registry.Count(runnable)
		newContainers := desired - running
		if newContainers <= 0 {
			continue
		}

		requestId, err := l.rm.AddContainerRequest(ctx, group.capability, newContainers)
		if err != nil {
			return fmt.Errorf("provisioning: addContainerRequest(%s): %w", runnable, err)
		}
		obsmetrics.ContainerRequestsOutstanding.WithLabelValues(runnable).Add(float64(newContainers))

		l.queue.Push(&ProvisionRequest{
			Runnable:    runnable,
			RuntimeSpec: l.app.Runnables[runnable],
			RequestId:   requestId,
			Remaining:   newContainers,
		})
		l.expected.BumpRequestedAt(runnable)
	}
	return nil
}

// allocationHandler adapts Loop to rmclient.AllocationHandler.
type allocationHandler struct {
	loop *Loop
}

func (h *allocationHandler) Acquired(containers []rmclient.AcquiredContainer) {
	for _, c := range containers {
		h.loop.handleAcquired(context.Background(), c)
	}
}

func (h *allocationHandler) Completed(statuses []rmclient.CompletedContainer) {
	if len(statuses) == 0 {
		return
	}
	h.loop.handleCompletions(context.Background(), statuses)
}

// handleAcquired matches an acquired container against the head of the
// provisioning queue, launches it, and registers it (spec §4.4
// "Acquisition handling").
func (l *Loop) handleAcquired(ctx context.Context, c rmclient.AcquiredContainer) {
	req := l.queue.Peek()
	if req == nil {
		log.WithComponent("provisioning").Warn().Msg(fmt.Sprintf("dropping speculative container %s: no pending request", c.ContainerId))
		return
	}

	info := registry.ContainerInfo{
		ContainerID: c.ContainerId,
		Host:        c.Host,
		VCores:      c.Capability.VCores,
		MemoryMB:    c.Capability.MemoryMB,
	}

	if _, err := l.registry.Start(ctx, req.Runnable, info, l.launcher); err != nil {
		log.WithComponent("provisioning").Warn().Msg(fmt.Sprintf("launch %s on container %s: %v", req.Runnable, c.ContainerId, err))
		l.handleCompletions(ctx, []rmclient.CompletedContainer{{ContainerId: c.ContainerId, ExitCode: -1, Diagnostics: err.Error()}})
		return
	}

	req.Remaining--
	obsmetrics.ContainersAcquired.Inc()
	obsmetrics.ContainerRequestsOutstanding.WithLabelValues(req.Runnable).Dec()

	if req.Remaining <= 0 {
		l.queue.Pop()
		if err := l.rm.CompleteContainerRequest(ctx, req.RequestId); err != nil {
			log.WithComponent("provisioning").Warn().Msg(fmt.Sprintf("completeContainerRequest(%s): %v", req.RequestId, err))
		}
	}
}

// handleCompletions feeds each completion to the registry, collects the
// runnables flagged for restart, and enqueues one fresh request per
// flagged runnable (spec §4.4 "Completion handling").
func (l *Loop) handleCompletions(ctx context.Context, statuses []rmclient.CompletedContainer) {
	restartSet := make(map[string]bool)
	for _, s := range statuses {
		l.registry.HandleCompleted(registry.CompletionStatus{
			ContainerID: s.ContainerId,
			ExitCode:    s.ExitCode,
			Abnormal:    s.ExitCode != 0,
			Reason:      s.Diagnostics,
		}, restartSet)
	}

	for runnable := range restartSet {
		rt, ok := l.app.Runnables[runnable]
		if !ok {
			continue
		}
		requestId, err := l.rm.AddContainerRequest(ctx, rt.Resource.Of(), 1)
		if err != nil {
			log.WithComponent("provisioning").Warn().Msg(fmt.Sprintf("addContainerRequest(restart %s): %v", runnable, err))
		}
		l.queue.Push(&ProvisionRequest{
			Runnable:    runnable,
			RuntimeSpec: rt,
			RequestId:   requestId,
			Remaining:   1,
		})
		l.expected.BumpRequestedAt(runnable)
	}
}

// checkProvisioningTimeouts evaluates every under-provisioned runnable and
// invokes the event handler (spec §4.4 "Provisioning timeout").
func (l *Loop) checkProvisioningTimeouts(ctx context.Context) {
	var events []eventhandler.TimeoutEvent
	for _, runnable := range l.expected.Runnables() {
		desired := l.expected.Desired(runnable)
		running := l.registry.Count(runnable)
		if running != desired {
			events = append(events, eventhandler.TimeoutEvent{
				Runnable:    runnable,
				Expected:    desired,
				Actual:      running,
				RequestedAt: l.expected.RequestedAt(runnable),
			})
		}
	}

	if len(events) == 0 {
		l.nextTimeoutCheck = time.Now().Add(l.defaultTimeout)
		return
	}

	for _, e := range events {
		obsmetrics.ProvisioningTimeouts.WithLabelValues(e.Runnable).Inc()
	}

	action, err := l.eventHandler.LaunchTimeout(ctx, events)
	if err != nil {
		log.WithComponent("provisioning").Warn().Msg(fmt.Sprintf("event handler launchTimeout: %v", err))
		l.nextTimeoutCheck = l.nextTimeoutCheck.Add(l.defaultTimeout)
		return
	}

	if action.Timeout < 0 {
		l.shutdownRequested = true
		return
	}
	l.nextTimeoutCheck = l.nextTimeoutCheck.Add(action.Timeout)
}
