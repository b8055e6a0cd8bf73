// Package rmclient implements ResourceManagerClient (spec §4.2): the
// wrapper around the cluster-side allocation protocol the provisioning
// loop drives at roughly 1 Hz.
package rmclient

import (
	"context"

	"github.com/cuemby/warren/pkg/spec"
)

// AcquiredContainer is a container matched against an outstanding
// request.
type AcquiredContainer struct {
	ContainerId string
	Host        string
	Capability  spec.Capability
}

// CompletedContainer reports a container's exit.
type CompletedContainer struct {
	ContainerId string
	ExitCode    int
	Diagnostics string
}

// AllocationHandler receives the outcome of one allocate() poll,
// synchronously, per spec §4.2.
type AllocationHandler interface {
	Acquired(containers []AcquiredContainer)
	Completed(statuses []CompletedContainer)
}

// Client is the ResourceManagerClient contract.
type Client interface {
	// Start registers the AM and acquires attempt tokens.
	Start(ctx context.Context, appRunId, amHost string) error
	// AddContainerRequest enqueues a request for count containers of
	// capability, returning an opaque id to later pass to
	// CompleteContainerRequest.
	AddContainerRequest(ctx context.Context, capability spec.Capability, count int) (requestId string, err error)
	// Allocate runs one poll cycle, invoking handler synchronously with
	// that cycle's acquisitions and completions.
	Allocate(ctx context.Context, progress float32, handler AllocationHandler) error
	// CompleteContainerRequest retires a fully-matched request.
	CompleteContainerRequest(ctx context.Context, requestId string) error
	// SetTracker registers the AM's TrackerService URL.
	SetTracker(ctx context.Context, bindAddress, url string) error
	// Stop deregisters the AM.
	Stop(ctx context.Context, finalStatus string) error
}
