// Package eventhandler implements the pluggable provisioning-timeout
// handler named in spec §9's Design Notes: initialize(context),
// launchTimeout(events) -> TimeoutAction, destroy().
package eventhandler

import (
	"context"
	"time"
)

// TimeoutEvent describes one runnable that has not reached its desired
// instance count by its requested deadline (spec §4.4 "Provisioning
// timeout").
type TimeoutEvent struct {
	Runnable    string
	Expected    int
	Actual      int
	RequestedAt time.Time
}

// TimeoutAction is the handler's verdict. A negative Timeout instructs the
// AM to begin a clean shutdown; otherwise Timeout is added to the next
// check deadline.
type TimeoutAction struct {
	Timeout time.Duration
}

// Context is the configuration payload handed to Initialize, mirroring the
// classname+config pair from the application spec's eventHandler field.
type Context struct {
	AppId  string
	Config map[string]string
}

// EventHandler is the contract every built-in and plugin handler
// implements.
type EventHandler interface {
	Initialize(ctx context.Context, hctx Context) error
	LaunchTimeout(ctx context.Context, events []TimeoutEvent) (TimeoutAction, error)
	Destroy(ctx context.Context) error
}

// Loader resolves a classname to an EventHandler instance. The spec names
// a handler intended to be loaded from the application's own artifacts;
// here only in-process lookup of built-ins is implemented, not an
// out-of-process plugin story (see DESIGN.md).
type Loader interface {
	Load(className string) (EventHandler, error)
}
