package eventhandler

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/warren/pkg/log"
)

const (
	// NameLogOnly is the zero-config default handler.
	NameLogOnly = "logonly"
	// NameKillAfter shuts the AM down after a configurable number of
	// consecutive timeout evaluations for the same runnable.
	NameKillAfter = "killafter"

	defaultRetryInterval = 30 * time.Second
)

// LogOnlyHandler logs every timeout and asks for another check after a
// fixed retry interval. It never recommends shutdown.
type LogOnlyHandler struct {
	retryInterval time.Duration
}

// NewLogOnlyHandler returns the default handler.
func NewLogOnlyHandler() *LogOnlyHandler {
	return &LogOnlyHandler{retryInterval: defaultRetryInterval}
}

func (h *LogOnlyHandler) Initialize(ctx context.Context, hctx Context) error {
	if v, ok := hctx.Config["retryIntervalSeconds"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("eventhandler: logonly: invalid retryIntervalSeconds %q: %w", v, err)
		}
		h.retryInterval = time.Duration(secs) * time.Second
	}
	return nil
}

func (h *LogOnlyHandler) LaunchTimeout(ctx context.Context, events []TimeoutEvent) (TimeoutAction, error) {
	for _, e := range events {
		log.Logger.Warn().
			Str("runnable", e.Runnable).
			Int("expected", e.Expected).
			Int("actual", e.Actual).
			Time("requestedAt", e.RequestedAt).
			Msg("provisioning timeout")
	}
	return TimeoutAction{Timeout: h.retryInterval}, nil
}

func (h *LogOnlyHandler) Destroy(ctx context.Context) error { return nil }

// KillAfterHandler tracks consecutive timeout evaluations per runnable and
// recommends shutdown once any runnable reaches the configured threshold.
type KillAfterHandler struct {
	maxConsecutive int
	retryInterval  time.Duration

	mu     sync.Mutex
	misses map[string]int
}

// NewKillAfterHandler returns a handler that kills after maxConsecutive
// consecutive misses for the same runnable.
func NewKillAfterHandler() *KillAfterHandler {
	return &KillAfterHandler{
		maxConsecutive: 3,
		retryInterval:  defaultRetryInterval,
		misses:         make(map[string]int),
	}
}

func (h *KillAfterHandler) Initialize(ctx context.Context, hctx Context) error {
	if v, ok := hctx.Config["maxConsecutive"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("eventhandler: killafter: invalid maxConsecutive %q: %w", v, err)
		}
		h.maxConsecutive = n
	}
	if v, ok := hctx.Config["retryIntervalSeconds"]; ok {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("eventhandler: killafter: invalid retryIntervalSeconds %q: %w", v, err)
		}
		h.retryInterval = time.Duration(secs) * time.Second
	}
	return nil
}

func (h *KillAfterHandler) LaunchTimeout(ctx context.Context, events []TimeoutEvent) (TimeoutAction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool, len(events))
	shouldKill := false
	for _, e := range events {
		seen[e.Runnable] = true
		h.misses[e.Runnable]++
		log.Logger.Warn().
			Str("runnable", e.Runnable).
			Int("consecutiveMisses", h.misses[e.Runnable]).
			Msg("provisioning timeout")
		if h.misses[e.Runnable] >= h.maxConsecutive {
			shouldKill = true
		}
	}
	for runnable := range h.misses {
		if !seen[runnable] {
			delete(h.misses, runnable)
		}
	}

	if shouldKill {
		return TimeoutAction{Timeout: -1}, nil
	}
	return TimeoutAction{Timeout: h.retryInterval}, nil
}

func (h *KillAfterHandler) Destroy(ctx context.Context) error { return nil }

// BuiltinLoader resolves the names registered in this package. It is the
// only Loader implementation: out-of-process plugin loading is not
// implemented (see DESIGN.md).
type BuiltinLoader struct{}

func (BuiltinLoader) Load(className string) (EventHandler, error) {
	switch className {
	case "", NameLogOnly:
		return NewLogOnlyHandler(), nil
	case NameKillAfter:
		return NewKillAfterHandler(), nil
	default:
		return nil, fmt.Errorf("eventhandler: no built-in handler named %q", className)
	}
}

var _ Loader = BuiltinLoader{}
var _ EventHandler = (*LogOnlyHandler)(nil)
var _ EventHandler = (*KillAfterHandler)(nil)
