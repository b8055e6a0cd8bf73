package eventhandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogOnlyHandlerReturnsPositiveTimeout(t *testing.T) {
	h := NewLogOnlyHandler()
	require.NoError(t, h.Initialize(context.Background(), Context{}))

	action, err := h.LaunchTimeout(context.Background(), []TimeoutEvent{
		{Runnable: "worker", Expected: 2, Actual: 0, RequestedAt: time.Now()},
	})
	require.NoError(t, err)
	assert.Greater(t, action.Timeout, time.Duration(0))
}

func TestLogOnlyHandlerHonorsConfiguredRetryInterval(t *testing.T) {
	h := NewLogOnlyHandler()
	require.NoError(t, h.Initialize(context.Background(), Context{Config: map[string]string{"retryIntervalSeconds": "5"}}))

	action, err := h.LaunchTimeout(context.Background(), []TimeoutEvent{{Runnable: "worker"}})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, action.Timeout)
}

func TestKillAfterHandlerKillsOnceThresholdReached(t *testing.T) {
	h := NewKillAfterHandler()
	require.NoError(t, h.Initialize(context.Background(), Context{Config: map[string]string{"maxConsecutive": "2"}}))

	event := []TimeoutEvent{{Runnable: "worker", Expected: 1, Actual: 0}}

	action, err := h.LaunchTimeout(context.Background(), event)
	require.NoError(t, err)
	assert.Positive(t, action.Timeout)

	action, err = h.LaunchTimeout(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-1), action.Timeout)
}

func TestKillAfterHandlerResetsMissStreakWhenRunnableRecovers(t *testing.T) {
	h := NewKillAfterHandler()
	require.NoError(t, h.Initialize(context.Background(), Context{Config: map[string]string{"maxConsecutive": "2"}}))

	worker := []TimeoutEvent{{Runnable: "worker"}}
	_, err := h.LaunchTimeout(context.Background(), worker)
	require.NoError(t, err)

	// worker recovers: next evaluation reports no events for it at all.
	_, err = h.LaunchTimeout(context.Background(), []TimeoutEvent{{Runnable: "other"}})
	require.NoError(t, err)

	action, err := h.LaunchTimeout(context.Background(), worker)
	require.NoError(t, err)
	assert.Positive(t, action.Timeout, "miss streak should have reset, not reached threshold")
}

func TestBuiltinLoaderResolvesByName(t *testing.T) {
	loader := BuiltinLoader{}

	h, err := loader.Load("")
	require.NoError(t, err)
	assert.IsType(t, &LogOnlyHandler{}, h)

	h, err = loader.Load(NameKillAfter)
	require.NoError(t, err)
	assert.IsType(t, &KillAfterHandler{}, h)

	_, err = loader.Load("does-not-exist")
	assert.Error(t, err)
}
