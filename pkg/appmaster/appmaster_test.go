package appmaster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/provisioning"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/spec"
)

func testApp() *spec.Application {
	return &spec.Application{
		Name: "demo",
		Runnables: map[string]spec.RuntimeSpec{
			"echo": {Resource: spec.Resource{VCores: 1, MemoryMB: 256, Instances: 2}},
		},
	}
}

// newTestAppMaster builds an AppMaster without going through New, so
// tests don't need a live containerd daemon or raft cluster.
func newTestAppMaster(t *testing.T) *AppMaster {
	app := testApp()
	expected := provisioning.NewExpectedCounts(app)
	expected.SetDesired("echo", 2)
	reg := registry.New("app-1", registry.RunningContainer{})

	return &AppMaster{
		cfg:      Config{AppRunID: "run-1"},
		app:      app,
		expected: expected,
		registry: reg,
		phase:    PhaseRunning,
		stop:     make(chan struct{}),
	}
}

func TestStatusReportsPhaseAndPerRunnableCounts(t *testing.T) {
	am := newTestAppMaster(t)

	status := am.Status()
	assert.Equal(t, PhaseRunning, status.Phase)
	assert.Equal(t, "run-1", status.AppRunID)
	assert.Equal(t, 2, status.Desired["echo"])
	assert.Equal(t, 0, status.Running["echo"])
}

func TestStatusJSONIncludesPhase(t *testing.T) {
	am := newTestAppMaster(t)
	data, err := am.StatusJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"phase":"running"`)
}

func TestStopIsIdempotent(t *testing.T) {
	am := newTestAppMaster(t)
	am.Stop()
	assert.NotPanics(t, func() { am.Stop() })

	select {
	case <-am.stop:
	default:
		t.Fatal("expected stop channel to be closed")
	}
}

func TestTrackerSourceDelegatesReportAndStatus(t *testing.T) {
	am := newTestAppMaster(t)
	src := trackerSource{Registry: am.registry, am: am}

	report := src.GetResourceReport()
	assert.Equal(t, "app-1", report.AppId)

	data, err := src.StatusJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"appRunId":"run-1"`)
}

func TestRegistryReplicatorWaitsForFanOutCompletion(t *testing.T) {
	reg := registry.New("app-1", registry.RunningContainer{})
	rep := &registryReplicator{registry: reg}

	// No running containers, so SendToAll's onComplete fires immediately.
	err := rep.Replicate(context.Background(), map[string][]byte{"token": []byte("v1")})
	require.NoError(t, err)
}
