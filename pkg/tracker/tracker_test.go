package tracker

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/warren/pkg/registry"
)

type fakeSource struct {
	report registry.ResourceReport
}

func (f *fakeSource) GetResourceReport() registry.ResourceReport {
	return f.report
}

func TestReportEndpointServesJSONResourceReport(t *testing.T) {
	source := &fakeSource{report: registry.ResourceReport{
		AppId: "app-1",
		PerRunnable: map[string][]registry.RunningContainer{
			"echo": {{RunnableName: "echo", InstanceID: 0, ContainerID: "c1"}},
		},
	}}

	svc, err := Start("127.0.0.1", source)
	require.NoError(t, err)
	defer svc.Stop(time.Second)

	resp, err := http.Get("http://" + svc.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report registry.ResourceReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, "app-1", report.AppId)
	assert.Len(t, report.PerRunnable["echo"], 1)
}

// TestReportEndpointWireShapeMatchesSpec decodes the raw HTTP response
// into an untyped map so a wrong json tag on RunningContainer (which a
// round-trip through the same Go struct would never catch) actually
// fails the test (spec §6's literal tracker wire shape).
func TestReportEndpointWireShapeMatchesSpec(t *testing.T) {
	source := &fakeSource{report: registry.ResourceReport{
		AppId: "app-1",
		AppMasterResources: registry.RunningContainer{
			InstanceID: 0, ContainerID: "am-container", Host: "am-host", VCores: 1, MemoryMB: 512,
		},
		PerRunnable: map[string][]registry.RunningContainer{
			"echo": {{RunnableName: "echo", InstanceID: 2, ContainerID: "c1", Host: "h1", VCores: 1, MemoryMB: 1024}},
		},
	}}

	svc, err := Start("127.0.0.1", source)
	require.NoError(t, err)
	defer svc.Stop(time.Second)

	resp, err := http.Get("http://" + svc.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))

	require.Contains(t, raw, "appId")
	require.Contains(t, raw, "appMasterResources")
	require.Contains(t, raw, "resources")

	am, ok := raw["appMasterResources"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"vcores", "memoryMB", "host", "containerId", "instanceId"} {
		assert.Contains(t, am, key, "appMasterResources missing wire key %q", key)
	}
	assert.NotContains(t, am, "RunId")
	assert.NotContains(t, am, "runId")

	resources, ok := raw["resources"].(map[string]any)
	require.True(t, ok)
	echoList, ok := resources["echo"].([]any)
	require.True(t, ok)
	require.Len(t, echoList, 1)
	echo, ok := echoList[0].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"runnableName", "vcores", "memoryMB", "host", "containerId", "instanceId"} {
		assert.Contains(t, echo, key, "runnable entry missing wire key %q", key)
	}
}

func TestHealthzEndpoint(t *testing.T) {
	svc, err := Start("127.0.0.1", &fakeSource{})
	require.NoError(t, err)
	defer svc.Stop(time.Second)

	resp, err := http.Get("http://" + svc.Addr() + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	svc, err := Start("127.0.0.1", &fakeSource{})
	require.NoError(t, err)
	defer svc.Stop(time.Second)

	resp, err := http.Get("http://" + svc.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestURLUsesGivenHostAndBoundPort(t *testing.T) {
	svc, err := Start("127.0.0.1", &fakeSource{})
	require.NoError(t, err)
	defer svc.Stop(time.Second)

	url := svc.URL("am-host")
	assert.Contains(t, url, "am-host")
	assert.Contains(t, url, "http://")
}
