// Package launcher provides the containerd-backed reference Launcher
// (registry.Launcher): it spawns the in-container runnable process given
// an acquired container and a RunId, adapted from the teacher's
// pkg/runtime containerd wrapper. The protocol the spawned process speaks
// back to the AM (the "in-container runnable host") is an external
// collaborator per spec §1 and is intentionally not modeled here beyond a
// best-effort Stop.
package launcher

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/runid"
	"github.com/cuemby/warren/pkg/spec"
)

const (
	// Namespace is the containerd namespace the AM's containers live in.
	Namespace = "shoal-am"

	stopGracePeriod = 10 * time.Second
)

// Env holds the AM-wide values every spawned container's environment is
// seeded with (spec §4.4 "build an environment map"; spec §6 env vars).
type Env struct {
	AppDir            string
	ZKConnect         string
	LogBrokerConnect  string
}

// ContainerdLauncher implements registry.Launcher against a containerd
// daemon.
type ContainerdLauncher struct {
	client *containerd.Client
	app    *spec.Application
	env    Env
}

// NewContainerdLauncher connects to the containerd socket at socketPath.
func NewContainerdLauncher(socketPath string, app *spec.Application, env Env) (*ContainerdLauncher, error) {
	if socketPath == "" {
		socketPath = "/run/containerd/containerd.sock"
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("launcher: connect to containerd: %w", err)
	}
	return &ContainerdLauncher{client: client, app: app, env: env}, nil
}

// Close releases the containerd client.
func (l *ContainerdLauncher) Close() error {
	return l.client.Close()
}

// Launch implements registry.Launcher: it builds the runnable's
// environment, creates and starts a containerd task inside info's
// container, and returns a Controller for it.
func (l *ContainerdLauncher) Launch(ctx context.Context, runnable string, info registry.ContainerInfo, runID runid.RunId) (registry.Controller, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	rt, ok := l.app.Runnables[runnable]
	if !ok {
		return nil, fmt.Errorf("launcher: no runtime spec for runnable %q", runnable)
	}

	image, err := l.client.GetImage(ctx, rt.RunnableSpec["image"])
	if err != nil {
		return nil, fmt.Errorf("launcher: get image for %s: %w", runnable, err)
	}

	env := buildEnv(l.env, runnable, runID, rt)

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
	}
	if info.VCores > 0 {
		shares := uint64(info.VCores * 1024)
		quota := int64(info.VCores * 100000)
		opts = append(opts, oci.WithCPUShares(shares), oci.WithCPUCFS(quota, 100000))
	}
	if info.MemoryMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(info.MemoryMB)*1024*1024))
	}

	container, err := l.client.NewContainer(
		ctx,
		info.ContainerID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(info.ContainerID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return nil, fmt.Errorf("launcher: create container for %s: %w", runnable, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return nil, fmt.Errorf("launcher: create task for %s: %w", runnable, err)
	}
	if err := task.Start(ctx); err != nil {
		return nil, fmt.Errorf("launcher: start task for %s: %w", runnable, err)
	}

	return &containerdController{
		runID:     runID,
		container: container,
		task:      task,
	}, nil
}

// buildEnv derives the environment map every container's runnable process
// is launched with (spec §4.4, §6).
func buildEnv(base Env, runnable string, runID runid.RunId, rt spec.RuntimeSpec) []string {
	return []string{
		"WEAVE_APP_DIR=" + base.AppDir,
		"WEAVE_ZK_CONNECT=" + base.ZKConnect,
		"WEAVE_LOG_KAFKA_ZK=" + base.LogBrokerConnect,
		"WEAVE_RUNNABLE_NAME=" + runnable,
		"WEAVE_RUN_ID=" + runID.String(),
		fmt.Sprintf("WEAVE_INSTANCE_COUNT=%d", rt.Resource.Instances),
	}
}

// containerdController is the Controller handle for a launched container.
type containerdController struct {
	runID     runid.RunId
	container containerd.Container
	task      containerd.Task
}

func (c *containerdController) RunId() runid.RunId { return c.runID }

// Send is a no-op: the wire protocol the in-container runnable host
// speaks is out of scope (spec §1).
func (c *containerdController) Send(ctx context.Context, payload []byte) error {
	log.WithComponent("launcher").Debug().Msg(fmt.Sprintf("send to %s: not modeled, dropping", c.runID))
	return nil
}

// Stop sends SIGTERM, waits for graceful exit within stopGracePeriod, then
// SIGKILLs and deletes the task (adapted from the teacher's
// StopContainer).
func (c *containerdController) Stop(ctx context.Context) error {
	task := c.task
	status, err := task.Status(ctx)
	if err == nil && status.Status == containerd.Stopped {
		_, _ = task.Delete(ctx)
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopGracePeriod)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("launcher: SIGTERM %s: %w", c.runID, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("launcher: wait %s: %w", c.runID, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("launcher: SIGKILL %s: %w", c.runID, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("launcher: delete task %s: %w", c.runID, err)
	}
	return nil
}

// Completed logs the exit; the registry has already freed the instance
// slot by the time this is called.
func (c *containerdController) Completed(status registry.CompletionStatus) {
	log.WithComponent("launcher").Debug().Msg(fmt.Sprintf("%s completed: exit=%d abnormal=%v", c.runID, status.ExitCode, status.Abnormal))
}

var _ registry.Launcher = (*ContainerdLauncher)(nil)
var _ registry.Controller = (*containerdController)(nil)
