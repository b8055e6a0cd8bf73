// Package registry implements the ContainerRegistry: the in-memory source
// of truth for live containers, guarded by a single lock and condition
// variable as mandated by the design's open question on spurious wakeups
// (spec §9) and the shared-resource policy of spec §5.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/obsmetrics"
	"github.com/cuemby/warren/pkg/runid"
)

// ErrNotRunning is returned by operations that require a running instance
// that no longer (or never did) exist.
var ErrNotRunning = errors.New("registry: runnable has no running instance")

// CompletionStatus describes how a container exited.
type CompletionStatus struct {
	ContainerID string
	ExitCode    int
	Abnormal    bool
	Reason      string
}

// ContainerInfo is what the resource manager handed back for an acquired
// container.
type ContainerInfo struct {
	ContainerID string
	Host        string
	VCores      int
	MemoryMB    int
}

// Controller is the handle through which the AM reaches an in-container
// process: send messages, stop it, and be told when it completes.
type Controller interface {
	RunId() runid.RunId
	Send(ctx context.Context, payload []byte) error
	Stop(ctx context.Context) error
	Completed(status CompletionStatus)
}

// Launcher spawns the in-container runnable process and returns a
// Controller for it. Implementations are external collaborators per spec
// §1 (the in-container runnable host); pkg/launcher provides the
// containerd-backed reference implementation.
type Launcher interface {
	Launch(ctx context.Context, runnable string, info ContainerInfo, runID runid.RunId) (Controller, error)
}

type instance struct {
	runnable    string
	instanceID  int
	runID       runid.RunId
	containerID string
	host        string
	vcores      int
	memoryMB    int
	controller  Controller
}

// RunningContainer is the read-only public view of a live instance
// (spec §3). JSON tags follow the literal tracker wire shape spec §6
// mandates: {appId, appMasterResources: {vcores, memoryMB, host,
// containerId, instanceId}, resources: {runnableName → [sameShape…]}}.
type RunningContainer struct {
	RunnableName string      `json:"runnableName,omitempty"`
	InstanceID   int         `json:"instanceId"`
	ContainerID  string      `json:"containerId"`
	Host         string      `json:"host"`
	VCores       int         `json:"vcores"`
	MemoryMB     int         `json:"memoryMB"`
	RunId        runid.RunId `json:"-"`
}

// ResourceReport is the derived, serializable view exposed by
// TrackerService (spec §3, §6).
type ResourceReport struct {
	AppId              string                        `json:"appId"`
	AppMasterResources RunningContainer              `json:"appMasterResources"`
	PerRunnable        map[string][]RunningContainer `json:"resources"`
}

// Registry is the ContainerRegistry.
type Registry struct {
	mu   sync.Mutex
	cond *sync.Cond

	bitmaps map[string]*bitset          // runnable -> instance-id bitmap
	bases   map[string]runid.RunId      // runnable -> current base RunId (rotates when empty)
	running map[string]map[int]*instance // runnable -> instanceID -> instance
	byContainer map[string]*instance     // containerID -> instance

	startSequence []string

	appId      string
	appMaster  RunningContainer
}

// New creates an empty ContainerRegistry.
func New(appId string, appMaster RunningContainer) *Registry {
	r := &Registry{
		bitmaps:     make(map[string]*bitset),
		bases:       make(map[string]runid.RunId),
		running:     make(map[string]map[int]*instance),
		byContainer: make(map[string]*instance),
		appId:       appId,
		appMaster:   appMaster,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Start allocates the smallest unused instanceId for runnable, derives its
// RunId per the base-rotation rule (spec §4.3), invokes launcher to spawn
// the container process, and records the resulting controller.
func (r *Registry) Start(ctx context.Context, runnable string, info ContainerInfo, launcher Launcher) (RunningContainer, error) {
	r.mu.Lock()
	bm, ok := r.bitmaps[runnable]
	if !ok {
		bm = &bitset{}
		r.bitmaps[runnable] = bm
	}
	instanceID := bm.lowestFree()

	base, ok := r.bases[runnable]
	if !ok || bm.cardinality() == 0 {
		base = runid.New()
		r.bases[runnable] = base
	}
	runID := base.WithInstance(instanceID)
	r.mu.Unlock()

	controller, err := launcher.Launch(ctx, runnable, info, runID)
	if err != nil {
		return RunningContainer{}, fmt.Errorf("launch %s instance %d: %w", runnable, instanceID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bm.set(instanceID)
	inst := &instance{
		runnable:    runnable,
		instanceID:  instanceID,
		runID:       runID,
		containerID: info.ContainerID,
		host:        info.Host,
		vcores:      info.VCores,
		memoryMB:    info.MemoryMB,
		controller:  controller,
	}
	if r.running[runnable] == nil {
		r.running[runnable] = make(map[int]*instance)
	}
	r.running[runnable][instanceID] = inst
	r.byContainer[info.ContainerID] = inst

	if len(r.startSequence) == 0 || r.startSequence[len(r.startSequence)-1] != runnable {
		r.startSequence = append(r.startSequence, runnable)
	}

	rc := RunningContainer{
		RunnableName: runnable,
		InstanceID:   instanceID,
		ContainerID:  info.ContainerID,
		Host:         info.Host,
		VCores:       info.VCores,
		MemoryMB:     info.MemoryMB,
		RunId:        runID,
	}

	obsmetrics.RunningContainers.WithLabelValues(runnable).Set(float64(len(r.running[runnable])))
	obsmetrics.ContainersStarted.WithLabelValues(runnable).Inc()

	r.cond.Broadcast()
	return rc, nil
}

// RemoveLast locates the highest-instanceId controller for runnable, stops
// it synchronously, and clears its bit (spec §4.3).
func (r *Registry) RemoveLast(ctx context.Context, runnable string) error {
	r.mu.Lock()
	bm, ok := r.bitmaps[runnable]
	if !ok || bm.cardinality() == 0 {
		r.mu.Unlock()
		return ErrNotRunning
	}
	highest := bm.highest()
	inst := r.running[runnable][highest]
	r.mu.Unlock()

	stopErr := inst.controller.Stop(ctx)
	if stopErr != nil {
		log.WithComponent("registry").Warn().Msg(fmt.Sprintf("stop %s instance %d: best-effort failure: %v", runnable, highest, stopErr))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	bm.clear(highest)
	delete(r.running[runnable], highest)
	delete(r.byContainer, inst.containerID)
	obsmetrics.RunningContainers.WithLabelValues(runnable).Set(float64(len(r.running[runnable])))
	obsmetrics.ContainersStopped.WithLabelValues(runnable, "scale_down").Inc()
	r.cond.Broadcast()
	return stopErr
}

// WaitForCount blocks until exactly count instances of runnable are
// running. It must tolerate spurious wakeups (spec §9 open question): the
// condition is rechecked in a loop, never assumed true on first wake.
func (r *Registry) WaitForCount(runnable string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.countLocked(runnable) != count {
		r.cond.Wait()
	}
}

func (r *Registry) countLocked(runnable string) int {
	return len(r.running[runnable])
}

// Count returns the number of running instances of runnable.
func (r *Registry) Count(runnable string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.countLocked(runnable)
}

// CountAll returns the total number of running containers across all
// runnables.
func (r *Registry) CountAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, m := range r.running {
		total += len(m)
	}
	return total
}

// IsEmpty reports whether no containers are running.
func (r *Registry) IsEmpty() bool {
	return r.CountAll() == 0
}

// GetContainerIds returns every live container id.
func (r *Registry) GetContainerIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.byContainer))
	for id := range r.byContainer {
		ids = append(ids, id)
	}
	return ids
}

// SendToRunnable sends payload over every controller belonging to
// runnable, invoking onComplete exactly once after all attempts terminate.
func (r *Registry) SendToRunnable(ctx context.Context, runnable string, payload []byte, onComplete func()) {
	r.mu.Lock()
	controllers := make([]Controller, 0, len(r.running[runnable]))
	for _, inst := range r.running[runnable] {
		controllers = append(controllers, inst.controller)
	}
	r.mu.Unlock()
	r.sendAndWait(ctx, controllers, payload, onComplete)
}

// SendToAll sends payload to every controller across every runnable.
func (r *Registry) SendToAll(ctx context.Context, payload []byte, onComplete func()) {
	r.mu.Lock()
	var controllers []Controller
	for _, m := range r.running {
		for _, inst := range m {
			controllers = append(controllers, inst.controller)
		}
	}
	r.mu.Unlock()
	r.sendAndWait(ctx, controllers, payload, onComplete)
}

func (r *Registry) sendAndWait(ctx context.Context, controllers []Controller, payload []byte, onComplete func()) {
	if len(controllers) == 0 {
		if onComplete != nil {
			onComplete()
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(controllers))
	for _, c := range controllers {
		c := c
		go func() {
			defer wg.Done()
			if err := c.Send(ctx, payload); err != nil {
				log.WithComponent("registry").Warn().Msg(fmt.Sprintf("send to %s: %v", c.RunId(), err))
			}
		}()
	}
	go func() {
		wg.Wait()
		if onComplete != nil {
			onComplete()
		}
	}()
}

// StopAll stops every running container in reverse-startSequence order,
// best-effort, then clears all registry state (spec §4.3, §4.8).
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	sequence := append([]string(nil), r.startSequence...)
	r.mu.Unlock()

	for i := len(sequence) - 1; i >= 0; i-- {
		runnable := sequence[i]

		r.mu.Lock()
		var controllers []Controller
		for _, inst := range r.running[runnable] {
			controllers = append(controllers, inst.controller)
		}
		r.mu.Unlock()

		var wg sync.WaitGroup
		wg.Add(len(controllers))
		for _, c := range controllers {
			c := c
			go func() {
				defer wg.Done()
				if err := c.Stop(ctx); err != nil {
					log.WithComponent("registry").Warn().Msg(fmt.Sprintf("stopAll: stop %s: %v", c.RunId(), err))
				}
			}()
		}
		wg.Wait()
	}

	r.mu.Lock()
	r.bitmaps = make(map[string]*bitset)
	r.bases = make(map[string]runid.RunId)
	r.running = make(map[string]map[int]*instance)
	r.byContainer = make(map[string]*instance)
	r.startSequence = nil
	r.mu.Unlock()
	r.cond.Broadcast()
}

// HandleCompleted finds the controller for the container in status, tells
// it of completion, frees its instance id, and if the exit was abnormal,
// adds the runnable to restartSet. A container no longer registered (it
// was intentionally removed via RemoveLast) is a silent no-op.
func (r *Registry) HandleCompleted(status CompletionStatus, restartSet map[string]bool) {
	r.mu.Lock()
	inst, ok := r.byContainer[status.ContainerID]
	if !ok {
		r.mu.Unlock()
		return
	}
	bm := r.bitmaps[inst.runnable]
	bm.clear(inst.instanceID)
	delete(r.running[inst.runnable], inst.instanceID)
	delete(r.byContainer, status.ContainerID)
	runnable := inst.runnable
	obsmetrics.RunningContainers.WithLabelValues(runnable).Set(float64(len(r.running[runnable])))
	reason := "completed"
	if status.Abnormal {
		reason = "abnormal_exit"
	}
	obsmetrics.ContainersStopped.WithLabelValues(runnable, reason).Inc()
	r.mu.Unlock()

	inst.controller.Completed(status)
	if status.Abnormal && restartSet != nil {
		restartSet[runnable] = true
	}
	r.cond.Broadcast()
}

// GetResourceReport produces the current derived view (spec §3).
func (r *Registry) GetResourceReport() ResourceReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := ResourceReport{
		AppId:              r.appId,
		AppMasterResources: r.appMaster,
		PerRunnable:        make(map[string][]RunningContainer, len(r.running)),
	}
	for runnable, m := range r.running {
		list := make([]RunningContainer, 0, len(m))
		for _, inst := range m {
			list = append(list, RunningContainer{
				RunnableName: inst.runnable,
				InstanceID:   inst.instanceID,
				ContainerID:  inst.containerID,
				Host:         inst.host,
				VCores:       inst.vcores,
				MemoryMB:     inst.memoryMB,
				RunId:        inst.runID,
			})
		}
		report.PerRunnable[runnable] = list
	}
	return report
}

// StartSequence returns a snapshot of the runnable start order.
func (r *Registry) StartSequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.startSequence...)
}
