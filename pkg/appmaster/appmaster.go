// Package appmaster implements ApplicationMasterService (spec §4.8): the
// orchestrator that wires RunId, MetadataClient, ResourceManagerClient,
// ContainerRegistry, ProvisioningLoop, MessageBus, InstanceChangeWorker,
// TrackerService, the pluggable EventHandler, and the credential cache
// into the startup/shutdown lifecycle spec §4.8 defines, the way the
// teacher's cmd/warren wires manager+scheduler+reconciler+api together.
package appmaster

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/warren/pkg/credentials"
	"github.com/cuemby/warren/pkg/eventhandler"
	"github.com/cuemby/warren/pkg/instancechange"
	"github.com/cuemby/warren/pkg/launcher"
	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/messagebus"
	"github.com/cuemby/warren/pkg/metastore"
	"github.com/cuemby/warren/pkg/metastore/raftstore"
	"github.com/cuemby/warren/pkg/provisioning"
	"github.com/cuemby/warren/pkg/registry"
	"github.com/cuemby/warren/pkg/rmclient"
	"github.com/cuemby/warren/pkg/spec"
	"github.com/cuemby/warren/pkg/tracker"
)

// tickInterval is the main loop's poll period (spec §5: "the main loop
// sleeps 1 second per iteration").
const tickInterval = 1 * time.Second

// drainTimeout bounds how long shutdown polls allocate() for completion
// events of the containers it just asked to stop (spec §4.8 shutdown
// step 4: "up to 5 seconds").
const drainTimeout = 5 * time.Second

// Phase is the AM's coarse lifecycle state, exposed via Status for the
// tracker's /healthz (SPEC_FULL §12).
type Phase string

const (
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseDraining Phase = "draining"
	PhaseStopped  Phase = "stopped"
)

// Status is the snapshot SPEC_FULL §12 calls for: phase plus a per-runnable
// desired/running view. Leader-ness is omitted — there is exactly one AM
// per application, so the concept doesn't apply (per §12's own note).
type Status struct {
	Phase    Phase          `json:"phase"`
	AppRunID string         `json:"appRunId"`
	Desired  map[string]int `json:"desired"`
	Running  map[string]int `json:"running"`
}

// AppMaster wires together every core component and drives the startup,
// main-loop, and shutdown sequences of spec §4.8.
type AppMaster struct {
	cfg    Config
	app    *spec.Application
	logger zerolog.Logger

	metastoreClient *raftstore.Client
	rm              rmclient.Client
	registry        *registry.Registry
	expected        *provisioning.ExpectedCounts
	queue           *provisioning.Queue
	eventHandler    eventhandler.EventHandler
	instanceWorker  *instancechange.Worker
	bus             *messagebus.Bus
	tracker         *tracker.Service
	credentials     *credentials.Cache
	launcher        *launcher.ContainerdLauncher
	loop            *provisioning.Loop

	messagesPath string

	mu    sync.Mutex
	phase Phase

	stop chan struct{}
}

// New builds an AppMaster from cfg: spec §4.8 startup steps 1-2. It loads
// the spec, dials the resource manager (when configured) and containerd,
// opens the raft-backed metadata store and starts the instance-change
// worker's goroutine; the log broker, tracker bind, RM registration and
// znode writes happen later, in Run. It follows the teacher's
// NewXxx(...) (*Xxx, error) style.
func New(cfg Config) (*AppMaster, error) {
	logger := log.WithComponent("appmaster")

	specPath := filepath.Join(cfg.AppDir, "weave.spec.json")
	app, err := spec.Load(specPath)
	if err != nil {
		return nil, fmt.Errorf("appmaster: load application spec: %w", err)
	}

	if sf, err := spec.LoadStagedFiles(cfg.AppDir); err != nil {
		logger.Warn().Msg(fmt.Sprintf("load staged files: %v", err))
	} else {
		logger.Debug().Msg(fmt.Sprintf("staged files: %d runnables have arguments, %d have localize lists", len(sf.Arguments), len(sf.LocalizeFiles)))
	}

	appMasterView := registry.RunningContainer{
		RunnableName: "__appmaster",
		ContainerID:  cfg.YarnAppID,
		Host:         cfg.YarnContainerHost,
		VCores:       cfg.YarnContainerVCores,
		MemoryMB:     cfg.YarnContainerMemory,
	}
	reg := registry.New(cfg.YarnAppID, appMasterView)

	credCache, err := credentials.NewCache(newFileCredentialSource(cfg.AppDir), &registryReplicator{registry: reg}, credentialKey(cfg.CredentialKey))
	if err != nil {
		return nil, fmt.Errorf("appmaster: init credential cache: %w", err)
	}

	expected := provisioning.NewExpectedCounts(app)
	queue := provisioning.NewQueue()

	var loader eventhandler.Loader = eventhandler.BuiltinLoader{}
	handler, err := loader.Load(app.EventHandler.ClassName)
	if err != nil {
		return nil, fmt.Errorf("appmaster: load event handler %q: %w", app.EventHandler.ClassName, err)
	}

	var rm rmclient.Client
	if cfg.ResourceManagerAddr != "" {
		rm, err = rmclient.Dial(cfg.ResourceManagerAddr)
		if err != nil {
			return nil, fmt.Errorf("appmaster: dial resource manager: %w", err)
		}
	} else {
		logger.Warn().Msg("no WEAVE_RM_ADDR configured; using an in-process fake resource manager client")
		rm = rmclient.NewFakeClient()
	}

	instanceWorker := instancechange.New(app, reg, queue, expected, rm)

	appRunID := cfg.AppRunID
	dataDir := filepath.Join(cfg.AppDir, "metastore")
	msClient, err := raftstore.NewClient(raftstore.Config{
		NodeID:   appRunID,
		BindAddr: "127.0.0.1:0",
		DataDir:  dataDir,
	})
	if err != nil {
		return nil, fmt.Errorf("appmaster: init metadata store: %w", err)
	}

	messagesPath := "/" + appRunID + "/messages"
	bus := messagebus.New(msClient, messagesPath, reg, instanceWorker, credCache)

	launcherEnv := launcher.Env{
		AppDir:           cfg.AppDir,
		ZKConnect:        cfg.ZKConnect,
		LogBrokerConnect: cfg.LogKafkaZK,
	}
	cl, err := launcher.NewContainerdLauncher(cfg.ContainerdSocket, app, launcherEnv)
	if err != nil {
		return nil, fmt.Errorf("appmaster: init launcher: %w", err)
	}

	loop := provisioning.New(app, rm, reg, cl, queue, expected, handler, 0)

	am := &AppMaster{
		cfg:             cfg,
		app:             app,
		logger:          logger,
		metastoreClient: msClient,
		rm:              rm,
		registry:        reg,
		expected:        expected,
		queue:           queue,
		eventHandler:    handler,
		instanceWorker:  instanceWorker,
		bus:             bus,
		credentials:     credCache,
		launcher:        cl,
		loop:            loop,
		messagesPath:    messagesPath,
		phase:           PhaseStarting,
		stop:            make(chan struct{}),
	}
	return am, nil
}

// credentialKey derives a 32-byte AES-256-GCM key from raw. A raw value
// that's already 32 bytes is used verbatim; anything else (including
// empty, for environments that haven't wired real key management) is
// folded through SHA-256 so NewCache's length check always succeeds.
func credentialKey(raw string) []byte {
	if len(raw) == 32 {
		return []byte(raw)
	}
	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

type trackerSource struct {
	*registry.Registry
	am *AppMaster
}

func (s trackerSource) StatusJSON() ([]byte, error) {
	return json.Marshal(s.am.Status())
}

// Run executes spec §4.8's startup sequence, then the main provisioning
// loop until shutdown is requested (by ctx cancellation, Stop, or the
// event handler), then the shutdown sequence. It returns nil on a clean
// shutdown and a non-nil startup error only when an unrecoverable
// failure occurs before the loop starts (spec §6: "non-zero only on
// unrecoverable startup failure").
func (am *AppMaster) Run(ctx context.Context) error {
	if err := am.startup(ctx); err != nil {
		return err
	}
	am.setPhase(PhaseRunning)

	busCtx, cancelBus := context.WithCancel(ctx)
	busDone := make(chan error, 1)
	go func() { busDone <- am.bus.Run(busCtx) }()

	am.runLoop(ctx)

	cancelBus()
	<-busDone

	am.setPhase(PhaseDraining)
	am.shutdown(ctx)
	am.setPhase(PhaseStopped)
	return nil
}

// Stop requests a clean shutdown of an in-progress Run, equivalent to the
// main loop being interrupted (spec §5: "treats interruption as a normal
// shutdown trigger").
func (am *AppMaster) Stop() {
	am.mu.Lock()
	defer am.mu.Unlock()
	select {
	case <-am.stop:
	default:
		close(am.stop)
	}
}

// Status returns a point-in-time snapshot of the AM's lifecycle phase and
// per-runnable instance counts (SPEC_FULL §12).
func (am *AppMaster) Status() Status {
	am.mu.Lock()
	phase := am.phase
	am.mu.Unlock()

	desired := map[string]int{}
	running := map[string]int{}
	for _, name := range am.app.StartSequence() {
		desired[name] = am.expected.Desired(name)
		running[name] = am.registry.Count(name)
	}
	return Status{Phase: phase, AppRunID: am.cfg.AppRunID, Desired: desired, Running: running}
}

func (am *AppMaster) StatusJSON() ([]byte, error) {
	return json.Marshal(am.Status())
}

func (am *AppMaster) setPhase(p Phase) {
	am.mu.Lock()
	am.phase = p
	am.mu.Unlock()
}

// startup implements spec §4.8 steps 3-7 (steps 1-2 already happened in
// New).
func (am *AppMaster) startup(ctx context.Context) error {
	am.logger.Info().Str("app", am.app.Name).Msg("starting application master")

	if err := am.eventHandler.Initialize(ctx, eventhandler.Context{
		AppId:  am.cfg.YarnAppID,
		Config: am.app.EventHandler.Config,
	}); err != nil {
		return fmt.Errorf("appmaster: initialize event handler: %w", err)
	}

	// Step 1 (continued): populate the credential cache.
	am.credentials.Load(ctx)

	// Step 3: the embedded log broker is an external collaborator (spec
	// §1); this repository has no Kafka client in its dependency set
	// (see DESIGN.md), so the step is represented as a logged milestone
	// only, not a real broker connection.
	am.logger.Debug().Msg(fmt.Sprintf("log broker metadata path %s", am.cfg.LogKafkaZK))

	// Step 4: start TrackerService.
	svc, err := tracker.Start(am.trackerBindAddress(), trackerSource{Registry: am.registry, am: am})
	if err != nil {
		return fmt.Errorf("appmaster: start tracker: %w", err)
	}
	am.tracker = svc
	trackerURL := svc.URL(am.cfg.YarnContainerHost)

	// Step 5: register with the resource manager, handing it the tracker
	// URL.
	if err := am.rm.Start(ctx, am.cfg.AppRunID, am.cfg.YarnContainerHost); err != nil {
		return fmt.Errorf("appmaster: register with resource manager: %w", err)
	}
	if err := am.rm.SetTracker(ctx, svc.Addr(), trackerURL); err != nil {
		return fmt.Errorf("appmaster: set tracker url: %w", err)
	}

	// Step 6: create the runnables/ and kafka/ metadata nodes, plus the
	// AM's own persistent and ephemeral liveness nodes (spec §3).
	if err := am.createMetadataNodes(ctx); err != nil {
		return fmt.Errorf("appmaster: create metadata nodes: %w", err)
	}

	// Step 7: the ordered provisioning queue is built lazily by
	// provisioning.New from the spec's orders (batch.go); nothing further
	// to do here.

	// Step 2 (continued): start the instance-change worker's goroutine
	// was already started by instancechange.New; nothing further here.

	am.logger.Info().Msg(fmt.Sprintf("application master ready, tracker at %s", trackerURL))
	return nil
}

func (am *AppMaster) trackerBindAddress() string {
	if am.cfg.YarnContainerHost != "" {
		return "0.0.0.0"
	}
	return "127.0.0.1"
}

func (am *AppMaster) createMetadataNodes(ctx context.Context) error {
	root := "/" + am.cfg.AppRunID
	liveData, err := json.Marshal(map[string]string{
		"yarnAppId":   am.cfg.YarnAppID,
		"clusterTime": am.cfg.YarnAppIDClusterTime,
		"containerId": am.cfg.YarnAppID,
	})
	if err != nil {
		return fmt.Errorf("marshal live node data: %w", err)
	}

	nodes := []struct {
		path string
		data []byte
		mode metastore.Mode
	}{
		{root, nil, metastore.Persistent},
		{root + "/live", liveData, metastore.Ephemeral},
		{root + "/runnables", nil, metastore.Persistent},
		{root + "/kafka", nil, metastore.Persistent},
	}
	for _, n := range nodes {
		if err := am.metastoreClient.Create(ctx, n.path, n.data, n.mode); err != nil {
			return fmt.Errorf("create %s: %w", n.path, err)
		}
	}
	return nil
}

// runLoop drives the ProvisioningLoop at roughly 1 Hz until it reports
// done, the event handler asks for shutdown, Stop is called, or ctx is
// cancelled (spec §4.4, §5).
func (am *AppMaster) runLoop(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-am.stop:
			return
		case <-ticker.C:
			if err := am.loop.Tick(ctx); err != nil {
				am.logger.Warn().Msg(fmt.Sprintf("provisioning tick: %v", err))
			}
			if am.loop.Done() || am.loop.ShutdownRequested() {
				return
			}
		}
	}
}

// shutdown implements spec §4.8's shutdown sequence, steps 1-9.
func (am *AppMaster) shutdown(ctx context.Context) {
	// Step 1.
	if err := am.eventHandler.Destroy(ctx); err != nil {
		am.logger.Warn().Msg(fmt.Sprintf("event handler destroy: %v", err))
	}

	// Step 2.
	am.instanceWorker.Stop()

	// Step 3.
	containerIDs := am.registry.GetContainerIds()
	am.registry.StopAll(ctx)

	// Step 4: poll allocate() up to drainTimeout to absorb completion
	// events for the containers just stopped.
	if len(containerIDs) > 0 {
		am.drainCompletions(ctx)
	}

	// Step 5.
	if am.tracker != nil {
		if err := am.tracker.Stop(2 * time.Second); err != nil {
			am.logger.Warn().Msg(fmt.Sprintf("stop tracker: %v", err))
		}
	}

	// Step 6: delete the staging directory via the (external) filesystem
	// abstraction. The reference implementation here operates on the
	// local filesystem directly, since no remote-FS client exists in this
	// repository's dependency set (see DESIGN.md).
	if am.cfg.AppDir != "" {
		if err := os.RemoveAll(am.cfg.AppDir); err != nil {
			am.logger.Warn().Msg(fmt.Sprintf("remove staging dir: %v", err))
		}
	}

	// Step 7: flush logs; give the log shipper a moment to drain.
	time.Sleep(200 * time.Millisecond)

	// Step 8: stop the log broker (logged only; see startup's note).
	am.logger.Debug().Msg("log broker stopped")

	// Step 9.
	if err := am.rm.Stop(ctx, "SUCCEEDED"); err != nil {
		am.logger.Warn().Msg(fmt.Sprintf("deregister from resource manager: %v", err))
	}

	if err := am.metastoreClient.Close(); err != nil {
		am.logger.Warn().Msg(fmt.Sprintf("close metadata store: %v", err))
	}
	if err := am.launcher.Close(); err != nil {
		am.logger.Warn().Msg(fmt.Sprintf("close launcher: %v", err))
	}

	am.logger.Info().Msg("application master stopped")
}

func (am *AppMaster) drainCompletions(ctx context.Context) {
	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()

	drainHandler := &drainAllocationHandler{}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-drainCtx.Done():
			return
		case <-ticker.C:
			if err := am.rm.Allocate(drainCtx, 1.0, drainHandler); err != nil {
				return
			}
			if am.registry.CountAll() == 0 {
				return
			}
		}
	}
}

// drainAllocationHandler discards acquisitions (shutdown never requests
// more containers) and ignores completions (the registry has already
// been told to stop everything; it self-reports exits as they land).
type drainAllocationHandler struct{}

func (drainAllocationHandler) Acquired(containers []rmclient.AcquiredContainer) {}
func (drainAllocationHandler) Completed(statuses []rmclient.CompletedContainer) {}
