// Package spec defines the immutable application specification the
// application master loads once at startup, and the staged-file contract
// it is read from.
package spec

import (
	"encoding/json"
	"fmt"
	"os"
)

// OrderType distinguishes whether an Order's runnables must merely be
// requested (STARTED) or must report running instances (COMPLETED) before
// the next Order is considered dispatched. The provisioning loop does not
// read the type: for either value it moves on to the next Order once its
// provisioning queue is empty.
type OrderType string

const (
	OrderStarted   OrderType = "STARTED"
	OrderCompleted OrderType = "COMPLETED"
)

// Resource is a runnable's declared resource profile.
type Resource struct {
	VCores    int `json:"vcores"`
	MemoryMB  int `json:"memoryMB"`
	Instances int `json:"instances"`
}

// Capability is the (vcores, memoryMB) pair the resource manager matches
// requests against; two runnables with the same Capability can be filled
// from one batch of acquisitions (spec §4.4).
type Capability struct {
	VCores   int `json:"vcores"`
	MemoryMB int `json:"memoryMB"`
}

// Of returns r's capability, discarding the instance count.
func (r Resource) Of() Capability {
	return Capability{VCores: r.VCores, MemoryMB: r.MemoryMB}
}

// RuntimeSpec is one runnable's declaration.
type RuntimeSpec struct {
	Resource     Resource          `json:"resource"`
	LocalFiles   []string          `json:"localFiles,omitempty"`
	RunnableSpec map[string]string `json:"runnableSpec,omitempty"`
}

// Order is a startup group: its Names are requested together; Orders are
// requested in sequence.
type Order struct {
	Names []string  `json:"names"`
	Type  OrderType `json:"type"`
}

// EventHandlerConfig names the pluggable handler invoked on provisioning
// timeouts and carries its configuration.
type EventHandlerConfig struct {
	ClassName string            `json:"className"`
	Config    map[string]string `json:"config,omitempty"`
}

// Application is the full, immutable spec loaded from weave.spec.json.
type Application struct {
	Name         string                  `json:"name"`
	Runnables    map[string]RuntimeSpec  `json:"runnables"`
	Orders       []Order                 `json:"orders"`
	EventHandler EventHandlerConfig      `json:"eventHandler"`
}

// Load reads and parses the application spec from the given path
// (weave.spec.json per spec §6). Parse failure here is fatal to AM
// startup (spec §7).
func Load(path string) (*Application, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spec file: %w", err)
	}
	var app Application
	if err := json.Unmarshal(data, &app); err != nil {
		return nil, fmt.Errorf("parse spec file: %w", err)
	}
	if app.Name == "" {
		return nil, fmt.Errorf("spec file %s: missing application name", path)
	}
	for _, order := range app.Orders {
		for _, name := range order.Names {
			if _, ok := app.Runnables[name]; !ok {
				return nil, fmt.Errorf("spec file %s: order references unknown runnable %q", path, name)
			}
		}
	}
	return &app, nil
}

// StartSequence flattens Orders into the sequence runnables are first
// requested in. Shutdown order comes from the registry's own record of
// start order, not from this.
func (a *Application) StartSequence() []string {
	seen := make(map[string]bool, len(a.Runnables))
	var out []string
	for _, order := range a.Orders {
		for _, name := range order.Names {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}
