package provisioning

import (
	"sort"

	"github.com/cuemby/warren/pkg/spec"
)

// capabilityGroup is one resource-capability-homogeneous slice of an
// Order: every runnable in it shares the same (vcores, memoryMB), so a
// single addContainerRequest batch can fill any of them (spec §4.4 step 3:
// "grouped by resource capability").
type capabilityGroup struct {
	capability spec.Capability
	runnables  []string
}

// batch is the unit the main loop pulls off the request queue: one
// Order's runnables, partitioned into capability groups, consumed one
// group at a time (spec §4.4 step 3).
type batch struct {
	orderType spec.OrderType
	groups    []capabilityGroup
	cursor    int
}

// next returns the next ungrouped capability group and advances the
// cursor, or ok=false when the batch is exhausted ("drop it and move on").
func (b *batch) next() (capabilityGroup, bool) {
	if b.cursor >= len(b.groups) {
		return capabilityGroup{}, false
	}
	g := b.groups[b.cursor]
	b.cursor++
	return g, true
}

// exhausted reports whether every group in the batch has been consumed.
func (b *batch) exhausted() bool {
	return b.cursor >= len(b.groups)
}

// buildBatches derives one batch per spec Order, each partitioned into
// capability groups, preserving a deterministic runnable iteration order
// within each group (sorted by name) so tests are reproducible.
func buildBatches(app *spec.Application) []*batch {
	batches := make([]*batch, 0, len(app.Orders))
	for _, order := range app.Orders {
		byCap := make(map[spec.Capability][]string)
		for _, name := range order.Names {
			rt, ok := app.Runnables[name]
			if !ok {
				continue
			}
			cap := rt.Resource.Of()
			byCap[cap] = append(byCap[cap], name)
		}

		caps := make([]spec.Capability, 0, len(byCap))
		for c := range byCap {
			caps = append(caps, c)
		}
		sort.Slice(caps, func(i, j int) bool {
			if caps[i].VCores != caps[j].VCores {
				return caps[i].VCores < caps[j].VCores
			}
			return caps[i].MemoryMB < caps[j].MemoryMB
		})

		groups := make([]capabilityGroup, 0, len(caps))
		for _, c := range caps {
			names := byCap[c]
			sort.Strings(names)
			groups = append(groups, capabilityGroup{capability: c, runnables: names})
		}

		batches = append(batches, &batch{orderType: order.Type, groups: groups})
	}
	return batches
}
