// Package runid derives the stable identifiers the application master
// assigns to the run as a whole and to each runnable instance.
package runid

import (
	"strconv"

	"github.com/google/uuid"
)

// RunId is "<uuid>" for the application run itself, or "<uuid>-<instanceId>"
// for a runnable instance derived from it. The base uuid and instance id
// are carried as separate fields rather than parsed back out of the
// formatted string: a UUID's final hyphen-delimited group is 12 hex
// characters, and roughly 1 in 280 freshly generated UUIDs has an
// all-decimal-digit final group, which a string-splitting Base() would
// mistake for an instance suffix and truncate off a base id that should
// already be canonical.
type RunId struct {
	base        string
	instance    int
	hasInstance bool
}

// New generates a fresh application-level RunId.
func New() RunId {
	return RunId{base: uuid.NewString()}
}

// Base strips any instance suffix, returning the app-level id an instance
// RunId was derived from. Called on an already-base RunId it is the
// identity.
func (r RunId) Base() RunId {
	if !r.hasInstance {
		return r
	}
	return RunId{base: r.base}
}

// WithInstance forms the RunId of instance id of this base.
func (r RunId) WithInstance(id int) RunId {
	return RunId{base: r.Base().base, instance: id, hasInstance: true}
}

// String implements fmt.Stringer.
func (r RunId) String() string {
	if !r.hasInstance {
		return r.base
	}
	return r.base + "-" + strconv.Itoa(r.instance)
}

// Empty reports whether r carries no value.
func (r RunId) Empty() bool {
	return r.base == "" && !r.hasInstance
}
