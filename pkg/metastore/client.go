// Package metastore abstracts the consensus-style metadata store the AM
// coordinates through: hierarchical nodes, ephemeral nodes tied to a
// session, and watches that survive session expiry by re-arming and
// re-delivering the latest known state (spec §4.1). The core does not
// implement the store itself (spec §1 non-goal); pkg/metastore/raftstore
// is a reference, embeddable implementation, and the one the AM and this
// repository's tests use (no client for an external store exists here).
package metastore

import (
	"context"
	"errors"
)

// ErrNoNode is returned when an operation targets a path that does not
// exist.
var ErrNoNode = errors.New("metastore: no such node")

// ErrNodeExists is returned by Create when the path already exists.
var ErrNodeExists = errors.New("metastore: node exists")

// Mode distinguishes a node's lifecycle binding.
type Mode int

const (
	// Persistent nodes outlive the session that created them.
	Persistent Mode = iota
	// Ephemeral nodes are deleted when the owning session expires.
	Ephemeral
)

// EventType enumerates the kinds of change a watch can observe.
type EventType int

const (
	EventNodeCreated EventType = iota
	EventNodeDataChanged
	EventNodeDeleted
	EventChildrenChanged
	// EventReArmed is delivered once to a watcher immediately after the
	// client's session reconnects, carrying the latest observable state
	// so no change is missed indefinitely across a disconnection (spec
	// §4.1's "why").
	EventReArmed
)

// Event is one change delivered to a watcher.
type Event struct {
	Path string
	Type EventType
}

// Watch is the channel a watcher receives Events on. It is never closed by
// the client except in response to Client.Close; callers must not close
// it themselves.
type Watch <-chan Event

// Client is the MetadataClient contract (spec §4.1). Paths are used as
// given: the raftstore implementation applies no namespace prefix.
type Client interface {
	Create(ctx context.Context, path string, data []byte, mode Mode) error
	SetData(ctx context.Context, path string, data []byte) error
	GetData(ctx context.Context, path string) ([]byte, error)
	Delete(ctx context.Context, path string) error
	// GetChildren lists path's immediate children. If watch is true, the
	// returned Watch fires on any change to the child set.
	GetChildren(ctx context.Context, path string, watch bool) ([]string, Watch, error)
	// Exists reports whether path is present. If watch is true, the
	// returned Watch fires when the node is created, deleted, or its data
	// changes.
	Exists(ctx context.Context, path string, watch bool) (bool, Watch, error)
	Close() error
}
