package raftstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
)

// command mirrors the teacher's manager.Command: an opcode plus its
// JSON-encoded payload, replicated through the Raft log.
type command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

type createPayload struct {
	Path      string `json:"path"`
	Data      []byte `json:"data"`
	Ephemeral bool   `json:"ephemeral"`
	Owner     string `json:"owner,omitempty"`
}

type setDataPayload struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// fsmEvent is returned from Apply so the client layer can notify watchers
// without re-deriving what changed from the store.
type fsmEvent struct {
	paths []string
	kind  string // "created" | "dataChanged" | "deleted"
}

// fsm is the raft.FSM driving the node tree.
type fsm struct {
	mu    sync.Mutex
	store *boltNodeStore
}

func newFSM(store *boltNodeStore) *fsm {
	return &fsm{store: store}
}

// Apply applies one committed log entry.
func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "create":
		var p createPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		if _, found, err := f.store.get(p.Path); err != nil {
			return err
		} else if found {
			return fmt.Errorf("create %s: %w", p.Path, errNodeExistsFSM)
		}
		if err := f.store.put(p.Path, &znode{Data: p.Data, Ephemeral: p.Ephemeral, EphemeralOwner: p.Owner}); err != nil {
			return err
		}
		return &fsmEvent{paths: []string{p.Path}, kind: "created"}

	case "setData":
		var p setDataPayload
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		existing, found, err := f.store.get(p.Path)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("setData %s: %w", p.Path, errNoNodeFSM)
		}
		existing.Data = p.Data
		if err := f.store.put(p.Path, existing); err != nil {
			return err
		}
		return &fsmEvent{paths: []string{p.Path}, kind: "dataChanged"}

	case "delete":
		var path string
		if err := json.Unmarshal(cmd.Data, &path); err != nil {
			return err
		}
		if err := f.store.delete(path); err != nil {
			return err
		}
		return &fsmEvent{paths: []string{path}, kind: "deleted"}

	case "expireSession":
		var sessionID string
		if err := json.Unmarshal(cmd.Data, &sessionID); err != nil {
			return err
		}
		removed, err := f.store.deleteByOwner(sessionID)
		if err != nil {
			return err
		}
		return &fsmEvent{paths: removed, kind: "deleted"}

	default:
		return fmt.Errorf("unknown raftstore command: %s", cmd.Op)
	}
}

// errNodeExistsFSM/errNoNodeFSM are local sentinels so this file does not
// need to import pkg/metastore just to format errors; client.go maps them
// to the public metastore sentinels.
var (
	errNodeExistsFSM = fmt.Errorf("node exists")
	errNoNodeFSM     = fmt.Errorf("no such node")
)

// Snapshot is unused by this reference store in any meaningful way beyond
// satisfying raft.FSM — there is exactly one voter and data already lives
// durably in bbolt, so a snapshot only needs to let Raft truncate its log.
func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	return emptySnapshot{}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	return rc.Close()
}

type emptySnapshot struct{}

func (emptySnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (emptySnapshot) Release()                             {}
