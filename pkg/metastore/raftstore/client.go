package raftstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"

	"github.com/cuemby/warren/pkg/log"
	"github.com/cuemby/warren/pkg/metastore"
	"github.com/cuemby/warren/pkg/obsmetrics"
)

const applyTimeout = 5 * time.Second

// Config configures a single-process Client.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// watcher is one registered watch: the channel handed back to the caller.
type watcher struct {
	ch chan metastore.Event
}

// Client implements metastore.Client on top of a single-voter Raft group
// and a bbolt-backed node tree. It is the store pkg/appmaster always uses
// (WEAVE_ZK_CONNECT is read but no external store is connected to), and
// the one exercised by this repository's tests,
// since no ZooKeeper-alike client library exists to depend on instead
// (see DESIGN.md).
type Client struct {
	raft  *raft.Raft
	fsm   *fsm
	store *boltNodeStore

	sessionID string

	mu       sync.Mutex
	alive    bool
	watches  map[string][]*watcher
}

// NewClient creates and bootstraps a Client rooted at dataDir.
func NewClient(cfg Config) (*Client, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := newBoltNodeStore(cfg.DataDir, "metastore.db")
	if err != nil {
		return nil, err
	}
	f := newFSM(store)
	r, err := bootstrapRaft(cfg.NodeID, cfg.BindAddr, cfg.DataDir, f)
	if err != nil {
		store.Close()
		return nil, err
	}

	c := &Client{
		raft:      r,
		fsm:       f,
		store:     store,
		sessionID: uuid.NewString(),
		alive:     true,
		watches:   make(map[string][]*watcher),
	}
	return c, nil
}

func (c *Client) apply(cmd command) (interface{}, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	future := c.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raft apply %s: %w", cmd.Op, err)
	}
	resp := future.Response()
	if err, ok := resp.(error); ok {
		return nil, err
	}
	return resp, nil
}

// Create implements metastore.Client.
func (c *Client) Create(ctx context.Context, path string, data []byte, mode metastore.Mode) error {
	p := createPayload{Path: path, Data: data, Ephemeral: mode == metastore.Ephemeral}
	if p.Ephemeral {
		p.Owner = c.sessionID
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	resp, err := c.apply(command{Op: "create", Data: payload})
	if err != nil {
		if errors.Is(err, errNodeExistsFSM) {
			return metastore.ErrNodeExists
		}
		return err
	}
	c.notify(resp)
	return nil
}

// SetData implements metastore.Client.
func (c *Client) SetData(ctx context.Context, path string, data []byte) error {
	payload, err := json.Marshal(setDataPayload{Path: path, Data: data})
	if err != nil {
		return err
	}
	resp, err := c.apply(command{Op: "setData", Data: payload})
	if err != nil {
		if errors.Is(err, errNoNodeFSM) {
			return metastore.ErrNoNode
		}
		return err
	}
	c.notify(resp)
	return nil
}

// GetData implements metastore.Client.
func (c *Client) GetData(ctx context.Context, path string) ([]byte, error) {
	n, found, err := c.store.get(path)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, metastore.ErrNoNode
	}
	return n.Data, nil
}

// Delete implements metastore.Client.
func (c *Client) Delete(ctx context.Context, path string) error {
	payload, err := json.Marshal(path)
	if err != nil {
		return err
	}
	resp, err := c.apply(command{Op: "delete", Data: payload})
	if err != nil {
		return err
	}
	c.notify(resp)
	return nil
}

// GetChildren implements metastore.Client.
func (c *Client) GetChildren(ctx context.Context, path string, watch bool) ([]string, metastore.Watch, error) {
	children, err := c.store.children(path)
	if err != nil {
		return nil, nil, err
	}
	if !watch {
		return children, nil, nil
	}
	return children, c.register(path), nil
}

// Exists implements metastore.Client.
func (c *Client) Exists(ctx context.Context, path string, watch bool) (bool, metastore.Watch, error) {
	_, found, err := c.store.get(path)
	if err != nil {
		return false, nil, err
	}
	if !watch {
		return found, nil, nil
	}
	return found, c.register(path), nil
}

// Close implements metastore.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, ws := range c.watches {
		for _, w := range ws {
			close(w.ch)
		}
	}
	c.watches = nil
	c.mu.Unlock()

	shutdownFuture := c.raft.Shutdown()
	if err := shutdownFuture.Error(); err != nil {
		log.WithComponent("metastore").Warn().Msg(fmt.Sprintf("raft shutdown: %v", err))
	}
	return c.store.Close()
}

func (c *Client) register(path string) metastore.Watch {
	ch := make(chan metastore.Event, 16)
	c.mu.Lock()
	c.watches[path] = append(c.watches[path], &watcher{ch: ch})
	c.mu.Unlock()
	return ch
}

func (c *Client) notify(applyResult interface{}) {
	ev, ok := applyResult.(*fsmEvent)
	if !ok || ev == nil {
		return
	}
	var kind metastore.EventType
	switch ev.kind {
	case "created":
		kind = metastore.EventNodeCreated
	case "dataChanged":
		kind = metastore.EventNodeDataChanged
	case "deleted":
		kind = metastore.EventNodeDeleted
	default:
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, path := range ev.paths {
		for _, w := range c.watches[path] {
			select {
			case w.ch <- metastore.Event{Path: path, Type: kind}:
			default:
			}
		}
		parent := parentOf(path)
		for _, w := range c.watches[parent] {
			select {
			case w.ch <- metastore.Event{Path: parent, Type: metastore.EventChildrenChanged}:
			default:
			}
		}
	}
}

// SimulateDisconnect marks the session as temporarily unreachable,
// without expiring it — short disconnects do not remove ephemeral nodes
// (real ZooKeeper semantics); only ExpireSession does.
func (c *Client) SimulateDisconnect() {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()
}

// Reconnect re-arms every currently registered watch, redelivering the
// latest observable state for its path so that no distinct change is
// missed indefinitely across the disconnection (spec §4.1).
func (c *Client) Reconnect() {
	c.mu.Lock()
	c.alive = true
	paths := make([]string, 0, len(c.watches))
	for path := range c.watches {
		paths = append(paths, path)
	}
	watchesSnapshot := make(map[string][]*watcher, len(c.watches))
	for k, v := range c.watches {
		watchesSnapshot[k] = append([]*watcher(nil), v...)
	}
	c.mu.Unlock()

	for _, path := range paths {
		for _, w := range watchesSnapshot[path] {
			select {
			case w.ch <- metastore.Event{Path: path, Type: metastore.EventReArmed}:
				obsmetrics.WatchReArms.Inc()
			default:
			}
		}
	}
}

// ExpireSession removes every ephemeral node owned by this client's
// session, as a real session expiry would, and notifies watchers.
func (c *Client) ExpireSession() error {
	payload, err := json.Marshal(c.sessionID)
	if err != nil {
		return err
	}
	resp, err := c.apply(command{Op: "expireSession", Data: payload})
	if err != nil {
		return err
	}
	c.notify(resp)
	return nil
}

func parentOf(path string) string {
	idx := lastSlash(path)
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
