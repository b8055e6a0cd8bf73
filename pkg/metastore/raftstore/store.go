// Package raftstore is the reference, embeddable implementation of
// pkg/metastore.Client, backed by hashicorp/raft for log replication and
// bbolt for durable node storage — the same stack the teacher uses for its
// own cluster state (pkg/manager, pkg/storage), repurposed here to back a
// hierarchical znode-like tree instead of cluster/service/container rows.
package raftstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"
)

var bucketNodes = []byte("znodes")

// znode is the persisted representation of one metadata-store node.
type znode struct {
	Data           []byte `json:"data"`
	Ephemeral      bool   `json:"ephemeral"`
	EphemeralOwner string `json:"ephemeralOwner,omitempty"`
}

// boltNodeStore is the bbolt-backed key space for the node tree, one
// bucket keyed by full node path, mirroring the teacher's
// pkg/storage/boltdb.go bucket-per-kind layout (here: one kind, "znodes").
type boltNodeStore struct {
	db *bolt.DB
}

func newBoltNodeStore(dataDir, filename string) (*boltNodeStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, filename), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open node store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNodes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &boltNodeStore{db: db}, nil
}

func (s *boltNodeStore) Close() error { return s.db.Close() }

func (s *boltNodeStore) put(path string, n *znode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketNodes).Put([]byte(path), data)
	})
}

func (s *boltNodeStore) get(path string) (*znode, bool, error) {
	var n znode
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNodes).Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &n)
	})
	return &n, found, err
}

func (s *boltNodeStore) delete(path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).Delete([]byte(path))
	})
}

// children returns the immediate child path segments of parent.
func (s *boltNodeStore) children(parent string) ([]string, error) {
	prefix := parent
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	seen := make(map[string]bool)
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketNodes).Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			rest := strings.TrimPrefix(string(k), prefix)
			if rest == "" {
				continue
			}
			child := rest
			if idx := strings.Index(rest, "/"); idx >= 0 {
				child = rest[:idx]
			}
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
		return nil
	})
	return out, err
}

// deleteByOwner removes every ephemeral node owned by sessionID — called
// when a session expires.
func (s *boltNodeStore) deleteByOwner(sessionID string) ([]string, error) {
	var removed []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNodes)
		c := b.Cursor()
		var toDelete [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var n znode
			if err := json.Unmarshal(v, &n); err != nil {
				continue
			}
			if n.Ephemeral && n.EphemeralOwner == sessionID {
				key := append([]byte(nil), k...)
				toDelete = append(toDelete, key)
			}
		}
		for _, k := range toDelete {
			removed = append(removed, string(k))
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}
