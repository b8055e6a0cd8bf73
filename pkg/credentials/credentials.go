// Package credentials implements the AM's credential cache: the token
// bundle containers need for authenticated access to the cluster, minus
// the AM-to-resource-manager token which is never forwardable (spec §4.8
// startup step 1). It is adapted from the teacher's AES-256-GCM secrets
// manager (pkg/security/secrets.go).
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/warren/pkg/log"
)

// amToRMTokenKey is the credential entry holding the AM's own token used
// to authenticate to the resource manager. It must never be forwarded to
// containers (spec §4.8 step 1).
const amToRMTokenKey = "am-rm-token"

// Bundle is the set of named credential blobs a container receives.
type Bundle map[string][]byte

// Source loads the raw credential bundle for the current user identity,
// e.g. from the filesystem abstraction's token cache file. Implementations
// are external collaborators (spec §1: "client-side launcher... out of
// scope").
type Source interface {
	Load(ctx context.Context) (Bundle, error)
}

// Replicator pushes a fresh credential bundle to every running container.
// *registry.Registry does not implement it directly; pkg/appmaster wires a
// small adapter that marshals the bundle and sends it via SendToAll.
type Replicator interface {
	Replicate(ctx context.Context, bundle Bundle) error
}

// Cache holds the AM's in-memory, encrypted-at-rest view of credentials,
// strips the AM-to-RM token on load, and invalidates/replicates on the
// "secureStoreUpdated" control message (spec §4.5, §7 "Credential read
// failure").
type Cache struct {
	source     Source
	replicator Replicator
	key        []byte // 32 bytes, AES-256-GCM

	mu      sync.RWMutex
	current Bundle
}

// NewCache builds a Cache. key must be 32 bytes (AES-256).
func NewCache(source Source, replicator Replicator, key []byte) (*Cache, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("credentials: encryption key must be 32 bytes, got %d", len(key))
	}
	return &Cache{source: source, replicator: replicator, key: key, current: Bundle{}}, nil
}

// Load fetches the current bundle from Source, strips the AM-to-RM token,
// encrypts every remaining value at rest, and replaces the cache. A load
// failure is logged and the AM continues with an empty bundle (spec §7:
// containers will likely fail auth; surfaced via their own reporting).
func (c *Cache) Load(ctx context.Context) {
	bundle, err := c.source.Load(ctx)
	if err != nil {
		log.WithComponent("credentials").Warn().Msg(fmt.Sprintf("load credentials: %v", err))
		c.mu.Lock()
		c.current = Bundle{}
		c.mu.Unlock()
		return
	}

	forwardable := make(Bundle, len(bundle))
	for name, plaintext := range bundle {
		if name == amToRMTokenKey {
			continue
		}
		encrypted, err := c.encrypt(plaintext)
		if err != nil {
			log.WithComponent("credentials").Warn().Msg(fmt.Sprintf("encrypt credential %q: %v", name, err))
			continue
		}
		forwardable[name] = encrypted
	}

	c.mu.Lock()
	c.current = forwardable
	c.mu.Unlock()
}

// Current returns a snapshot of the forwardable, encrypted-at-rest bundle.
func (c *Cache) Current() Bundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(Bundle, len(c.current))
	for k, v := range c.current {
		snapshot[k] = v
	}
	return snapshot
}

// InvalidateAndReplicate implements messagebus.CredentialInvalidator: it
// reloads the bundle from Source and pushes it to every running container
// (spec §4.5 "secureStoreUpdated").
func (c *Cache) InvalidateAndReplicate(ctx context.Context) {
	c.Load(ctx)
	if c.replicator == nil {
		return
	}
	if err := c.replicator.Replicate(ctx, c.Current()); err != nil {
		log.WithComponent("credentials").Warn().Msg(fmt.Sprintf("replicate credentials: %v", err))
	}
}

func (c *Cache) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses encrypt, for callers (e.g. tests, or a container-side
// reader) that hold the same key.
func (c *Cache) Decrypt(ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
