package appmaster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/warren/pkg/credentials"
	"github.com/cuemby/warren/pkg/registry"
)

// fileCredentialSource reads the credential bundle staged by the external
// filesystem abstraction (spec §1: "the filesystem abstraction used to
// stage bundles" is an external collaborator). A missing file is not
// fatal — it yields an empty bundle, which is the same outcome spec §7
// names for "Credential read failure".
type fileCredentialSource struct {
	path string
}

func newFileCredentialSource(appDir string) *fileCredentialSource {
	return &fileCredentialSource{path: filepath.Join(appDir, "credentials.json")}
}

func (s *fileCredentialSource) Load(ctx context.Context) (credentials.Bundle, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return credentials.Bundle{}, nil
		}
		return nil, fmt.Errorf("read credential bundle: %w", err)
	}
	var bundle credentials.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse credential bundle: %w", err)
	}
	return bundle, nil
}

// registryReplicator adapts *registry.Registry to credentials.Replicator:
// it marshals the bundle once and fans it out to every running container
// via SendToAll, blocking until every send attempt has finished. It returns
// nil once the fan-out is done, whether or not individual sends failed, or
// ctx's error if ctx ends first (spec §4.5 "secureStoreUpdated").
type registryReplicator struct {
	registry *registry.Registry
}

func (r *registryReplicator) Replicate(ctx context.Context, bundle credentials.Bundle) error {
	payload, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("marshal credential bundle: %w", err)
	}
	done := make(chan struct{})
	r.registry.SendToAll(ctx, payload, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
