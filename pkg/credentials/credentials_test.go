package credentials

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	h := sha256.Sum256([]byte("test-cluster"))
	return h[:]
}

type fakeSource struct {
	bundle Bundle
	err    error
}

func (s *fakeSource) Load(ctx context.Context) (Bundle, error) {
	return s.bundle, s.err
}

type fakeReplicator struct {
	replicated Bundle
}

func (r *fakeReplicator) Replicate(ctx context.Context, bundle Bundle) error {
	r.replicated = bundle
	return nil
}

func TestLoadStripsAMToRMToken(t *testing.T) {
	source := &fakeSource{bundle: Bundle{
		amToRMTokenKey: []byte("super-secret-rm-token"),
		"hdfs-token":   []byte("hdfs-delegation-token"),
	}}
	cache, err := NewCache(source, nil, testKey())
	require.NoError(t, err)

	cache.Load(context.Background())
	current := cache.Current()

	_, hasRMToken := current[amToRMTokenKey]
	assert.False(t, hasRMToken, "AM-to-RM token must never be forwarded to containers")
	assert.Contains(t, current, "hdfs-token")
}

func TestEncryptedValuesRoundTrip(t *testing.T) {
	source := &fakeSource{bundle: Bundle{"hdfs-token": []byte("hdfs-delegation-token")}}
	cache, err := NewCache(source, nil, testKey())
	require.NoError(t, err)

	cache.Load(context.Background())
	encrypted := cache.Current()["hdfs-token"]
	assert.NotEqual(t, []byte("hdfs-delegation-token"), encrypted)

	decrypted, err := cache.Decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "hdfs-delegation-token", string(decrypted))
}

func TestLoadFailureLeavesEmptyBundle(t *testing.T) {
	source := &fakeSource{err: errors.New("vault unreachable")}
	cache, err := NewCache(source, nil, testKey())
	require.NoError(t, err)

	cache.Load(context.Background())
	assert.Empty(t, cache.Current())
}

func TestInvalidateAndReplicatePushesFreshBundle(t *testing.T) {
	source := &fakeSource{bundle: Bundle{"hdfs-token": []byte("v2-token")}}
	replicator := &fakeReplicator{}
	cache, err := NewCache(source, replicator, testKey())
	require.NoError(t, err)

	cache.InvalidateAndReplicate(context.Background())
	assert.Contains(t, replicator.replicated, "hdfs-token")
}

func TestNewCacheRejectsWrongKeyLength(t *testing.T) {
	_, err := NewCache(&fakeSource{}, nil, []byte("too-short"))
	assert.Error(t, err)
}
