package ham

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentnetio/agentnet/types"
)

func testKey() StaticKey {
	return StaticKey("0123456789abcdef0123456789abcdef") // 32 bytes
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Path: filepath.Join(t.TempDir(), "ham.json"),
		Keys: testKey(),
	})
	require.NoError(t, err)
	return store
}

func TestStoreRequiresKeyProvider(t *testing.T) {
	_, err := NewStore(StoreConfig{})
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
}

func TestStoreRecallRoundTrip(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Store("dialogue_text", []byte("hello substrate"), Metadata{Speaker: "agent"})
	require.NoError(t, err)
	assert.Equal(t, "mem_000001", id)

	info, err := store.Recall(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello substrate"), info.Content)
	assert.Equal(t, "dialogue_text", info.DataType)
	assert.False(t, info.Protected)
	assert.InDelta(t, 0.3, info.Importance, 0.001)
}

func TestStoreAssignsSequentialIDs(t *testing.T) {
	store := newTestStore(t)

	for i := 1; i <= 3; i++ {
		id, err := store.Store("fact", []byte("x"), Metadata{})
		require.NoError(t, err)
		assert.Equal(t, []string{"mem_000001", "mem_000002", "mem_000003"}[i-1], id)
	}
	assert.Equal(t, 3, store.Len())
}

func TestRecallUnknownID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Recall("mem_999999")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestPayloadIsEncryptedAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.json")
	store, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)

	_, err = store.Store("fact", []byte("the secret plaintext"), Metadata{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "the secret plaintext")
}

func TestImportanceOverride(t *testing.T) {
	store := newTestStore(t)

	hint := 0.97
	id, err := store.Store("fact", []byte("plain"), Metadata{Importance: &hint})
	require.NoError(t, err)

	info, err := store.Recall(id)
	require.NoError(t, err)
	assert.Equal(t, 0.97, info.Importance)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Store("fact", []byte("x"), Metadata{})
	require.NoError(t, err)

	require.NoError(t, store.Delete(id))
	require.NoError(t, store.Delete(id))
	assert.Equal(t, 0, store.Len())
}

func TestQueryByDateRange(t *testing.T) {
	store := newTestStore(t)

	id1, err := store.Store("fact", []byte("first"), Metadata{})
	require.NoError(t, err)
	_, err = store.Store("fact", []byte("second"), Metadata{})
	require.NoError(t, err)

	// Shift one record into the past.
	store.mu.Lock()
	store.records[id1].Timestamp = time.Now().UTC().Add(-48 * time.Hour)
	store.mu.Unlock()

	recent, err := store.QueryByDateRange(time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []byte("second"), recent[0].Content)

	all, err := store.QueryByDateRange(time.Now().Add(-72*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Oldest first.
	assert.Equal(t, []byte("first"), all[0].Content)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.json")

	store, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)
	id, err := store.Store("fact", []byte("durable"), Metadata{Protected: true})
	require.NoError(t, err)

	reopened, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())

	info, err := reopened.Recall(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), info.Content)
	assert.True(t, info.Protected)

	// ID sequence continues after restart rather than reusing ids.
	next, err := reopened.Store("fact", []byte("later"), Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "mem_000002", next)
}

func TestCorruptSnapshotRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
}

func TestPersistFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ham.json")
	store, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)

	// Point persistence under a regular file so the temp file cannot be
	// created.
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	store.mu.Lock()
	store.path = filepath.Join(blocker, "ham.json")
	store.mu.Unlock()

	_, err = store.Store("fact", []byte("lost"), Metadata{})
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
	assert.Equal(t, 0, store.Len())

	// The id is not burned by the failed attempt.
	store.mu.Lock()
	store.path = path
	store.mu.Unlock()
	id, err := store.Store("fact", []byte("kept"), Metadata{})
	require.NoError(t, err)
	assert.Equal(t, "mem_000001", id)
}

func TestWrongKeyFailsAuthentication(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.json")

	store, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)
	id, err := store.Store("fact", []byte("sealed"), Metadata{})
	require.NoError(t, err)

	other, err := NewStore(StoreConfig{Path: path, Keys: StaticKey("ffffffffffffffffffffffffffffffff")})
	require.NoError(t, err)

	_, err = other.Recall(id)
	require.Error(t, err)
	assert.True(t, types.IsStorageError(err))
}

func TestSnapshotLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ham.json")
	store, err := NewStore(StoreConfig{Path: path, Keys: testKey()})
	require.NoError(t, err)

	_, err = store.Store("fact", []byte("x"), Metadata{})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, 2, snap.NextID)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "mem_000001", snap.Records[0].ID)
	assert.NotEmpty(t, snap.Records[0].Encrypted)
}
