package ham

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/types"
)

// SpeakerUser marks content originating from a human turn; such records score
// higher than agent-to-agent chatter.
const SpeakerUser = "user"

// Metadata carries the storage hints accompanying a piece of content.
type Metadata struct {
	// Speaker identifies who produced the content ("user", "agent", ...).
	Speaker string `json:"speaker,omitempty"`
	// Protected records are exempt from eviction.
	Protected bool `json:"protected,omitempty"`
	// Importance, when set, overrides the scorer for this record.
	Importance *float64 `json:"importance,omitempty"`
	// Tags are free-form labels preserved alongside the record.
	Tags []string `json:"tags,omitempty"`
}

// Record is a stored memory entry. The payload is kept encrypted at rest;
// only Recall decrypts it.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	DataType   string    `json:"data_type"`
	Encrypted  []byte    `json:"encrypted_blob"`
	Importance float64   `json:"importance"`
	Protected  bool      `json:"protected"`
	Metadata   Metadata  `json:"metadata,omitempty"`
}

// RecordInfo is the decrypted view returned by Recall and queries.
type RecordInfo struct {
	ID         string
	Timestamp  time.Time
	DataType   string
	Content    []byte
	Importance float64
	Protected  bool
	Metadata   Metadata
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// Path is the JSON persistence file. Empty disables persistence and
	// keeps records in memory only.
	Path string
	// Keys provides the encryption key. Required.
	Keys KeyProvider
	// Scorer assigns importance. Nil falls back to the default heuristic.
	Scorer Scorer
	// Logger for store events. Nil falls back to zap.NewNop().
	Logger *zap.Logger
}

// Store 是分层抽象记忆存储: 记录加密落盘, 依重要度参与淘汰。
// 所有方法并发安全。
type Store struct {
	mu      sync.Mutex
	records map[string]*Record
	nextID  int

	path   string
	keys   KeyProvider
	scorer Scorer
	logger *zap.Logger
}

// NewStore builds a Store, loading any existing snapshot from cfg.Path.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Keys == nil {
		return nil, types.NewStorageError("key provider is required", nil)
	}
	if cfg.Scorer == nil {
		cfg.Scorer = NewScorer(DefaultScorerConfig())
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Store{
		records: make(map[string]*Record),
		nextID:  1,
		path:    cfg.Path,
		keys:    cfg.Keys,
		scorer:  cfg.Scorer,
		logger:  cfg.Logger,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Store encrypts content, scores it, and appends a new record. The record is
// persisted before the call returns; a persist failure rolls the record back
// and surfaces as a storage error.
func (s *Store) Store(dataType string, content []byte, meta Metadata) (string, error) {
	blob, err := encrypt(s.keys, content)
	if err != nil {
		return "", err
	}

	importance := s.scorer.Score(string(content), meta)
	if meta.Importance != nil {
		importance = clamp01(*meta.Importance)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := fmt.Sprintf("mem_%06d", s.nextID)
	rec := &Record{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		DataType:   dataType,
		Encrypted:  blob,
		Importance: importance,
		Protected:  meta.Protected,
		Metadata:   meta,
	}
	s.records[id] = rec
	s.nextID++

	if err := s.persistLocked(); err != nil {
		delete(s.records, id)
		s.nextID--
		return "", err
	}

	s.logger.Debug("record stored",
		zap.String("id", id),
		zap.String("data_type", dataType),
		zap.Float64("importance", importance),
		zap.Bool("protected", rec.Protected))
	return id, nil
}

// Recall decrypts and returns the record with the given id.
func (s *Store) Recall(id string) (*RecordInfo, error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	s.mu.Unlock()
	if !ok {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("record %s not found", id))
	}

	content, err := decrypt(s.keys, rec.Encrypted)
	if err != nil {
		return nil, err
	}
	return &RecordInfo{
		ID:         rec.ID,
		Timestamp:  rec.Timestamp,
		DataType:   rec.DataType,
		Content:    content,
		Importance: rec.Importance,
		Protected:  rec.Protected,
		Metadata:   rec.Metadata,
	}, nil
}

// Delete removes a record and persists the change. Deleting an unknown id is
// a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return nil
	}
	delete(s.records, id)
	return s.persistLocked()
}

// QueryByDateRange returns decrypted records whose timestamp falls in
// [from, to], ordered oldest first.
func (s *Store) QueryByDateRange(from, to time.Time) ([]*RecordInfo, error) {
	s.mu.Lock()
	matched := make([]*Record, 0)
	for _, rec := range s.records {
		if rec.Timestamp.Before(from) || rec.Timestamp.After(to) {
			continue
		}
		matched = append(matched, rec)
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	out := make([]*RecordInfo, 0, len(matched))
	for _, rec := range matched {
		content, err := decrypt(s.keys, rec.Encrypted)
		if err != nil {
			return nil, err
		}
		out = append(out, &RecordInfo{
			ID:         rec.ID,
			Timestamp:  rec.Timestamp,
			DataType:   rec.DataType,
			Content:    content,
			Importance: rec.Importance,
			Protected:  rec.Protected,
			Metadata:   rec.Metadata,
		})
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

type snapshot struct {
	NextID  int       `json:"next_id"`
	Records []*Record `json:"records"`
}

// persistLocked writes the full snapshot atomically: marshal to a temp file
// in the same directory, then rename over the target. Callers hold s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}

	snap := snapshot{NextID: s.nextID, Records: make([]*Record, 0, len(s.records))}
	for _, rec := range s.records {
		snap.Records = append(snap.Records, rec)
	}
	sort.Slice(snap.Records, func(i, j int) bool {
		return snap.Records[i].ID < snap.Records[j].ID
	})

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return types.NewStorageError("snapshot marshal failed", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".ham-*.tmp")
	if err != nil {
		return types.NewStorageError("temp file creation failed", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewStorageError("snapshot write failed", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewStorageError("snapshot close failed", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return types.NewStorageError("snapshot rename failed", err)
	}
	return nil
}

func (s *Store) load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return types.NewStorageError("snapshot read failed", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.NewStorageError("snapshot corrupt", err)
	}

	for _, rec := range snap.Records {
		s.records[rec.ID] = rec
	}
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}
	s.logger.Info("memory snapshot loaded",
		zap.String("path", s.path),
		zap.Int("records", len(s.records)))
	return nil
}
