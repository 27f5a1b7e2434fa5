package ham

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// MemoryStats is a point-in-time view of system memory.
type MemoryStats struct {
	Available uint64
	Total     uint64
}

// MemoryProbe reports current memory pressure. The default probe reads the
// host's virtual memory; tests inject a fake.
type MemoryProbe func() (MemoryStats, error)

func systemMemoryProbe() (MemoryStats, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return MemoryStats{}, err
	}
	return MemoryStats{Available: vm.Available, Total: vm.Total}, nil
}

// EvictorConfig configures the background eviction loop.
type EvictorConfig struct {
	// Threshold is the fraction of total memory that must remain
	// available; eviction kicks in below it.
	Threshold float64
	// BaseInterval is the sweep interval for an empty store. The interval
	// shrinks by StepPerRecord for every stored record, floored at
	// MinInterval, so fuller stores are checked more often.
	BaseInterval  time.Duration
	StepPerRecord time.Duration
	MinInterval   time.Duration
	// Probe reports memory pressure. Nil uses the system probe.
	Probe MemoryProbe
	// OnEvict is invoked after every pass that deleted at least one
	// record, e.g. to feed a metrics counter.
	OnEvict func(deleted int)
	// Logger for eviction events. Nil falls back to zap.NewNop().
	Logger *zap.Logger
}

// DefaultEvictorConfig returns production eviction settings.
func DefaultEvictorConfig() EvictorConfig {
	return EvictorConfig{
		Threshold:     0.1,
		BaseInterval:  3600 * time.Second,
		StepPerRecord: 10 * time.Second,
		MinInterval:   60 * time.Second,
	}
}

// Evictor 周期性检查系统内存压力, 压力过高时按重要度淘汰未保护记录。
type Evictor struct {
	store  *Store
	cfg    EvictorConfig
	logger *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewEvictor builds an Evictor over the given store.
func NewEvictor(store *Store, cfg EvictorConfig) *Evictor {
	def := DefaultEvictorConfig()
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = def.BaseInterval
	}
	if cfg.StepPerRecord <= 0 {
		cfg.StepPerRecord = def.StepPerRecord
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.Probe == nil {
		cfg.Probe = systemMemoryProbe
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Evictor{
		store:  store,
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}
}

// Start runs the eviction loop until ctx is cancelled or Stop is called.
func (e *Evictor) Start(ctx context.Context) {
	go e.loop(ctx)
}

// Stop terminates the loop. Safe to call more than once.
func (e *Evictor) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

func (e *Evictor) loop(ctx context.Context) {
	for {
		timer := time.NewTimer(e.interval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-e.done:
			timer.Stop()
			return
		case <-timer.C:
			if n := e.EvictOnce(); n > 0 {
				e.logger.Info("memory cleanup completed", zap.Int("deleted", n))
			}
		}
	}
}

// interval adapts the sweep period to store size.
func (e *Evictor) interval() time.Duration {
	d := e.cfg.BaseInterval - time.Duration(e.store.Len())*e.cfg.StepPerRecord
	if d < e.cfg.MinInterval {
		d = e.cfg.MinInterval
	}
	return d
}

// EvictOnce performs a single eviction pass and returns the number of records
// removed. Nothing happens while available memory stays above
// Threshold*Total. Protected records are never candidates; memory pressure is
// re-probed before every deletion so the pass stops as soon as it recovers.
func (e *Evictor) EvictOnce() int {
	stats, err := e.cfg.Probe()
	if err != nil {
		e.logger.Warn("memory probe failed", zap.Error(err))
		return 0
	}
	if !e.underPressure(stats) {
		return 0
	}

	candidates, total := e.store.evictionCandidates()
	// Safety cap on deletions per pass.
	maxDeletions := total / 10
	if maxDeletions < 10 {
		maxDeletions = 10
	}

	deleted := 0
	for _, id := range candidates {
		if deleted >= maxDeletions {
			e.logger.Info("memory deletion limit reached", zap.Int("deleted", deleted))
			break
		}
		stats, err = e.cfg.Probe()
		if err != nil || !e.underPressure(stats) {
			break
		}
		if e.store.evictRecord(id) {
			deleted++
			e.logger.Debug("record evicted", zap.String("id", id))
		}
	}

	if deleted > 0 {
		if err := e.store.persistAfterEviction(); err != nil {
			e.logger.Error("persist after eviction failed", zap.Error(err))
		}
		if e.cfg.OnEvict != nil {
			e.cfg.OnEvict(deleted)
		}
	}
	return deleted
}

func (e *Evictor) underPressure(stats MemoryStats) bool {
	return float64(stats.Available) < float64(stats.Total)*e.cfg.Threshold
}

// evictionCandidates returns unprotected record ids ordered lowest importance
// first, oldest first on ties, plus the current store size.
func (s *Store) evictionCandidates() ([]string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		id         string
		importance float64
		ts         time.Time
	}
	cands := make([]candidate, 0, len(s.records))
	for id, rec := range s.records {
		if rec.Protected {
			continue
		}
		cands = append(cands, candidate{id: id, importance: rec.Importance, ts: rec.Timestamp})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].importance != cands[j].importance {
			return cands[i].importance < cands[j].importance
		}
		return cands[i].ts.Before(cands[j].ts)
	})

	ids := make([]string, len(cands))
	for i, c := range cands {
		ids[i] = c.id
	}
	return ids, len(s.records)
}

// evictRecord removes a record without persisting; the evictor persists once
// per pass. Protected records and already-deleted ids are skipped.
func (s *Store) evictRecord(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.Protected {
		return false
	}
	delete(s.records, id)
	return true
}

func (s *Store) persistAfterEviction() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}
