// Package registry tracks the agents known to this node and the capabilities
// they advertise over HSP. Entries are created by explicit registration or by
// inbound capability advertisements, refreshed on every subsequent
// advertisement, and removed by an inactivity sweep or explicit unregister.
package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentnetio/agentnet/trust"
	"github.com/agentnetio/agentnet/types"
)

// RegisteredAgent is a snapshot of one known agent. Lookups return copies;
// callers can read them lock-free.
type RegisteredAgent struct {
	AgentID      string            `json:"agent_id"`
	Name         string            `json:"name"`
	Capabilities []string          `json:"capabilities"`
	RegisteredAt time.Time         `json:"registered_at"`
	LastSeen     time.Time         `json:"last_seen"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// DiscoveryHandler is invoked when an agent is seen for the first time.
type DiscoveryHandler func(agent RegisteredAgent)

// SweepHandler is invoked after every sweep that removed at least one agent.
type SweepHandler func(removed int)

// Config holds registry configuration.
type Config struct {
	// InactivityTTL is how long an agent survives without an advertisement.
	InactivityTTL time.Duration `yaml:"inactivity_ttl" json:"inactivity_ttl"`

	// SweepInterval is the fixed delay between staleness sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InactivityTTL: 5 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// Registry is an in-memory agent table guarded by a single lock; the sweep
// loop and advertisement handling share it, so they never interleave
// unsafely. Operations never return errors — unknown lookups report a
// not-found flag instead.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*RegisteredAgent

	handlerMu sync.RWMutex
	handlers  []DiscoveryHandler

	config  Config
	trust   *trust.Manager // optional, enables trust-aware capability search
	onSweep SweepHandler   // optional, fired after a sweep removed agents
	logger  *zap.Logger

	now      func() time.Time
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures optional registry collaborators.
type Option func(*Registry)

// WithTrust lets FindByCapability filter and sort by trust score.
func WithTrust(tm *trust.Manager) Option {
	return func(r *Registry) { r.trust = tm }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithOnSweep observes sweep results, e.g. to feed a metrics counter.
func WithOnSweep(h SweepHandler) Option {
	return func(r *Registry) { r.onSweep = h }
}

// New creates a registry.
func New(config Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.InactivityTTL <= 0 {
		config.InactivityTTL = DefaultConfig().InactivityTTL
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultConfig().SweepInterval
	}

	r := &Registry{
		agents: make(map[string]*RegisteredAgent),
		config: config,
		logger: logger.With(zap.String("component", "agent_registry")),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnDiscovery registers a handler fired the first time an agent is seen.
func (r *Registry) OnDiscovery(h DiscoveryHandler) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Register records an agent manually. Re-registering an existing agent
// merges capabilities and refreshes last_seen.
func (r *Registry) Register(agentID, name string, capabilities []string) {
	if agentID == "" {
		return
	}

	r.mu.Lock()
	now := r.now()
	agent, existed := r.agents[agentID]
	if !existed {
		agent = &RegisteredAgent{
			AgentID:      agentID,
			Name:         name,
			RegisteredAt: now,
		}
		r.agents[agentID] = agent
	}
	if name != "" {
		agent.Name = name
	}
	for _, c := range capabilities {
		agent.Capabilities = appendCapability(agent.Capabilities, c)
	}
	agent.LastSeen = now
	snapshot := copyAgent(agent)
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", agentID),
		zap.Int("capabilities", len(snapshot.Capabilities)),
	)

	if !existed {
		r.fireDiscovery(snapshot)
	}
}

// Unregister removes an agent. Removing an unknown agent is a no-op.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	_, existed := r.agents[agentID]
	delete(r.agents, agentID)
	r.mu.Unlock()

	if existed {
		r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	}
}

// HandleAdvertisement folds an inbound capability advertisement into the
// table: unknown agents are created (firing discovery handlers), known
// agents get any new capability appended and last_seen refreshed.
func (r *Registry) HandleAdvertisement(ad *types.CapabilityAdvertisement) {
	if ad == nil || ad.AgentID == "" {
		return
	}

	r.mu.Lock()
	now := r.now()
	agent, existed := r.agents[ad.AgentID]
	if !existed {
		agent = &RegisteredAgent{
			AgentID:      ad.AgentID,
			Name:         ad.AgentID,
			RegisteredAt: now,
		}
		r.agents[ad.AgentID] = agent
	}
	if ad.Name != "" {
		agent.Capabilities = appendCapability(agent.Capabilities, ad.Name)
	}
	agent.LastSeen = now
	snapshot := copyAgent(agent)
	r.mu.Unlock()

	if !existed {
		r.logger.Info("agent discovered via advertisement",
			zap.String("agent_id", ad.AgentID),
			zap.String("capability", ad.Name),
		)
		r.fireDiscovery(snapshot)
	} else {
		r.logger.Debug("advertisement refreshed agent",
			zap.String("agent_id", ad.AgentID),
			zap.String("capability", ad.Name),
		)
	}
}

// Get returns a copy of the agent and whether it is known.
func (r *Registry) Get(agentID string) (RegisteredAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return RegisteredAgent{}, false
	}
	return copyAgent(agent), true
}

// List returns copies of all known agents.
func (r *Registry) List() []RegisteredAgent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]RegisteredAgent, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, copyAgent(agent))
	}
	return out
}

// Len returns the number of known agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// FindByCapability returns agents advertising the named capability. With a
// trust manager attached, agents below minTrust are filtered out and the
// result is sorted by capability-scoped trust score, highest first.
func (r *Registry) FindByCapability(name string, minTrust float64) []RegisteredAgent {
	r.mu.RLock()
	var out []RegisteredAgent
	for _, agent := range r.agents {
		for _, c := range agent.Capabilities {
			if c == name {
				out = append(out, copyAgent(agent))
				break
			}
		}
	}
	r.mu.RUnlock()

	if r.trust != nil {
		filtered := out[:0]
		for _, agent := range out {
			if r.trust.Score(agent.AgentID, name) >= minTrust {
				filtered = append(filtered, agent)
			}
		}
		out = filtered
		sort.SliceStable(out, func(i, j int) bool {
			return r.trust.Score(out[i].AgentID, name) > r.trust.Score(out[j].AgentID, name)
		})
	} else {
		sort.SliceStable(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	}
	return out
}

// Start launches the staleness sweep loop. The loop stops when ctx is
// cancelled or Stop is called.
func (r *Registry) Start(ctx context.Context) {
	go r.sweepLoop(ctx)
	r.logger.Info("agent registry started",
		zap.Duration("inactivity_ttl", r.config.InactivityTTL),
		zap.Duration("sweep_interval", r.config.SweepInterval),
	)
}

// Stop terminates the sweep loop. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *Registry) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("registry sweep loop stopped", zap.Error(ctx.Err()))
			return
		case <-r.done:
			r.logger.Info("registry sweep loop stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep removes every agent whose last_seen is older than the inactivity
// TTL. Exposed for tests and manual triggering.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	removed := 0
	for id, agent := range r.agents {
		if now.Sub(agent.LastSeen) > r.config.InactivityTTL {
			delete(r.agents, id)
			removed++
			r.logger.Info("agent expired",
				zap.String("agent_id", id),
				zap.Time("last_seen", agent.LastSeen),
			)
		}
	}
	r.mu.Unlock()

	// Fired outside the lock so the handler may touch the registry again.
	if removed > 0 && r.onSweep != nil {
		r.onSweep(removed)
	}
	return removed
}

func (r *Registry) fireDiscovery(agent RegisteredAgent) {
	r.handlerMu.RLock()
	handlers := make([]DiscoveryHandler, len(r.handlers))
	copy(handlers, r.handlers)
	r.handlerMu.RUnlock()

	for _, h := range handlers {
		h(agent)
	}
}

// appendCapability keeps the capability list ordered by first sight and free
// of duplicates.
func appendCapability(caps []string, c string) []string {
	if c == "" {
		return caps
	}
	for _, existing := range caps {
		if existing == c {
			return caps
		}
	}
	return append(caps, c)
}

func copyAgent(a *RegisteredAgent) RegisteredAgent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	if a.Metadata != nil {
		cp.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			cp.Metadata[k] = v
		}
	}
	return cp
}
