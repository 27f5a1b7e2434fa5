// Package trust maintains per-agent, per-capability trust scores used to
// weight knowledge ingested over HSP. Scores live for the process lifetime
// only; operations are best-effort bookkeeping and never fail.
package trust

import (
	"sync"

	"go.uber.org/zap"
)

// GeneralScope is the scope used when no capability is named.
const GeneralScope = "general"

// Config bounds the score space.
type Config struct {
	// DefaultScore is returned for unknown agents and seeded by EnsureDefault.
	DefaultScore float64 `yaml:"default_score" json:"default_score"`

	// MinScore / MaxScore clamp every stored score.
	MinScore float64 `yaml:"min_score" json:"min_score"`
	MaxScore float64 `yaml:"max_score" json:"max_score"`
}

// DefaultConfig returns the standard [0,1] score space with a neutral 0.5
// default.
func DefaultConfig() Config {
	return Config{DefaultScore: 0.5, MinScore: 0.0, MaxScore: 1.0}
}

// Update describes a score mutation. When Absolute is set it wins over Delta.
type Update struct {
	Delta    float64
	Absolute *float64
}

// Abs is a convenience constructor for absolute updates.
func Abs(score float64) Update { return Update{Absolute: &score} }

// Manager holds trust records keyed by agent then scope. A scope is either
// GeneralScope or a capability name.
type Manager struct {
	mu     sync.RWMutex
	scores map[string]map[string]float64

	config Config
	logger *zap.Logger
}

// NewManager creates a trust manager.
func NewManager(config Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxScore <= config.MinScore {
		config = DefaultConfig()
	}
	if config.DefaultScore < config.MinScore || config.DefaultScore > config.MaxScore {
		config.DefaultScore = (config.MinScore + config.MaxScore) / 2
	}

	return &Manager{
		scores: make(map[string]map[string]float64),
		config: config,
		logger: logger.With(zap.String("component", "trust_manager")),
	}
}

// Score returns the trust score for an agent, preferring the capability
// scope when given, falling back to the general scope, then the default.
// It never fails; unknown agents get the default score.
func (m *Manager) Score(agentID string, capability ...string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	scopes, ok := m.scores[agentID]
	if !ok {
		return m.config.DefaultScore
	}
	if len(capability) > 0 && capability[0] != "" {
		if s, ok := scopes[capability[0]]; ok {
			return s
		}
	}
	if s, ok := scopes[GeneralScope]; ok {
		return s
	}
	return m.config.DefaultScore
}

// UpdateScore applies an update to an agent's score and returns the stored
// value. Absolute updates replace the score; delta updates shift the current
// (or default) score. Clamping to [MinScore, MaxScore] happens here and
// nowhere else — callers cannot bypass it. Writes go to the general scope
// unless a capability is named.
func (m *Manager) UpdateScore(agentID string, u Update, capability ...string) float64 {
	scope := GeneralScope
	if len(capability) > 0 && capability[0] != "" {
		scope = capability[0]
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	scopes, ok := m.scores[agentID]
	if !ok {
		scopes = make(map[string]float64)
		m.scores[agentID] = scopes
	}

	var next float64
	if u.Absolute != nil {
		next = *u.Absolute
	} else {
		current, ok := scopes[scope]
		if !ok {
			current = m.config.DefaultScore
		}
		next = current + u.Delta
	}

	next = m.clamp(next)
	scopes[scope] = next

	m.logger.Debug("trust score updated",
		zap.String("agent_id", agentID),
		zap.String("scope", scope),
		zap.Float64("score", next),
	)
	return next
}

// EnsureDefault seeds a general-scope record at the default score for an
// unknown agent. Idempotent: existing records are left untouched.
func (m *Manager) EnsureDefault(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scores[agentID]; ok {
		return
	}
	m.scores[agentID] = map[string]float64{GeneralScope: m.config.DefaultScore}
}

// Snapshot returns a deep copy of all trust records.
func (m *Manager) Snapshot() map[string]map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]map[string]float64, len(m.scores))
	for agent, scopes := range m.scores {
		cp := make(map[string]float64, len(scopes))
		for scope, score := range scopes {
			cp[scope] = score
		}
		out[agent] = cp
	}
	return out
}

func (m *Manager) clamp(s float64) float64 {
	if s < m.config.MinScore {
		return m.config.MinScore
	}
	if s > m.config.MaxScore {
		return m.config.MaxScore
	}
	return s
}
