package ham

import "strings"

// Scorer assigns an importance in [0,1] to incoming content. The eviction
// loop uses the score to decide which records go first when memory runs low.
type Scorer interface {
	Score(content string, meta Metadata) float64
}

// KeywordBoost raises the score when any of its keywords appears in the
// content. Matching is case-insensitive substring matching.
type KeywordBoost struct {
	Keywords []string
	Boost    float64
}

// ScorerConfig tunes the heuristic scorer.
type ScorerConfig struct {
	// Base is the score every record starts from.
	Base float64
	// Boosts are applied cumulatively for each matching keyword set.
	Boosts []KeywordBoost
	// UserBoost is added when the record originates from a user turn.
	UserBoost float64
	// ProtectedBoost is added for protected records.
	ProtectedBoost float64
	// OverlongLimit and OverlongPenalty shave the score of very large
	// payloads, which tend to be transcripts rather than distilled facts.
	OverlongLimit   int
	OverlongPenalty float64
}

// DefaultScorerConfig returns the scoring weights used in production.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Base: 0.3,
		Boosts: []KeywordBoost{
			{Keywords: []string{"critical", "urgent", "emergency", "severe"}, Boost: 0.2},
			{Keywords: []string{"error", "failure", "crash", "fatal"}, Boost: 0.15},
			{Keywords: []string{"remember", "important", "note"}, Boost: 0.1},
		},
		UserBoost:       0.15,
		ProtectedBoost:  0.25,
		OverlongLimit:   2000,
		OverlongPenalty: 0.15,
	}
}

type heuristicScorer struct {
	cfg ScorerConfig
}

// NewScorer builds the heuristic scorer. A zero-value config falls back to
// DefaultScorerConfig.
func NewScorer(cfg ScorerConfig) Scorer {
	if cfg.Base == 0 && len(cfg.Boosts) == 0 {
		cfg = DefaultScorerConfig()
	}
	return &heuristicScorer{cfg: cfg}
}

// Score implements Scorer. The result is clamped to [0,1] at the end, and
// nowhere else, so the individual weights stay composable.
func (s *heuristicScorer) Score(content string, meta Metadata) float64 {
	score := s.cfg.Base
	lowered := strings.ToLower(content)

	for _, boost := range s.cfg.Boosts {
		for _, kw := range boost.Keywords {
			if strings.Contains(lowered, kw) {
				score += boost.Boost
				break
			}
		}
	}

	if meta.Speaker == SpeakerUser {
		score += s.cfg.UserBoost
	}
	if meta.Protected {
		score += s.cfg.ProtectedBoost
	}
	if s.cfg.OverlongLimit > 0 && len(content) > s.cfg.OverlongLimit {
		score -= s.cfg.OverlongPenalty
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
