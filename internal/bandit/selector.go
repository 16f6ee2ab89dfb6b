// Package bandit implements Thompson Sampling variant selection.
package bandit

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/foxzi/leadcast/internal/campaign"
)

// ErrNoCandidates is returned when Select is called with an empty candidate list.
var ErrNoCandidates = errors.New("no candidate variants")

// Phase is the policy branch taken for a selection.
type Phase string

const (
	PhaseExplore Phase = "explore"
	PhaseExploit Phase = "exploit"
)

// Config contains selector settings
type Config struct {
	// ExploreThreshold is the number of total clicks below which selection is uniform.
	ExploreThreshold int64

	// NormalApproxAbove enables the normal approximation of the Beta draw when
	// alpha+beta exceeds it. Zero disables the approximation. Values in (0, 50]
	// are raised to 50.
	NormalApproxAbove float64
}

// DefaultConfig returns default selector configuration
func DefaultConfig() Config {
	return Config{ExploreThreshold: 50}
}

const minNormalApprox = 50

// Selector picks a variant from a candidate set.
type Selector struct {
	config Config

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector. A nil rng seeds one from the clock.
func NewSelector(cfg Config, rng *rand.Rand) *Selector {
	if cfg.ExploreThreshold < 0 {
		cfg.ExploreThreshold = 0
	}
	if cfg.NormalApproxAbove > 0 && cfg.NormalApproxAbove < minNormalApprox {
		cfg.NormalApproxAbove = minNormalApprox
	}
	if rng == nil {
		seed := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	return &Selector{config: cfg, rng: rng}
}

// Decision is the outcome of a selection.
type Decision struct {
	Variant campaign.Variant
	Phase   Phase
	Score   float64
}

// Select chooses one candidate.
//
// While totalClicks is below the explore threshold the choice is uniform.
// Afterwards each candidate gets one Beta(alpha, beta) draw from its stats
// (missing stats read as the uniform prior) and the highest draw wins.
// If no draw is positive the first candidate is returned.
func (s *Selector) Select(candidates []campaign.Variant, stats map[campaign.VariantID]campaign.Stat, totalClicks int64) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if totalClicks < s.config.ExploreThreshold {
		return Decision{
			Variant: candidates[s.rng.IntN(len(candidates))],
			Phase:   PhaseExplore,
		}, nil
	}

	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		st, ok := stats[c.ID]
		if !ok {
			st = campaign.DefaultStat
		}
		score := s.sample(st)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best < 0 {
		return Decision{Variant: candidates[0], Phase: PhaseExploit}, nil
	}
	return Decision{Variant: candidates[best], Phase: PhaseExploit, Score: bestScore}, nil
}

func (s *Selector) sample(st campaign.Stat) float64 {
	a, b := st.Alpha, st.Beta
	if a <= 0 {
		a = 1
	}
	if b <= 0 {
		b = 1
	}
	if s.config.NormalApproxAbove > 0 && a+b > s.config.NormalApproxAbove {
		return normalApprox(s.rng, a, b)
	}
	return betaSample(s.rng, a, b)
}
