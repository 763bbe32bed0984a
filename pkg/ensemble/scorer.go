package ensemble

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/havenline/triage/pkg/contracts"
)

// defaultModelTimeout bounds a single model invocation.
const defaultModelTimeout = 40 * time.Millisecond

// Combined is the weight-normalized ensemble verdict.
type Combined struct {
	Score      float64 // [0,1]
	Confidence float64 // [0,1]
	Categories []string
	Votes      []contracts.ModelVote // one per registered model, failures included with Error set
}

// Scorer fans text out to registered models and combines their votes.
type Scorer struct {
	registry     *Registry
	logger       *slog.Logger
	modelTimeout time.Duration
}

// NewScorer creates a Scorer over the given registry.
func NewScorer(registry *Registry, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		registry:     registry,
		logger:       logger.With("component", "ensemble"),
		modelTimeout: defaultModelTimeout,
	}
}

// WithModelTimeout overrides the per-model time budget.
func (s *Scorer) WithModelTimeout(d time.Duration) *Scorer {
	s.modelTimeout = d
	return s
}

// ScoreAll invokes every registered model concurrently and waits for all
// of them; every vote matters for the weighted average, so there is no
// early exit. Failed models are excluded from the average and logged. If
// every model fails, ErrAllModelsFailed is returned.
func (s *Scorer) ScoreAll(ctx context.Context, text, lang string) (Combined, error) {
	models := s.registry.Models()
	if len(models) == 0 {
		return Combined{}, ErrNoModels
	}

	type outcome struct {
		score Score
		err   error
	}
	outcomes := make([]outcome, len(models))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		g.Go(func() error {
			mctx, cancel := context.WithTimeout(gctx, s.modelTimeout)
			defer cancel()
			sc, err := m.Analyze(mctx, text, lang)
			outcomes[i] = outcome{score: sc, err: err}
			// Model failures are tolerated, so never abort the group.
			return nil
		})
	}
	_ = g.Wait()

	votes := make([]contracts.ModelVote, 0, len(models))
	var totalWeight, score, confidence float64
	categories := make(map[string]struct{})
	for i, m := range models {
		vote := contracts.ModelVote{
			Model:   m.Name(),
			Version: m.Version(),
			Weight:  m.Weight(),
		}
		if err := outcomes[i].err; err != nil {
			vote.Error = err.Error()
			votes = append(votes, vote)
			s.logger.Warn("model failed, excluding from ensemble",
				"model", m.Name(), "error", err)
			continue
		}
		sc := outcomes[i].score
		vote.Score = sc.Score
		vote.Confidence = sc.Confidence
		vote.Categories = sc.Categories
		votes = append(votes, vote)

		w := m.Weight()
		totalWeight += w
		score += sc.Score * w
		confidence += sc.Confidence * w
		for _, c := range sc.Categories {
			categories[c] = struct{}{}
		}
	}

	if totalWeight == 0 {
		return Combined{Votes: votes}, ErrAllModelsFailed
	}
	return Combined{
		Score:      score / totalWeight,
		Confidence: confidence / totalWeight,
		Categories: sortedKeys(categories),
		Votes:      votes,
	}, nil
}

// ScorePrimary invokes only the highest-weighted model. Used for general
// content where the latency budget rules out the full ensemble.
func (s *Scorer) ScorePrimary(ctx context.Context, text, lang string) (Combined, error) {
	m, err := s.registry.Primary()
	if err != nil {
		return Combined{}, err
	}
	mctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	sc, err := m.Analyze(mctx, text, lang)
	vote := contracts.ModelVote{Model: m.Name(), Version: m.Version(), Weight: m.Weight()}
	if err != nil {
		vote.Error = err.Error()
		s.logger.Warn("primary model failed", "model", m.Name(), "error", err)
		return Combined{Votes: []contracts.ModelVote{vote}}, ErrAllModelsFailed
	}
	vote.Score = sc.Score
	vote.Confidence = sc.Confidence
	vote.Categories = sc.Categories
	return Combined{
		Score:      sc.Score,
		Confidence: sc.Confidence,
		Categories: append([]string(nil), sc.Categories...),
		Votes:      []contracts.ModelVote{vote},
	}, nil
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
