// Package matching ranks catalog entries against free-text item names.
package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Veraticus/smeta/internal/config"
	"github.com/Veraticus/smeta/internal/model"
)

// checkEvery is how many catalog entries are scored between context checks.
const checkEvery = 256

// Strategy selects which tiers a search runs.
type Strategy string

// Available strategies.
const (
	StrategyCombined   Strategy = "combined"
	StrategyExact      Strategy = "exact"
	StrategyKeyword    Strategy = "keyword"
	StrategySimilarity Strategy = "similarity"
)

// ParseStrategy resolves a strategy name. An empty name means combined.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyCombined:
		return StrategyCombined, nil
	case StrategyExact:
		return StrategyExact, nil
	case StrategyKeyword:
		return StrategyKeyword, nil
	case StrategySimilarity:
		return StrategySimilarity, nil
	}
	return "", fmt.Errorf("unknown matching strategy %q", s)
}

// Query is a single lookup.
type Query struct {
	Text         string
	Manufacturer string
}

// Config holds scoring thresholds and weights.
type Config struct {
	TopK                int
	WidenedTopK         int
	MinScore            int
	WidenedMinScore     int
	MinWordLength       int
	SimilarityThreshold float64
	ExactBonus          int
	PartialBonus        int
	MismatchPenalty     int
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		TopK:                3,
		WidenedTopK:         5,
		MinScore:            20,
		WidenedMinScore:     15,
		MinWordLength:       3,
		SimilarityThreshold: 0.3,
		ExactBonus:          30,
		PartialBonus:        15,
		MismatchPenalty:     20,
	}
}

// ConfigFrom converts the application matching settings.
func ConfigFrom(c config.MatchingConfig) Config {
	return Config{
		TopK:                c.TopK,
		WidenedTopK:         c.WidenedTopK,
		MinScore:            c.MinScore,
		WidenedMinScore:     c.WidenedMinScore,
		MinWordLength:       c.MinWordLength,
		SimilarityThreshold: c.SimilarityThreshold,
		ExactBonus:          c.ExactBonus,
		PartialBonus:        c.PartialBonus,
		MismatchPenalty:     c.MismatchPenalty,
	}
}

// Engine runs tiered searches over an in-memory catalog snapshot. It holds no
// state besides its configuration and is safe for concurrent use.
type Engine struct {
	cfg Config
}

// NewEngine creates an engine. Zero values in cfg fall back to the defaults.
func NewEngine(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.WidenedTopK < cfg.TopK {
		cfg.WidenedTopK = max(def.WidenedTopK, cfg.TopK)
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.WidenedMinScore <= 0 || cfg.WidenedMinScore > cfg.MinScore {
		cfg.WidenedMinScore = min(def.WidenedMinScore, cfg.MinScore)
	}
	if cfg.MinWordLength <= 0 {
		cfg.MinWordLength = def.MinWordLength
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type scored struct {
	entry     model.CatalogEntry
	score     int
	mfrRelate bool
}

// Suggest ranks catalog against q. The combined strategy returns the first
// tier that yields any accepted candidate. Results are sorted by score
// descending, ties keep catalog order.
func (e *Engine) Suggest(ctx context.Context, q Query, catalog []model.CatalogEntry, strategy Strategy) ([]model.CandidateMatch, error) {
	if strings.TrimSpace(q.Text) == "" || len(catalog) == 0 {
		return nil, nil
	}
	if strategy == "" {
		strategy = StrategyCombined
	}

	var tiers []model.Tier
	switch strategy {
	case StrategyCombined:
		tiers = []model.Tier{model.TierExact, model.TierKeyword, model.TierSimilarity}
	case StrategyExact:
		tiers = []model.Tier{model.TierExact}
	case StrategyKeyword:
		tiers = []model.Tier{model.TierKeyword}
	case StrategySimilarity:
		tiers = []model.Tier{model.TierSimilarity}
	default:
		return nil, fmt.Errorf("unknown matching strategy %q", strategy)
	}

	for _, tier := range tiers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := e.runTier(ctx, tier, q, catalog)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, nil
}

func (e *Engine) runTier(ctx context.Context, tier model.Tier, q Query, catalog []model.CatalogEntry) ([]model.CandidateMatch, error) {
	query := normalizeName(q.Text)
	qWords := e.words(query)
	qGrams := trigramSet(query)
	qMfr := normalizeManufacturer(q.Manufacturer)

	var candidates []scored
	for i, entry := range catalog {
		if i > 0 && i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// A keyword candidate with no shared words still earns the
		// manufacturer adjustment; the acceptance window decides.
		var base int
		switch tier {
		case model.TierExact:
			if normalizeName(entry.Name) != query {
				continue
			}
			base = 100
		case model.TierKeyword:
			base = KeywordScore(qWords, e.words(normalizeName(entry.Name)))
		case model.TierSimilarity:
			sim := jaccard(qGrams, trigramSet(normalizeName(entry.Name)))
			if sim < e.cfg.SimilarityThreshold {
				continue
			}
			base = int(math.Round(sim * 100))
		}

		cMfr := normalizeManufacturer(entry.Manufacturer)
		score := base
		if tier != model.TierExact {
			score += e.ManufacturerAdjustment(qMfr, cMfr)
		}
		candidates = append(candidates, scored{
			entry:     entry,
			score:     clamp(score),
			mfrRelate: manufacturersRelated(qMfr, cMfr),
		})
	}

	return e.accept(tier, candidates), nil
}

// accept applies the acceptance window. It widens when any candidate's
// manufacturer is related to the query's.
func (e *Engine) accept(tier model.Tier, candidates []scored) []model.CandidateMatch {
	if len(candidates) == 0 {
		return nil
	}

	topK, minScore := e.cfg.TopK, e.cfg.MinScore
	for _, c := range candidates {
		if c.mfrRelate {
			topK, minScore = e.cfg.WidenedTopK, e.cfg.WidenedMinScore
			break
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	var out []model.CandidateMatch
	for _, c := range candidates {
		if c.score <= 0 || c.score < minScore {
			continue
		}
		out = append(out, model.CandidateMatch{Entry: c.entry, Score: c.score, Tier: tier})
		if len(out) == topK {
			break
		}
	}
	return out
}

// ManufacturerAdjustment returns the score delta for a pair of normalized
// manufacturer names.
func (e *Engine) ManufacturerAdjustment(query, candidate string) int {
	if query == "" || candidate == "" {
		return 0
	}
	if query == candidate {
		return e.cfg.ExactBonus
	}
	if strings.Contains(query, candidate) || strings.Contains(candidate, query) {
		return e.cfg.PartialBonus
	}
	return -e.cfg.MismatchPenalty
}

// KeywordScore counts word pairs where either word contains the other and
// scales by the longer word list. The result may exceed 100 when words
// repeat; callers clamp after adjustment.
func KeywordScore(query, candidate []string) int {
	if len(query) == 0 || len(candidate) == 0 {
		return 0
	}
	pairs := 0
	for _, q := range query {
		for _, c := range candidate {
			if strings.Contains(q, c) || strings.Contains(c, q) {
				pairs++
			}
		}
	}
	return int(math.Round(100 * float64(pairs) / float64(max(len(query), len(candidate)))))
}

func (e *Engine) words(normalized string) []string {
	fields := strings.Fields(normalized)
	out := fields[:0:0]
	for _, f := range fields {
		if runeLen(f) >= e.cfg.MinWordLength {
			out = append(out, f)
		}
	}
	return out
}

func manufacturersRelated(query, candidate string) bool {
	if query == "" || candidate == "" {
		return false
	}
	return strings.Contains(query, candidate) || strings.Contains(candidate, query)
}

func clamp(score int) int {
	return min(max(score, 0), 100)
}
