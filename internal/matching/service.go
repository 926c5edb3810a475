package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/smeta/internal/model"
)

// CatalogSource loads the full catalog snapshot.
type CatalogSource interface {
	ListCatalog(ctx context.Context) ([]model.CatalogEntry, error)
}

// Suggestion is the flattened result of a name lookup.
type Suggestion struct {
	Price        *float64   `json:"price,omitempty"`
	Key          string     `json:"key"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Unit         string     `json:"unit"`
	Source       string     `json:"source"`
	Tier         model.Tier `json:"tier"`
	Score        int        `json:"score"`
}

// NewSuggestion flattens a candidate.
func NewSuggestion(m model.CandidateMatch) Suggestion {
	return Suggestion{
		Key:          m.Entry.Key,
		Code:         m.Entry.Code,
		Name:         m.Entry.Name,
		Manufacturer: m.Entry.Manufacturer,
		Unit:         m.Entry.Unit,
		Price:        m.Entry.Price,
		Source:       m.Entry.Source,
		Score:        m.Score,
		Tier:         m.Tier,
	}
}

// Service answers name lookups against a cached catalog snapshot.
type Service struct {
	loaded   time.Time
	source   CatalogSource
	engine   *Engine
	now      func() time.Time
	catalog  []model.CatalogEntry
	strategy Strategy
	ttl      time.Duration
	mu       sync.RWMutex
}

// NewService creates a lookup service. A zero ttl reloads the catalog on
// every call.
func NewService(source CatalogSource, engine *Engine, strategy Strategy, ttl time.Duration) *Service {
	if strategy == "" {
		strategy = StrategyCombined
	}
	return &Service{
		source:   source,
		engine:   engine,
		strategy: strategy,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Engine exposes the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Suggest ranks the catalog for one item name using the default strategy.
func (s *Service) Suggest(ctx context.Context, name, manufacturer string) ([]Suggestion, error) {
	return s.SuggestWith(ctx, Query{Text: name, Manufacturer: manufacturer}, s.strategy)
}

// SuggestWith ranks the catalog with an explicit strategy.
func (s *Service) SuggestWith(ctx context.Context, q Query, strategy Strategy) ([]Suggestion, error) {
	matches, err := s.Candidates(ctx, q, strategy)
	if err != nil {
		return nil, err
	}
	out := make([]Suggestion, 0, len(matches))
	for _, m := range matches {
		out = append(out, NewSuggestion(m))
	}
	return out, nil
}

// Candidates returns the raw candidate matches for q.
func (s *Service) Candidates(ctx context.Context, q Query, strategy Strategy) ([]model.CandidateMatch, error) {
	if strategy == "" {
		strategy = s.strategy
	}
	catalog, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return s.engine.Suggest(ctx, q, catalog, strategy)
}

// Invalidate drops the cached snapshot. Call it after the catalog changes.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = nil
	s.loaded = time.Time{}
}

func (s *Service) snapshot(ctx context.Context) ([]model.CatalogEntry, error) {
	s.mu.RLock()
	if s.catalog != nil && s.now().Sub(s.loaded) < s.ttl {
		catalog := s.catalog
		s.mu.RUnlock()
		return catalog, nil
	}
	s.mu.RUnlock()

	catalog, err := s.source.ListCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	if catalog == nil {
		catalog = []model.CatalogEntry{}
	}

	s.mu.Lock()
	s.catalog = catalog
	s.loaded = s.now()
	s.mu.Unlock()

	slog.Debug("Loaded catalog snapshot", "entries", len(catalog))
	return catalog, nil
}
