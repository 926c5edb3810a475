package matching

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/smeta/internal/model"
)

type countingSource struct {
	err     error
	catalog []model.CatalogEntry
	calls   int
}

func (s *countingSource) ListCatalog(_ context.Context) ([]model.CatalogEntry, error) {
	s.calls++
	return s.catalog, s.err
}

func TestService_SuggestFlattensMatches(t *testing.T) {
	price := 1250.0
	source := &countingSource{catalog: []model.CatalogEntry{
		{Key: "k1", Name: "Кабель ВВГ 3x2.5", Code: "ВВГ-3", Manufacturer: "ЗаводА", Unit: "м", Price: &price, Source: "Прайс 2024"},
	}}
	svc := NewService(source, NewEngine(DefaultConfig()), "", time.Minute)

	got, err := svc.Suggest(context.Background(), "кабель ввг", "завода")
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, Suggestion{
		Key:          "k1",
		Code:         "ВВГ-3",
		Name:         "Кабель ВВГ 3x2.5",
		Manufacturer: "ЗаводА",
		Unit:         "м",
		Price:        &price,
		Source:       "Прайс 2024",
		Score:        97,
		Tier:         model.TierKeyword,
	}, got[0])
}

func TestService_CachesUntilTTLOrInvalidate(t *testing.T) {
	source := &countingSource{catalog: []model.CatalogEntry{{Key: "1", Name: "Розетка"}}}
	svc := NewService(source, NewEngine(DefaultConfig()), StrategyCombined, time.Minute)

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	ctx := context.Background()
	_, err := svc.Suggest(ctx, "розетка", "")
	require.NoError(t, err)
	_, err = svc.Suggest(ctx, "розетка", "")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	now = now.Add(2 * time.Minute)
	_, err = svc.Suggest(ctx, "розетка", "")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	svc.Invalidate()
	_, err = svc.Suggest(ctx, "розетка", "")
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestService_EmptyCatalogIsCached(t *testing.T) {
	source := &countingSource{}
	svc := NewService(source, NewEngine(DefaultConfig()), StrategyCombined, time.Minute)

	for range 3 {
		got, err := svc.Suggest(context.Background(), "розетка", "")
		require.NoError(t, err)
		assert.Empty(t, got)
	}
	assert.Equal(t, 1, source.calls)
}

func TestService_SourceError(t *testing.T) {
	boom := errors.New("database is locked")
	svc := NewService(&countingSource{err: boom}, NewEngine(DefaultConfig()), StrategyCombined, 0)

	_, err := svc.Suggest(context.Background(), "розетка", "")
	assert.ErrorIs(t, err, boom)
}

func TestSelectMatch(t *testing.T) {
	rec := model.CanonicalRecord{
		Key:          "row-1",
		Name:         "Кабель",
		Code:         model.StringPtr("OLD"),
		Manufacturer: model.StringPtr("Старый"),
		Unit:         model.StringPtr("м"),
		Price:        model.FloatPtr(10),
		Quantity:     model.FloatPtr(120),
	}

	t.Run("entry without unit or price", func(t *testing.T) {
		zero := 0.0
		got := SelectMatch(rec, model.CatalogEntry{Key: "cat-7", Code: "ВВГ-3", Price: &zero, Source: "catalog"})

		assert.Equal(t, "ВВГ-3", model.Deref(got.Code))
		assert.Nil(t, got.Manufacturer)
		assert.Equal(t, "м", model.Deref(got.Unit))
		assert.Nil(t, got.Price)
		assert.Equal(t, "catalog", model.Deref(got.PriceSource))
		assert.Equal(t, "cat-7", model.Deref(got.ProductCode))
		assert.Equal(t, "Кабель", got.Name)
		require.NotNil(t, got.Quantity)
		assert.InDelta(t, 120, *got.Quantity, 1e-9)
	})

	t.Run("entry with unit and price", func(t *testing.T) {
		price := 250.5
		entry := model.CatalogEntry{Key: "cat-8", Code: "ВВГ-5", Manufacturer: "ЗаводА", Unit: "км", Price: &price, Source: "Прайс"}
		got := SelectMatch(rec, entry)

		assert.Equal(t, "ЗаводА", model.Deref(got.Manufacturer))
		assert.Equal(t, "км", model.Deref(got.Unit))
		require.NotNil(t, got.Price)
		assert.InDelta(t, 250.5, *got.Price, 1e-9)

		price = 1
		assert.InDelta(t, 250.5, *got.Price, 1e-9)
	})

	assert.Equal(t, "OLD", model.Deref(rec.Code))
	assert.InDelta(t, 10, *rec.Price, 1e-9)
}
