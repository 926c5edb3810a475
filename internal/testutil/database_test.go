package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/smeta/internal/model"
	"github.com/Veraticus/smeta/internal/storage"
)

func TestSetupTestDB_SeedsFixtures(t *testing.T) {
	db := SetupTestDB(t, FixtureLighting, FixtureCables)

	assert.Equal(t, 7, db.MustCount())
	assert.Len(t, db.Seeded, 7)
	assert.Equal(t, "Кольчугино", model.Deref(db.MustGet("C1").Manufacturer))
	assert.Nil(t, db.MustGet("L4").Price)
}

func TestSetupTestDBWithOptions(t *testing.T) {
	called := false
	db := SetupTestDBWithOptions(t, TestDBOptions{
		Records:    FixtureCables.Records(),
		Schema:     model.SchemaProduct,
		SourceFile: "cables.xlsx",
		CustomSetup: func(ctx context.Context, s *storage.SQLiteStorage) error {
			called = true
			return s.DeleteByKey(ctx, "C3")
		},
	})

	assert.True(t, called)
	assert.Equal(t, 2, db.MustCount())
	assert.Equal(t, model.SchemaProduct, db.MustGet("C2").Schema)
}

func TestFixtureRecordsAreCopies(t *testing.T) {
	first := FixtureLighting.Records()
	*first[0].Price = 1

	second := FixtureLighting.Records()
	require.NotNil(t, second[0].Price)
	assert.InDelta(t, 2450, *second[0].Price, 0.001)
	assert.Equal(t, "Lighting", FixtureLighting.Name())
}
