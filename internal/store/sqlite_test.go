package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/nutridex/nutridex/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	tbl := sampleTables()
	tbl.MeasureUnits[1000] = api.MeasureUnit{ID: 1000, Name: "cup"}
	tbl.Branded[100] = api.BrandedFood{
		FDCID:           100,
		BrandOwner:      "Tillamook",
		ServingSize:     api.Float(28),
		ServingSizeUnit: "g",
		BrandedCategory: "Cheese",
	}
	tbl.Foundation[200] = api.FoundationFood{FDCID: 200, NDBNumber: "04053"}
	tbl.Attributes[100] = []api.FoodAttribute{
		{ID: 10, FDCID: 100, SeqNum: api.Int(1), Name: "Ingredients", Value: "Milk"},
	}

	scores := NewScores(len(tbl.Foods), "w1")
	scores.Value[0], scores.Valid[0] = 2.5, true
	scores.Completeness[0] = 0.4
	scores.Kcal[0] = api.Float(402)
	scores.Value[1], scores.Valid[1] = -0.25, true

	snap := &Snapshot{
		Tables:  tbl,
		Scores:  scores,
		Version: 7,
		BuiltAt: time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
	}

	path := filepath.Join(t.TempDir(), "snapshot.db")
	require.NoError(t, SaveSnapshot(path, snap))

	got, err := LoadSnapshot(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), got.Version)
	assert.Equal(t, snap.BuiltAt, got.BuiltAt)
	assert.Nil(t, got.Index, "indexes are rebuilt, not persisted")

	assert.Equal(t, tbl.Foods, got.Tables.Foods)
	assert.Equal(t, tbl.Measurements, got.Tables.Measurements)
	assert.Equal(t, tbl.Categories, got.Tables.Categories)
	assert.Equal(t, tbl.Nutrients, got.Tables.Nutrients)
	assert.Equal(t, tbl.MeasureUnits, got.Tables.MeasureUnits)
	assert.Equal(t, tbl.Branded, got.Tables.Branded)
	assert.Equal(t, tbl.Foundation, got.Tables.Foundation)
	assert.Equal(t, tbl.Attributes, got.Tables.Attributes)

	assert.Equal(t, "w1", got.Scores.WeightsVersion)
	assert.Equal(t, scores.Value, got.Scores.Value)
	assert.Equal(t, scores.Valid, got.Scores.Valid)
	assert.Equal(t, scores.Completeness, got.Scores.Completeness)
	assert.Equal(t, scores.Kcal, got.Scores.Kcal)

	// Offset structures were rebuilt by Finalize on load.
	pos, ok := got.Tables.FoodPos(100)
	require.True(t, ok)
	assert.Len(t, got.Tables.MeasurementsAt(pos), 3)
}

func TestSaveSnapshotReplacesPreviousContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")

	first := &Snapshot{Tables: sampleTables(), Scores: NewScores(3, "w1"), Version: 1}
	require.NoError(t, SaveSnapshot(path, first))

	small := NewTables()
	small.Foods = []api.Food{{FDCID: 42, DataType: api.DataTypeBranded, Description: "Only"}}
	small.Finalize()
	second := &Snapshot{Tables: small, Scores: NewScores(1, "w2"), Version: 2}
	require.NoError(t, SaveSnapshot(path, second))

	got, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.Version)
	require.Len(t, got.Tables.Foods, 1)
	assert.Equal(t, int64(42), got.Tables.Foods[0].FDCID)
	assert.Empty(t, got.Tables.Measurements)
	assert.Equal(t, "w2", got.Scores.WeightsVersion)
}

func TestLoadSnapshotMissingFile(t *testing.T) {
	// sql.Open is lazy; the meta query surfaces the failure.
	_, err := LoadSnapshot(filepath.Join(t.TempDir(), "absent", "x.db"))
	require.Error(t, err)
}
