package query

import (
	"context"
	"testing"

	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/cache"
	"github.com/nutridex/nutridex/internal/index"
	"github.com/nutridex/nutridex/internal/metrics"
	"github.com/nutridex/nutridex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSnapshot(t *testing.T) *store.Snapshot {
	t.Helper()
	tbl := store.NewTables()
	tbl.Categories[1] = api.FoodCategory{ID: 1, Description: "Dairy and Egg Products"}
	tbl.Categories[12] = api.FoodCategory{ID: 12, Description: "Oils Edible"}
	tbl.Nutrients[1003] = api.Nutrient{ID: 1003, Name: "Protein", UnitName: "G", Rank: api.Float(600)}
	tbl.Nutrients[1093] = api.Nutrient{ID: 1093, Name: "Sodium, Na", UnitName: "MG", Rank: api.Float(5800)}

	tbl.Foods = []api.Food{
		{FDCID: 100, DataType: api.DataTypeBranded, Description: "Cheddar Cheese", CategoryID: api.Int(1)},
		{FDCID: 200, DataType: api.DataTypeFoundation, Description: "Olive Oil", CategoryID: api.Int(12)},
		{FDCID: 300, DataType: api.DataTypeFoundation, Description: "Avocado Oil", CategoryID: api.Int(12)},
		{FDCID: 400, DataType: api.DataTypeSRLegacy, Description: "Mystery Loaf"},
		{FDCID: 500, DataType: api.DataTypeBranded, Description: "Canola Oil Spread", CategoryID: api.Int(12)},
	}
	tbl.Measurements = []api.Measurement{
		{ID: 1, FDCID: 100, NutrientID: 1003, Amount: api.Float(25)},
		{ID: 2, FDCID: 100, NutrientID: 1093, Amount: api.Float(600)},
		{ID: 3, FDCID: 200, NutrientID: 1003, Amount: api.Float(0)},
	}
	tbl.Branded[100] = api.BrandedFood{FDCID: 100, BrandOwner: "Tillamook"}
	tbl.Branded[500] = api.BrandedFood{FDCID: 500, BrandName: "SpreadCo"}
	tbl.Foundation[200] = api.FoundationFood{FDCID: 200, NDBNumber: "04053"}
	tbl.Finalize()

	scores := store.NewScores(len(tbl.Foods), "w1")
	scores.Value[0], scores.Valid[0] = 2.0, true // Cheddar
	scores.Value[1], scores.Valid[1] = 3.5, true // Olive Oil
	scores.Value[2], scores.Valid[2] = 1.0, true // Avocado Oil
	// Mystery Loaf and Canola Oil Spread are unscored.

	idx, err := index.Build(context.Background(), tbl, scores)
	require.NoError(t, err)
	return &store.Snapshot{Tables: tbl, Scores: scores, Index: idx}
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	sw := store.NewSwapper()
	sw.Publish(testSnapshot(t))
	qc, err := cache.New(16, metrics.Nop())
	require.NoError(t, err)
	return &Engine{Snapshots: sw, Cache: qc}
}

func fdcIDs(page api.FoodPage) []int64 {
	ids := make([]int64, len(page.Foods))
	for i, f := range page.Foods {
		ids[i] = f.FDCID
	}
	return ids
}

func TestGetFood(t *testing.T) {
	e := testEngine(t)

	d, err := e.GetFood(100)
	require.NoError(t, err)
	assert.Equal(t, "Cheddar Cheese", d.Food.Description)
	require.NotNil(t, d.Category)
	assert.Equal(t, "Dairy and Egg Products", d.Category.Description)
	require.NotNil(t, d.Branded)
	assert.Equal(t, "Tillamook", d.Branded.BrandOwner)
	assert.Nil(t, d.Foundation)

	require.Len(t, d.Measurements, 2)
	assert.Equal(t, "Protein", d.Measurements[0].NutrientName)
	assert.Equal(t, "G", d.Measurements[0].UnitName)
	assert.Equal(t, "MG", d.Measurements[1].UnitName)

	require.NotNil(t, d.Score)
	assert.Equal(t, 2.0, d.Score.Score)
}

func TestGetFoodNotFound(t *testing.T) {
	e := testEngine(t)
	_, err := e.GetFood(999999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetFoodUnscored(t *testing.T) {
	e := testEngine(t)
	d, err := e.GetFood(400)
	require.NoError(t, err)
	assert.Nil(t, d.Score, "unscored food serves no score record")
	assert.Empty(t, d.Measurements)
}

func TestNotReadyBeforeFirstPublish(t *testing.T) {
	e := &Engine{Snapshots: store.NewSwapper()}
	_, err := e.GetFood(100)
	require.ErrorIs(t, err, ErrNotReady)
	_, err = e.ListFoods(api.ListQuery{})
	require.ErrorIs(t, err, ErrNotReady)
}

func TestListFoodsDefaultOrder(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 200, 300, 400, 500}, fdcIDs(page))
	assert.Equal(t, 5, page.Total)
}

func TestListFoodsCategoryByDescriptionSortedByDescription(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{
		Category: "Oils Edible",
		Sort:     api.SortByDescription,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{300, 500, 200}, fdcIDs(page))
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, "Oils Edible", page.Foods[0].Category)
}

func TestListFoodsCategoryByID(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{Category: "12"})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300, 500}, fdcIDs(page))
}

func TestListFoodsUnknownCategoryIsEmpty(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{Category: "No Such Category"})
	require.NoError(t, err)
	assert.Empty(t, page.Foods)
	assert.Zero(t, page.Total)
}

func TestListFoodsDataTypeFilter(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{DataType: api.DataTypeFoundation})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300}, fdcIDs(page))

	page, err = e.ListFoods(api.ListQuery{Category: "12", DataType: api.DataTypeBranded})
	require.NoError(t, err)
	assert.Equal(t, []int64{500}, fdcIDs(page))
}

func TestListFoodsInvalidDataType(t *testing.T) {
	e := testEngine(t)
	_, err := e.ListFoods(api.ListQuery{DataType: "mystery_food"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestListFoodsScoreSortNullsLast(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{Sort: api.SortByScore})
	require.NoError(t, err)
	// Scored first by score descending, then unscored by ascending id.
	assert.Equal(t, []int64{200, 100, 300, 400, 500}, fdcIDs(page))
	assert.Nil(t, page.Foods[3].Score)
	assert.Nil(t, page.Foods[4].Score)
}

func TestListFoodsPaging(t *testing.T) {
	e := testEngine(t)
	page, err := e.ListFoods(api.ListQuery{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300}, fdcIDs(page))
	assert.Equal(t, 5, page.Total)

	page, err = e.ListFoods(api.ListQuery{Limit: 2, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Foods)
	assert.Equal(t, 5, page.Total)
}

func TestSearchFoods(t *testing.T) {
	e := testEngine(t)

	hits, err := e.SearchFoods("oil", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(200), hits[0].FDCID)
	assert.Equal(t, int64(300), hits[1].FDCID)
	assert.Equal(t, int64(500), hits[2].FDCID)

	// Two tokens outrank one.
	hits, err = e.SearchFoods("avocado oil", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, int64(300), hits[0].FDCID)
	assert.Equal(t, 2, hits[0].Relevance)

	// Brand fields are searchable.
	hits, err = e.SearchFoods("tillamook", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(100), hits[0].FDCID)
}

func TestSearchFoodsEmptyQueryRejected(t *testing.T) {
	e := testEngine(t)
	for _, text := range []string{"", "   ", "\t\n", "--!!--"} {
		_, err := e.SearchFoods(text, 5)
		require.ErrorIs(t, err, ErrInvalidArgument, "query %q", text)
	}
}

func TestNutrientDenseFoods(t *testing.T) {
	e := testEngine(t)

	page, err := e.NutrientDenseFoods(api.RankQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 100, 300}, fdcIDs(page))
	assert.Equal(t, 3, page.Total)

	page, err = e.NutrientDenseFoods(api.RankQuery{Category: "Oils Edible"})
	require.NoError(t, err)
	assert.Equal(t, []int64{200, 300}, fdcIDs(page))

	page, err = e.NutrientDenseFoods(api.RankQuery{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, fdcIDs(page))
	assert.Equal(t, 3, page.Total)
}

func TestNutrientDenseFoodsCacheHit(t *testing.T) {
	sw := store.NewSwapper()
	sw.Publish(testSnapshot(t))
	m := metrics.Nop()
	qc, err := cache.New(16, m)
	require.NoError(t, err)
	e := &Engine{Snapshots: sw, Cache: qc}

	first, err := e.NutrientDenseFoods(api.RankQuery{})
	require.NoError(t, err)
	second, err := e.NutrientDenseFoods(api.RankQuery{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCacheDisabledSameResults(t *testing.T) {
	sw := store.NewSwapper()
	sw.Publish(testSnapshot(t))
	cached, err := cache.New(16, metrics.Nop())
	require.NoError(t, err)
	disabled, err := cache.New(0, metrics.Nop())
	require.NoError(t, err)

	a := &Engine{Snapshots: sw, Cache: cached}
	b := &Engine{Snapshots: sw, Cache: disabled}

	q := api.RankQuery{Category: "12", Limit: 10}
	pa, err := a.NutrientDenseFoods(q)
	require.NoError(t, err)
	// Second call through the warm cache.
	pa2, err := a.NutrientDenseFoods(q)
	require.NoError(t, err)
	pb, err := b.NutrientDenseFoods(q)
	require.NoError(t, err)

	assert.Equal(t, pb, pa)
	assert.Equal(t, pb, pa2)

	lq := api.ListQuery{Category: "Oils Edible", Sort: api.SortByDescription, Limit: 10}
	la, err := a.ListFoods(lq)
	require.NoError(t, err)
	la2, err := a.ListFoods(lq)
	require.NoError(t, err)
	lb, err := b.ListFoods(lq)
	require.NoError(t, err)
	assert.Equal(t, lb, la)
	assert.Equal(t, lb, la2)

	sa, err := a.SearchFoods("avocado oil", 10)
	require.NoError(t, err)
	sa2, err := a.SearchFoods("avocado oil", 10)
	require.NoError(t, err)
	sb, err := b.SearchFoods("avocado oil", 10)
	require.NoError(t, err)
	assert.Equal(t, sb, sa)
	assert.Equal(t, sb, sa2)
}

func TestSearchCacheKeyIsTokenCanonical(t *testing.T) {
	e := testEngine(t)

	// Same token set under different spelling of the query text: the
	// second call must be answered from the memo with identical hits.
	first, err := e.SearchFoods("Avocado  OIL", 10)
	require.NoError(t, err)
	second, err := e.SearchFoods("oil avocado", 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestListNutrientsReturnsCopy(t *testing.T) {
	e := testEngine(t)

	nuts, err := e.ListNutrients()
	require.NoError(t, err)
	require.NotEmpty(t, nuts)
	nuts[0].Name = "clobbered"

	again, err := e.ListNutrients()
	require.NoError(t, err)
	assert.Equal(t, "Protein", again[0].Name)

	cats, err := e.ListCategories()
	require.NoError(t, err)
	cats[0].Description = "clobbered"
	again2, err := e.ListCategories()
	require.NoError(t, err)
	assert.Equal(t, "Dairy and Egg Products", again2[0].Description)
}

func TestListNutrientsAndCategories(t *testing.T) {
	e := testEngine(t)

	nuts, err := e.ListNutrients()
	require.NoError(t, err)
	require.Len(t, nuts, 2)
	assert.Equal(t, "Protein", nuts[0].Name)

	cats, err := e.ListCategories()
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, int64(1), cats[0].ID)
	assert.Equal(t, int64(12), cats[1].ID)
}

func TestInvalidSortRejected(t *testing.T) {
	e := testEngine(t)
	_, err := e.ListFoods(api.ListQuery{Sort: "tastiness"})
	require.ErrorIs(t, err, ErrInvalidArgument)
}
