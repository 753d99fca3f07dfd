package normalize

import (
	"context"
	"strings"
	"testing"

	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/loader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(t *testing.T, schema loader.Schema, csv string) *loader.Reader {
	t.Helper()
	rd, err := loader.NewReader(schema, strings.NewReader(csv))
	require.NoError(t, err)
	return rd
}

// testSources builds a small consistent dataset: two categories, three
// nutrients, three foods, and measurement rows exercising the dangling
// and duplicate paths.
func testSources(t *testing.T) Sources {
	t.Helper()
	return Sources{
		FoodCategory: reader(t, loader.FoodCategoryTable,
			"id,code,description\n"+
				"1,100,Dairy and Egg Products\n"+
				"12,1200,Oils Edible\n"),
		Nutrient: reader(t, loader.NutrientTable,
			"id,name,unit_name,nutrient_nbr,rank\n"+
				"1003,Protein,G,203,600\n"+
				"1093,\"Sodium, Na\",MG,307,5800\n"+
				"1008,Energy,KCAL,208,300\n"),
		MeasureUnit: reader(t, loader.MeasureUnitTable,
			"id,name\n9999,undetermined\n1000,cup\n"),
		Food: reader(t, loader.FoodTable,
			"fdc_id,data_type,description,food_category_id,publication_date\n"+
				"100,branded_food,Cheddar Cheese,1,2019-04-01\n"+
				"200,foundation_food,Olive Oil,12,2019-04-01\n"+
				"300,sr_legacy_food,Mystery Loaf,77,\n"), // category 77 unresolvable
		FoodNutrient: reader(t, loader.FoodNutrientTable,
			"id,fdc_id,nutrient_id,amount,data_points,derivation_id,min,max,median,loq,min_year_acquired,percent_daily_value\n"+
				"1,100,1003,24.9,4,,,,,,,\n"+
				"2,100,1093,621,1,,,,,,,\n"+
				"3,999,1003,10,1,,,,,,,\n"+ // dangling food
				"4,200,4242,1.0,1,,,,,,,\n"+ // dangling nutrient
				"5,200,1003,0.0,2,,,,,,,\n"),
		BrandedFood: reader(t, loader.BrandedFoodTable,
			"fdc_id,brand_owner,brand_name,ingredients,serving_size,serving_size_unit,household_serving_fulltext,branded_food_category,modified_date,available_date\n"+
				"100,Tillamook,Tillamook,\"cheddar cheese\",28,g,1 slice,Cheese,2019-03-01,2019-04-01\n"+
				"999,Ghost Brand,,,,,,,,\n"), // dangling food
		FoundationFood: reader(t, loader.FoundationFoodTable,
			"fdc_id,ndb_number,footnote\n200,04053,\n"),
		FoodAttribute: reader(t, loader.FoodAttributeTable,
			"id,fdc_id,seq_num,name,value\n"+
				"10,100,1,Ingredients,Pasteurized milk\n"+
				"11,100,2,Storage,Keep refrigerated\n"),
	}
}

func TestNormalizeBuildsConsistentStore(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)
	tbl := res.Tables

	require.Len(t, tbl.Foods, 3)
	assert.Equal(t, int64(100), tbl.Foods[0].FDCID)
	assert.Equal(t, int64(300), tbl.Foods[2].FDCID)

	// Every surviving child row resolves to an existing food.
	for _, m := range tbl.Measurements {
		_, ok := tbl.FoodPos(m.FDCID)
		assert.True(t, ok, "measurement %d dangles", m.ID)
	}
	require.Len(t, tbl.Measurements, 3)

	pos, ok := tbl.FoodPos(100)
	require.True(t, ok)
	assert.Len(t, tbl.MeasurementsAt(pos), 2)
	assert.Len(t, tbl.Attributes[100], 2)
	assert.Contains(t, tbl.Branded, int64(100))
	assert.Contains(t, tbl.Foundation, int64(200))
}

func TestDanglingRowsQuarantined(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)

	fn := res.Report.Table("food_nutrient")
	assert.Equal(t, uint64(5), fn.Read)
	assert.Equal(t, uint64(3), fn.Accepted)
	assert.Equal(t, uint64(2), fn.Quarantined)
	assert.Equal(t, uint64(1), fn.Reasons[loader.ReasonDanglingFood])
	assert.Equal(t, uint64(1), fn.Reasons[ReasonDanglingNutrient])

	bf := res.Report.Table("branded_food")
	assert.Equal(t, uint64(1), bf.Reasons[loader.ReasonDanglingFood])
	assert.NotContains(t, res.Tables.Branded, int64(999))
}

func TestUnresolvableCategoryBecomesAbsent(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)

	pos, ok := res.Tables.FoodPos(300)
	require.True(t, ok)
	f := res.Tables.Foods[pos]
	assert.False(t, f.CategoryID.Valid, "unresolvable reference must be absent, not fabricated")
	// The food itself is kept; only the reference field is dropped.
	assert.Equal(t, "Mystery Loaf", f.Description)

	tr := res.Report.Table("food")
	assert.Equal(t, uint64(3), tr.Accepted)
	assert.Equal(t, uint64(0), tr.Quarantined)
}

func TestDuplicatePrimaryKeyFirstWins(t *testing.T) {
	src := testSources(t)
	src.Food = reader(t, loader.FoodTable,
		"fdc_id,data_type,description,food_category_id,publication_date\n"+
			"100,branded_food,First Cheddar,1,\n"+
			"100,branded_food,Second Cheddar,1,\n")
	src.FoodNutrient = nil
	src.BrandedFood = nil
	src.FoundationFood = nil
	src.FoodAttribute = nil

	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, res.Tables.Foods, 1)
	assert.Equal(t, "First Cheddar", res.Tables.Foods[0].Description)
	assert.Equal(t, uint64(1), res.Report.Table("food").Reasons[loader.ReasonDuplicateKey])
}

func TestUnknownDataTypeQuarantined(t *testing.T) {
	src := testSources(t)
	src.Food = reader(t, loader.FoodTable,
		"fdc_id,data_type,description,food_category_id,publication_date\n"+
			"100,branded_food,Cheddar,1,\n"+
			"101,mystery_food,Unknowable,1,\n")
	src.FoodNutrient = nil
	src.BrandedFood = nil
	src.FoundationFood = nil
	src.FoodAttribute = nil

	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), src)
	require.NoError(t, err)

	require.Len(t, res.Tables.Foods, 1)
	assert.Equal(t, uint64(1), res.Report.Table("food").Reasons[loader.ReasonUnknownType])
}

func TestCountsSumPerTable(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)

	for table, tr := range res.Report.Tables {
		assert.Equal(t, tr.Read, tr.Accepted+tr.Quarantined, "table %s", table)
	}
}

func TestQuarantineRateThreshold(t *testing.T) {
	src := testSources(t)
	src.FoodNutrient = reader(t, loader.FoodNutrientTable,
		"id,fdc_id,nutrient_id,amount,data_points,derivation_id,min,max,median,loq,min_year_acquired,percent_daily_value\n"+
			"1,999,1003,1,1,,,,,,,\n"+
			"2,998,1003,1,1,,,,,,,\n"+
			"3,100,1003,1,1,,,,,,,\n")
	src.BrandedFood = nil
	src.FoundationFood = nil
	src.FoodAttribute = nil

	n := &Normalizer{MaxQuarantineRate: 0.5}
	_, err := n.Normalize(context.Background(), src)
	require.ErrorIs(t, err, ErrQuarantineRate)
}

func TestMissingRequiredTable(t *testing.T) {
	src := testSources(t)
	src.Food = nil
	n := &Normalizer{}
	_, err := n.Normalize(context.Background(), src)
	require.Error(t, err)
}

func TestNilChildReadersAreEmptyTables(t *testing.T) {
	src := testSources(t)
	src.FoodNutrient = nil
	src.BrandedFood = nil
	src.FoundationFood = nil
	src.FoodAttribute = nil

	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, res.Tables.Measurements)
	assert.Empty(t, res.Tables.Branded)
}

func TestCancelledContextAborts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := &Normalizer{}
	_, err := n.Normalize(ctx, testSources(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestReportJSONIncludesReasons(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)

	out := res.Report.JSON()
	assert.Contains(t, out, "food_nutrient")
	assert.Contains(t, out, loader.ReasonDanglingFood)
}

func TestMeasurementZeroAmountIsData(t *testing.T) {
	n := &Normalizer{}
	res, err := n.Normalize(context.Background(), testSources(t))
	require.NoError(t, err)

	pos, ok := res.Tables.FoodPos(200)
	require.True(t, ok)
	meas := res.Tables.MeasurementsAt(pos)
	require.Len(t, meas, 1)
	assert.Equal(t, api.OptFloat{Value: 0, Valid: true}, meas[0].Amount)
}
