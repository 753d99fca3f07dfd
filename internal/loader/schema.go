// Package loader streams delimited source tables into typed rows.
//
// Each table has a declared schema (column names, semantic types,
// nullability). The reader validates the file header against the schema
// before yielding anything, and never materializes a table in memory.
package loader

// ColumnType is the semantic type a column parses to.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	// TypeDate is an ISO yyyy-mm-dd string, validated but kept textual.
	TypeDate
)

// Column declares one field of a source table.
type Column struct {
	Name string
	Type ColumnType
	// Required marks columns documented as always-present: an empty value
	// there is a row-level error, not a null.
	Required bool
}

// Schema declares the fixed column set of one source table. The provider
// versions these; a header that does not match is a schema error for the
// whole file, distinct from row-level errors.
type Schema struct {
	Table   string
	Columns []Column
}

func (s Schema) column(name string) (int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return 0, false
}

var (
	// FoodTable is food.csv: the root entity table, multi-million rows.
	FoodTable = Schema{
		Table: "food",
		Columns: []Column{
			{Name: "fdc_id", Type: TypeInt, Required: true},
			{Name: "data_type", Type: TypeString, Required: true},
			{Name: "description", Type: TypeString, Required: true},
			{Name: "food_category_id", Type: TypeInt},
			{Name: "publication_date", Type: TypeDate},
		},
	}

	// FoodCategoryTable is food_category.csv: a closed table of dozens of rows.
	FoodCategoryTable = Schema{
		Table: "food_category",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Required: true},
			{Name: "code", Type: TypeInt},
			{Name: "description", Type: TypeString, Required: true},
		},
	}

	// NutrientTable is nutrient.csv: the nutrient reference table.
	NutrientTable = Schema{
		Table: "nutrient",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Required: true},
			{Name: "name", Type: TypeString, Required: true},
			{Name: "unit_name", Type: TypeString, Required: true},
			{Name: "nutrient_nbr", Type: TypeString},
			{Name: "rank", Type: TypeFloat},
		},
	}

	// FoodNutrientTable is food_nutrient.csv: the measurement fact table,
	// tens of millions of rows. (fdc_id, nutrient_id) is NOT unique.
	FoodNutrientTable = Schema{
		Table: "food_nutrient",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Required: true},
			{Name: "fdc_id", Type: TypeInt, Required: true},
			{Name: "nutrient_id", Type: TypeInt, Required: true},
			{Name: "amount", Type: TypeFloat},
			{Name: "data_points", Type: TypeInt},
			{Name: "derivation_id", Type: TypeInt},
			{Name: "min", Type: TypeFloat},
			{Name: "max", Type: TypeFloat},
			{Name: "median", Type: TypeFloat},
			{Name: "loq", Type: TypeFloat},
			{Name: "min_year_acquired", Type: TypeInt},
			{Name: "percent_daily_value", Type: TypeFloat},
		},
	}

	// BrandedFoodTable is branded_food.csv: 1:1 extension of branded foods.
	BrandedFoodTable = Schema{
		Table: "branded_food",
		Columns: []Column{
			{Name: "fdc_id", Type: TypeInt, Required: true},
			{Name: "brand_owner", Type: TypeString},
			{Name: "brand_name", Type: TypeString},
			{Name: "ingredients", Type: TypeString},
			{Name: "serving_size", Type: TypeFloat},
			{Name: "serving_size_unit", Type: TypeString},
			{Name: "household_serving_fulltext", Type: TypeString},
			{Name: "branded_food_category", Type: TypeString},
			{Name: "modified_date", Type: TypeDate},
			{Name: "available_date", Type: TypeDate},
		},
	}

	// FoundationFoodTable is foundation_food.csv: 1:1 legacy-number extension.
	FoundationFoodTable = Schema{
		Table: "foundation_food",
		Columns: []Column{
			{Name: "fdc_id", Type: TypeInt, Required: true},
			{Name: "ndb_number", Type: TypeString},
			{Name: "footnote", Type: TypeString},
		},
	}

	// FoodAttributeTable is food_attribute.csv: free-form annotations.
	FoodAttributeTable = Schema{
		Table: "food_attribute",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Required: true},
			{Name: "fdc_id", Type: TypeInt, Required: true},
			{Name: "seq_num", Type: TypeInt},
			{Name: "name", Type: TypeString},
			{Name: "value", Type: TypeString},
		},
	}

	// MeasureUnitTable is measure_unit.csv: serving-size unit names.
	MeasureUnitTable = Schema{
		Table: "measure_unit",
		Columns: []Column{
			{Name: "id", Type: TypeInt, Required: true},
			{Name: "name", Type: TypeString, Required: true},
		},
	}
)

// AllTables lists every table the pipeline ingests, reference tables first.
var AllTables = []Schema{
	FoodCategoryTable,
	NutrientTable,
	MeasureUnitTable,
	FoodTable,
	FoodNutrientTable,
	BrandedFoodTable,
	FoundationFoodTable,
	FoodAttributeTable,
}
