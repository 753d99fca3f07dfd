// Package api declares the entity shapes served at the query boundary.
// The transport layer that exposes these to clients lives outside this
// module; everything it consumes is defined here.
package api

// DataType is the source classification of a food record.
// The set is closed; the loader rejects rows carrying anything else.
type DataType string

const (
	DataTypeBranded      DataType = "branded_food"
	DataTypeFoundation   DataType = "foundation_food"
	DataTypeSurvey       DataType = "survey_fndds_food"
	DataTypeSRLegacy     DataType = "sr_legacy_food"
	DataTypeSubSample    DataType = "sub_sample_food"
	DataTypeExperimental DataType = "experimental_food"
	DataTypeAgricultural DataType = "agricultural_acquisition"
)

// KnownDataTypes enumerates every valid classification tag.
var KnownDataTypes = map[DataType]struct{}{
	DataTypeBranded:      {},
	DataTypeFoundation:   {},
	DataTypeSurvey:       {},
	DataTypeSRLegacy:     {},
	DataTypeSubSample:    {},
	DataTypeExperimental: {},
	DataTypeAgricultural: {},
}

// OptFloat is a three-state float column value: present, or absent.
// Parse failures never reach this type; the loader rejects the row.
type OptFloat struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// OptInt is the integer counterpart of OptFloat.
type OptInt struct {
	Value int64 `json:"value"`
	Valid bool  `json:"valid"`
}

// Float wraps a present float value.
func Float(v float64) OptFloat { return OptFloat{Value: v, Valid: true} }

// Int wraps a present integer value.
func Int(v int64) OptInt { return OptInt{Value: v, Valid: true} }

// Food is one nutritional database entry, keyed by its stable FDC id.
// Immutable once ingested; a rebuild replaces the whole table.
type Food struct {
	FDCID           int64    `json:"fdc_id"`
	DataType        DataType `json:"data_type"`
	Description     string   `json:"description"`
	CategoryID      OptInt   `json:"category_id"`
	PublicationDate string   `json:"publication_date,omitempty"`
}

// FoodCategory is a closed reference table entry (dozens of rows).
type FoodCategory struct {
	ID          int64  `json:"id"`
	Code        OptInt `json:"code"`
	Description string `json:"description"`
}

// Nutrient is a reference table entry (hundreds of rows).
// Rank is the provider's display ordering, not a quality measure.
type Nutrient struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	UnitName string   `json:"unit_name"`
	Number   string   `json:"nutrient_nbr,omitempty"`
	Rank     OptFloat `json:"rank"`
}

// MeasureUnit is a closed reference table of serving-size unit names.
type MeasureUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Measurement is one reported amount of a nutrient for a food, with the
// source's optional statistical cluster. (FDCID, NutrientID) pairs are not
// unique in source data; the scorer aggregates duplicates.
type Measurement struct {
	ID              int64    `json:"id"`
	FDCID           int64    `json:"fdc_id"`
	NutrientID      int64    `json:"nutrient_id"`
	Amount          OptFloat `json:"amount"`
	DataPoints      OptInt   `json:"data_points"`
	DerivationID    OptInt   `json:"derivation_id"`
	Min             OptFloat `json:"min"`
	Max             OptFloat `json:"max"`
	Median          OptFloat `json:"median"`
	LOQ             OptFloat `json:"loq"`
	MinYearAcquired OptInt   `json:"min_year_acquired"`
	PercentDV       OptFloat `json:"percent_daily_value"`
}

// MeasurementView is a measurement joined with its nutrient's unit and
// name. Raw amounts are never served without their unit.
type MeasurementView struct {
	Measurement
	NutrientName string `json:"nutrient_name"`
	UnitName     string `json:"unit_name"`
}

// BrandedFood is the optional 1:1 commercial extension of a branded food.
type BrandedFood struct {
	FDCID            int64    `json:"fdc_id"`
	BrandOwner       string   `json:"brand_owner,omitempty"`
	BrandName        string   `json:"brand_name,omitempty"`
	Ingredients      string   `json:"ingredients,omitempty"`
	ServingSize      OptFloat `json:"serving_size"`
	ServingSizeUnit  string   `json:"serving_size_unit,omitempty"`
	HouseholdServing string   `json:"household_serving_fulltext,omitempty"`
	BrandedCategory  string   `json:"branded_food_category,omitempty"`
	ModifiedDate     string   `json:"modified_date,omitempty"`
	AvailableDate    string   `json:"available_date,omitempty"`
}

// FoundationFood is the optional 1:1 legacy-numbering extension.
type FoundationFood struct {
	FDCID     int64  `json:"fdc_id"`
	NDBNumber string `json:"ndb_number,omitempty"`
	Footnote  string `json:"footnote,omitempty"`
}

// FoodAttribute is a free-form annotation; a food may carry many, and
// names are not unique per food.
type FoodAttribute struct {
	ID     int64  `json:"id"`
	FDCID  int64  `json:"fdc_id"`
	SeqNum OptInt `json:"seq_num"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
}

// DensityScore is the derived composite per food. Foods with no resolved
// measurements have no DensityScore record at all.
type DensityScore struct {
	FDCID          int64    `json:"fdc_id"`
	Score          float64  `json:"score"`
	Completeness   float64  `json:"completeness"`
	KcalPer100g    OptFloat `json:"kcal_per_100g"`
	WeightsVersion string   `json:"weights_version"`
}

// FoodDetail is the full single-food resource: the food, its extension if
// any, its measurements with units resolved, and its score if any.
type FoodDetail struct {
	Food         Food              `json:"food"`
	Category     *FoodCategory     `json:"category,omitempty"`
	Branded      *BrandedFood      `json:"branded,omitempty"`
	Foundation   *FoundationFood   `json:"foundation,omitempty"`
	Attributes   []FoodAttribute   `json:"attributes,omitempty"`
	Measurements []MeasurementView `json:"measurements"`
	Score        *DensityScore     `json:"score,omitempty"`
}

// FoodSummary is one row of a food listing or ranking page.
type FoodSummary struct {
	FDCID       int64         `json:"fdc_id"`
	DataType    DataType      `json:"data_type"`
	Description string        `json:"description"`
	Category    string        `json:"category,omitempty"`
	Score       *DensityScore `json:"score,omitempty"`
}
