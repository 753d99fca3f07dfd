package api

// SortKey selects the ordering of a food listing.
type SortKey string

const (
	SortByID          SortKey = "id"
	SortByDescription SortKey = "description"
	// SortByScore orders by density score descending, unscored foods last.
	SortByScore SortKey = "score"
)

// ListQuery describes a paged, filtered, sorted food listing request.
// Zero values mean "no filter"; Limit <= 0 falls back to a server default.
type ListQuery struct {
	// Category matches either the numeric category id (as digits) or the
	// exact category description.
	Category string   `json:"category,omitempty"`
	DataType DataType `json:"data_type,omitempty"`
	Sort     SortKey  `json:"sort,omitempty"`
	Limit    int      `json:"limit"`
	Offset   int      `json:"offset"`
}

// RankQuery describes a nutrient-density ranking request.
type RankQuery struct {
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// FoodPage is one page of listing or ranking results.
type FoodPage struct {
	Foods  []FoodSummary `json:"foods"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
	// Total is the number of foods matching the filter, ignoring paging.
	Total int `json:"total"`
}

// SearchHit is one ranked free-text match.
type SearchHit struct {
	FoodSummary
	// Relevance counts distinct query tokens matched; higher is better.
	Relevance int `json:"relevance"`
}
