// Package store holds the normalized snapshot: flat entity tables, the
// derived scores, the serving indexes, and the atomic publish mechanism.
//
// Everything in a snapshot is immutable after the pipeline publishes it;
// a rebuild constructs the next snapshot off to the side and swaps a
// single pointer.
package store

import (
	"cmp"
	"slices"

	"github.com/nutridex/nutridex/api"
)

// Tables is the normalized store produced by one pipeline run. Foods and
// Measurements use flat sorted slices with offset ranges rather than
// per-row object graphs, which keeps the multi-million-row tables to a
// handful of contiguous allocations.
type Tables struct {
	Categories   map[int64]api.FoodCategory
	CategoryList []api.FoodCategory // ascending id
	Nutrients    map[int64]api.Nutrient
	NutrientList []api.Nutrient // display rank, then id
	MeasureUnits map[int64]api.MeasureUnit

	// Foods is sorted by ascending FDCID; a food's position in this slice
	// is its offset everywhere else (bitmaps, score slices, MeasStart).
	Foods []api.Food

	// Measurements is sorted by (FDCID, NutrientID, ID). MeasStart has
	// len(Foods)+1 entries; food at offset p owns
	// Measurements[MeasStart[p]:MeasStart[p+1]].
	Measurements []api.Measurement
	MeasStart    []int32

	Branded    map[int64]api.BrandedFood
	Foundation map[int64]api.FoundationFood
	Attributes map[int64][]api.FoodAttribute

	foodPos map[int64]int32
}

func NewTables() *Tables {
	return &Tables{
		Categories:   make(map[int64]api.FoodCategory),
		Nutrients:    make(map[int64]api.Nutrient),
		MeasureUnits: make(map[int64]api.MeasureUnit),
		Branded:      make(map[int64]api.BrandedFood),
		Foundation:   make(map[int64]api.FoundationFood),
		Attributes:   make(map[int64][]api.FoodAttribute),
	}
}

// Finalize sorts the flat tables and builds the offset structures. Must be
// called exactly once, after all rows are appended and before any lookup.
func (t *Tables) Finalize() {
	slices.SortFunc(t.Foods, func(a, b api.Food) int {
		return cmp.Compare(a.FDCID, b.FDCID)
	})
	t.foodPos = make(map[int64]int32, len(t.Foods))
	for i, f := range t.Foods {
		t.foodPos[f.FDCID] = int32(i)
	}

	// Drop measurements whose food id does not resolve. The normalizer
	// never produces them, but Finalize is also fed from persisted files;
	// a single orphan left in place would shift every later food's range.
	kept := t.Measurements[:0]
	for _, m := range t.Measurements {
		if _, ok := t.foodPos[m.FDCID]; ok {
			kept = append(kept, m)
		}
	}
	t.Measurements = kept

	slices.SortFunc(t.Measurements, func(a, b api.Measurement) int {
		if c := cmp.Compare(a.FDCID, b.FDCID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.NutrientID, b.NutrientID); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	t.MeasStart = make([]int32, len(t.Foods)+1)
	mi := 0
	for p, f := range t.Foods {
		t.MeasStart[p] = int32(mi)
		for mi < len(t.Measurements) && t.Measurements[mi].FDCID == f.FDCID {
			mi++
		}
	}
	t.MeasStart[len(t.Foods)] = int32(mi)

	t.CategoryList = t.CategoryList[:0]
	for _, c := range t.Categories {
		t.CategoryList = append(t.CategoryList, c)
	}
	slices.SortFunc(t.CategoryList, func(a, b api.FoodCategory) int {
		return cmp.Compare(a.ID, b.ID)
	})

	t.NutrientList = t.NutrientList[:0]
	for _, n := range t.Nutrients {
		t.NutrientList = append(t.NutrientList, n)
	}
	slices.SortFunc(t.NutrientList, func(a, b api.Nutrient) int {
		ar, br := a.Rank, b.Rank
		switch {
		case ar.Valid && br.Valid && ar.Value != br.Value:
			return cmp.Compare(ar.Value, br.Value)
		case ar.Valid != br.Valid:
			if ar.Valid {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// FoodPos returns the offset of a food id, or false if absent.
func (t *Tables) FoodPos(fdcID int64) (int32, bool) {
	p, ok := t.foodPos[fdcID]
	return p, ok
}

// MeasurementsAt returns the measurement range owned by the food at the
// given offset. The returned slice aliases the store; callers must not
// mutate it.
func (t *Tables) MeasurementsAt(pos int32) []api.Measurement {
	return t.Measurements[t.MeasStart[pos]:t.MeasStart[pos+1]]
}
