package store

import (
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/nutridex/nutridex/api"
)

// Scores holds the derived density scores, aligned to Tables.Foods by
// offset. Valid is false for foods with no resolvable measurements; the
// score is absent there, never zero.
type Scores struct {
	WeightsVersion string
	Value          []float64
	Valid          []bool
	Completeness   []float64
	Kcal           []api.OptFloat
}

func NewScores(n int, weightsVersion string) *Scores {
	return &Scores{
		WeightsVersion: weightsVersion,
		Value:          make([]float64, n),
		Valid:          make([]bool, n),
		Completeness:   make([]float64, n),
		Kcal:           make([]api.OptFloat, n),
	}
}

// At returns the score record for the food at the given offset, or false
// when that food is unscored.
func (s *Scores) At(t *Tables, pos int32) (api.DensityScore, bool) {
	if !s.Valid[pos] {
		return api.DensityScore{}, false
	}
	return api.DensityScore{
		FDCID:          t.Foods[pos].FDCID,
		Score:          s.Value[pos],
		Completeness:   s.Completeness[pos],
		KcalPer100g:    s.Kcal[pos],
		WeightsVersion: s.WeightsVersion,
	}, true
}

// TokenIndex is the free-text search structure: a sorted token vocabulary
// with one posting bitmap of food offsets per token.
type TokenIndex struct {
	Vocab    []string
	Postings []*roaring.Bitmap
}

// Match returns the union of postings for every vocabulary token that has
// term as a prefix or contains it as a substring. Returns an empty bitmap
// when nothing matches.
func (ti *TokenIndex) Match(term string) *roaring.Bitmap {
	out := roaring.New()
	if term == "" {
		return out
	}
	// Prefix range via binary search on the sorted vocabulary.
	lo := sort.SearchStrings(ti.Vocab, term)
	hi := lo
	for hi < len(ti.Vocab) && strings.HasPrefix(ti.Vocab[hi], term) {
		hi++
	}
	for i := lo; i < hi; i++ {
		out.Or(ti.Postings[i])
	}
	// Substring fallback: the vocabulary is bounded, so a linear scan is
	// cheap relative to the posting unions.
	for i, tok := range ti.Vocab {
		if i >= lo && i < hi {
			continue
		}
		if strings.Contains(tok, term) {
			out.Or(ti.Postings[i])
		}
	}
	return out
}

// Index holds every serving structure built over one snapshot. Building it
// is a pure function of Tables+Scores (see internal/index).
type Index struct {
	// Ranked lists food offsets by score descending, FDCID ascending.
	// Unscored foods are excluded entirely.
	Ranked []int32

	ByCategory map[int64]*roaring.Bitmap
	ByDataType map[api.DataType]*roaring.Bitmap

	Search *TokenIndex
}

// Snapshot is one complete, immutable pipeline output.
type Snapshot struct {
	Tables  *Tables
	Scores  *Scores
	Index   *Index
	Version uint64
	BuiltAt time.Time
}
