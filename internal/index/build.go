// Package index builds the serving structures over one normalized
// snapshot: the score ranking, the category and classification filter
// bitmaps, and the free-text token index. Build is a pure function of its
// input, so two builds over the same tables produce identical structures.
package index

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/RoaringBitmap/roaring"
	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/store"
	"golang.org/x/sync/errgroup"
)

// Build constructs all three index families, each on its own worker. The
// workers only read t and scores, which are immutable by this point.
func Build(ctx context.Context, t *store.Tables, scores *store.Scores) (*store.Index, error) {
	idx := &store.Index{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		idx.Ranked = buildRanked(t, scores)
		return gctx.Err()
	})
	g.Go(func() error {
		idx.ByCategory, idx.ByDataType = buildFilters(t)
		return gctx.Err()
	})
	g.Go(func() error {
		idx.Search = buildSearch(t)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return idx, nil
}

// buildRanked lists scored food offsets by score descending, then food id
// ascending. Unscored foods never appear; they are nulls-last by omission.
func buildRanked(t *store.Tables, scores *store.Scores) []int32 {
	ranked := make([]int32, 0, len(t.Foods))
	for pos := range t.Foods {
		if scores.Valid[pos] {
			ranked = append(ranked, int32(pos))
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if scores.Value[a] != scores.Value[b] {
			return scores.Value[a] > scores.Value[b]
		}
		return t.Foods[a].FDCID < t.Foods[b].FDCID
	})
	return ranked
}

func buildFilters(t *store.Tables) (map[int64]*roaring.Bitmap, map[api.DataType]*roaring.Bitmap) {
	byCategory := make(map[int64]*roaring.Bitmap)
	byDataType := make(map[api.DataType]*roaring.Bitmap)
	for pos, f := range t.Foods {
		if f.CategoryID.Valid {
			bm := byCategory[f.CategoryID.Value]
			if bm == nil {
				bm = roaring.New()
				byCategory[f.CategoryID.Value] = bm
			}
			bm.Add(uint32(pos))
		}
		bm := byDataType[f.DataType]
		if bm == nil {
			bm = roaring.New()
			byDataType[f.DataType] = bm
		}
		bm.Add(uint32(pos))
	}
	return byCategory, byDataType
}

func buildSearch(t *store.Tables) *store.TokenIndex {
	postings := make(map[string]*roaring.Bitmap)
	add := func(pos int, text string) {
		for _, tok := range Tokenize(text) {
			bm := postings[tok]
			if bm == nil {
				bm = roaring.New()
				postings[tok] = bm
			}
			bm.Add(uint32(pos))
		}
	}
	for pos, f := range t.Foods {
		add(pos, f.Description)
		if bf, ok := t.Branded[f.FDCID]; ok {
			add(pos, bf.BrandOwner)
			add(pos, bf.BrandName)
		}
	}

	ti := &store.TokenIndex{
		Vocab:    make([]string, 0, len(postings)),
		Postings: make([]*roaring.Bitmap, 0, len(postings)),
	}
	for tok := range postings {
		ti.Vocab = append(ti.Vocab, tok)
	}
	sort.Strings(ti.Vocab)
	for _, tok := range ti.Vocab {
		ti.Postings = append(ti.Postings, postings[tok])
	}
	return ti
}

// Tokenize lowercases and splits on anything that is not a letter or
// digit. The query side uses the same function, so index and query agree
// on token boundaries.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
