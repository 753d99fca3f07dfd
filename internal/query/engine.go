// Package query is the online serving surface: point lookup, filtered
// listing, free-text search, and the nutrient-density ranking, all
// resolved against the current immutable snapshot.
package query

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/cache"
	"github.com/nutridex/nutridex/internal/index"
	"github.com/nutridex/nutridex/internal/store"
)

var (
	// ErrNotFound reports an id that does not resolve in the snapshot.
	ErrNotFound = errors.New("not found")
	// ErrInvalidArgument reports a malformed query.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotReady reports that no snapshot has been published yet.
	ErrNotReady = errors.New("store not ready")
)

// Paging bounds. Limit <= 0 falls back to DefaultLimit; anything above
// MaxLimit is clamped.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Engine answers queries against whatever snapshot is current at call
// time. A request resolves the snapshot once and uses it throughout, so a
// concurrent publish never tears a response.
type Engine struct {
	Snapshots *store.Swapper
	Cache     *cache.QueryCache
}

func (e *Engine) snapshot() (*store.Snapshot, error) {
	snap := e.Snapshots.Current()
	if snap == nil {
		return nil, ErrNotReady
	}
	return snap, nil
}

// GetFood returns the full detail resource for one food id.
func (e *Engine) GetFood(fdcID int64) (api.FoodDetail, error) {
	snap, err := e.snapshot()
	if err != nil {
		return api.FoodDetail{}, err
	}
	t := snap.Tables
	pos, ok := t.FoodPos(fdcID)
	if !ok {
		return api.FoodDetail{}, fmt.Errorf("food %d: %w", fdcID, ErrNotFound)
	}
	food := t.Foods[pos]

	detail := api.FoodDetail{Food: food}
	if food.CategoryID.Valid {
		if c, ok := t.Categories[food.CategoryID.Value]; ok {
			detail.Category = &c
		}
	}
	if bf, ok := t.Branded[fdcID]; ok {
		detail.Branded = &bf
	}
	if ff, ok := t.Foundation[fdcID]; ok {
		detail.Foundation = &ff
	}
	detail.Attributes = t.Attributes[fdcID]

	meas := t.MeasurementsAt(pos)
	detail.Measurements = make([]api.MeasurementView, len(meas))
	for i, m := range meas {
		n := t.Nutrients[m.NutrientID]
		detail.Measurements[i] = api.MeasurementView{
			Measurement:  m,
			NutrientName: n.Name,
			UnitName:     n.UnitName,
		}
	}
	if ds, ok := snap.Scores.At(t, pos); ok {
		detail.Score = &ds
	}
	return detail, nil
}

// ListFoods returns a page of food summaries under the query's filters
// and ordering.
func (e *Engine) ListFoods(q api.ListQuery) (api.FoodPage, error) {
	snap, err := e.snapshot()
	if err != nil {
		return api.FoodPage{}, err
	}
	limit, offset := clampPage(q.Limit, q.Offset)

	sortKey := q.Sort
	if sortKey == "" {
		sortKey = api.SortByID
	}
	switch sortKey {
	case api.SortByID, api.SortByDescription, api.SortByScore:
	default:
		return api.FoodPage{}, fmt.Errorf("sort %q: %w", q.Sort, ErrInvalidArgument)
	}
	if q.DataType != "" {
		if _, ok := api.KnownDataTypes[q.DataType]; !ok {
			return api.FoodPage{}, fmt.Errorf("data type %q: %w", q.DataType, ErrInvalidArgument)
		}
	}

	key := cache.Key(snap.Version, "list",
		strings.TrimSpace(q.Category), string(q.DataType), string(sortKey),
		strconv.Itoa(limit), strconv.Itoa(offset))
	if v, ok := e.Cache.Get(key); ok {
		return v.(api.FoodPage), nil
	}

	matches, all := e.filter(snap, q.Category, q.DataType)
	if matches == nil && !all {
		return api.FoodPage{Limit: limit, Offset: offset}, nil
	}

	var offsets []int32
	if all {
		offsets = make([]int32, len(snap.Tables.Foods))
		for i := range offsets {
			offsets[i] = int32(i)
		}
	} else {
		offsets = make([]int32, 0, matches.GetCardinality())
		it := matches.Iterator()
		for it.HasNext() {
			offsets = append(offsets, int32(it.Next()))
		}
	}

	switch sortKey {
	case api.SortByID:
		// Offsets ascend with FDCID already.
	case api.SortByDescription:
		t := snap.Tables
		sort.SliceStable(offsets, func(i, j int) bool {
			a, b := t.Foods[offsets[i]], t.Foods[offsets[j]]
			if a.Description != b.Description {
				return a.Description < b.Description
			}
			return a.FDCID < b.FDCID
		})
	case api.SortByScore:
		offsets = orderByScore(snap, offsets)
	}

	page := e.page(snap, offsets, limit, offset)
	e.Cache.Put(key, page)
	return page, nil
}

// orderByScore rewrites offsets into score-descending order with unscored
// foods last, both halves tie-broken by ascending food id.
func orderByScore(snap *store.Snapshot, offsets []int32) []int32 {
	member := make(map[int32]struct{}, len(offsets))
	for _, p := range offsets {
		member[p] = struct{}{}
	}
	out := make([]int32, 0, len(offsets))
	for _, p := range snap.Index.Ranked {
		if _, ok := member[p]; ok {
			out = append(out, p)
		}
	}
	for _, p := range offsets {
		if !snap.Scores.Valid[p] {
			out = append(out, p)
		}
	}
	return out
}

// SearchFoods matches text against the description/brand token index and
// returns hits ranked by number of distinct query tokens matched, ties by
// ascending food id. The memo key uses the sorted distinct token set, so
// queries that differ only in whitespace, case, or token order collide.
func (e *Engine) SearchFoods(text string, limit int) ([]api.SearchHit, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	tokens := distinctSorted(index.Tokenize(strings.TrimSpace(text)))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty search text: %w", ErrInvalidArgument)
	}
	limit, _ = clampPage(limit, 0)

	key := cache.Key(snap.Version, "search",
		strings.Join(tokens, " "), strconv.Itoa(limit))
	if v, ok := e.Cache.Get(key); ok {
		return v.([]api.SearchHit), nil
	}

	relevance := make(map[int32]int)
	for _, tok := range tokens {
		it := snap.Index.Search.Match(tok).Iterator()
		for it.HasNext() {
			relevance[int32(it.Next())]++
		}
	}

	order := make([]int32, 0, len(relevance))
	for p := range relevance {
		order = append(order, p)
	}
	sort.Slice(order, func(i, j int) bool {
		if relevance[order[i]] != relevance[order[j]] {
			return relevance[order[i]] > relevance[order[j]]
		}
		return order[i] < order[j]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	hits := make([]api.SearchHit, len(order))
	for i, p := range order {
		hits[i] = api.SearchHit{
			FoodSummary: e.summary(snap, p),
			Relevance:   relevance[p],
		}
	}
	e.Cache.Put(key, hits)
	return hits, nil
}

func distinctSorted(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// NutrientDenseFoods serves the materialized ranking, optionally filtered
// to one category. Like the other paged queries it is memoized per
// snapshot version; this one is the most expensive to recompute fresh.
func (e *Engine) NutrientDenseFoods(q api.RankQuery) (api.FoodPage, error) {
	snap, err := e.snapshot()
	if err != nil {
		return api.FoodPage{}, err
	}
	limit, offset := clampPage(q.Limit, q.Offset)

	key := cache.Key(snap.Version, "rank",
		strings.TrimSpace(q.Category),
		strconv.Itoa(limit), strconv.Itoa(offset))
	if v, ok := e.Cache.Get(key); ok {
		return v.(api.FoodPage), nil
	}

	ranked := snap.Index.Ranked
	if cat := strings.TrimSpace(q.Category); cat != "" {
		catID, ok := resolveCategory(snap.Tables, cat)
		if !ok {
			return api.FoodPage{Limit: limit, Offset: offset}, nil
		}
		bm := snap.Index.ByCategory[catID]
		if bm == nil {
			return api.FoodPage{Limit: limit, Offset: offset}, nil
		}
		filtered := make([]int32, 0, bm.GetCardinality())
		for _, p := range ranked {
			if bm.Contains(uint32(p)) {
				filtered = append(filtered, p)
			}
		}
		ranked = filtered
	}

	page := e.page(snap, ranked, limit, offset)
	e.Cache.Put(key, page)
	return page, nil
}

// ListNutrients returns the nutrient reference table in display order.
// The slice is a copy; callers cannot reach into the snapshot through it.
func (e *Engine) ListNutrients() ([]api.Nutrient, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.Tables.NutrientList), nil
}

// ListCategories returns the category reference table in id order, copied
// like ListNutrients.
func (e *Engine) ListCategories() ([]api.FoodCategory, error) {
	snap, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.Tables.CategoryList), nil
}

// filter resolves the category/classification filters into a bitmap of
// food offsets. all=true means "no filter, every food". A nil bitmap with
// all=false means the filter matches nothing.
func (e *Engine) filter(snap *store.Snapshot, category string, dt api.DataType) (*roaring.Bitmap, bool) {
	category = strings.TrimSpace(category)
	if category == "" && dt == "" {
		return nil, true
	}

	var bm *roaring.Bitmap
	if category != "" {
		catID, ok := resolveCategory(snap.Tables, category)
		if !ok {
			return nil, false
		}
		cbm := snap.Index.ByCategory[catID]
		if cbm == nil {
			return nil, false
		}
		bm = cbm.Clone()
	}
	if dt != "" {
		dbm := snap.Index.ByDataType[dt]
		if dbm == nil {
			return nil, false
		}
		if bm == nil {
			bm = dbm.Clone()
		} else {
			bm.And(dbm)
		}
	}
	return bm, false
}

// resolveCategory accepts either the numeric category id as digits or the
// exact category description.
func resolveCategory(t *store.Tables, s string) (int64, bool) {
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		_, ok := t.Categories[id]
		return id, ok
	}
	for _, c := range t.CategoryList {
		if c.Description == s {
			return c.ID, true
		}
	}
	return 0, false
}

func (e *Engine) summary(snap *store.Snapshot, pos int32) api.FoodSummary {
	t := snap.Tables
	f := t.Foods[pos]
	s := api.FoodSummary{
		FDCID:       f.FDCID,
		DataType:    f.DataType,
		Description: f.Description,
	}
	if f.CategoryID.Valid {
		if c, ok := t.Categories[f.CategoryID.Value]; ok {
			s.Category = c.Description
		}
	}
	if ds, ok := snap.Scores.At(t, pos); ok {
		s.Score = &ds
	}
	return s
}

func (e *Engine) page(snap *store.Snapshot, offsets []int32, limit, offset int) api.FoodPage {
	page := api.FoodPage{Limit: limit, Offset: offset, Total: len(offsets)}
	if offset >= len(offsets) {
		return page
	}
	end := min(offset+limit, len(offsets))
	page.Foods = make([]api.FoodSummary, 0, end-offset)
	for _, p := range offsets[offset:end] {
		page.Foods = append(page.Foods, e.summary(snap, p))
	}
	return page
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
