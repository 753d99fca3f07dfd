// Package normalize turns raw table streams into the referentially-intact
// store. It is the pipeline's principal correctness boundary: after
// Normalize returns, every child row in the store resolves to an existing
// food, and duplicate keys have been settled first-wins.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/loader"
	"github.com/nutridex/nutridex/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReasonDanglingNutrient marks measurements whose nutrient id is unknown.
const ReasonDanglingNutrient = "dangling_nutrient_ref"

// ErrQuarantineRate is returned when a table's quarantine rate exceeds
// the configured threshold. It guards against silently ingesting a
// mostly-corrupt file.
var ErrQuarantineRate = errors.New("quarantine rate exceeded")

// Sources supplies one reader per source table. The reference tables and
// food are mandatory; child tables may be nil when a dataset omits them.
type Sources struct {
	FoodCategory *loader.Reader
	Nutrient     *loader.Reader
	MeasureUnit  *loader.Reader
	Food         *loader.Reader

	FoodNutrient   *loader.Reader
	BrandedFood    *loader.Reader
	FoundationFood *loader.Reader
	FoodAttribute  *loader.Reader
}

// Result is the normalized store plus its quarantine accounting.
type Result struct {
	Tables *store.Tables
	Report *Report
}

// Normalizer drives one normalization run. Per-row counters flow through
// the loader readers' metrics, not through the normalizer itself.
type Normalizer struct {
	Log *zap.Logger

	// MaxQuarantineRate fails the run when any table quarantines more
	// than this fraction of its rows. Zero disables the check.
	MaxQuarantineRate float64
}

// Normalize loads the closed reference tables fully, then streams foods,
// then the child tables, each child on its own worker. It never aborts on
// a malformed or dangling row; those are quarantined and counted.
func (n *Normalizer) Normalize(ctx context.Context, src Sources) (*Result, error) {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}

	t := store.NewTables()
	report := NewReport(
		"food_category", "nutrient", "measure_unit", "food",
		"food_nutrient", "branded_food", "foundation_food", "food_attribute",
	)

	// Phase 1: closed reference tables, fully in memory. These are small
	// and bounded; every child row resolves against them afterwards.
	if err := n.loadCategories(ctx, src.FoodCategory, t, report, log); err != nil {
		return nil, err
	}
	if err := n.loadNutrients(ctx, src.Nutrient, t, report, log); err != nil {
		return nil, err
	}
	if err := n.loadMeasureUnits(ctx, src.MeasureUnit, t, report, log); err != nil {
		return nil, err
	}

	// Phase 2: the food table. Builds the id set every child row must hit.
	foodSeen, err := n.loadFoods(ctx, src.Food, t, report, log)
	if err != nil {
		return nil, err
	}

	// Phase 3: child tables in parallel. Workers only read foodSeen and
	// the reference maps, and each writes its own partition; the merge
	// below is the single coordinating step.
	var (
		measurements []api.Measurement
		branded      map[int64]api.BrandedFood
		foundation   map[int64]api.FoundationFood
		attributes   map[int64][]api.FoodAttribute
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		measurements, err = n.loadMeasurements(gctx, src.FoodNutrient, t, foodSeen, report.Table("food_nutrient"), log)
		return err
	})
	g.Go(func() error {
		var err error
		branded, err = n.loadBranded(gctx, src.BrandedFood, foodSeen, report.Table("branded_food"), log)
		return err
	})
	g.Go(func() error {
		var err error
		foundation, err = n.loadFoundation(gctx, src.FoundationFood, foodSeen, report.Table("foundation_food"), log)
		return err
	})
	g.Go(func() error {
		var err error
		attributes, err = n.loadAttributes(gctx, src.FoodAttribute, foodSeen, report.Table("food_attribute"), log)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	t.Measurements = measurements
	t.Branded = branded
	t.Foundation = foundation
	t.Attributes = attributes
	t.Finalize()

	if err := n.checkQuarantineRate(report); err != nil {
		return nil, err
	}

	log.Info("normalization complete",
		zap.Int("foods", len(t.Foods)),
		zap.Int("measurements", len(t.Measurements)),
		zap.Uint64("quarantined", report.TotalQuarantined()),
	)
	return &Result{Tables: t, Report: report}, nil
}

// each iterates a reader, routing row-level errors into the report and
// checking for cancellation between rows. Any other error is fatal.
func each(ctx context.Context, rd *loader.Reader, tr *TableReport, log *zap.Logger, fn func(loader.Row) (string, bool)) error {
	if rd == nil {
		return nil
	}
	for i := 0; ; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		row, err := rd.Next()
		if err == io.EOF {
			break
		}
		var rowErr *loader.RowError
		if errors.As(err, &rowErr) {
			tr.quarantine(rowErr.Reason)
			log.Warn("row quarantined",
				zap.String("table", rowErr.Table),
				zap.Int("line", rowErr.Line),
				zap.String("column", rowErr.Column),
				zap.String("reason", rowErr.Reason),
			)
			continue
		}
		if err != nil {
			return err
		}
		if reason, ok := fn(row); !ok {
			tr.quarantine(reason)
			if rd.Metrics != nil {
				rd.Metrics.RowsQuarantined.WithLabelValues(rd.Schema.Table, reason).Inc()
			}
			log.Warn("row quarantined",
				zap.String("table", rd.Schema.Table),
				zap.Int("line", row.Line),
				zap.String("reason", reason),
			)
		} else {
			tr.accept()
		}
	}
	tr.Read = rd.Counts.Read
	return nil
}

func (n *Normalizer) loadCategories(ctx context.Context, rd *loader.Reader, t *store.Tables, report *Report, log *zap.Logger) error {
	if rd == nil {
		return fmt.Errorf("food_category: %w", errMissingTable)
	}
	return each(ctx, rd, report.Table("food_category"), log, func(row loader.Row) (string, bool) {
		id := row.Int(0).Value
		if _, dup := t.Categories[id]; dup {
			return loader.ReasonDuplicateKey, false
		}
		t.Categories[id] = api.FoodCategory{
			ID:          id,
			Code:        row.Int(1),
			Description: row.String(2),
		}
		return "", true
	})
}

func (n *Normalizer) loadNutrients(ctx context.Context, rd *loader.Reader, t *store.Tables, report *Report, log *zap.Logger) error {
	if rd == nil {
		return fmt.Errorf("nutrient: %w", errMissingTable)
	}
	return each(ctx, rd, report.Table("nutrient"), log, func(row loader.Row) (string, bool) {
		id := row.Int(0).Value
		if _, dup := t.Nutrients[id]; dup {
			return loader.ReasonDuplicateKey, false
		}
		t.Nutrients[id] = api.Nutrient{
			ID:       id,
			Name:     row.String(1),
			UnitName: row.String(2),
			Number:   row.String(3),
			Rank:     row.Float(4),
		}
		return "", true
	})
}

func (n *Normalizer) loadMeasureUnits(ctx context.Context, rd *loader.Reader, t *store.Tables, report *Report, log *zap.Logger) error {
	if rd == nil {
		return fmt.Errorf("measure_unit: %w", errMissingTable)
	}
	return each(ctx, rd, report.Table("measure_unit"), log, func(row loader.Row) (string, bool) {
		id := row.Int(0).Value
		if _, dup := t.MeasureUnits[id]; dup {
			return loader.ReasonDuplicateKey, false
		}
		t.MeasureUnits[id] = api.MeasureUnit{ID: id, Name: row.String(1)}
		return "", true
	})
}

func (n *Normalizer) loadFoods(ctx context.Context, rd *loader.Reader, t *store.Tables, report *Report, log *zap.Logger) (map[int64]struct{}, error) {
	if rd == nil {
		return nil, fmt.Errorf("food: %w", errMissingTable)
	}
	seen := make(map[int64]struct{})
	err := each(ctx, rd, report.Table("food"), log, func(row loader.Row) (string, bool) {
		fdcID := row.Int(0).Value
		if _, dup := seen[fdcID]; dup {
			return loader.ReasonDuplicateKey, false
		}
		dt := api.DataType(row.String(1))
		if _, ok := api.KnownDataTypes[dt]; !ok {
			return loader.ReasonUnknownType, false
		}
		cat := row.Int(3)
		if cat.Valid {
			if _, ok := t.Categories[cat.Value]; !ok {
				// Unresolvable reference fields become absent, never a
				// fabricated default.
				cat = api.OptInt{}
			}
		}
		seen[fdcID] = struct{}{}
		t.Foods = append(t.Foods, api.Food{
			FDCID:           fdcID,
			DataType:        dt,
			Description:     row.String(2),
			CategoryID:      cat,
			PublicationDate: row.String(4),
		})
		return "", true
	})
	if err != nil {
		return nil, err
	}
	return seen, nil
}

func (n *Normalizer) loadMeasurements(ctx context.Context, rd *loader.Reader, t *store.Tables, foods map[int64]struct{}, tr *TableReport, log *zap.Logger) ([]api.Measurement, error) {
	var out []api.Measurement
	ids := make(map[int64]struct{})
	err := each(ctx, rd, tr, log, func(row loader.Row) (string, bool) {
		id := row.Int(0).Value
		if _, dup := ids[id]; dup {
			return loader.ReasonDuplicateKey, false
		}
		fdcID := row.Int(1).Value
		if _, ok := foods[fdcID]; !ok {
			return loader.ReasonDanglingFood, false
		}
		nutrientID := row.Int(2).Value
		if _, ok := t.Nutrients[nutrientID]; !ok {
			return ReasonDanglingNutrient, false
		}
		ids[id] = struct{}{}
		out = append(out, api.Measurement{
			ID:              id,
			FDCID:           fdcID,
			NutrientID:      nutrientID,
			Amount:          row.Float(3),
			DataPoints:      row.Int(4),
			DerivationID:    row.Int(5),
			Min:             row.Float(6),
			Max:             row.Float(7),
			Median:          row.Float(8),
			LOQ:             row.Float(9),
			MinYearAcquired: row.Int(10),
			PercentDV:       row.Float(11),
		})
		return "", true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) loadBranded(ctx context.Context, rd *loader.Reader, foods map[int64]struct{}, tr *TableReport, log *zap.Logger) (map[int64]api.BrandedFood, error) {
	out := make(map[int64]api.BrandedFood)
	err := each(ctx, rd, tr, log, func(row loader.Row) (string, bool) {
		fdcID := row.Int(0).Value
		if _, ok := foods[fdcID]; !ok {
			return loader.ReasonDanglingFood, false
		}
		if _, dup := out[fdcID]; dup {
			return loader.ReasonDuplicateKey, false
		}
		out[fdcID] = api.BrandedFood{
			FDCID:            fdcID,
			BrandOwner:       row.String(1),
			BrandName:        row.String(2),
			Ingredients:      row.String(3),
			ServingSize:      row.Float(4),
			ServingSizeUnit:  row.String(5),
			HouseholdServing: row.String(6),
			BrandedCategory:  row.String(7),
			ModifiedDate:     row.String(8),
			AvailableDate:    row.String(9),
		}
		return "", true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) loadFoundation(ctx context.Context, rd *loader.Reader, foods map[int64]struct{}, tr *TableReport, log *zap.Logger) (map[int64]api.FoundationFood, error) {
	out := make(map[int64]api.FoundationFood)
	err := each(ctx, rd, tr, log, func(row loader.Row) (string, bool) {
		fdcID := row.Int(0).Value
		if _, ok := foods[fdcID]; !ok {
			return loader.ReasonDanglingFood, false
		}
		if _, dup := out[fdcID]; dup {
			return loader.ReasonDuplicateKey, false
		}
		out[fdcID] = api.FoundationFood{
			FDCID:     fdcID,
			NDBNumber: row.String(1),
			Footnote:  row.String(2),
		}
		return "", true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) loadAttributes(ctx context.Context, rd *loader.Reader, foods map[int64]struct{}, tr *TableReport, log *zap.Logger) (map[int64][]api.FoodAttribute, error) {
	out := make(map[int64][]api.FoodAttribute)
	ids := make(map[int64]struct{})
	err := each(ctx, rd, tr, log, func(row loader.Row) (string, bool) {
		id := row.Int(0).Value
		if _, dup := ids[id]; dup {
			return loader.ReasonDuplicateKey, false
		}
		fdcID := row.Int(1).Value
		if _, ok := foods[fdcID]; !ok {
			return loader.ReasonDanglingFood, false
		}
		ids[id] = struct{}{}
		out[fdcID] = append(out[fdcID], api.FoodAttribute{
			ID:     id,
			FDCID:  fdcID,
			SeqNum: row.Int(2),
			Name:   row.String(3),
			Value:  row.String(4),
		})
		return "", true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *Normalizer) checkQuarantineRate(report *Report) error {
	if n.MaxQuarantineRate <= 0 {
		return nil
	}
	for table, tr := range report.Tables {
		if tr.Read == 0 {
			continue
		}
		rate := float64(tr.Quarantined) / float64(tr.Read)
		if rate > n.MaxQuarantineRate {
			return fmt.Errorf("table %s: %.1f%% of %d rows: %w",
				table, rate*100, tr.Read, ErrQuarantineRate)
		}
	}
	return nil
}

var errMissingTable = errors.New("required table reader is nil")
