// Package pipeline wires the batch stages together and owns the publish
// side of the snapshot swap. Rebuild runs Load→Normalize→Score→Index
// entirely off to the side; readers keep the previous snapshot until the
// single pointer swap at the end.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nutridex/nutridex/internal/cache"
	"github.com/nutridex/nutridex/internal/index"
	"github.com/nutridex/nutridex/internal/loader"
	"github.com/nutridex/nutridex/internal/metrics"
	"github.com/nutridex/nutridex/internal/normalize"
	"github.com/nutridex/nutridex/internal/query"
	"github.com/nutridex/nutridex/internal/score"
	"github.com/nutridex/nutridex/internal/store"
	"go.uber.org/zap"
)

// Config controls one Service instance.
type Config struct {
	// DataDir holds the provider CSV export, one file per table.
	DataDir string

	// SnapshotPath, when set, persists each published snapshot to this
	// SQLite file and allows Restore on startup.
	SnapshotPath string

	// WeightsPath points at an HCL weight table. Empty means the built-in
	// defaults.
	WeightsPath string

	// CacheSize is the query cache entry capacity. Zero means
	// DefaultCacheSize; negative disables caching.
	CacheSize int

	// MaxQuarantineRate fails a rebuild when a table quarantines more
	// than this fraction of rows. Zero means DefaultMaxQuarantineRate;
	// negative disables the check.
	MaxQuarantineRate float64

	// ScoreWorkers bounds the scorer's goroutines. Zero means GOMAXPROCS.
	ScoreWorkers int
}

const (
	DefaultCacheSize         = 256
	DefaultMaxQuarantineRate = 0.25
)

// Service owns the swapper, the cache and the metrics, and produces
// snapshots into them.
type Service struct {
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Metrics
	weights score.Weights

	swapper *store.Swapper
	cache   *cache.QueryCache
	engine  *query.Engine
}

// New builds a Service. log may be nil; metrics must not be (use
// metrics.Nop in tests).
func New(cfg Config, log *zap.Logger, m *metrics.Metrics) (*Service, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.MaxQuarantineRate == 0 {
		cfg.MaxQuarantineRate = DefaultMaxQuarantineRate
	}

	weights := score.DefaultWeights()
	if cfg.WeightsPath != "" {
		var err error
		weights, err = score.LoadWeights(cfg.WeightsPath)
		if err != nil {
			return nil, err
		}
	}

	qc, err := cache.New(cfg.CacheSize, m)
	if err != nil {
		return nil, err
	}

	swapper := store.NewSwapper()
	return &Service{
		cfg:     cfg,
		log:     log,
		metrics: m,
		weights: weights,
		swapper: swapper,
		cache:   qc,
		engine:  &query.Engine{Snapshots: swapper, Cache: qc},
	}, nil
}

// Engine returns the serving surface bound to this service's snapshots.
func (s *Service) Engine() *query.Engine { return s.engine }

// Current returns the live snapshot, nil before the first publish.
func (s *Service) Current() *store.Snapshot { return s.swapper.Current() }

// Rebuild runs the full batch pipeline over DataDir and publishes the
// result. On any error (including cancellation) nothing is published and
// the previous snapshot keeps serving.
func (s *Service) Rebuild(ctx context.Context) (*normalize.Report, error) {
	report, err := s.rebuild(ctx)
	if err != nil {
		s.metrics.BuildsFailed.Inc()
		return report, err
	}
	s.metrics.BuildsTotal.Inc()
	return report, nil
}

func (s *Service) rebuild(ctx context.Context) (*normalize.Report, error) {
	started := time.Now()

	src, closeAll, err := s.openSources()
	if err != nil {
		return nil, err
	}
	defer closeAll()

	rate := s.cfg.MaxQuarantineRate
	if rate < 0 {
		rate = 0
	}
	norm := &normalize.Normalizer{
		Log:               s.log,
		MaxQuarantineRate: rate,
	}
	res, err := norm.Normalize(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	s.log.Info("normalize stage done", zap.Duration("elapsed", time.Since(started)))
	if err := ctx.Err(); err != nil {
		return res.Report, err
	}

	scorer := &score.Scorer{Weights: s.weights, Log: s.log, Workers: s.cfg.ScoreWorkers}
	scores, err := scorer.Score(ctx, res.Tables)
	if err != nil {
		return res.Report, fmt.Errorf("score: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res.Report, err
	}

	idx, err := index.Build(ctx, res.Tables, scores)
	if err != nil {
		return res.Report, fmt.Errorf("index: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return res.Report, err
	}

	snap := &store.Snapshot{
		Tables:  res.Tables,
		Scores:  scores,
		Index:   idx,
		BuiltAt: time.Now().UTC(),
	}
	version := s.swapper.Publish(snap)
	s.cache.Purge()

	s.log.Info("snapshot published",
		zap.Uint64("version", version),
		zap.Int("foods", len(res.Tables.Foods)),
		zap.Int("measurements", len(res.Tables.Measurements)),
		zap.Duration("elapsed", time.Since(started)),
	)
	s.log.Info("ingestion report", zap.String("report", res.Report.JSON()))

	if s.cfg.SnapshotPath != "" {
		if err := store.SaveSnapshot(s.cfg.SnapshotPath, snap); err != nil {
			// The published snapshot is still good; persistence is advisory.
			s.log.Error("persist snapshot", zap.Error(err))
		}
	}
	return res.Report, nil
}

// Restore loads the persisted snapshot, rebuilds the in-memory indexes,
// and publishes it. Useful at startup before the first full rebuild.
func (s *Service) Restore(ctx context.Context) error {
	if s.cfg.SnapshotPath == "" {
		return errors.New("restore: no snapshot path configured")
	}
	snap, err := store.LoadSnapshot(s.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	idx, err := index.Build(ctx, snap.Tables, snap.Scores)
	if err != nil {
		return fmt.Errorf("restore: index: %w", err)
	}
	snap.Index = idx

	version := s.swapper.Publish(snap)
	s.cache.Purge()
	s.log.Info("snapshot restored",
		zap.Uint64("version", version),
		zap.Int("foods", len(snap.Tables.Foods)),
		zap.Time("built_at", snap.BuiltAt),
	)
	return nil
}

// Source file names within DataDir, fixed by the data provider's export
// layout.
var sourceFiles = map[string]loader.Schema{
	"food_category.csv":   loader.FoodCategoryTable,
	"nutrient.csv":        loader.NutrientTable,
	"measure_unit.csv":    loader.MeasureUnitTable,
	"food.csv":            loader.FoodTable,
	"food_nutrient.csv":   loader.FoodNutrientTable,
	"branded_food.csv":    loader.BrandedFoodTable,
	"foundation_food.csv": loader.FoundationFoodTable,
	"food_attribute.csv":  loader.FoodAttributeTable,
}

// openSources opens one reader per present source file. The reference
// tables and food are mandatory; child tables may be absent from an
// export and load as empty.
func (s *Service) openSources() (normalize.Sources, func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	open := func(name string, required bool) (*loader.Reader, error) {
		f, err := os.Open(filepath.Join(s.cfg.DataDir, name))
		if errors.Is(err, fs.ErrNotExist) && !required {
			s.log.Warn("source file absent, skipping", zap.String("file", name))
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		files = append(files, f)
		rd, err := loader.NewReader(sourceFiles[name], f)
		if err != nil {
			return nil, err
		}
		rd.Metrics = s.metrics
		return rd, nil
	}

	var src normalize.Sources
	for _, t := range []struct {
		name     string
		required bool
		dst      **loader.Reader
	}{
		{"food_category.csv", true, &src.FoodCategory},
		{"nutrient.csv", true, &src.Nutrient},
		{"measure_unit.csv", true, &src.MeasureUnit},
		{"food.csv", true, &src.Food},
		{"food_nutrient.csv", false, &src.FoodNutrient},
		{"branded_food.csv", false, &src.BrandedFood},
		{"foundation_food.csv", false, &src.FoundationFood},
		{"food_attribute.csv", false, &src.FoodAttribute},
	} {
		rd, err := open(t.name, t.required)
		if err != nil {
			closeAll()
			return normalize.Sources{}, nil, fmt.Errorf("open sources: %w", err)
		}
		*t.dst = rd
	}
	return src, closeAll, nil
}
