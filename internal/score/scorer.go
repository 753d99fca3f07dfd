package score

import (
	"context"
	"runtime"

	"github.com/nutridex/nutridex/api"
	"github.com/nutridex/nutridex/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Scorer derives one density score per food from its deduplicated
// measurements. Scoring is a pure function of the normalized tables and
// the weight table: identical input yields bit-identical scores.
type Scorer struct {
	Weights Weights
	Log     *zap.Logger

	// Workers bounds the scoring goroutines. Zero means GOMAXPROCS.
	Workers int
}

// Score computes scores for every food in t. Foods are partitioned into
// contiguous ranges; each worker writes only its own slice of the result,
// so no synchronization is needed beyond the errgroup join.
func (s *Scorer) Score(ctx context.Context, t *store.Tables) (*store.Scores, error) {
	out := store.NewScores(len(t.Foods), s.Weights.Version)
	if len(t.Foods) == 0 {
		return out, nil
	}

	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	chunk := (len(t.Foods) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(t.Foods); start += chunk {
		start, end := start, min(start+chunk, len(t.Foods))
		g.Go(func() error {
			return s.scoreRange(gctx, t, out, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if s.Log != nil {
		scored := 0
		for _, v := range out.Valid {
			if v {
				scored++
			}
		}
		s.Log.Info("scoring complete",
			zap.Int("foods", len(t.Foods)),
			zap.Int("scored", scored),
			zap.String("weights_version", s.Weights.Version),
		)
	}
	return out, nil
}

func (s *Scorer) scoreRange(ctx context.Context, t *store.Tables, out *store.Scores, start, end int) error {
	amounts := make(map[int64]float64, 64)
	for pos := start; pos < end; pos++ {
		if (pos-start)%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		meas := t.MeasurementsAt(int32(pos))
		if len(meas) == 0 {
			continue // absent, not zero
		}
		chooseAmounts(meas, amounts)

		kcal, kcalOK := energyBasis(amounts)
		if kcalOK {
			out.Kcal[pos] = api.OptFloat{Value: kcal, Valid: true}
		}

		var score float64
		present := 0
		// Weights are pre-sorted by nutrient id; this loop order is the
		// canonical summation order.
		for _, nw := range s.Weights.Nutrients {
			amount, ok := amounts[nw.ID]
			if !ok {
				continue
			}
			present++
			var term float64
			switch {
			case nw.DailyValue > 0:
				term = nw.Weight * amount / nw.DailyValue
			case kcalOK && kcal > 0:
				// Per-100-kcal basis for nutrients without a daily value.
				term = nw.Weight * amount * 100 / kcal
			default:
				continue // no basis to normalize against
			}
			if nw.Limiting {
				score -= term
			} else {
				score += term
			}
		}

		out.Value[pos] = score
		out.Valid[pos] = true
		out.Completeness[pos] = float64(present) / float64(len(s.Weights.Nutrients))
	}
	return nil
}

// chooseAmounts settles duplicate (food, nutrient) measurements: greatest
// data_points wins, ties go to the lowest measurement id. meas is sorted
// by (nutrient id, measurement id), so the first of a tie is the keeper.
func chooseAmounts(meas []api.Measurement, amounts map[int64]float64) {
	clear(amounts)
	for i := 0; i < len(meas); {
		best := i
		j := i + 1
		for j < len(meas) && meas[j].NutrientID == meas[i].NutrientID {
			if dataPoints(meas[j]) > dataPoints(meas[best]) {
				best = j
			}
			j++
		}
		if m := meas[best]; m.Amount.Valid {
			amounts[m.NutrientID] = m.Amount.Value
		}
		i = j
	}
}

func dataPoints(m api.Measurement) int64 {
	if !m.DataPoints.Valid {
		return 0
	}
	return m.DataPoints.Value
}

// energyBasis picks the food's kcal-per-100g figure, preferring the
// Atwater-derived entries over the generic one.
func energyBasis(amounts map[int64]float64) (float64, bool) {
	for _, id := range [...]int64{nutrientEnergyAtwGen, nutrientEnergyAtwSpec, nutrientEnergyKcal} {
		if v, ok := amounts[id]; ok {
			return v, true
		}
	}
	return 0, false
}
