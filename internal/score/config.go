// Package score computes the composite nutrient-density score per food.
// The weight table is configuration, not code, so a scoring change is an
// auditable config change with its own version string.
package score

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// NutrientWeight is one scored nutrient. DailyValue of zero means the
// nutrient has no recommended daily amount and is normalized against the
// food's caloric basis instead (amount per 100 kcal).
type NutrientWeight struct {
	Name       string  `hcl:"name,label"`
	ID         int64   `hcl:"id"`
	DailyValue float64 `hcl:"daily_value,optional"`
	Weight     float64 `hcl:"weight,optional"`
	Limiting   bool    `hcl:"limiting,optional"`
}

// Weights is the full scoring configuration. Version travels onto every
// DensityScore produced under it.
type Weights struct {
	Version   string           `hcl:"version"`
	Nutrients []NutrientWeight `hcl:"nutrient,block"`
}

// LoadWeights reads a weight table from an HCL file and validates it.
func LoadWeights(path string) (Weights, error) {
	var w Weights
	if err := hclsimple.DecodeFile(path, nil, &w); err != nil {
		return Weights{}, fmt.Errorf("decode weights: %w", err)
	}
	if err := w.validate(); err != nil {
		return Weights{}, err
	}
	w.normalize()
	return w, nil
}

func (w *Weights) validate() error {
	if w.Version == "" {
		return fmt.Errorf("weights: version is required")
	}
	if len(w.Nutrients) == 0 {
		return fmt.Errorf("weights %s: no nutrient blocks", w.Version)
	}
	seen := make(map[int64]string, len(w.Nutrients))
	for _, n := range w.Nutrients {
		if n.ID <= 0 {
			return fmt.Errorf("weights %s: nutrient %q: invalid id %d", w.Version, n.Name, n.ID)
		}
		if prev, dup := seen[n.ID]; dup {
			return fmt.Errorf("weights %s: nutrient id %d declared twice (%q, %q)", w.Version, n.ID, prev, n.Name)
		}
		seen[n.ID] = n.Name
		if n.DailyValue < 0 {
			return fmt.Errorf("weights %s: nutrient %q: negative daily value", w.Version, n.Name)
		}
		if n.Weight < 0 {
			return fmt.Errorf("weights %s: nutrient %q: negative weight", w.Version, n.Name)
		}
	}
	return nil
}

// normalize fills the unit default weight and fixes the canonical scoring
// order: ascending nutrient id, so summation order never depends on config
// file layout.
func (w *Weights) normalize() {
	for i := range w.Nutrients {
		if w.Nutrients[i].Weight == 0 {
			w.Nutrients[i].Weight = 1
		}
	}
	sort.Slice(w.Nutrients, func(i, j int) bool {
		return w.Nutrients[i].ID < w.Nutrients[j].ID
	})
}

// Energy nutrient ids, in preference order. Atwater-derived energy is used
// when present, the generic kcal entry otherwise.
const (
	nutrientEnergyKcal    = 1008
	nutrientEnergyAtwGen  = 2047
	nutrientEnergyAtwSpec = 2048
)

// DefaultWeights is the built-in weight table, carrying the recommended
// daily amounts the upstream dataset documentation publishes. Entries
// without a daily value (saturated fat, added sugars) score against the
// per-100-kcal basis.
func DefaultWeights() Weights {
	w := Weights{
		Version: "builtin-2026.1",
		Nutrients: []NutrientWeight{
			{Name: "protein", ID: 1003, DailyValue: 50},
			{Name: "fiber", ID: 1079, DailyValue: 28},
			{Name: "calcium", ID: 1087, DailyValue: 1000},
			{Name: "iron", ID: 1089, DailyValue: 8},
			{Name: "magnesium", ID: 1090, DailyValue: 300},
			{Name: "potassium", ID: 1092, DailyValue: 1400},
			{Name: "zinc", ID: 1095, DailyValue: 12},
			{Name: "vitamin_a", ID: 1106, DailyValue: 900},
			{Name: "vitamin_e", ID: 1109, DailyValue: 15},
			{Name: "vitamin_c", ID: 1162, DailyValue: 90},
			{Name: "thiamin", ID: 1165, DailyValue: 1.2},
			{Name: "riboflavin", ID: 1166, DailyValue: 1.3},
			{Name: "niacin", ID: 1167, DailyValue: 16},
			{Name: "vitamin_b6", ID: 1175, DailyValue: 1.3},
			{Name: "folate", ID: 1177, DailyValue: 400},
			{Name: "vitamin_b12", ID: 1178, DailyValue: 2.4},
			{Name: "vitamin_k", ID: 1185, DailyValue: 120},

			{Name: "sodium", ID: 1093, DailyValue: 2300, Limiting: true},
			{Name: "added_sugars", ID: 1235, Limiting: true},
			{Name: "cholesterol", ID: 1253, DailyValue: 300, Limiting: true},
			{Name: "saturated_fat", ID: 1258, Limiting: true},
		},
	}
	w.normalize()
	return w
}
