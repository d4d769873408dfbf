// Package nutrition merges nutrient facts into a per-product profile.
package nutrition

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/model"
)

// Aggregate merges sources into a NutritionalAnalysis. Each field takes the
// first value supplied by any source, so callers order sources by trust
// (printed label first, then matched ingredients in label order). A non-nil
// servingSizeG overrides any serving size in the sources.
//
// CaloriesPer100G is derived only when both calories and a positive serving
// size are known. A source stating kcal/kg but no per-serving calories has
// its per-serving figure scaled from kcal/kg and the serving size. Aggregate
// returns nil when no field is present.
func Aggregate(sources []model.NutrientFacts, servingSizeG *float64) (*model.NutritionalAnalysis, error) {
	var na model.NutritionalAnalysis
	var perKg *float64
	for _, s := range sources {
		first(&na.ServingSizeG, s.ServingSizeG)
		first(&na.CaloriesPerServing, s.CaloriesPerServing)
		first(&perKg, s.CaloriesPerKg)
		first(&na.ProteinPercent, s.ProteinPercent)
		first(&na.FatPercent, s.FatPercent)
		first(&na.FiberPercent, s.FiberPercent)
		first(&na.MoisturePercent, s.MoisturePercent)
		first(&na.AshPercent, s.AshPercent)
		first(&na.CalciumPercent, s.CalciumPercent)
		first(&na.PhosphorusPercent, s.PhosphorusPercent)
	}
	if servingSizeG != nil {
		na.ServingSizeG = model.Float(*servingSizeG)
	}

	for name, v := range map[string]*float64{
		"serving_size_g":       na.ServingSizeG,
		"calories_per_serving": na.CaloriesPerServing,
		"calories_per_kg":      perKg,
		"protein_percent":      na.ProteinPercent,
		"fat_percent":          na.FatPercent,
		"fiber_percent":        na.FiberPercent,
		"moisture_percent":     na.MoisturePercent,
		"ash_percent":          na.AshPercent,
		"calcium_percent":      na.CalciumPercent,
		"phosphorus_percent":   na.PhosphorusPercent,
	} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return nil, eris.Errorf("nutrition: %s is not a finite number", name)
		}
	}
	if na.ServingSizeG != nil && *na.ServingSizeG < 0 {
		return nil, eris.Errorf("nutrition: negative serving size %v", *na.ServingSizeG)
	}

	if na.ServingSizeG != nil && *na.ServingSizeG > 0 {
		if na.CaloriesPerServing == nil && perKg != nil {
			na.CaloriesPerServing = model.Float(round1(*perKg * *na.ServingSizeG / 1000))
		}
		if na.CaloriesPerServing != nil {
			na.CaloriesPer100G = model.Float(round1(*na.CaloriesPerServing * 100 / *na.ServingSizeG))
		}
	}

	if isEmpty(na) {
		return nil, nil
	}
	return &na, nil
}

func first(dst **float64, v *float64) {
	if *dst == nil && v != nil {
		*dst = model.Float(*v)
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func isEmpty(na model.NutritionalAnalysis) bool {
	return model.NutrientFacts{
		ServingSizeG:       na.ServingSizeG,
		CaloriesPerServing: na.CaloriesPerServing,
		ProteinPercent:     na.ProteinPercent,
		FatPercent:         na.FatPercent,
		FiberPercent:       na.FiberPercent,
		MoisturePercent:    na.MoisturePercent,
		AshPercent:         na.AshPercent,
		CalciumPercent:     na.CalciumPercent,
		PhosphorusPercent:  na.PhosphorusPercent,
	}.IsEmpty() && na.CaloriesPer100G == nil
}
