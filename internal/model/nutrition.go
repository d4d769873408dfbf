package model

// NutrientFacts is nutrient data supplied by one source (the printed label
// or a reference entry). A nil field means the source does not state it.
type NutrientFacts struct {
	ServingSizeG       *float64 `json:"servingSizeG,omitempty" yaml:"serving_size_g,omitempty"`
	CaloriesPerServing *float64 `json:"caloriesPerServing,omitempty" yaml:"calories_per_serving,omitempty"`
	CaloriesPerKg      *float64 `json:"caloriesPerKg,omitempty" yaml:"calories_per_kg,omitempty"`
	ProteinPercent     *float64 `json:"proteinPercent,omitempty" yaml:"protein_percent,omitempty"`
	FatPercent         *float64 `json:"fatPercent,omitempty" yaml:"fat_percent,omitempty"`
	FiberPercent       *float64 `json:"fiberPercent,omitempty" yaml:"fiber_percent,omitempty"`
	MoisturePercent    *float64 `json:"moisturePercent,omitempty" yaml:"moisture_percent,omitempty"`
	AshPercent         *float64 `json:"ashPercent,omitempty" yaml:"ash_percent,omitempty"`
	CalciumPercent     *float64 `json:"calciumPercent,omitempty" yaml:"calcium_percent,omitempty"`
	PhosphorusPercent  *float64 `json:"phosphorusPercent,omitempty" yaml:"phosphorus_percent,omitempty"`
}

// IsEmpty reports whether no field is present.
func (f NutrientFacts) IsEmpty() bool {
	return f.ServingSizeG == nil &&
		f.CaloriesPerServing == nil &&
		f.CaloriesPerKg == nil &&
		f.ProteinPercent == nil &&
		f.FatPercent == nil &&
		f.FiberPercent == nil &&
		f.MoisturePercent == nil &&
		f.AshPercent == nil &&
		f.CalciumPercent == nil &&
		f.PhosphorusPercent == nil
}

// NutritionalAnalysis is the aggregated nutrition profile of a scanned product.
type NutritionalAnalysis struct {
	ServingSizeG       *float64 `json:"servingSizeG,omitempty"`
	CaloriesPerServing *float64 `json:"caloriesPerServing,omitempty"`
	CaloriesPer100G    *float64 `json:"caloriesPer100G,omitempty"`
	ProteinPercent     *float64 `json:"proteinPercent,omitempty"`
	FatPercent         *float64 `json:"fatPercent,omitempty"`
	FiberPercent       *float64 `json:"fiberPercent,omitempty"`
	MoisturePercent    *float64 `json:"moisturePercent,omitempty"`
	AshPercent         *float64 `json:"ashPercent,omitempty"`
	CalciumPercent     *float64 `json:"calciumPercent,omitempty"`
	PhosphorusPercent  *float64 `json:"phosphorusPercent,omitempty"`
}

// Float returns a pointer to v. Optional numeric fields use it in literals.
func Float(v float64) *float64 {
	return &v
}

// String returns a pointer to s.
func String(s string) *string {
	return &s
}
