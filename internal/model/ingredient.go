package model

import "strings"

// SafetyLevel is the hazard classification of an ingredient or a whole scan.
type SafetyLevel string

const (
	SafetySafe    SafetyLevel = "safe"
	SafetyCaution SafetyLevel = "caution"
	SafetyUnsafe  SafetyLevel = "unsafe"
	SafetyUnknown SafetyLevel = "unknown"
)

// Valid reports whether l is one of the four known levels.
func (l SafetyLevel) Valid() bool {
	switch l {
	case SafetySafe, SafetyCaution, SafetyUnsafe, SafetyUnknown:
		return true
	default:
		return false
	}
}

// Severity orders levels for escalation. Unknown ranks lowest because it
// carries no information.
func (l SafetyLevel) Severity() int {
	switch l {
	case SafetySafe:
		return 1
	case SafetyCaution:
		return 2
	case SafetyUnsafe:
		return 3
	default:
		return 0
	}
}

// AtLeast returns l escalated to floor, never downgrading.
func (l SafetyLevel) AtLeast(floor SafetyLevel) SafetyLevel {
	if l.Severity() >= floor.Severity() {
		return l
	}
	return floor
}

// ParseSafetyLevel normalizes s into a SafetyLevel. Unrecognized input maps
// to SafetyUnknown.
func ParseSafetyLevel(s string) SafetyLevel {
	l := SafetyLevel(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return SafetyUnknown
	}
	return l
}

// Species is the kind of animal a pet profile describes.
type Species string

const (
	SpeciesDog Species = "dog"
	SpeciesCat Species = "cat"
)

// SpeciesCompatibility says which species an ingredient is suitable for.
// The zero value means compatibility was never resolved.
type SpeciesCompatibility string

const (
	CompatDogOnly SpeciesCompatibility = "dogOnly"
	CompatCatOnly SpeciesCompatibility = "catOnly"
	CompatBoth    SpeciesCompatibility = "both"
	CompatNeither SpeciesCompatibility = "neither"
)

// Excludes reports whether the compatibility rules out species s.
func (c SpeciesCompatibility) Excludes(s Species) bool {
	switch c {
	case CompatNeither:
		return true
	case CompatDogOnly:
		return s != SpeciesDog
	case CompatCatOnly:
		return s != SpeciesCat
	default:
		return false
	}
}

// ParseSpeciesCompatibility accepts the canonical names plus the snake_case
// spellings some reference feeds use.
func ParseSpeciesCompatibility(s string) SpeciesCompatibility {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dogonly", "dog_only", "dog":
		return CompatDogOnly
	case "catonly", "cat_only", "cat":
		return CompatCatOnly
	case "both", "all":
		return CompatBoth
	case "neither", "none":
		return CompatNeither
	default:
		return ""
	}
}

// ReferenceEntry is one record returned by the ingredient reference service.
type ReferenceEntry struct {
	Name                 string               `json:"name" yaml:"name"`
	SafetyLevel          SafetyLevel          `json:"safetyLevel" yaml:"safety_level"`
	SpeciesCompatibility SpeciesCompatibility `json:"speciesCompatibility" yaml:"species_compatibility"`
	Warning              *string              `json:"warning,omitempty" yaml:"warning,omitempty"`
	Nutrients            *NutrientFacts       `json:"nutrientFacts,omitempty" yaml:"nutrients,omitempty"`
}

// IngredientAnalysis is the per-token outcome of matching.
type IngredientAnalysis struct {
	Name                 string               `json:"name"`
	SafetyLevel          SafetyLevel          `json:"safetyLevel"`
	IsAllergenForPet     bool                 `json:"isAllergenForPet"`
	SpeciesCompatibility SpeciesCompatibility `json:"speciesCompatibility,omitempty"`
	Warning              *string              `json:"warning,omitempty"`
	Nutrients            *NutrientFacts       `json:"-"`
}

// Pet is the subset of a pet profile the analysis needs.
type Pet struct {
	ID            string   `json:"id" validate:"required"`
	Name          string   `json:"name,omitempty"`
	Species       Species  `json:"species" validate:"required"`
	Sensitivities []string `json:"knownSensitivities"`
}
