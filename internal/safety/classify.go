// Package safety turns per-ingredient analyses into an overall verdict.
package safety

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/petscan/internal/model"
)

// Classify returns the overall safety level and the fraction of analyses that
// resolved to a known level. It is pure and deterministic.
//
// Rules, first match wins: any unsafe, any caution, all safe, else unknown.
func Classify(analyses []model.IngredientAnalysis) (model.SafetyLevel, float64) {
	if len(analyses) == 0 {
		return model.SafetyUnknown, 0
	}

	var unsafe, caution, safe, known int
	for _, a := range analyses {
		switch a.SafetyLevel {
		case model.SafetyUnsafe:
			unsafe++
			known++
		case model.SafetyCaution:
			caution++
			known++
		case model.SafetySafe:
			safe++
			known++
		}
	}

	confidence := float64(known) / float64(len(analyses))
	if confidence > 1 {
		confidence = 1
	} else if confidence < 0 {
		confidence = 0
	}

	switch {
	case unsafe > 0:
		return model.SafetyUnsafe, confidence
	case caution > 0:
		return model.SafetyCaution, confidence
	case safe == len(analyses):
		return model.SafetySafe, confidence
	default:
		return model.SafetyUnknown, confidence
	}
}

// Hints carries the product identity supplied with the scan request.
type Hints struct {
	ProductName string
	Brand       string
}

// Detail keys that summarize the whole scan rather than one ingredient.
const (
	DetailResolved  = "resolved"
	DetailAllergens = "allergens"
)

// InvalidAnalysisError reports an analysis that breaks the model invariants.
type InvalidAnalysisError struct {
	Name   string
	Reason string
}

func (e *InvalidAnalysisError) Error() string {
	return fmt.Sprintf("safety: invalid analysis for %q: %s", e.Name, e.Reason)
}

// Summarize builds the ScanResult for analyses. Caution and unsafe
// ingredients both count as unsafe for display; only safe ones count as safe.
func Summarize(analyses []model.IngredientAnalysis, hints Hints) (*model.ScanResult, error) {
	for _, a := range analyses {
		if !a.SafetyLevel.Valid() {
			return nil, &InvalidAnalysisError{Name: a.Name, Reason: fmt.Sprintf("unknown safety level %q", a.SafetyLevel)}
		}
		if a.IsAllergenForPet && a.SafetyLevel == model.SafetySafe {
			return nil, &InvalidAnalysisError{Name: a.Name, Reason: "allergen marked safe"}
		}
	}

	overall, confidence := Classify(analyses)

	found := make(map[string]struct{}, len(analyses))
	var unsafe, safe, allergens []string
	details := make(map[string]string, len(analyses)+2)
	known := 0

	for _, a := range analyses {
		found[a.Name] = struct{}{}
		switch a.SafetyLevel {
		case model.SafetyUnsafe, model.SafetyCaution:
			unsafe = append(unsafe, a.Name)
			known++
		case model.SafetySafe:
			safe = append(safe, a.Name)
			known++
		}
		if a.IsAllergenForPet {
			allergens = append(allergens, a.Name)
		}
		switch {
		case a.Warning != nil && *a.Warning != "":
			details[a.Name] = *a.Warning
		case a.SafetyLevel == model.SafetyUnknown:
			details[a.Name] = "unrecognized ingredient"
		}
	}

	details[DetailResolved] = fmt.Sprintf("%d/%d", known, len(analyses))
	if len(allergens) > 0 {
		details[DetailAllergens] = strings.Join(allergens, ", ")
	}

	return &model.ScanResult{
		ProductName:       hints.ProductName,
		Brand:             hints.Brand,
		IngredientsFound:  sortedKeys(found),
		UnsafeIngredients: nonNil(unsafe),
		SafeIngredients:   nonNil(safe),
		OverallSafety:     overall,
		ConfidenceScore:   confidence,
		AnalysisDetails:   details,
	}, nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
