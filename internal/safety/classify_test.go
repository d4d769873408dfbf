package safety

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/model"
)

func analyses(levels ...model.SafetyLevel) []model.IngredientAnalysis {
	out := make([]model.IngredientAnalysis, len(levels))
	for i, l := range levels {
		out[i] = model.IngredientAnalysis{Name: string(l) + string(rune('a'+i)), SafetyLevel: l}
	}
	return out
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		in       []model.IngredientAnalysis
		wantLvl  model.SafetyLevel
		wantConf float64
	}{
		{"empty", nil, model.SafetyUnknown, 0},
		{"all unknown", analyses(model.SafetyUnknown, model.SafetyUnknown), model.SafetyUnknown, 0},
		{"all safe", analyses(model.SafetySafe, model.SafetySafe), model.SafetySafe, 1},
		{"caution wins over safe", analyses(model.SafetySafe, model.SafetyCaution), model.SafetyCaution, 1},
		{"unsafe wins", analyses(model.SafetySafe, model.SafetyCaution, model.SafetyUnsafe), model.SafetyUnsafe, 1},
		{"unsafe mostly unknown", analyses(model.SafetyUnsafe, model.SafetyUnknown, model.SafetyUnknown, model.SafetyUnknown), model.SafetyUnsafe, 0.25},
		{"safe with unknown", analyses(model.SafetySafe, model.SafetyUnknown), model.SafetyUnknown, 0.5},
		{"caution with unknown", analyses(model.SafetyCaution, model.SafetyUnknown), model.SafetyCaution, 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lvl, conf := Classify(tt.in)
			assert.Equal(t, tt.wantLvl, lvl)
			assert.InDelta(t, tt.wantConf, conf, 1e-9)
		})
	}
}

func TestClassify_UnsafePriorityProperty(t *testing.T) {
	t.Parallel()

	levels := []model.SafetyLevel{model.SafetySafe, model.SafetyCaution, model.SafetyUnsafe, model.SafetyUnknown}
	for range 200 {
		n := 1 + rand.IntN(12)
		in := make([]model.SafetyLevel, n)
		for i := range in {
			in[i] = levels[rand.IntN(len(levels))]
		}
		in[rand.IntN(n)] = model.SafetyUnsafe

		lvl, conf := Classify(analyses(in...))
		assert.Equal(t, model.SafetyUnsafe, lvl)
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
	}
}

func TestClassify_Idempotent(t *testing.T) {
	t.Parallel()

	in := analyses(model.SafetySafe, model.SafetyUnknown, model.SafetyCaution)
	l1, c1 := Classify(in)
	l2, c2 := Classify(in)
	assert.Equal(t, l1, l2)
	assert.Equal(t, c1, c2)
}

func TestSummarize_ChickenRiceCorn(t *testing.T) {
	t.Parallel()

	warn := "common filler"
	in := []model.IngredientAnalysis{
		{Name: "chicken", SafetyLevel: model.SafetyCaution, IsAllergenForPet: true, Warning: model.String("known sensitivity for this pet")},
		{Name: "rice", SafetyLevel: model.SafetySafe},
		{Name: "corn", SafetyLevel: model.SafetyCaution, Warning: &warn},
	}

	res, err := Summarize(in, Hints{ProductName: "Adult Formula", Brand: "Acme"})
	require.NoError(t, err)

	assert.Equal(t, "Adult Formula", res.ProductName)
	assert.Equal(t, "Acme", res.Brand)
	assert.Equal(t, model.SafetyCaution, res.OverallSafety)
	assert.InDelta(t, 1.0, res.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"chicken", "corn", "rice"}, res.IngredientsFound)
	assert.Equal(t, []string{"chicken", "corn"}, res.UnsafeIngredients)
	assert.Equal(t, []string{"rice"}, res.SafeIngredients)
	assert.Equal(t, "3/3", res.AnalysisDetails[DetailResolved])
	assert.Equal(t, "chicken", res.AnalysisDetails[DetailAllergens])
	assert.Equal(t, "common filler", res.AnalysisDetails["corn"])
	_, hasRice := res.AnalysisDetails["rice"]
	assert.False(t, hasRice)
}

func TestSummarize_Unknown(t *testing.T) {
	t.Parallel()

	res, err := Summarize(analyses(model.SafetyUnknown), Hints{})
	require.NoError(t, err)
	assert.Equal(t, model.SafetyUnknown, res.OverallSafety)
	assert.Zero(t, res.ConfidenceScore)
	assert.Equal(t, "0/1", res.AnalysisDetails[DetailResolved])
	assert.Equal(t, "unrecognized ingredient", res.AnalysisDetails["unknowna"])
	assert.Empty(t, res.UnsafeIngredients)
	assert.NotNil(t, res.SafeIngredients)
	_, hasAllergens := res.AnalysisDetails[DetailAllergens]
	assert.False(t, hasAllergens)
}

func TestSummarize_Empty(t *testing.T) {
	t.Parallel()

	res, err := Summarize(nil, Hints{})
	require.NoError(t, err)
	assert.Equal(t, model.SafetyUnknown, res.OverallSafety)
	assert.Equal(t, "0/0", res.AnalysisDetails[DetailResolved])
	assert.Empty(t, res.IngredientsFound)
}

func TestSummarize_RejectsInvalidAnalyses(t *testing.T) {
	t.Parallel()

	_, err := Summarize([]model.IngredientAnalysis{{Name: "rice", SafetyLevel: model.SafetySafe, IsAllergenForPet: true}}, Hints{})
	var iae *InvalidAnalysisError
	require.True(t, errors.As(err, &iae))
	assert.Equal(t, "rice", iae.Name)
	assert.Contains(t, err.Error(), "allergen marked safe")

	_, err = Summarize([]model.IngredientAnalysis{{Name: "x", SafetyLevel: "toxic"}}, Hints{})
	require.True(t, errors.As(err, &iae))
	assert.Contains(t, err.Error(), "unknown safety level")
}
