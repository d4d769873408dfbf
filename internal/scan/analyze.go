package scan

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/nutrition"
	"github.com/sells-group/petscan/internal/safety"
)

// analyze runs match, classify and aggregate for extracted text. Context
// errors are returned as-is so the caller can tell cancellation apart.
func (c *Controller) analyze(ctx context.Context, text *model.ExtractedText) (*model.ScanOutcome, error) {
	pet, err := c.deps.Pets.GetPet(ctx, c.req.PetID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AnalysisFailure{Stage: "load pet", Err: err}
	}
	if pet == nil {
		return nil, &AnalysisFailure{Stage: "load pet", Err: eris.Errorf("pet %s not found", c.req.PetID)}
	}

	analyses, err := c.deps.Matcher.Match(ctx, text.Tokens, pet.Species, pet.Sensitivities)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &AnalysisFailure{Stage: "match", Err: err}
	}

	var result *model.ScanResult
	if err := guard("classify", func() error {
		var err error
		result, err = safety.Summarize(analyses, hints(c.req))
		return err
	}); err != nil {
		return nil, err
	}

	var facts *model.NutritionalAnalysis
	if err := guard("aggregate", func() error {
		var err error
		facts, err = nutrition.Aggregate(nutrientSources(text.RawText, analyses), c.req.ServingSizeG)
		return err
	}); err != nil {
		return nil, err
	}

	return &model.ScanOutcome{
		ScanID:              c.ID(),
		Result:              result,
		NutritionalAnalysis: facts,
	}, nil
}

// guard runs fn and converts both its error and any panic into an
// AnalysisFailure for stage.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &AnalysisFailure{Stage: stage, Err: eris.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &AnalysisFailure{Stage: stage, Err: err}
	}
	return nil
}

// nutrientSources orders nutrient data by precedence: the printed label
// first, then matched ingredients in label order.
func nutrientSources(raw string, analyses []model.IngredientAnalysis) []model.NutrientFacts {
	sources := make([]model.NutrientFacts, 0, len(analyses)+1)
	if label := nutrition.ParseLabel(raw); !label.IsEmpty() {
		sources = append(sources, label)
	}
	for _, a := range analyses {
		if a.Nutrients != nil && !a.Nutrients.IsEmpty() {
			sources = append(sources, *a.Nutrients)
		}
	}
	return sources
}

func hints(req model.ScanRequest) safety.Hints {
	var h safety.Hints
	if req.ProductNameHint != nil {
		h.ProductName = *req.ProductNameHint
	}
	if req.BrandHint != nil {
		h.Brand = *req.BrandHint
	}
	return h
}
