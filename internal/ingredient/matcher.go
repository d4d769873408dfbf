// Package ingredient resolves label tokens against reference data and applies
// the per-pet sensitivity and species rules.
package ingredient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/reference"
)

// LookupFailure records a single token whose reference lookup failed. It is
// absorbed by the matcher; the token degrades to unknown.
type LookupFailure struct {
	Token string
	Err   error
}

func (e *LookupFailure) Error() string {
	return fmt.Sprintf("ingredient: lookup %q failed: %v", e.Token, e.Err)
}

func (e *LookupFailure) Unwrap() error {
	return e.Err
}

// Matcher resolves tokens concurrently against a reference service.
type Matcher struct {
	ref            reference.Service
	maxConcurrency int
	lookupTimeout  time.Duration
}

// NewMatcher creates a Matcher. maxConcurrency below 1 means 1; a zero
// lookupTimeout leaves lookups bounded only by the caller's context.
func NewMatcher(ref reference.Service, maxConcurrency int, lookupTimeout time.Duration) *Matcher {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	return &Matcher{ref: ref, maxConcurrency: maxConcurrency, lookupTimeout: lookupTimeout}
}

// Match returns one analysis per token, in token order. Individual lookup
// failures and timeouts degrade the token to unknown. Only cancellation of
// ctx itself aborts the match, in which case ctx.Err() is returned.
func (m *Matcher) Match(ctx context.Context, tokens []string, species model.Species, sensitivities []string) ([]model.IngredientAnalysis, error) {
	out := make([]model.IngredientAnalysis, len(tokens))
	sens := normalizeSensitivities(sensitivities)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxConcurrency)
	for i, tok := range tokens {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			entry, err := m.lookup(gctx, tok)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lf := &LookupFailure{Token: tok, Err: err}
				zap.L().Warn("ingredient: lookup degraded to unknown",
					zap.String("token", tok),
					zap.Error(lf),
				)
				metrics.Lookups.WithLabelValues("failed").Inc()
				entry = nil
			} else if entry == nil {
				metrics.Lookups.WithLabelValues("not_found").Inc()
			} else {
				metrics.Lookups.WithLabelValues("found").Inc()
			}
			out[i] = Analyze(tok, entry, species, sens)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Matcher) lookup(ctx context.Context, token string) (*model.ReferenceEntry, error) {
	if m.lookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.lookupTimeout)
		defer cancel()
	}
	return m.ref.Lookup(ctx, token)
}

// Analyze applies the matching rules to one token. entry is nil when the
// token is unresolved. sensitivities must already be lower-cased.
func Analyze(token string, entry *model.ReferenceEntry, species model.Species, sensitivities []string) model.IngredientAnalysis {
	a := model.IngredientAnalysis{Name: token, SafetyLevel: model.SafetyUnknown}
	if entry == nil {
		return a
	}

	a.SafetyLevel = entry.SafetyLevel
	if !a.SafetyLevel.Valid() {
		a.SafetyLevel = model.SafetyUnknown
	}
	a.SpeciesCompatibility = entry.SpeciesCompatibility
	a.Warning = entry.Warning
	a.Nutrients = entry.Nutrients

	if matchesSensitivity(token, sensitivities) {
		a.IsAllergenForPet = true
		a.SafetyLevel = a.SafetyLevel.AtLeast(model.SafetyCaution)
		a.Warning = appendWarning(a.Warning, "known sensitivity for this pet")
	}
	if entry.SpeciesCompatibility.Excludes(species) {
		a.SafetyLevel = model.SafetyUnsafe
		a.Warning = appendWarning(a.Warning, fmt.Sprintf("not suitable for %s", speciesLabel(species)))
	}
	return a
}

// matchesSensitivity is a case-insensitive equality or substring match in
// either direction, so "chicken" flags "chicken meal" and vice versa.
func matchesSensitivity(token string, sensitivities []string) bool {
	t := strings.ToLower(token)
	for _, s := range sensitivities {
		if t == s || strings.Contains(t, s) || strings.Contains(s, t) {
			return true
		}
	}
	return false
}

func normalizeSensitivities(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func appendWarning(existing *string, msg string) *string {
	if existing == nil || *existing == "" {
		return model.String(msg)
	}
	return model.String(*existing + "; " + msg)
}

func speciesLabel(s model.Species) string {
	switch s {
	case model.SpeciesDog:
		return "dogs"
	case model.SpeciesCat:
		return "cats"
	case "":
		return "this pet"
	default:
		return string(s)
	}
}
