package ingredient

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/reference"
)

// refFunc adapts a function to reference.Service.
type refFunc func(ctx context.Context, name string) (*model.ReferenceEntry, error)

func (f refFunc) Lookup(ctx context.Context, name string) (*model.ReferenceEntry, error) {
	return f(ctx, name)
}

func entry(name string, level model.SafetyLevel, compat model.SpeciesCompatibility) model.ReferenceEntry {
	return model.ReferenceEntry{Name: name, SafetyLevel: level, SpeciesCompatibility: compat}
}

func TestMatch_ChickenRiceCorn(t *testing.T) {
	t.Parallel()

	ref := reference.NewCatalog(
		entry("chicken", model.SafetySafe, model.CompatBoth),
		entry("rice", model.SafetySafe, model.CompatBoth),
		entry("corn", model.SafetyCaution, model.CompatBoth),
	)
	m := NewMatcher(ref, 4, time.Second)

	got, err := m.Match(context.Background(), []string{"chicken", "rice", "corn"}, model.SpeciesDog, []string{"Chicken"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "chicken", got[0].Name)
	assert.Equal(t, model.SafetyCaution, got[0].SafetyLevel)
	assert.True(t, got[0].IsAllergenForPet)

	assert.Equal(t, "rice", got[1].Name)
	assert.Equal(t, model.SafetySafe, got[1].SafetyLevel)
	assert.False(t, got[1].IsAllergenForPet)

	assert.Equal(t, "corn", got[2].Name)
	assert.Equal(t, model.SafetyCaution, got[2].SafetyLevel)
	assert.False(t, got[2].IsAllergenForPet)
}

func TestMatch_PreservesOrderUnderRandomDelays(t *testing.T) {
	t.Parallel()

	tokens := make([]string, 40)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("ingredient-%02d", i)
	}
	ref := refFunc(func(ctx context.Context, name string) (*model.ReferenceEntry, error) {
		time.Sleep(time.Duration(rand.IntN(5)) * time.Millisecond)
		e := entry(name, model.SafetySafe, model.CompatBoth)
		return &e, nil
	})

	got, err := NewMatcher(ref, 8, 0).Match(context.Background(), tokens, model.SpeciesCat, nil)
	require.NoError(t, err)
	require.Len(t, got, len(tokens))
	for i, a := range got {
		assert.Equal(t, tokens[i], a.Name)
	}
}

func TestMatch_RespectsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	ref := refFunc(func(ctx context.Context, name string) (*model.ReferenceEntry, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})

	tokens := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	_, err := NewMatcher(ref, 3, 0).Match(context.Background(), tokens, model.SpeciesDog, nil)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestMatch_LookupFailureDegradesToUnknown(t *testing.T) {
	t.Parallel()

	ref := refFunc(func(ctx context.Context, name string) (*model.ReferenceEntry, error) {
		if name == "corn" {
			return nil, errors.New("connection reset by peer")
		}
		e := entry(name, model.SafetySafe, model.CompatBoth)
		return &e, nil
	})

	got, err := NewMatcher(ref, 2, 0).Match(context.Background(), []string{"rice", "corn"}, model.SpeciesDog, []string{"corn"})
	require.NoError(t, err)
	assert.Equal(t, model.SafetySafe, got[0].SafetyLevel)
	assert.Equal(t, model.SafetyUnknown, got[1].SafetyLevel)
	assert.False(t, got[1].IsAllergenForPet, "unresolved tokens are never flagged")
}

func TestMatch_LookupTimeoutDegradesToUnknown(t *testing.T) {
	t.Parallel()

	ref := refFunc(func(ctx context.Context, name string) (*model.ReferenceEntry, error) {
		if name == "slow" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		e := entry(name, model.SafetyCaution, model.CompatBoth)
		return &e, nil
	})

	got, err := NewMatcher(ref, 2, 10*time.Millisecond).Match(context.Background(), []string{"slow", "corn"}, model.SpeciesDog, nil)
	require.NoError(t, err)
	assert.Equal(t, model.SafetyUnknown, got[0].SafetyLevel)
	assert.Equal(t, model.SafetyCaution, got[1].SafetyLevel)
}

func TestMatch_NotFound(t *testing.T) {
	t.Parallel()

	got, err := NewMatcher(reference.NewCatalog(), 1, 0).Match(context.Background(), []string{"kelp"}, model.SpeciesDog, []string{"kelp"})
	require.NoError(t, err)
	assert.Equal(t, model.IngredientAnalysis{Name: "kelp", SafetyLevel: model.SafetyUnknown}, got[0])
}

func TestMatch_ParentCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	ref := refFunc(func(lctx context.Context, name string) (*model.ReferenceEntry, error) {
		once.Do(cancel)
		<-lctx.Done()
		return nil, lctx.Err()
	})

	got, err := NewMatcher(ref, 2, time.Second).Match(ctx, []string{"a", "b", "c"}, model.SpeciesDog, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, got)
}

func TestMatch_Empty(t *testing.T) {
	t.Parallel()

	got, err := NewMatcher(reference.NewCatalog(), 0, 0).Match(context.Background(), nil, model.SpeciesDog, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAnalyze(t *testing.T) {
	t.Parallel()

	warn := "toxic to cats"
	tests := []struct {
		name       string
		token      string
		entry      *model.ReferenceEntry
		species    model.Species
		sens       []string
		wantLevel  model.SafetyLevel
		wantAllerg bool
		wantWarn   string
	}{
		{
			name: "unresolved", token: "kelp", species: model.SpeciesDog,
			wantLevel: model.SafetyUnknown,
		},
		{
			name: "carries reference level", token: "rice", species: model.SpeciesDog,
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetySafe,
		},
		{
			name: "sensitivity escalates safe", token: "chicken meal", species: model.SpeciesDog, sens: []string{"chicken"},
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetyCaution, wantAllerg: true, wantWarn: "known sensitivity for this pet",
		},
		{
			name: "sensitivity superstring matches", token: "beef", species: model.SpeciesDog, sens: []string{"beef liver"},
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetyCaution, wantAllerg: true, wantWarn: "known sensitivity for this pet",
		},
		{
			name: "sensitivity escalates unknown level", token: "soy", species: model.SpeciesDog, sens: []string{"soy"},
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetyUnknown, SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetyCaution, wantAllerg: true, wantWarn: "known sensitivity for this pet",
		},
		{
			name: "sensitivity never downgrades unsafe", token: "xylitol", species: model.SpeciesDog, sens: []string{"xylitol"},
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetyUnsafe, SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetyUnsafe, wantAllerg: true, wantWarn: "known sensitivity for this pet",
		},
		{
			name: "species exclusion forces unsafe", token: "propylene glycol", species: model.SpeciesCat,
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatDogOnly, Warning: &warn},
			wantLevel: model.SafetyUnsafe, wantWarn: "toxic to cats; not suitable for cats",
		},
		{
			name: "compatible species untouched", token: "propylene glycol", species: model.SpeciesDog,
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetyCaution, SpeciesCompatibility: model.CompatDogOnly},
			wantLevel: model.SafetyCaution,
		},
		{
			name: "neither excludes everyone", token: "onion", species: model.SpeciesDog,
			entry:     &model.ReferenceEntry{SafetyLevel: model.SafetyCaution, SpeciesCompatibility: model.CompatNeither},
			wantLevel: model.SafetyUnsafe, wantWarn: "not suitable for dogs",
		},
		{
			name: "invalid reference level is unknown", token: "mystery", species: model.SpeciesDog,
			entry:     &model.ReferenceEntry{SafetyLevel: "toxic", SpeciesCompatibility: model.CompatBoth},
			wantLevel: model.SafetyUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Analyze(tt.token, tt.entry, tt.species, tt.sens)
			assert.Equal(t, tt.token, got.Name)
			assert.Equal(t, tt.wantLevel, got.SafetyLevel)
			assert.Equal(t, tt.wantAllerg, got.IsAllergenForPet)
			if tt.wantAllerg {
				assert.NotEqual(t, model.SafetySafe, got.SafetyLevel)
			}
			if tt.wantWarn == "" {
				assert.Nil(t, got.Warning)
			} else {
				require.NotNil(t, got.Warning)
				assert.Equal(t, tt.wantWarn, *got.Warning)
			}
		})
	}
}

func TestLookupFailure(t *testing.T) {
	t.Parallel()

	root := errors.New("timeout")
	err := &LookupFailure{Token: "corn", Err: root}
	assert.Equal(t, `ingredient: lookup "corn" failed: timeout`, err.Error())
	assert.ErrorIs(t, err, root)
}
