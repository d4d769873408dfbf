package scan

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/ingredient"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/ocr"
	"github.com/sells-group/petscan/internal/reference"
	"github.com/sells-group/petscan/internal/store"
)

// memStore is an in-memory ScanStore and PetStore with the same terminal
// guard as the SQL stores.
type memStore struct {
	mu    sync.Mutex
	scans map[string]model.Scan
	pets  map[string]model.Pet
}

func newMemStore(pets ...model.Pet) *memStore {
	m := &memStore{scans: make(map[string]model.Scan), pets: make(map[string]model.Pet)}
	for _, p := range pets {
		m.pets[p.ID] = p
	}
	return m
}

func (m *memStore) CreateScan(_ context.Context, sc *model.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[sc.ID] = *sc
	return nil
}

func (m *memStore) UpdateScan(_ context.Context, sc *model.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.scans[sc.ID]
	if !ok || cur.Status.IsTerminal() {
		return eris.Wrapf(store.ErrNotFound, "mem: scan %s missing or already terminal", sc.ID)
	}
	m.scans[sc.ID] = *sc
	return nil
}

func (m *memStore) GetScan(_ context.Context, id string) (*model.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scans[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sc, nil
}

func (m *memStore) ListScans(_ context.Context, filter store.ScanFilter) ([]model.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Scan{}
	for _, sc := range m.scans {
		if filter.Status != "" && sc.Status != filter.Status {
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []model.Scan{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) GetPet(_ context.Context, id string) (*model.Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memStore) stored(t *testing.T, id string) model.Scan {
	t.Helper()
	sc, err := m.GetScan(context.Background(), id)
	require.NoError(t, err)
	return *sc
}

// ocrFunc adapts a function to ocr.Service.
type ocrFunc func(ctx context.Context, image []byte) (string, error)

func (f ocrFunc) ExtractText(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// matcherFunc adapts a function to IngredientMatcher.
type matcherFunc func(ctx context.Context, tokens []string, species model.Species, sensitivities []string) ([]model.IngredientAnalysis, error)

func (f matcherFunc) Match(ctx context.Context, tokens []string, species model.Species, sensitivities []string) ([]model.IngredientAnalysis, error) {
	return f(ctx, tokens, species, sensitivities)
}

// blockingOCR returns text only after ctx ends.
func blockingOCR() ocr.Service {
	return ocrFunc(func(ctx context.Context, _ []byte) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
}

func staticOCR(text string) ocr.Service {
	return ocrFunc(func(context.Context, []byte) (string, error) {
		return text, nil
	})
}

const labelText = `BARKLEY'S FARM RECIPE
Ingredients: Chicken, Rice, Corn
Guaranteed Analysis: Crude Protein (min) 26%, Crude Fat (min) 15%
Calorie Content: 350 kcal/cup`

var testPet = model.Pet{
	ID:            "pet-1",
	Name:          "Rex",
	Species:       model.SpeciesDog,
	Sensitivities: []string{"chicken"},
}

func testCatalog() *reference.Catalog {
	return reference.NewCatalog(
		model.ReferenceEntry{Name: "chicken", SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatBoth},
		model.ReferenceEntry{Name: "rice", SafetyLevel: model.SafetySafe, SpeciesCompatibility: model.CompatBoth},
		model.ReferenceEntry{Name: "corn", SafetyLevel: model.SafetyCaution, SpeciesCompatibility: model.CompatBoth},
	)
}

func testDeps(svc ocr.Service, matcher IngredientMatcher, pets PetStore) Deps {
	if matcher == nil {
		matcher = ingredient.NewMatcher(testCatalog(), 4, time.Second)
	}
	return Deps{
		Extractor: ocr.NewExtractor(svc, "fake", 5*time.Second),
		Matcher:   matcher,
		Pets:      pets,
	}
}

// eventLog collects events from an OnEvent callback.
type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) add(ev model.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) statuses(scanID string) []model.ScanStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.ScanStatus
	for _, ev := range l.events {
		if ev.ScanID == scanID {
			out = append(out, ev.To)
		}
	}
	return out
}
