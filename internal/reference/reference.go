// Package reference resolves ingredient names against the reference data
// used for safety and nutrition analysis.
package reference

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/resilience"
	"github.com/sells-group/petscan/pkg/refdb"
)

// Service looks up one ingredient. A nil entry with a nil error means the
// ingredient is not in the reference data.
type Service interface {
	Lookup(ctx context.Context, name string) (*model.ReferenceEntry, error)
}

// Chain consults each service in order and returns the first hit. An error
// from any service stops the chain so a failed remote lookup is never
// mistaken for "not found".
type Chain []Service

// Lookup implements Service.
func (c Chain) Lookup(ctx context.Context, name string) (*model.ReferenceEntry, error) {
	for _, svc := range c {
		entry, err := svc.Lookup(ctx, name)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return entry, nil
		}
	}
	return nil, nil
}

// New builds the reference service described by cfg: the local catalog when
// catalog_path is set, followed by the remote database when base_url is set.
func New(cfg config.ReferenceConfig) (Service, error) {
	var chain Chain
	if cfg.CatalogPath != "" {
		cat, err := LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cat)
	}
	if cfg.BaseURL != "" {
		limit := rate.Inf
		if cfg.RatePerSec > 0 {
			limit = rate.Limit(cfg.RatePerSec)
		}
		chain = append(chain, NewRemote(refdb.NewClient(cfg.BaseURL, cfg.Key), RemoteOptions{
			Retry: resilience.RetryConfig{
				MaxAttempts: cfg.RetryMaxAttempts,
				OnRetry:     resilience.RetryLogger("refdb", "lookup"),
			},
			Circuit: resilience.FromCircuitConfig("refdb", cfg.CircuitFailureThreshold, cfg.CircuitResetSecs),
			Limiter: NewAdaptiveLimiter(limit, cfg.Burst),
		}))
	}
	if len(chain) == 0 {
		return nil, eris.New("reference: no catalog_path or base_url configured")
	}
	if len(chain) == 1 {
		return chain[0], nil
	}
	return chain, nil
}

// normalizeName is the key used for catalog and alias matching.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
