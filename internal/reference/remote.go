package reference

import (
	"context"
	"errors"
	"net/http"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/resilience"
	"github.com/sells-group/petscan/pkg/refdb"
)

// RemoteOptions tunes the resilience wrappers around the remote client.
type RemoteOptions struct {
	Retry   resilience.RetryConfig
	Circuit resilience.CircuitBreakerConfig
	Limiter *AdaptiveLimiter
}

// Remote looks ingredients up in the reference database API. Each call
// waits on the rate limiter, then runs under the circuit breaker with
// bounded retry of transient failures.
type Remote struct {
	client  refdb.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	limiter *AdaptiveLimiter
}

// NewRemote wraps client. A nil limiter means no rate limit.
func NewRemote(client refdb.Client, opts RemoteOptions) *Remote {
	if opts.Limiter == nil {
		opts.Limiter = NewAdaptiveLimiter(rate.Inf, 1)
	}
	if opts.Circuit.Name == "" {
		opts.Circuit.Name = "refdb"
	}
	name := opts.Circuit.Name
	onChange := opts.Circuit.OnStateChange
	opts.Circuit.OnStateChange = func(from, to resilience.CircuitState) {
		if to == resilience.CircuitOpen {
			metrics.CircuitOpen.WithLabelValues(name).Set(1)
		} else {
			metrics.CircuitOpen.WithLabelValues(name).Set(0)
		}
		if onChange != nil {
			onChange(from, to)
		}
	}
	return &Remote{
		client:  client,
		retry:   opts.Retry,
		breaker: resilience.NewCircuitBreaker(opts.Circuit),
		limiter: opts.Limiter,
	}
}

// Breaker exposes the circuit breaker for health reporting.
func (r *Remote) Breaker() *resilience.CircuitBreaker {
	return r.breaker
}

// Lookup implements Service.
func (r *Remote) Lookup(ctx context.Context, name string) (*model.ReferenceEntry, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "reference: rate limit wait")
	}

	ing, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*refdb.Ingredient, error) {
		return resilience.DoVal(ctx, r.retry, r.lookupOnce(name))
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reference: lookup %q", name)
	}
	r.limiter.OnSuccess()
	if ing == nil {
		return nil, nil
	}
	return toEntry(ing), nil
}

func (r *Remote) lookupOnce(name string) func(ctx context.Context) (*refdb.Ingredient, error) {
	return func(ctx context.Context) (*refdb.Ingredient, error) {
		ing, err := r.client.Lookup(ctx, name)
		if err == nil {
			return ing, nil
		}
		var se *refdb.StatusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusTooManyRequests {
				r.limiter.OnRateLimit()
			}
			if se.Retryable() {
				return nil, resilience.NewTransientError(err, se.StatusCode)
			}
		}
		return nil, err
	}
}

// toEntry converts the wire record. Unrecognized levels become unknown and
// unrecognized compatibility stays empty.
func toEntry(ing *refdb.Ingredient) *model.ReferenceEntry {
	e := &model.ReferenceEntry{
		Name:                 ing.Name,
		SafetyLevel:          model.ParseSafetyLevel(ing.SafetyLevel),
		SpeciesCompatibility: model.ParseSpeciesCompatibility(ing.SpeciesCompatibility),
	}
	if ing.Warning != "" {
		e.Warning = model.String(ing.Warning)
	}
	if n := ing.Nutrients; n != nil {
		facts := model.NutrientFacts{
			ServingSizeG:       n.ServingSizeG,
			CaloriesPerServing: n.CaloriesPerServing,
			ProteinPercent:     n.ProteinPercent,
			FatPercent:         n.FatPercent,
			FiberPercent:       n.FiberPercent,
			MoisturePercent:    n.MoisturePercent,
			AshPercent:         n.AshPercent,
			CalciumPercent:     n.CalciumPercent,
			PhosphorusPercent:  n.PhosphorusPercent,
		}
		if !facts.IsEmpty() {
			e.Nutrients = &facts
		}
	}
	return e
}
