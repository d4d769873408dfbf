package reference

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/resilience"
	"github.com/sells-group/petscan/pkg/refdb"
)

type fakeClient struct {
	calls atomic.Int32
	fn    func(call int32, name string) (*refdb.Ingredient, error)
}

func (f *fakeClient) Lookup(_ context.Context, name string) (*refdb.Ingredient, error) {
	return f.fn(f.calls.Add(1), name)
}

func fastRemote(client refdb.Client, threshold int) *Remote {
	return NewRemote(client, RemoteOptions{
		Retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     2 * time.Millisecond,
		},
		Circuit: resilience.CircuitBreakerConfig{Name: "test", FailureThreshold: threshold, ResetTimeout: time.Minute},
	})
}

func TestRemote_Lookup(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(_ int32, name string) (*refdb.Ingredient, error) {
		return &refdb.Ingredient{
			Name:                 name,
			SafetyLevel:          "CAUTION",
			SpeciesCompatibility: "cat_only",
			Warning:              "limit intake",
			Nutrients:            &refdb.Nutrients{FatPercent: model.Float(40)},
		}, nil
	}}

	got, err := fastRemote(client, 5).Lookup(context.Background(), "fish oil")
	require.NoError(t, err)
	assert.Equal(t, "fish oil", got.Name)
	assert.Equal(t, model.SafetyCaution, got.SafetyLevel)
	assert.Equal(t, model.CompatCatOnly, got.SpeciesCompatibility)
	require.NotNil(t, got.Warning)
	assert.Equal(t, "limit intake", *got.Warning)
	require.NotNil(t, got.Nutrients)
	assert.InDelta(t, 40.0, *got.Nutrients.FatPercent, 0.001)
}

func TestRemote_NotFound(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(int32, string) (*refdb.Ingredient, error) { return nil, nil }}
	got, err := fastRemote(client, 5).Lookup(context.Background(), "kale")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemote_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(call int32, name string) (*refdb.Ingredient, error) {
		if call < 3 {
			return nil, &refdb.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return &refdb.Ingredient{Name: name, SafetyLevel: "safe", SpeciesCompatibility: "both"}, nil
	}}

	got, err := fastRemote(client, 5).Lookup(context.Background(), "rice")
	require.NoError(t, err)
	assert.Equal(t, model.SafetySafe, got.SafetyLevel)
	assert.Equal(t, int32(3), client.calls.Load())
}

func TestRemote_DoesNotRetryPermanentStatus(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(int32, string) (*refdb.Ingredient, error) {
		return nil, &refdb.StatusError{StatusCode: http.StatusBadRequest}
	}}

	_, err := fastRemote(client, 5).Lookup(context.Background(), "rice")
	require.Error(t, err)
	assert.Equal(t, int32(1), client.calls.Load())

	var se *refdb.StatusError
	assert.True(t, errors.As(err, &se))
}

func TestRemote_CircuitOpens(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(int32, string) (*refdb.Ingredient, error) {
		return nil, errors.New("bad request")
	}}
	r := fastRemote(client, 2)
	ctx := context.Background()

	_, err := r.Lookup(ctx, "a")
	require.Error(t, err)
	_, err = r.Lookup(ctx, "b")
	require.Error(t, err)
	assert.Equal(t, resilience.CircuitOpen, r.Breaker().State())

	_, err = r.Lookup(ctx, "c")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), client.calls.Load())
}

func TestRemote_RateLimitSlowsDown(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(call int32, name string) (*refdb.Ingredient, error) {
		if call == 1 {
			return nil, &refdb.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return nil, nil
	}}
	limiter := NewAdaptiveLimiter(100, 10)
	r := NewRemote(client, RemoteOptions{
		Retry:   resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		Limiter: limiter,
	})

	_, err := r.Lookup(context.Background(), "rice")
	require.NoError(t, err)
	// Halved on 429, then raised 20% on success.
	assert.InDelta(t, 60.0, float64(limiter.Limit()), 0.001)
}

func TestRemote_LimiterWaitCancelled(t *testing.T) {
	t.Parallel()

	client := &fakeClient{fn: func(int32, string) (*refdb.Ingredient, error) { return nil, nil }}
	r := NewRemote(client, RemoteOptions{Limiter: NewAdaptiveLimiter(rate.Every(time.Hour), 1)})

	ctx := context.Background()
	_, err := r.Lookup(ctx, "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = r.Lookup(ctx, "second")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestAdaptiveLimiter_Bounds(t *testing.T) {
	t.Parallel()

	l := NewAdaptiveLimiter(10, 1)
	for i := 0; i < 10; i++ {
		l.OnSuccess()
	}
	assert.InDelta(t, 20.0, float64(l.Limit()), 0.001)

	for i := 0; i < 10; i++ {
		l.OnRateLimit()
	}
	assert.InDelta(t, 2.5, float64(l.Limit()), 0.001)

	inf := NewAdaptiveLimiter(rate.Inf, 0)
	inf.OnRateLimit()
	inf.OnSuccess()
	assert.Equal(t, rate.Inf, inf.Limit())
}
