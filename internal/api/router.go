// Package api exposes the scan service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/store"
)

// ScanService is the subset of scan.Service the handlers call.
type ScanService interface {
	SubmitScan(ctx context.Context, req model.ScanRequest) (string, error)
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	GetScanResult(ctx context.Context, id string) (*model.ScanOutcome, error)
	CancelScan(ctx context.Context, id string) error
	Subscribe(ctx context.Context, id string, buf int) (<-chan model.Event, func(), error)
}

// Store is the persistence the handlers read directly.
type Store interface {
	ListScans(ctx context.Context, filter store.ScanFilter) ([]model.Scan, error)
	GetPet(ctx context.Context, id string) (*model.Pet, error)
	UpsertPet(ctx context.Context, pet model.Pet) error
	Ping(ctx context.Context) error
}

// Options tune the router.
type Options struct {
	CORSOrigins []string
	// EventBuffer is the channel buffer of each websocket subscription.
	EventBuffer int
	// MaxImageBytes caps uploaded images. Zero means 10 MiB.
	MaxImageBytes int64
}

type handler struct {
	svc      ScanService
	store    Store
	validate *validator.Validate
	opts     Options
}

// NewRouter builds the HTTP API.
func NewRouter(svc ScanService, st Store, opts Options) http.Handler {
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 10 << 20
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	h := &handler{svc: svc, store: st, validate: validator.New(), opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Get("/", h.listScans)
			r.Post("/", h.submitScan)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getScan)
				r.Get("/result", h.getResult)
				r.Post("/cancel", h.cancelScan)
				r.Get("/events", h.streamEvents)
			})
		})
		r.Route("/pets/{id}", func(r chi.Router) {
			r.Get("/", h.getPet)
			r.Put("/", h.putPet)
		})
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
