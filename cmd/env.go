package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/events"
	"github.com/sells-group/petscan/internal/imagestore"
	"github.com/sells-group/petscan/internal/ingredient"
	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/ocr"
	"github.com/sells-group/petscan/internal/reference"
	"github.com/sells-group/petscan/internal/scan"
	"github.com/sells-group/petscan/internal/store"
)

// scanEnv holds everything the serve and scan commands need.
type scanEnv struct {
	Store     store.Store
	Service   *scan.Service
	Publisher *events.AMQPPublisher // may be nil

	closers []io.Closer
}

// Close stops running scans and releases clients and the store.
func (e *scanEnv) Close(ctx context.Context) {
	if e.Service != nil {
		if err := e.Service.Close(ctx); err != nil {
			zap.L().Warn("close scan service", zap.Error(err))
		}
	}
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	for _, c := range e.closers {
		_ = c.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens and migrates the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.New(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}

// initScanEnv wires the store, OCR backend, reference lookup, image store and
// event publisher into a scan.Service. Callers should defer env.Close.
func initScanEnv(ctx context.Context) (*scanEnv, error) {
	metrics.Register()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &scanEnv{Store: st}

	ocrSvc, err := ocr.NewService(ctx, cfg)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "init ocr")
	}
	if c, ok := ocrSvc.(io.Closer); ok {
		env.closers = append(env.closers, c)
	}

	ref, err := reference.New(cfg.Reference)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "init reference")
	}

	images, err := imagestore.New(ctx, cfg.Images)
	if err != nil {
		env.Close(ctx)
		return nil, eris.Wrap(err, "init image store")
	}
	if images == nil {
		zap.L().Debug("image store disabled, captured images are not kept")
	}

	deps := scan.Deps{
		Extractor: ocr.NewExtractor(ocrSvc, cfg.OCR.Provider, cfg.OCR.Timeout()),
		Matcher:   ingredient.NewMatcher(ref, cfg.Reference.MaxConcurrency, cfg.Reference.LookupTimeout()),
		Pets:      st,
	}
	env.Service = scan.NewService(deps, st, images)

	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange)
		if err != nil {
			// Event fan-out is optional; scans still run without a broker.
			zap.L().Warn("amqp publisher init failed, events will not be published", zap.Error(err))
		} else {
			env.Publisher = pub
			env.Service.OnEvent(pub.Handle)
			zap.L().Info("publishing scan events", zap.String("exchange", cfg.Events.Exchange))
		}
	}

	zap.L().Info("scan environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("ocr", cfg.OCR.Provider),
		zap.String("images", cfg.Images.Driver),
	)

	return env, nil
}
