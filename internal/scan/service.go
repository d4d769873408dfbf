package scan

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/imagestore"
	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/store"
)

// ScanStore is the persistence the service needs. store.Store satisfies it.
type ScanStore interface {
	CreateScan(ctx context.Context, scan *model.Scan) error
	UpdateScan(ctx context.Context, scan *model.Scan) error
	GetScan(ctx context.Context, id string) (*model.Scan, error)
	ListScans(ctx context.Context, filter store.ScanFilter) ([]model.Scan, error)
}

const recordTimeout = 10 * time.Second

// interruptedMessage is recorded on scans found unfinished at startup.
const interruptedMessage = "scan interrupted by restart"

// Service runs many scans at once. Each scan has its own controller; the
// service lock only guards the id -> controller map.
type Service struct {
	deps     Deps
	store    ScanStore
	images   imagestore.Store
	validate *validator.Validate
	newID    func() string

	baseCtx context.Context
	stop    context.CancelFunc

	mu    sync.RWMutex
	scans map[string]*Controller

	obsMu     sync.RWMutex
	observers []func(model.Event)
}

// NewService creates a Service. images may be nil, in which case the
// captured image is not kept.
func NewService(deps Deps, st ScanStore, images imagestore.Store) *Service {
	ctx, stop := context.WithCancel(context.Background())
	return &Service{
		deps:     deps,
		store:    st,
		images:   images,
		validate: validator.New(),
		newID:    uuid.NewString,
		baseCtx:  ctx,
		stop:     stop,
		scans:    make(map[string]*Controller),
	}
}

// OnEvent registers a callback for events of every scan submitted after the
// call. Callbacks run on the scan's dispatch goroutine.
func (s *Service) OnEvent(cb func(model.Event)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, cb)
}

func (s *Service) fanOut(ev model.Event) {
	s.obsMu.RLock()
	obs := s.observers
	s.obsMu.RUnlock()
	for _, cb := range obs {
		cb(ev)
	}
}

// SubmitScan validates req, stores the image, persists a pending scan and
// starts processing in the background. It returns as soon as the scan is
// accepted.
func (s *Service) SubmitScan(ctx context.Context, req model.ScanRequest) (string, error) {
	if err := s.validate.Struct(req); err != nil {
		return "", &InvalidRequestError{Err: err}
	}

	id := s.newID()
	log := zap.L().With(zap.String("scan_id", id), zap.String("pet_id", req.PetID))

	if s.images != nil && req.CapturedImageRef == "" {
		key, contentType := imagestore.ObjectKey(id, req.Image)
		ref, err := s.images.Put(ctx, key, req.Image, contentType)
		if err != nil {
			return "", eris.Wrap(err, "scan: store image")
		}
		req.CapturedImageRef = ref
	}

	now := s.deps.now()
	record := model.Scan{
		ID:        id,
		UserID:    req.UserID,
		PetID:     req.PetID,
		ImageRef:  req.CapturedImageRef,
		Status:    model.ScanStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateScan(ctx, &record); err != nil {
		return "", eris.Wrap(err, "scan: create scan")
	}

	c := NewController(record, req, s.deps, s.record, s.fanOut)

	s.mu.Lock()
	s.scans[id] = c
	s.mu.Unlock()
	go s.evictWhenDone(c)

	metrics.ScansSubmitted.Inc()
	log.Info("scan: submitted", zap.String("image_ref", req.CapturedImageRef))

	if err := c.Start(s.baseCtx); err != nil {
		return "", err
	}
	return id, nil
}

// record is the store recorder every controller runs before observers.
func (s *Service) record(ev model.Event, snapshot model.Scan) error {
	if ev.From == "" {
		// CreateScan already stored the pending row.
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.store.UpdateScan(ctx, &snapshot); err != nil {
		return eris.Wrapf(err, "scan: record %s", ev.To)
	}
	return nil
}

// evictWhenDone drops a finished controller once its terminal state is in
// the store. Unpersisted scans stay in memory so they remain readable.
func (s *Service) evictWhenDone(c *Controller) {
	<-c.Done()
	if !c.Persisted() {
		return
	}
	s.mu.Lock()
	delete(s.scans, c.ID())
	s.mu.Unlock()
}

func (s *Service) controller(id string) (*Controller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.scans[id]
	return c, ok
}

// GetScan returns the current scan record.
func (s *Service) GetScan(ctx context.Context, id string) (*model.Scan, error) {
	if c, ok := s.controller(id); ok {
		snap := c.Snapshot()
		return &snap, nil
	}
	sc, err := s.store.GetScan(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, eris.Wrapf(err, "scan: get scan %s", id)
	}
	return sc, nil
}

// GetScanStatus returns the status of a scan.
func (s *Service) GetScanStatus(ctx context.Context, id string) (model.ScanStatus, error) {
	if c, ok := s.controller(id); ok {
		return c.Status(), nil
	}
	sc, err := s.GetScan(ctx, id)
	if err != nil {
		return "", err
	}
	return sc.Status, nil
}

// CancelScan cancels a running scan.
func (s *Service) CancelScan(ctx context.Context, id string) error {
	if c, ok := s.controller(id); ok {
		return c.Cancel()
	}
	sc, err := s.GetScan(ctx, id)
	if err != nil {
		return err
	}
	return &InvalidStateError{ScanID: id, Status: sc.Status, Action: "cancel"}
}

// GetScanResult returns the verdict and nutrition of a completed scan.
func (s *Service) GetScanResult(ctx context.Context, id string) (*model.ScanOutcome, error) {
	sc, err := s.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc.Status != model.ScanStatusCompleted {
		return nil, &NotReadyError{ScanID: id, Status: sc.Status}
	}
	return &model.ScanOutcome{
		ScanID:              sc.ID,
		Result:              sc.Result,
		NutritionalAnalysis: sc.NutritionalAnalysis,
	}, nil
}

// Subscribe streams the events of one scan. For a scan that is no longer in
// memory the channel carries a single event describing its stored status.
func (s *Service) Subscribe(ctx context.Context, id string, buf int) (<-chan model.Event, func(), error) {
	if c, ok := s.controller(id); ok {
		ch, unsubscribe := c.Subscribe(buf)
		return ch, unsubscribe, nil
	}
	sc, err := s.GetScan(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ch := make(chan model.Event, 1)
	ch <- model.Event{ScanID: sc.ID, PetID: sc.PetID, To: sc.Status, Error: sc.Error, At: sc.UpdatedAt}
	close(ch)
	return ch, func() {}, nil
}

// Wait blocks until the scan reaches a terminal status and returns it.
func (s *Service) Wait(ctx context.Context, id string) (*model.Scan, error) {
	if c, ok := s.controller(id); ok {
		snap, err := c.Wait(ctx)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}
	sc, err := s.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sc.Status.IsTerminal() {
		return nil, eris.Errorf("scan: %s is %s but not running", id, sc.Status)
	}
	return sc, nil
}

// RecoverInterrupted marks stored scans that were left unfinished by a
// previous process as failed. It returns how many were updated.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	recovered := 0
	for _, status := range []model.ScanStatus{model.ScanStatusPending, model.ScanStatusProcessing, model.ScanStatusAnalyzing} {
		scans, err := s.listAll(ctx, status)
		if err != nil {
			return recovered, err
		}
		for i := range scans {
			if _, running := s.controller(scans[i].ID); running {
				continue
			}
			scans[i].Status = model.ScanStatusFailed
			scans[i].Error = interruptedMessage
			scans[i].UpdatedAt = s.deps.now()
			if err := s.store.UpdateScan(ctx, &scans[i]); err != nil {
				zap.L().Warn("scan: recover interrupted scan", zap.String("scan_id", scans[i].ID), zap.Error(err))
				continue
			}
			recovered++
		}
	}
	if recovered > 0 {
		zap.L().Info("scan: recovered interrupted scans", zap.Int("count", recovered))
	}
	return recovered, nil
}

// recoverPageSize is the page size RecoverInterrupted lists scans with.
var recoverPageSize = 500

// listAll reads every stored scan in status. All pages are read before any
// is updated, since updating moves scans out of the filtered set.
func (s *Service) listAll(ctx context.Context, status model.ScanStatus) ([]model.Scan, error) {
	var all []model.Scan
	for offset := 0; ; offset += recoverPageSize {
		page, err := s.store.ListScans(ctx, store.ScanFilter{Status: status, Limit: recoverPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrapf(err, "scan: list %s scans", status)
		}
		all = append(all, page...)
		if len(page) < recoverPageSize {
			return all, nil
		}
	}
}

// Close cancels running scans and waits for them to settle.
func (s *Service) Close(ctx context.Context) error {
	s.stop()

	s.mu.RLock()
	running := make([]*Controller, 0, len(s.scans))
	for _, c := range s.scans {
		running = append(running, c)
	}
	s.mu.RUnlock()

	for _, c := range running {
		if _, err := c.Wait(ctx); err != nil {
			return eris.Wrap(err, "scan: close")
		}
	}
	return nil
}
