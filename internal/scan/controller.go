// Package scan runs label scans through extraction, matching, classification
// and nutrition aggregation, and owns each scan's state transitions.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
)

// TextExtractor reads label text from an image.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (*model.ExtractedText, error)
}

// IngredientMatcher resolves tokens against reference data for one pet.
type IngredientMatcher interface {
	Match(ctx context.Context, tokens []string, species model.Species, sensitivities []string) ([]model.IngredientAnalysis, error)
}

// PetStore supplies pet profiles.
type PetStore interface {
	GetPet(ctx context.Context, id string) (*model.Pet, error)
}

// Deps are the collaborators a controller runs against.
type Deps struct {
	Extractor TextExtractor
	Matcher   IngredientMatcher
	Pets      PetStore
	Clock     func() time.Time
}

func (d Deps) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// Recorder persists the scan state reached by a transition. It runs on the
// dispatch goroutine before observers see the event.
type Recorder func(ev model.Event, snapshot model.Scan) error

// pendingEvent is a transition waiting to be dispatched, with the scan state
// it produced.
type pendingEvent struct {
	ev   model.Event
	scan model.Scan
}

type subscriber struct {
	ch   chan model.Event
	quit chan struct{}
	once sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.quit) })
}

// Controller owns one scan. All reads and writes of the scan record go
// through its mutex; events are delivered in transition order by a
// dedicated goroutine so observers never run under the lock.
type Controller struct {
	deps      Deps
	req       model.ScanRequest
	observers []func(model.Event)
	recorder  Recorder
	log       *zap.Logger

	mu        sync.Mutex
	scan      model.Scan
	cancel    context.CancelFunc
	queue     []pendingEvent
	subs      map[uint64]*subscriber
	nextSub   uint64
	last      model.Event
	closed    bool
	persisted bool

	notify chan struct{}
	done   chan struct{}
}

// NewController creates a controller for scan, which must be pending. The
// creation event is queued immediately.
func NewController(scan model.Scan, req model.ScanRequest, deps Deps, recorder Recorder, observers ...func(model.Event)) *Controller {
	c := &Controller{
		deps:      deps,
		req:       req,
		observers: observers,
		recorder:  recorder,
		log:       zap.L().With(zap.String("scan_id", scan.ID), zap.String("pet_id", scan.PetID)),
		scan:      scan,
		subs:      make(map[uint64]*subscriber),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.scan.Status = model.ScanStatusPending

	c.mu.Lock()
	c.enqueueLocked("", "")
	c.mu.Unlock()
	metrics.Transitions.WithLabelValues(string(model.ScanStatusPending)).Inc()

	go c.dispatch()
	c.kick()
	return c
}

// ID returns the scan id.
func (c *Controller) ID() string {
	return c.scan.ID
}

// Snapshot returns a copy of the current scan record.
func (c *Controller) Snapshot() model.Scan {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scan
}

// Status returns the current status.
func (c *Controller) Status() model.ScanStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scan.Status
}

// Done is closed once the terminal event has been recorded and delivered.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Persisted reports whether the recorder stored the terminal state.
func (c *Controller) Persisted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persisted
}

// Wait blocks until the scan is terminal and its last event delivered.
func (c *Controller) Wait(ctx context.Context) (model.Scan, error) {
	select {
	case <-c.done:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return model.Scan{}, ctx.Err()
	}
}

// Start moves a pending scan to processing and runs the pipeline in the
// background under a context derived from ctx.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.scan.Status != model.ScanStatusPending {
		err := &InvalidStateError{ScanID: c.scan.ID, Status: c.scan.Status, Action: "start"}
		c.mu.Unlock()
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setStatusLocked(model.ScanStatusProcessing, "")
	c.mu.Unlock()
	c.kick()

	go c.run(runCtx)
	return nil
}

// Cancel moves a running scan to cancelled and abandons in-flight work.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	switch c.scan.Status {
	case model.ScanStatusProcessing, model.ScanStatusAnalyzing:
	default:
		err := &InvalidStateError{ScanID: c.scan.ID, Status: c.scan.Status, Action: "cancel"}
		c.mu.Unlock()
		return err
	}
	c.setStatusLocked(model.ScanStatusCancelled, "")
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	c.kick()
	c.log.Info("scan: cancelled")
	return nil
}

// Subscribe registers a channel that receives every event dispatched after
// the call. The channel is closed after the terminal event. A subscription
// to a finished scan receives its last event and is closed immediately.
func (c *Controller) Subscribe(buf int) (<-chan model.Event, func()) {
	if buf < 0 {
		buf = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		ch := make(chan model.Event, 1)
		ch <- c.last
		close(ch)
		return ch, func() {}
	}

	id := c.nextSub
	c.nextSub++
	sub := &subscriber{ch: make(chan model.Event, buf), quit: make(chan struct{})}
	c.subs[id] = sub

	return sub.ch, func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.stop()
	}
}

// advance applies from -> to if the scan is still in from. It reports false
// when the scan moved on, which means the caller's result is stale.
func (c *Controller) advance(from, to model.ScanStatus, mutate func(s *model.Scan)) bool {
	c.mu.Lock()
	if c.scan.Status != from {
		status := c.scan.Status
		c.mu.Unlock()
		c.log.Debug("scan: discarding late result",
			zap.String("expected", string(from)),
			zap.String("status", string(status)),
		)
		return false
	}
	if mutate != nil {
		mutate(&c.scan)
	}
	c.setStatusLocked(to, c.scan.Error)
	c.mu.Unlock()
	c.kick()
	return true
}

// fail moves a running scan to failed. Terminal scans are left untouched.
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.scan.Status.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.scan.Result = nil
	c.scan.NutritionalAnalysis = nil
	c.scan.Error = err.Error()
	c.setStatusLocked(model.ScanStatusFailed, c.scan.Error)
	c.mu.Unlock()
	c.kick()
	c.log.Error("scan: failed", zap.Error(err))
}

// abandon settles a scan whose run context ended without an explicit Cancel,
// such as on shutdown.
func (c *Controller) abandon() {
	c.mu.Lock()
	if c.scan.Status.IsTerminal() {
		c.mu.Unlock()
		return
	}
	c.setStatusLocked(model.ScanStatusCancelled, "")
	c.mu.Unlock()
	c.kick()
	c.log.Warn("scan: abandoned")
}

func (c *Controller) setStatusLocked(to model.ScanStatus, errMsg string) {
	from := c.scan.Status
	c.scan.Status = to
	c.scan.UpdatedAt = c.deps.now()
	c.enqueueLocked(from, errMsg)
	metrics.Transitions.WithLabelValues(string(to)).Inc()
	c.log.Info("scan: transition", zap.String("from", string(from)), zap.String("to", string(to)))
}

func (c *Controller) enqueueLocked(from model.ScanStatus, errMsg string) {
	c.queue = append(c.queue, pendingEvent{
		ev: model.Event{
			ScanID: c.scan.ID,
			PetID:  c.scan.PetID,
			From:   from,
			To:     c.scan.Status,
			Error:  errMsg,
			At:     c.scan.UpdatedAt,
		},
		scan: c.scan,
	})
}

func (c *Controller) kick() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Controller) dispatch() {
	for range c.notify {
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			next := c.queue[0]
			c.queue = c.queue[1:]
			terminal := next.ev.To.IsTerminal()
			if terminal {
				// Later subscribers get the terminal event replayed.
				c.last = next.ev
				c.closed = true
			}
			subs := make([]*subscriber, 0, len(c.subs))
			for _, s := range c.subs {
				subs = append(subs, s)
			}
			c.mu.Unlock()

			c.deliver(next, subs)

			if terminal {
				c.mu.Lock()
				for id, s := range c.subs {
					close(s.ch)
					delete(c.subs, id)
				}
				c.mu.Unlock()
				close(c.done)
				return
			}
			c.mu.Lock()
			c.last = next.ev
			c.mu.Unlock()
		}
	}
}

func (c *Controller) deliver(p pendingEvent, subs []*subscriber) {
	if c.recorder != nil {
		if err := c.recorder(p.ev, p.scan); err != nil {
			c.log.Error("scan: record transition", zap.String("status", string(p.ev.To)), zap.Error(err))
		} else if p.ev.To.IsTerminal() {
			c.mu.Lock()
			c.persisted = true
			c.mu.Unlock()
		}
	}

	for _, obs := range c.observers {
		c.observe(obs, p.ev)
	}

	for _, s := range subs {
		select {
		case s.ch <- p.ev:
		case <-s.quit:
		}
	}
}

func (c *Controller) observe(obs func(model.Event), ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("scan: observer panicked", zap.Any("panic", r))
		}
	}()
	obs(ev)
}

func (c *Controller) run(ctx context.Context) {
	defer c.cancel()
	defer func() {
		if r := recover(); r != nil {
			c.fail(&AnalysisFailure{Stage: "run", Err: eris.Errorf("panic: %v", r)})
		}
	}()

	start := c.deps.now()
	text, err := c.deps.Extractor.Extract(ctx, c.req.Image)
	metrics.StageDuration.WithLabelValues("extract").Observe(c.deps.now().Sub(start).Seconds())
	if err != nil {
		c.settle(ctx, err)
		return
	}

	if !c.advance(model.ScanStatusProcessing, model.ScanStatusAnalyzing, func(s *model.Scan) {
		s.RawText = text.RawText
	}) {
		return
	}

	start = c.deps.now()
	outcome, err := c.analyze(ctx, text)
	metrics.StageDuration.WithLabelValues("analyze").Observe(c.deps.now().Sub(start).Seconds())
	if err != nil {
		c.settle(ctx, err)
		return
	}

	if c.advance(model.ScanStatusAnalyzing, model.ScanStatusCompleted, func(s *model.Scan) {
		s.Result = outcome.Result
		s.NutritionalAnalysis = outcome.NutritionalAnalysis
	}) {
		c.log.Info("scan: completed",
			zap.String("overall_safety", string(outcome.Result.OverallSafety)),
			zap.Float64("confidence", outcome.Result.ConfidenceScore),
		)
	}
}

// settle records a stage error. When the run context is gone the error is a
// consequence of cancellation, not a failure.
func (c *Controller) settle(ctx context.Context, err error) {
	if ctx.Err() != nil {
		c.abandon()
		return
	}
	c.fail(err)
}
