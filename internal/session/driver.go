// Package session drives one browser conversation at a time: it guards
// submits, paces the status line, calls the analyzer and records the outcome.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roofscale-backend/internal/conversation"
	"roofscale-backend/internal/models"
	"roofscale-backend/internal/services"
)

const (
	StatusReady        = "SYSTEM READY"
	StatusAcquiring    = "ACQUIRING SATELLITE LOCK..."
	StatusResolving    = "RESOLVING STRUCTURE BOUNDARIES..."
	StatusComputing    = "COMPUTING PITCH & AREA..."
	StatusComplete     = "ANALYSIS COMPLETE"
	StatusDownlinkLost = "ERROR: DOWNLINK LOST"

	// FailureMessage is shown for every failed analysis, whatever the cause.
	FailureMessage = "CRITICAL ERROR: Satellite downlink lost. Could not verify target structure spatial data."
)

const (
	DefaultFirstStatusDelay  = 2 * time.Second
	DefaultSecondStatusDelay = 4500 * time.Millisecond
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSubmitting
)

func (p Phase) String() string {
	if p == PhaseSubmitting {
		return "submitting"
	}
	return "idle"
}

// RejectReason explains why a submit was ignored.
type RejectReason string

const (
	RejectNone  RejectReason = ""
	RejectEmpty RejectReason = "empty"
	RejectBusy  RejectReason = "busy"
)

// Analyzer runs one roof analysis.
type Analyzer interface {
	AnalyzeRoof(ctx context.Context, address string, loc *models.Coordinates) (*models.AnalysisResult, error)
}

// Publisher pushes live events to the browser(s) watching a session.
type Publisher interface {
	Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage)
}

// Auditor receives one record per analysis attempt.
type Auditor interface {
	Record(rec models.AnalysisRecord)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, uuid.UUID, models.WSMessage) {}

type nopAuditor struct{}

func (nopAuditor) Record(models.AnalysisRecord) {}

// Config is shared by every driver a Manager creates.
type Config struct {
	Analyzer          Analyzer
	Publisher         Publisher
	Auditor           Auditor
	Logger            *zap.Logger
	FirstStatusDelay  time.Duration
	SecondStatusDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Publisher == nil {
		c.Publisher = nopPublisher{}
	}
	if c.Auditor == nil {
		c.Auditor = nopAuditor{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.FirstStatusDelay <= 0 {
		c.FirstStatusDelay = DefaultFirstStatusDelay
	}
	if c.SecondStatusDelay <= 0 {
		c.SecondStatusDelay = DefaultSecondStatusDelay
	}
	return c
}

// Driver owns one conversation. At most one analysis is in flight per driver.
type Driver struct {
	id     uuid.UUID
	cfg    Config
	logger *zap.Logger
	store  *conversation.Store

	// ctx outlives every request; it is only canceled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	phase      Phase
	status     string
	location   *models.Coordinates
	seq        uint64
	timers     []*time.Timer
	lastActive time.Time
	closed     bool

	// emitMu is taken before mu is released so events leave in state order.
	emitMu sync.Mutex
}

func NewDriver(id uuid.UUID, cfg Config) *Driver {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Driver{
		id:         id,
		cfg:        cfg,
		logger:     cfg.Logger.With(zap.String("session_id", id.String())),
		store:      conversation.NewStore(),
		ctx:        ctx,
		cancel:     cancel,
		status:     StatusReady,
		lastActive: time.Now(),
	}
}

func (d *Driver) ID() uuid.UUID {
	return d.id
}

// Submit starts an analysis of text. It is a no-op when text is blank or an
// analysis is already running; the reason says which.
func (d *Driver) Submit(text string) (bool, RejectReason) {
	address := strings.TrimSpace(text)
	if address == "" {
		return false, RejectEmpty
	}

	d.mu.Lock()
	if d.closed || d.phase == PhaseSubmitting {
		d.mu.Unlock()
		return false, RejectBusy
	}

	userMsg := d.store.AppendUser(text)
	d.phase = PhaseSubmitting
	d.status = StatusAcquiring
	d.lastActive = time.Now()
	d.seq++
	seq := d.seq
	loc := d.location

	d.timers = append(d.timers,
		time.AfterFunc(d.cfg.FirstStatusDelay, func() { d.advanceStatus(seq, StatusResolving) }),
		time.AfterFunc(d.cfg.SecondStatusDelay, func() { d.advanceStatus(seq, StatusComputing) }),
	)

	d.wg.Add(1)
	go d.run(address, loc)

	d.unlockAndPublish(
		messageEvent(userMsg),
		statusEvent(StatusAcquiring, true),
	)
	return true, RejectNone
}

// advanceStatus applies a scheduled progress line unless the request it was
// scheduled for has already finished.
func (d *Driver) advanceStatus(seq uint64, status string) {
	d.mu.Lock()
	if d.seq != seq || d.phase != PhaseSubmitting || d.closed {
		d.mu.Unlock()
		return
	}
	d.status = status
	d.unlockAndPublish(statusEvent(status, true))
}

func (d *Driver) run(address string, loc *models.Coordinates) {
	defer d.wg.Done()

	start := time.Now()
	result, err := d.cfg.Analyzer.AnalyzeRoof(d.ctx, address, loc)
	elapsed := time.Since(start)

	rec := models.AnalysisRecord{
		ID:          uuid.New(),
		SessionID:   d.id,
		Address:     address,
		HasLocation: loc != nil,
		DurationMS:  elapsed.Milliseconds(),
		CreatedAt:   start.UTC(),
	}

	d.mu.Lock()
	d.stopTimersLocked()

	if d.closed {
		// Evicted or shutting down: nobody is left to read the conversation.
		d.phase = PhaseIdle
		d.mu.Unlock()

		rec.Outcome = models.OutcomeAborted
		if err != nil {
			rec.ErrorKind = providerErrorKind(err)
		}
		d.logger.Info("Roof analysis abandoned, session closed",
			zap.String("address", address),
			zap.Duration("elapsed", elapsed))
		d.cfg.Auditor.Record(rec)
		return
	}

	var msg models.Message
	if err != nil || result == nil {
		if err == nil {
			err = errors.New("analyzer returned no result")
		}
		kind := providerErrorKind(err)
		d.logger.Error("Roof analysis failed",
			zap.String("kind", kind),
			zap.String("address", address),
			zap.Bool("has_location", loc != nil),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))

		msg = d.store.AppendError(FailureMessage)
		d.status = StatusDownlinkLost
		rec.Outcome = models.OutcomeError
		rec.ErrorKind = kind
	} else {
		msg = d.store.AppendModel(result.Narrative, result.Citations, result.Metrics)
		d.status = StatusComplete
		rec.Outcome = models.OutcomeSuccess
		rec.HasMetrics = result.Metrics != nil
		rec.MetricsDecodeFailed = result.MetricsDecodeFailed
		rec.CitationCount = len(result.Citations)
	}

	d.phase = PhaseIdle
	d.lastActive = time.Now()
	status := d.status

	d.unlockAndPublish(
		messageEvent(msg),
		statusEvent(status, false),
	)
	d.cfg.Auditor.Record(rec)
}

func (d *Driver) stopTimersLocked() {
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = nil
}

// unlockAndPublish releases mu and publishes events. Must be called with mu
// held.
func (d *Driver) unlockAndPublish(events ...models.WSMessage) {
	closed := d.closed
	d.emitMu.Lock()
	d.mu.Unlock()
	defer d.emitMu.Unlock()

	if closed {
		return
	}
	for _, ev := range events {
		d.cfg.Publisher.Publish(d.ctx, d.id, ev)
	}
}

// SetLocation records the browser's coordinates. Only the first call has an
// effect.
func (d *Driver) SetLocation(loc models.Coordinates) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.location != nil {
		return false
	}
	d.location = &loc
	return true
}

func (d *Driver) Snapshot() models.SessionState {
	d.mu.Lock()
	defer d.mu.Unlock()

	state := models.SessionState{
		SessionID: d.id.String(),
		Messages:  d.store.Messages(),
		Loading:   d.phase == PhaseSubmitting,
		Status:    d.status,
	}
	if d.location != nil {
		loc := *d.location
		state.Location = &loc
	}
	return state
}

func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// LastActive is when the driver last accepted a submit or finished one.
func (d *Driver) LastActive() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActive
}

// Wait blocks until the in-flight analysis, if any, has been recorded.
func (d *Driver) Wait() {
	d.wg.Wait()
}

// Close cancels any in-flight analysis and waits for it to unwind. Later
// submits are rejected.
func (d *Driver) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stopTimersLocked()
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func providerErrorKind(err error) string {
	var perr *services.ProviderError
	if errors.As(err, &perr) {
		return string(perr.Kind)
	}
	return string(services.ProviderErrorProvider)
}

func statusEvent(status string, loading bool) models.WSMessage {
	return models.WSMessage{
		Type:    models.WSTypeStatusUpdate,
		Payload: models.StatusUpdate{Status: status, Loading: loading},
	}
}

func messageEvent(msg models.Message) models.WSMessage {
	return models.WSMessage{
		Type:    models.WSTypeMessageAppended,
		Payload: models.MessageEvent{Message: msg},
	}
}
