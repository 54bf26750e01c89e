// Package worker writes analysis audit records off the request path.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"roofscale-backend/internal/models"
)

const insertTimeout = 5 * time.Second

// AuditStore persists audit records.
type AuditStore interface {
	Insert(ctx context.Context, rec *models.AnalysisRecord) error
}

// Pool drains audit records into the store with a fixed number of workers.
// Without a store, records are only logged. Record never blocks: when the
// queue is full the record is dropped with a warning.
type Pool struct {
	store       AuditStore
	logger      *zap.Logger
	queue       chan models.AnalysisRecord
	workerCount int
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func NewPool(store AuditStore, workerCount, queueSize int, logger *zap.Logger) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	return &Pool{
		store:       store,
		logger:      logger.Named("audit"),
		queue:       make(chan models.AnalysisRecord, queueSize),
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	p.logger.Info("Started audit workers",
		zap.Int("workers", p.workerCount),
		zap.Bool("persistent", p.store != nil))
}

// Stop lets workers flush what is queued, then waits for them.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.stopChan) })
	p.wg.Wait()
}

func (p *Pool) Record(rec models.AnalysisRecord) {
	select {
	case <-p.stopChan:
		p.logger.Warn("Audit pool stopped, dropping record", zap.String("id", rec.ID.String()))
		return
	default:
	}

	select {
	case p.queue <- rec:
	default:
		p.logger.Warn("Audit queue full, dropping record",
			zap.String("id", rec.ID.String()),
			zap.String("session_id", rec.SessionID.String()))
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case rec := <-p.queue:
			p.write(id, rec)
		case <-p.stopChan:
			// Flush whatever is still queued.
			for {
				select {
				case rec := <-p.queue:
					p.write(id, rec)
				default:
					p.logger.Debug("Audit worker shutting down", zap.Int("worker", id))
					return
				}
			}
		}
	}
}

func (p *Pool) write(id int, rec models.AnalysisRecord) {
	p.logger.Info("Analysis attempt",
		zap.Int("worker", id),
		zap.String("id", rec.ID.String()),
		zap.String("session_id", rec.SessionID.String()),
		zap.String("address", rec.Address),
		zap.Bool("has_location", rec.HasLocation),
		zap.String("outcome", rec.Outcome),
		zap.String("error_kind", rec.ErrorKind),
		zap.Bool("has_metrics", rec.HasMetrics),
		zap.Bool("metrics_decode_failed", rec.MetricsDecodeFailed),
		zap.Int("citations", rec.CitationCount),
		zap.Int64("duration_ms", rec.DurationMS))

	if p.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := p.store.Insert(ctx, &rec); err != nil {
		p.logger.Error("Failed to persist audit record", zap.String("id", rec.ID.String()), zap.Error(err))
	}
}
