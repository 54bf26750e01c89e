package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultReapInterval = time.Minute

// Manager is the in-memory registry of live sessions. Nothing survives a
// restart.
type Manager struct {
	cfg          Config
	idleTTL      time.Duration
	reapInterval time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	drivers map[uuid.UUID]*Driver

	startOnce sync.Once
	stopChan  chan struct{}
	done      chan struct{}
}

func NewManager(cfg Config, idleTTL time.Duration) *Manager {
	cfg = cfg.withDefaults()

	reapInterval := defaultReapInterval
	if idleTTL > 0 && idleTTL/2 < reapInterval {
		reapInterval = idleTTL / 2
	}

	return &Manager{
		cfg:          cfg,
		idleTTL:      idleTTL,
		reapInterval: reapInterval,
		logger:       cfg.Logger.Named("sessions"),
		drivers:      make(map[uuid.UUID]*Driver),
		stopChan:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

func (m *Manager) Create() *Driver {
	d := NewDriver(uuid.New(), m.cfg)

	m.mu.Lock()
	m.drivers[d.ID()] = d
	m.mu.Unlock()

	m.logger.Debug("Session created", zap.String("session_id", d.ID().String()))
	return d
}

func (m *Manager) Get(id uuid.UUID) (*Driver, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.drivers[id]
	return d, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.drivers)
}

// Start runs the idle-session reaper until Stop is called.
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		if m.idleTTL <= 0 {
			close(m.done)
			return
		}

		go m.loop()
		m.logger.Info("Session reaper started",
			zap.Duration("idle_ttl", m.idleTTL),
			zap.Duration("interval", m.reapInterval))
	})
}

// Stop halts the reaper and closes every session.
func (m *Manager) Stop() {
	select {
	case <-m.stopChan:
		return
	default:
		close(m.stopChan)
	}
	// A reaper that never started has nothing to wait for.
	m.startOnce.Do(func() { close(m.done) })
	<-m.done

	m.mu.Lock()
	drivers := make([]*Driver, 0, len(m.drivers))
	for id, d := range m.drivers {
		drivers = append(drivers, d)
		delete(m.drivers, id)
	}
	m.mu.Unlock()

	for _, d := range drivers {
		d.Close()
	}
}

func (m *Manager) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			if n := m.reap(now); n > 0 {
				m.logger.Info("Reaped idle sessions", zap.Int("count", n), zap.Int("remaining", m.Len()))
			}
		}
	}
}

// reap closes sessions idle since before now-idleTTL. A session with an
// analysis in flight is never reaped.
func (m *Manager) reap(now time.Time) int {
	cutoff := now.Add(-m.idleTTL)

	m.mu.Lock()
	var stale []*Driver
	for id, d := range m.drivers {
		if d.Phase() == PhaseSubmitting || d.LastActive().After(cutoff) {
			continue
		}
		stale = append(stale, d)
		delete(m.drivers, id)
	}
	m.mu.Unlock()

	for _, d := range stale {
		d.Close()
	}
	return len(stale)
}
