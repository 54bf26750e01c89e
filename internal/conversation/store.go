// Package conversation holds the append-only message log of one session.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"roofscale-backend/internal/models"
)

// WelcomeMessageID is the id of the synthetic greeting every store starts with.
const WelcomeMessageID = "initial"

const welcomeText = "ROOFSCALE INTEL v5.0 ONLINE.\n\n" +
	"Automated remote measurement engine active. Grounding link established with Google Earth Engine & Satellite Data Systems.\n\n" +
	"Enter property address to begin structure geometry analysis."

// Store is safe for concurrent use. Messages are never removed or edited.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	now      func() time.Time
}

type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	s.messages = []models.Message{{
		ID:        WelcomeMessageID,
		Role:      models.RoleModel,
		Content:   welcomeText,
		Timestamp: s.now(),
	}}
	return s
}

func (s *Store) AppendUser(text string) models.Message {
	return s.append(models.Message{Role: models.RoleUser, Content: text})
}

// AppendModel records an analysis result. The message is a report exactly
// when metrics were decoded.
func (s *Store) AppendModel(narrative string, citations []models.Citation, metrics *models.RoofMetrics) models.Message {
	return s.append(models.Message{
		Role:      models.RoleModel,
		Content:   narrative,
		Citations: citations,
		Metrics:   metrics,
		IsReport:  metrics != nil,
	})
}

// AppendError records a failure notice. It carries no citations or metrics.
func (s *Store) AppendError(text string) models.Message {
	return s.append(models.Message{Role: models.RoleModel, Content: text})
}

func (s *Store) append(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg = cloneMessage(msg)
	msg.ID = uuid.New().String()
	msg.Timestamp = s.now()
	s.messages = append(s.messages, msg)
	return cloneMessage(msg)
}

// Messages returns a copy of the log in insertion order.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = cloneMessage(msg)
	}
	return out
}

// cloneMessage copies everything a message points to, so neither the caller
// nor the store can change the other's view of it.
func cloneMessage(msg models.Message) models.Message {
	if msg.Metrics != nil {
		m := *msg.Metrics
		msg.Metrics = &m
	}
	if len(msg.Citations) == 0 {
		msg.Citations = nil
		return msg
	}

	citations := make([]models.Citation, len(msg.Citations))
	for i, c := range msg.Citations {
		if c.Maps != nil {
			ref := *c.Maps
			c.Maps = &ref
		}
		if c.Web != nil {
			ref := *c.Web
			c.Web = &ref
		}
		citations[i] = c
	}
	msg.Citations = citations
	return msg
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
