package handlers

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roofscale-backend/internal/models"
	"roofscale-backend/internal/session"
)

// LivePublisher attaches rendered HTML to message events before handing them
// to the hub, so the page can insert them without a second round trip.
type LivePublisher struct {
	next   session.Publisher
	render *Renderer
	logger *zap.Logger
}

func NewLivePublisher(next session.Publisher, render *Renderer, logger *zap.Logger) *LivePublisher {
	return &LivePublisher{next: next, render: render, logger: logger.Named("live")}
}

func (p *LivePublisher) Publish(ctx context.Context, sessionID uuid.UUID, msg models.WSMessage) {
	if ev, ok := msg.Payload.(models.MessageEvent); ok && ev.HTML == "" {
		html, err := p.render.Message(ev.Message)
		if err != nil {
			p.logger.Error("Failed to render message",
				zap.String("session_id", sessionID.String()),
				zap.String("message_id", ev.Message.ID),
				zap.Error(err))
		}
		ev.HTML = html
		msg.Payload = ev
	}

	p.next.Publish(ctx, sessionID, msg)
}
