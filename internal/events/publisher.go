package events

import (
	"context"
	stderrors "errors"

	"donor-matching/internal/models"
)

// Handler consumes events in process.
type Handler interface {
	HandleEvent(ctx context.Context, event models.MatchEvent) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, event models.MatchEvent) error

func (f HandlerFunc) HandleEvent(ctx context.Context, event models.MatchEvent) error {
	return f(ctx, event)
}

type publisher interface {
	Publish(ctx context.Context, event models.MatchEvent) error
}

// LocalPublisher delivers events synchronously to a Handler.
type LocalPublisher struct {
	handler Handler
}

func NewLocalPublisher(h Handler) *LocalPublisher {
	return &LocalPublisher{handler: h}
}

func (p *LocalPublisher) Publish(ctx context.Context, event models.MatchEvent) error {
	if p.handler == nil {
		return nil
	}
	return p.handler.HandleEvent(ctx, event)
}

// Multi publishes to every target and joins their errors. A failing target
// does not stop the others.
type Multi []publisher

func (m Multi) Publish(ctx context.Context, event models.MatchEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, models.MatchEvent) error { return nil }
