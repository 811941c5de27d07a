// Package events fans match events out to a Redis stream and to in-process
// subscribers.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"donor-matching/internal/common/logger"
	"donor-matching/internal/models"

	"github.com/redis/go-redis/v9"
)

// StreamPublisher appends events to a capped Redis stream.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
	logger logger.Logger
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64, log logger.Logger) *StreamPublisher {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen, logger: log}
}

func (p *StreamPublisher) Publish(ctx context.Context, event models.MatchEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"type":      string(event.Type),
			"requestId": event.RequestID,
			"data":      string(data),
			"timestamp": event.OccurredAt.Unix(),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	p.logger.Debug("event appended", map[string]interface{}{"stream": p.stream, "id": id, "type": event.Type})
	return nil
}

// Read returns up to count events after the given stream id ("0" for the
// beginning), together with the id of the last one read.
func (p *StreamPublisher) Read(ctx context.Context, afterID string, count int64) ([]models.MatchEvent, string, error) {
	limit := int(count)
	start := "-"
	if afterID == "" || afterID == "0" {
		afterID = "0"
	} else {
		start = afterID
		// the range is inclusive; fetch one extra to cover afterID itself
		count++
	}
	msgs, err := p.client.XRangeN(ctx, p.stream, start, "+", count).Result()
	if err != nil {
		return nil, afterID, fmt.Errorf("xrange %s: %w", p.stream, err)
	}

	out := make([]models.MatchEvent, 0, len(msgs))
	last := afterID
	for _, m := range msgs {
		if m.ID == afterID || len(out) == limit {
			continue
		}
		last = m.ID
		raw, ok := m.Values["data"].(string)
		if !ok {
			continue
		}
		var ev models.MatchEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			p.logger.Warn("skipping malformed stream entry", map[string]interface{}{"id": m.ID, "error": err})
			continue
		}
		out = append(out, ev)
	}
	return out, last, nil
}
