package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ExecutionPublisher fans execution events out to a Pub/Sub channel and a
// replay stream.
type ExecutionPublisher struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewExecutionPublisher publishes on channel and appends to stream. Either
// may be empty to skip it.
func NewExecutionPublisher(bus domain.SignalBus, channel, stream string) *ExecutionPublisher {
	return &ExecutionPublisher{bus: bus, channel: channel, stream: stream}
}

// Publish sends one execution event.
func (p *ExecutionPublisher) Publish(ctx context.Context, exec domain.Execution) error {
	payload, err := json.Marshal(exec.Event())
	if err != nil {
		return fmt.Errorf("redis: marshal execution %s: %w", exec.ID, err)
	}
	if p.channel != "" {
		if err := p.bus.Publish(ctx, p.channel, payload); err != nil {
			return err
		}
	}
	if p.stream != "" {
		if err := p.bus.StreamAppend(ctx, p.stream, payload); err != nil {
			return err
		}
	}
	return nil
}

// RequestDecoder turns a stream payload into a request. It is where the
// signature is checked and the caller recovered.
type RequestDecoder func(payload []byte) (domain.Request, error)

// RequestConsumer tails the operator request stream.
type RequestConsumer struct {
	bus    domain.SignalBus
	decode RequestDecoder
	stream string
	lastID string
	batch  int
}

// NewRequestConsumer reads stream after lastID; "0" replays everything.
func NewRequestConsumer(bus domain.SignalBus, decode RequestDecoder, stream, lastID string, batch int) *RequestConsumer {
	if lastID == "" {
		lastID = "0"
	}
	if batch <= 0 {
		batch = 32
	}
	return &RequestConsumer{bus: bus, decode: decode, stream: stream, lastID: lastID, batch: batch}
}

// Poll returns the requests appended since the previous poll. Entries that
// do not decode are skipped and reported in bad.
func (rc *RequestConsumer) Poll(ctx context.Context) (reqs []domain.Request, bad []string, err error) {
	msgs, err := rc.bus.StreamRead(ctx, rc.stream, rc.lastID, rc.batch)
	if err != nil {
		return nil, nil, err
	}
	for _, m := range msgs {
		rc.lastID = m.ID
		req, err := rc.decode(m.Payload)
		if err != nil {
			bad = append(bad, m.ID)
			continue
		}
		req.Source = "stream"
		if req.ID == "" {
			req.ID = m.ID
		}
		reqs = append(reqs, req)
	}
	return reqs, bad, nil
}

// LastID is the ID of the newest entry consumed.
func (rc *RequestConsumer) LastID() string { return rc.lastID }
