package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/event"
)

// OutboundSubjectPrefix is where committed envelopes are published, as
// xlev.out.{event_type}, or xlev.out.rejected.{event_type} for rejections.
const OutboundSubjectPrefix = "xlev.out."

// Publisher is the subset of jetstream.JetStream the outbound publisher
// uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed envelopes for downstream consumers.
// Envelopes arrive only after the persistence worker has committed them.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan *event.EventEnvelope
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire form of an envelope.
type PublishableEvent struct {
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Owner          *uuid.UUID      `json:"owner,omitempty"`
	Slot           uint64          `json:"slot"`
	Payload        json.RawMessage `json:"payload"`
	Rejected       bool            `json:"rejected,omitempty"`
	RejectReason   string          `json:"reject_reason,omitempty"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan *event.EventEnvelope, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{js: js, inputChan: inputChan, logger: logger}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	op.logger.Info().Msg("outbound publisher started")
	defer op.logger.Info().Msg("outbound publisher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, env); err != nil {
				// Non-fatal: downstream consumers can read the event log.
				op.logger.Warn().Err(err).Int64("sequence", env.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, env *event.EventEnvelope) error {
	subject, data, err := EncodeOutbound(env)
	if err != nil {
		return err
	}
	_, err = op.js.Publish(ctx, subject, data, jetstream.WithMsgID(fmt.Sprintf("seq-%d", env.Sequence)))
	return err
}

// EncodeOutbound returns the subject and body an envelope is published with.
func EncodeOutbound(env *event.EventEnvelope) (string, []byte, error) {
	pe := PublishableEvent{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Slot:           env.Slot,
		Payload:        json.RawMessage(env.Payload),
		Rejected:       env.Rejected,
		RejectReason:   env.RejectReason,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
	if env.Owner != uuid.Nil {
		owner := env.Owner
		pe.Owner = &owner
	}
	if len(pe.Payload) == 0 {
		pe.Payload = json.RawMessage("null")
	}

	data, err := json.Marshal(pe)
	if err != nil {
		return "", nil, fmt.Errorf("marshal envelope: %w", err)
	}

	subject := OutboundSubjectPrefix + pe.EventType
	if env.Rejected {
		subject = OutboundSubjectPrefix + "rejected." + pe.EventType
	}
	return subject, data, nil
}
