package ingestion

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
)

// Processor applies a command. *core.DeterministicCore satisfies it.
type Processor interface {
	ProcessEvent(evt event.Event) (core.Receipt, error)
}

// Outcome is what the transport should do with a message after dispatch.
type Outcome int

const (
	OutcomeAck  Outcome = iota // processed, rejected, or a duplicate
	OutcomeNak                 // retry later
	OutcomeTerm                // never deliverable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeNak:
		return "nak"
	case OutcomeTerm:
		return "term"
	default:
		return "unknown"
	}
}

// Dispatcher feeds messages from the subscriber channel into the core and
// settles each one with its transport.
type Dispatcher struct {
	processor Processor
	inputChan <-chan RawEvent
	logger    zerolog.Logger
}

func NewDispatcher(processor Processor, inputChan <-chan RawEvent, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{processor: processor, inputChan: inputChan, logger: logger}
}

// Run dispatches until ctx is cancelled or the channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Msg("dispatcher started")
	defer d.logger.Info().Msg("dispatcher stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.inputChan:
			if !ok {
				return nil
			}
			switch d.Dispatch(raw) {
			case OutcomeAck:
				raw.ack()
			case OutcomeNak:
				raw.nak()
			case OutcomeTerm:
				raw.term()
			}
		}
	}
}

// Dispatch parses and applies one message. Domain rejections are final and
// acknowledged: they are already recorded in the event log. A sequence gap
// is retried so the missing command can arrive first.
func (d *Dispatcher) Dispatch(raw RawEvent) Outcome {
	evt, err := ParseRawEvent(raw)
	if err != nil {
		d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("unparseable command")
		return OutcomeTerm
	}

	receipt, err := d.processor.ProcessEvent(evt)
	switch {
	case err == nil:
		return OutcomeAck
	case receipt.Rejected:
		return OutcomeAck
	case errors.Is(err, core.ErrSequenceGap):
		return OutcomeNak
	case errors.Is(err, core.ErrOutOfOrder):
		d.logger.Warn().Err(err).Str("request_id", evt.IdempotencyKey()).Msg("stale command dropped")
		return OutcomeTerm
	default:
		d.logger.Error().Err(err).Str("request_id", evt.IdempotencyKey()).Msg("command failed")
		return OutcomeNak
	}
}
