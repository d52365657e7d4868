package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
)

// ErrBusy is returned when a direct submission cannot get a turn before its
// context expires.
var ErrBusy = errors.New("ingestion: engine busy")

// DirectIngestService applies commands submitted over the REST surface. It
// shares the core with the NATS dispatcher; the core serializes callers.
// A token bounds how many direct submissions wait on the core at once.
type DirectIngestService struct {
	processor Processor
	slots     chan struct{}
}

func NewDirectIngestService(processor Processor, maxInFlight int) *DirectIngestService {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &DirectIngestService{processor: processor, slots: make(chan struct{}, maxInFlight)}
}

// Submit parses and applies a command, returning the core's receipt. A
// domain rejection returns both the receipt and the error.
func (s *DirectIngestService) Submit(ctx context.Context, et event.EventType, body []byte) (core.Receipt, error) {
	evt, err := ParseCommand(et, body)
	if err != nil {
		return core.Receipt{}, err
	}

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return core.Receipt{}, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
	defer func() { <-s.slots }()

	return s.processor.ProcessEvent(evt)
}
