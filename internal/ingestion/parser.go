package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
)

// CommandSubjectPrefix is the subject namespace commands arrive on. The
// token after the prefix names the command, e.g. xlev.cmd.position_open;
// producers may append further tokens (typically the owner) for routing.
const CommandSubjectPrefix = "xlev.cmd."

var (
	ErrUnknownSubject = errors.New("ingestion: subject does not name a command")
	ErrMissingHeader  = errors.New("ingestion: request_id and caller are required")
	ErrMalformed      = errors.New("ingestion: malformed command")
)

// EventTypeFromSubject extracts the command type from a command subject.
func EventTypeFromSubject(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	name, _, _ := strings.Cut(rest, ".")
	et, ok := event.ParseEventType(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return et, nil
}

// CommandSubject returns the subject a command of type et is published on.
func CommandSubject(et event.EventType) string {
	return CommandSubjectPrefix + et.String()
}

// ParseRawEvent converts a RawEvent into a typed command. The body is the
// command's JSON form with the header fields inline; unknown fields are
// rejected so a misspelled field never silently defaults to zero.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	et, err := EventTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(et, raw.Data)
}

// ParseCommand decodes and validates the body of a command of type et.
func ParseCommand(et event.EventType, data []byte) (event.Event, error) {
	evt, err := event.New(et)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, et, err)
	}
	if err := validateHeader(evt.Header()); err != nil {
		return nil, fmt.Errorf("parse %s: %w", et, err)
	}
	return evt, nil
}

func validateHeader(m event.Meta) error {
	if m.RequestID == uuid.Nil || m.Caller == uuid.Nil {
		return ErrMissingHeader
	}
	if m.Sequence < 0 {
		return fmt.Errorf("%w: negative sequence %d", ErrMalformed, m.Sequence)
	}
	return nil
}
