package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ingestion"
	"github.com/x5th/x-leverage/internal/state"
)

const (
	requestID = "550e8400-e29b-41d4-a716-446655440000"
	callerID  = "660e8400-e29b-41d4-a716-446655440001"
	ownerID   = "770e8400-e29b-41d4-a716-446655440002"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func rawFromJSON(t *testing.T, subject string, v interface{}) ingestion.RawEvent {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestEventTypeFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    event.EventType
		ok      bool
	}{
		{"xlev.cmd.position_open", event.EventTypePositionOpen, true},
		{"xlev.cmd.forced_liquidation." + ownerID, event.EventTypeForcedLiquidation, true},
		{"xlev.cmd.no_such_command", 0, false},
		{"xlev.out.position_open", 0, false},
		{"xlev.cmd.", 0, false},
	}
	for _, tc := range cases {
		got, err := ingestion.EventTypeFromSubject(tc.subject)
		if tc.ok {
			if err != nil {
				t.Errorf("%s: unexpected error %v", tc.subject, err)
			} else if got != tc.want {
				t.Errorf("%s: got %v, want %v", tc.subject, got, tc.want)
			}
			continue
		}
		if !errors.Is(err, ingestion.ErrUnknownSubject) {
			t.Errorf("%s: got %v, want ErrUnknownSubject", tc.subject, err)
		}
	}

	if got := ingestion.CommandSubject(event.EventTypeEarlyClose); got != "xlev.cmd.early_close" {
		t.Errorf("command subject: got %s", got)
	}
}

func TestParsePositionOpen(t *testing.T) {
	payload := map[string]interface{}{
		"request_id":            requestID,
		"caller":                callerID,
		"slot":                  10,
		"timestamp":             1_700_000_000,
		"collateral_asset":      "SOL",
		"collateral_amount":     uint64(1_000_000_000_000),
		"collateral_value":      uint64(150_000_000_000),
		"financed_asset":        "USDC",
		"financing_amount":      uint64(100_000_000_000),
		"purchase_price":        uint64(100_000_000_000),
		"markup_bps":            500,
		"initial_ltv":           6_666,
		"max_ltv":               7_000,
		"liquidation_threshold": 8_000,
		"term_start":            1_700_000_000,
		"term_end":              1_731_536_000,
		"price_sources":         []string{ownerID},
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "xlev.cmd.position_open", payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	po, ok := evt.(*event.PositionOpen)
	if !ok {
		t.Fatalf("expected *event.PositionOpen, got %T", evt)
	}
	if po.CollateralAsset != "SOL" {
		t.Errorf("collateral_asset: got %s, want SOL", po.CollateralAsset)
	}
	if po.FinancingAmount != 100_000_000_000 {
		t.Errorf("financing_amount: got %d", po.FinancingAmount)
	}
	if po.Caller.String() != callerID {
		t.Errorf("caller: got %s", po.Caller)
	}
	if po.IdempotencyKey() != requestID {
		t.Errorf("idempotency key: got %s", po.IdempotencyKey())
	}
	if len(po.PriceSources) != 1 || po.PriceSources[0].String() != ownerID {
		t.Errorf("price_sources: got %v", po.PriceSources)
	}
}

func TestParsePermissionlessLiquidation(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": requestID,
		"caller":     callerID,
		"slot":       11,
		"timestamp":  1_700_000_100,
		"sequence":   4,
		"owner":      ownerID,
		"index":      2,
		"pct":        25,
	}

	evt, err := ingestion.ParseRawEvent(rawFromJSON(t, "xlev.cmd.permissionless_liquidation."+ownerID, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	pl, ok := evt.(*event.PermissionlessLiquidation)
	if !ok {
		t.Fatalf("expected *event.PermissionlessLiquidation, got %T", evt)
	}
	if pl.Owner.String() != ownerID || pl.Index != 2 || pl.Pct != 25 {
		t.Errorf("got owner=%s index=%d pct=%d", pl.Owner, pl.Index, pl.Pct)
	}
	if pl.SourceSequence() != 4 {
		t.Errorf("sequence: got %d, want 4", pl.SourceSequence())
	}
}

func TestParseUnknownField_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": requestID,
		"caller":     callerID,
		"ammount":    100,
	}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "xlev.cmd.liquidity_deposit", payload))
	if err == nil || !strings.Contains(err.Error(), "ammount") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestParseMissingHeader_Fails(t *testing.T) {
	payload := map[string]interface{}{"caller": callerID, "amount": 100}
	_, err := ingestion.ParseRawEvent(rawFromJSON(t, "xlev.cmd.liquidity_deposit", payload))
	if !errors.Is(err, ingestion.ErrMissingHeader) {
		t.Fatalf("expected ErrMissingHeader, got %v", err)
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawEvent{Subject: "xlev.cmd.early_close", Data: []byte(`{invalid json`)}
	if _, err := ingestion.ParseRawEvent(raw); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "not-a-uuid",
		"caller":     callerID,
	}
	if _, err := ingestion.ParseRawEvent(rawFromJSON(t, "xlev.cmd.protocol_pause", payload)); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

type fakeProcessor struct {
	receipt core.Receipt
	err     error
	calls   int
}

func (f *fakeProcessor) ProcessEvent(event.Event) (core.Receipt, error) {
	f.calls++
	return f.receipt, f.err
}

func TestDispatchOutcomes(t *testing.T) {
	valid := map[string]interface{}{"request_id": requestID, "caller": callerID}

	cases := []struct {
		name    string
		subject string
		proc    *fakeProcessor
		want    ingestion.Outcome
	}{
		{"applied", "xlev.cmd.protocol_pause", &fakeProcessor{}, ingestion.OutcomeAck},
		{"rejected", "xlev.cmd.protocol_pause", &fakeProcessor{receipt: core.Receipt{Rejected: true}, err: state.ErrUnauthorized}, ingestion.OutcomeAck},
		{"gap", "xlev.cmd.protocol_pause", &fakeProcessor{err: core.ErrSequenceGap}, ingestion.OutcomeNak},
		{"stale", "xlev.cmd.protocol_pause", &fakeProcessor{err: core.ErrOutOfOrder}, ingestion.OutcomeTerm},
		{"unparseable", "xlev.cmd.bogus", &fakeProcessor{}, ingestion.OutcomeTerm},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ingestion.NewDispatcher(tc.proc, nil, testLogger())
			if got := d.Dispatch(rawFromJSON(t, tc.subject, valid)); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestDispatcherRun_SettlesMessages(t *testing.T) {
	ch := make(chan ingestion.RawEvent, 2)
	var acked, termed int

	good := rawFromJSON(t, "xlev.cmd.protocol_pause", map[string]interface{}{"request_id": requestID, "caller": callerID})
	good.AckFunc = func() { acked++ }
	bad := ingestion.RawEvent{Subject: "xlev.cmd.bogus", Data: []byte(`{}`), TermFunc: func() { termed++ }}
	ch <- good
	ch <- bad
	close(ch)

	d := ingestion.NewDispatcher(&fakeProcessor{}, ch, testLogger())
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if acked != 1 || termed != 1 {
		t.Fatalf("acked=%d termed=%d, want 1 and 1", acked, termed)
	}
}

func TestDirectIngestService_Submit(t *testing.T) {
	proc := &fakeProcessor{receipt: core.Receipt{Sequence: 9}}
	svc := ingestion.NewDirectIngestService(proc, 1)

	body := []byte(`{"request_id":"` + requestID + `","caller":"` + callerID + `","amount":5}`)
	receipt, err := svc.Submit(context.Background(), event.EventTypeLiquidityDeposit, body)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if receipt.Sequence != 9 || proc.calls != 1 {
		t.Fatalf("receipt=%+v calls=%d", receipt, proc.calls)
	}

	if _, err := svc.Submit(context.Background(), event.EventTypeLiquidityDeposit, []byte(`{}`)); err == nil {
		t.Fatal("expected header validation error")
	}
	if proc.calls != 1 {
		t.Fatalf("invalid command reached the core")
	}
}

func TestEncodeOutbound(t *testing.T) {
	owner := uuid.MustParse(ownerID)
	env := &event.EventEnvelope{
		Sequence:       12,
		IdempotencyKey: requestID,
		EventType:      event.EventTypeEarlyClose,
		Owner:          owner,
		Payload:        []byte(`{"index":1}`),
		StateHash:      [32]byte{0xab},
	}

	subject, data, err := ingestion.EncodeOutbound(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if subject != "xlev.out.early_close" {
		t.Errorf("subject: got %s", subject)
	}

	var pe ingestion.PublishableEvent
	if err := json.Unmarshal(data, &pe); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pe.Owner == nil || *pe.Owner != owner {
		t.Errorf("owner: got %v", pe.Owner)
	}
	if !strings.HasPrefix(pe.StateHash, "ab00") {
		t.Errorf("state hash: got %s", pe.StateHash)
	}
	if string(pe.Payload) != `{"index":1}` {
		t.Errorf("payload: got %s", pe.Payload)
	}

	env.Rejected = true
	env.Owner = uuid.Nil
	subject, _, err = ingestion.EncodeOutbound(env)
	if err != nil || subject != "xlev.out.rejected.early_close" {
		t.Errorf("rejected subject: got %s, %v", subject, err)
	}
}
