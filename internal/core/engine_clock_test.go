package core_test

import (
	"testing"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/state"
)

// fixedClock reports whatever slot and timestamp the test sets.
type fixedClock struct {
	slot      uint64
	timestamp int64
}

func (c *fixedClock) Now() (uint64, int64) { return c.slot, c.timestamp }

func TestClock_SubmittedTimestampIgnored(t *testing.T) {
	clk := &fixedClock{slot: 10, timestamp: defaultNow}
	e := newClockedCore(t, clk)
	e.bootstrap()
	e.open()
	e.fund(ownerID, "USDC", deferred)
	before := e.core.Clock()

	forged := event.Meta{RequestID: uuid.New(), Caller: ownerID, Slot: 1 << 40, Timestamp: termEnd + 1_000}
	e.mustReject(&event.MaturityClose{Meta: forged, PositionRef: e.ref()}, state.ErrNotMatured)
	if got := e.core.Clock(); got != before {
		t.Fatalf("rejected command moved the clock: %+v -> %+v", before, got)
	}
	pos, _ := e.core.Position(ownerID, 0)
	if pos.Status != state.PositionStatusActive {
		t.Fatalf("expected Active, got %s", pos.Status)
	}

	clk.slot, clk.timestamp = 20, termEnd
	e.mustApply(&event.MaturityClose{Meta: e.meta(ownerID), PositionRef: e.ref()})
	if got := e.core.Clock(); got.Slot != 20 || got.Timestamp != termEnd {
		t.Fatalf("clock after close: %+v", got)
	}
}

func TestClock_LaggingSourceClamped(t *testing.T) {
	clk := &fixedClock{slot: 10, timestamp: defaultNow}
	e := newClockedCore(t, clk)
	e.bootstrap()

	clk.slot, clk.timestamp = 5, defaultNow-100
	e.fund(ownerID, "USDC", 1)
	if got := e.core.Clock(); got.Slot != 10 || got.Timestamp != defaultNow {
		t.Fatalf("clock regressed to %+v", got)
	}
	outputs := drainOutputs(e.persist)
	last := outputs[len(outputs)-1].Envelope
	if last.Slot != 10 || last.Timestamp.Unix() != defaultNow {
		t.Fatalf("envelope stamped slot %d at %d", last.Slot, last.Timestamp.Unix())
	}
}

func TestClock_RegressionRejected(t *testing.T) {
	e := newTestCore(t)
	e.bootstrap()
	tip := e.core.GetStateHash()
	before := e.core.Clock()

	back := e.meta(adminID)
	back.Slot = 1
	e.mustReject(&event.WalletDeposit{Meta: back, Account: ownerID, Asset: "USDC", Amount: 1}, state.ErrClockRegression)

	earlier := e.meta(adminID)
	earlier.Timestamp = defaultNow - 1
	e.mustReject(&event.WalletDeposit{Meta: earlier, Account: ownerID, Asset: "USDC", Amount: 1}, state.ErrClockRegression)

	if e.core.Clock() != before {
		t.Fatal("rejected commands moved the clock")
	}
	if e.core.GetStateHash() != tip {
		t.Fatal("rejected commands advanced the hash chain")
	}
	if got := e.wallet(ownerID, "USDC"); got != 0 {
		t.Fatalf("rejected deposit credited %d", got)
	}
	e.fund(ownerID, "USDC", 1)
}

func TestClock_ReplayKeepsLoggedStamps(t *testing.T) {
	clk := &fixedClock{slot: 10, timestamp: defaultNow}
	a := newClockedCore(t, clk)
	a.bootstrap()
	a.open()
	snap := a.core.CreateSnapshotState()
	if snap.Clock != a.core.Clock() {
		t.Fatalf("snapshot clock %+v, core %+v", snap.Clock, a.core.Clock())
	}
	drainOutputs(a.persist)

	clk.slot, clk.timestamp = 30, termEnd
	a.mustApply(&event.MaturitySweep{Meta: a.meta(providerID), PositionRef: a.ref()})
	tail := drainOutputs(a.persist)

	// a replaying core with its own clock still applies the logged stamps
	b := newClockedCore(t, &fixedClock{slot: 1, timestamp: termStart})
	b.core.RestoreFromSnapshot(snap)
	if b.core.Clock() != snap.Clock {
		t.Fatalf("restored clock %+v, want %+v", b.core.Clock(), snap.Clock)
	}
	for _, o := range tail {
		if err := b.core.Replay(o.Envelope); err != nil {
			t.Fatalf("replay failed: %v", err)
		}
	}
	if b.core.Clock() != a.core.Clock() {
		t.Fatalf("replayed clock %+v, want %+v", b.core.Clock(), a.core.Clock())
	}
	if b.core.FullDigest() != a.core.FullDigest() {
		t.Fatal("replayed state differs")
	}

	// and then stamps its own commands no earlier than the replayed clock
	b.fund(ownerID, "USDC", 1)
	if got := b.core.Clock(); got.Slot != 30 || got.Timestamp != termEnd {
		t.Fatalf("clock after replay regressed to %+v", got)
	}
}
