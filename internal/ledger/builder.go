package ledger

import (
	"github.com/google/uuid"
)

// BatchBuilder collects the journal entries produced by a single command.
// Transfers are recorded in call order; zero amounts are skipped so handlers
// can post optional legs (fees, remainders) unconditionally.
type BatchBuilder struct {
	batch *Batch
}

func NewBatchBuilder(eventRef string, sequence int64, timestamp int64) *BatchBuilder {
	return &BatchBuilder{
		batch: &Batch{
			BatchID:   uuid.New(),
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// Transfer moves amount of the asset from one account to another.
// Moves funds: from (credit) → to (debit)
func (b *BatchBuilder) Transfer(from, to AccountKey, amount uint64, jt JournalType) *BatchBuilder {
	if amount == 0 {
		return b
	}
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		AssetID:       to.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
	return b
}

// Len returns the number of journals collected so far.
func (b *BatchBuilder) Len() int {
	return len(b.batch.Journals)
}

// Build returns the collected batch, or nil when no journal was posted.
func (b *BatchBuilder) Build() *Batch {
	if len(b.batch.Journals) == 0 {
		return nil
	}
	return b.batch
}
