package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/x5th/x-leverage/internal/observability"
)

var (
	ErrSequenceGap = errors.New("core: source sequence gap")
	ErrOutOfOrder  = errors.New("core: out-of-order command")
)

// SequenceValidator validates submitter sequences per partition. Commands
// with a zero sequence are unsequenced and skip the check.
// Not thread-safe; guarded by the core's mutex.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *observability.Metrics
}

func NewSequenceValidator(metrics *observability.Metrics) *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         metrics,
	}
}

// CallerPartition is the ordering partition of a submitter.
func CallerPartition(caller uuid.UUID) string {
	return "caller:" + caller.String()
}

// SourcePartition is the ordering partition of a price source.
func SourcePartition(source uuid.UUID) string {
	return "source:" + source.String()
}

// expected returns the next sequence for a partition. Partitions start at 1.
func (sv *SequenceValidator) expected(partition string) int64 {
	if next, ok := sv.expectedNextSeq[partition]; ok {
		return next
	}
	return 1
}

// Check validates sourceSequence without advancing the partition.
func (sv *SequenceValidator) Check(partition string, sourceSequence int64, isDuplicate bool) error {
	if sourceSequence == 0 {
		return nil
	}
	expected := sv.expected(partition)

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		if sv.metrics != nil {
			sv.metrics.EventOutOfOrder.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence > expected {
		if sv.metrics != nil {
			sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
		}
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrSequenceGap, partition, expected, sourceSequence)
	}

	return nil
}

// Advance records that sourceSequence was consumed.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence == 0 {
		return
	}
	if sourceSequence >= sv.expected(partition) {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
}

// CheckPrice validates a price source's sequence. Gaps are tolerated and
// older sequences are reported as stale.
func (sv *SequenceValidator) CheckPrice(partition string, priceSequence int64) (stale bool) {
	if priceSequence == 0 {
		return false
	}
	expected := sv.expected(partition)
	if priceSequence < expected {
		return true
	}
	if priceSequence > expected && sv.metrics != nil {
		sv.metrics.EventSequenceGap.WithLabelValues(partition).Inc()
	}
	return false
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expected(partition)
}

// Partitions returns a copy of every partition's next expected sequence.
func (sv *SequenceValidator) Partitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for k, v := range sv.expectedNextSeq {
		out[k] = v
	}
	return out
}

// RestorePartitions replaces partition state (used during recovery).
func (sv *SequenceValidator) RestorePartitions(partitions map[string]int64) {
	sv.expectedNextSeq = make(map[string]int64, len(partitions))
	for k, v := range partitions {
		sv.expectedNextSeq[k] = v
	}
}
