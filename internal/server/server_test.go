package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/event"
	"github.com/x5th/x-leverage/internal/ingestion"
	"github.com/x5th/x-leverage/internal/observability"
	"github.com/x5th/x-leverage/internal/query"
	"github.com/x5th/x-leverage/internal/state"
)

type stubProcessor struct {
	receipt core.Receipt
	err     error
}

func (p *stubProcessor) ProcessEvent(event.Event) (core.Receipt, error) {
	return p.receipt, p.err
}

type stubAdmin struct{ seq int64 }

func (a *stubAdmin) TakeSnapshot(context.Context) (int64, error) { return a.seq, nil }
func (a *stubAdmin) RebuildProjections(context.Context) error    { return nil }

const validCommand = `{"request_id":"550e8400-e29b-41d4-a716-446655440000","caller":"660e8400-e29b-41d4-a716-446655440001"}`

func newTestHandler(t *testing.T, proc *stubProcessor) http.Handler {
	t.Helper()
	hc := observability.NewHealthChecker()
	s, err := New("127.0.0.1:0", "127.0.0.1:0", &Deps{
		Ingest:        ingestion.NewDirectIngestService(proc, 4),
		Admin:         &stubAdmin{seq: 7},
		HealthChecker: hc,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	h, err := s.Handler()
	require.NoError(t, err)
	return h
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSubmitCommand_Applied(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{receipt: core.Receipt{Sequence: 3, StateHash: [32]byte{0x01}}})

	rec, body := do(t, h, "POST", "/v1/commands/protocol_pause", validCommand)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["sequence"])
	assert.True(t, strings.HasPrefix(body["state_hash"].(string), "01"))
	assert.Nil(t, body["rejected"])
}

func TestSubmitCommand_RejectedMapsCategory(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{
		receipt: core.Receipt{Sequence: 4, Rejected: true},
		err:     fmt.Errorf("pause: %w", state.ErrUnauthorized),
	})

	rec, body := do(t, h, "POST", "/v1/commands/protocol_pause", validCommand)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, true, body["rejected"])
	assert.Equal(t, state.ErrUnauthorized.Error(), body["reason"])
	assert.Equal(t, "authorization", body["category"])
}

func TestSubmitCommand_BadInput(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{})

	rec, body := do(t, h, "POST", "/v1/commands/no_such_command", validCommand)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidArgument", body["status"])

	rec, _ = do(t, h, "POST", "/v1/commands/protocol_pause", `{"caller":"660e8400-e29b-41d4-a716-446655440001"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, "POST", "/v1/commands/protocol_pause", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitCommand_SequenceGapIsConflict(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{err: fmt.Errorf("sequence validation failed: %w", core.ErrSequenceGap)})
	rec, _ := do(t, h, "POST", "/v1/commands/protocol_pause", validCommand)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueryRoutes_ValidateParams(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{})

	rec, _ := do(t, h, "GET", "/v1/owners/not-a-uuid/positions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, "GET", "/v1/owners/660e8400-e29b-41d4-a716-446655440001/journals?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, h, "GET", "/v1/pool?as_of_sequence=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSnapshotAndHealth(t *testing.T) {
	h := newTestHandler(t, &stubProcessor{})

	rec, body := do(t, h, "POST", "/v1/admin/snapshot", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), body["sequence"])

	rec, _ = do(t, h, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = do(t, h, "GET", "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{state.ErrLtvBreach, codes.FailedPrecondition},
		{state.ErrUnauthorized, codes.PermissionDenied},
		{state.ErrMathOverflow, codes.OutOfRange},
		{state.ErrTooManyPositions, codes.ResourceExhausted},
		{state.ErrZeroAmount, codes.InvalidArgument},
		{query.ErrNoPool, codes.NotFound},
		{ingestion.ErrBusy, codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, codeFor(tc.err), tc.err.Error())
	}
}
