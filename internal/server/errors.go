package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/x5th/x-leverage/internal/core"
	"github.com/x5th/x-leverage/internal/ingestion"
	"github.com/x5th/x-leverage/internal/query"
	"github.com/x5th/x-leverage/internal/state"
)

var errBadRequest = errors.New("bad request")

// codeFor maps an error to the gRPC code it is reported with.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, ingestion.ErrUnknownSubject),
		errors.Is(err, ingestion.ErrMissingHeader),
		errors.Is(err, ingestion.ErrMalformed),
		errors.Is(err, query.ErrUnknownAsset):
		return codes.InvalidArgument
	case errors.Is(err, query.ErrNoPool):
		return codes.NotFound
	case errors.Is(err, ingestion.ErrBusy):
		return codes.Unavailable
	case errors.Is(err, core.ErrSequenceGap), errors.Is(err, core.ErrOutOfOrder):
		return codes.Aborted
	}

	switch state.Classify(err) {
	case state.CategoryValidation:
		return codes.InvalidArgument
	case state.CategoryAuthorization:
		return codes.PermissionDenied
	case state.CategoryArithmetic:
		return codes.OutOfRange
	case state.CategoryState:
		return codes.FailedPrecondition
	case state.CategoryResource:
		return codes.ResourceExhausted
	default:
		return codes.Internal
	}
}

// errorBody is the JSON error form, mirroring google.rpc.Status.
type errorBody struct {
	Code    int32  `json:"code"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) codes.Code {
	code := codeFor(err)
	st := status.New(code, err.Error())
	writeJSON(w, runtime.HTTPStatusFromCode(code), errorBody{
		Code:    int32(st.Code()),
		Status:  st.Code().String(),
		Message: st.Message(),
	})
	return code
}

func writeJSON(w http.ResponseWriter, httpStatus int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(v)
}
