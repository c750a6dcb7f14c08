package api

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc/codes"

	"github.com/commissiontracker/underwriter/internal/types"
)

var (
	// ErrInvalidRequest indicates a request the caller must fix.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrPermissionDenied indicates a tenant asking for another carrier's rules.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnavailable indicates the rule store could not be read.
	ErrUnavailable = errors.New("rule store unavailable")
)

// grpcCode maps service errors to gRPC status codes.
func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return codes.InvalidArgument
	case errors.Is(err, ErrPermissionDenied):
		return codes.PermissionDenied
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, ErrUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// httpStatus maps service errors to HTTP status codes and error codes.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	case errors.Is(err, ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// issueCodes names validation sentinels on the wire. Checked in order; the
// first match wins.
var issueCodes = []struct {
	err  error
	code string
}{
	{types.ErrUnknownField, "unknown_field"},
	{types.ErrInvalidOperator, "invalid_operator"},
	{types.ErrKindMismatch, "kind_mismatch"},
	{types.ErrUnknownKind, "unknown_kind"},
	{types.ErrUnknownCombinator, "unknown_combinator"},
	{types.ErrValueShape, "value_shape"},
	{types.ErrUnknownOption, "unknown_option"},
	{types.ErrInvalidRange, "invalid_range"},
	{types.ErrInvalidThreshold, "invalid_threshold"},
	{types.ErrGroupArity, "group_arity"},
	{types.ErrEmptyPredicate, "empty_predicate"},
	{types.ErrUnsupportedVersion, "unsupported_version"},
	{types.ErrPredicateTooDeep, "too_large"},
	{types.ErrPredicateCycle, "cycle"},
	{types.ErrInvalidNullHandling, "invalid_null_handling"},
	{types.ErrMalformedPredicate, "malformed"},
}

func issueCode(err error) string {
	for _, ic := range issueCodes {
		if errors.Is(err, ic.err) {
			return ic.code
		}
	}
	return "invalid"
}
