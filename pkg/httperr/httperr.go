// Package httperr translates gRPC-style status errors into HTTP responses.
// Services classify failures with google.golang.org/grpc/status; handlers
// hand the error here.
package httperr

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FromGRPC maps a status error to an HTTP status, a stable code string and a
// client-safe message. Non-status errors are treated as internal.
func FromGRPC(err error) (int, string, string) {
	st, ok := status.FromError(err)
	if !ok {
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}

	switch st.Code() {
	case codes.InvalidArgument:
		return http.StatusBadRequest, "INVALID_ARGUMENT", st.Message()
	case codes.NotFound:
		return http.StatusNotFound, "NOT_FOUND", st.Message()
	case codes.FailedPrecondition:
		return http.StatusConflict, "FAILED_PRECONDITION", st.Message()
	case codes.Unavailable, codes.DeadlineExceeded:
		return http.StatusServiceUnavailable, "UNAVAILABLE", "service unavailable"
	default:
		return http.StatusInternalServerError, "INTERNAL", "internal error"
	}
}

// Write renders err as a JSON error response. Internal failures keep their
// detail out of the response and in the log.
func Write(w http.ResponseWriter, log *slog.Logger, err error) {
	httpStatus, code, msg := FromGRPC(err)

	if httpStatus >= http.StatusInternalServerError {
		log.Error("request failed", "code", code, "err", err)
	} else {
		log.Debug("request rejected", "code", code, "err", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(body{Code: code, Message: msg})
}

// Wrap builds a status error from a code and cause, preserving the cause's
// message for the client.
func Wrap(code codes.Code, err error) error {
	if err == nil {
		return nil
	}
	return status.Error(code, err.Error())
}

// IsCode reports whether err carries the given gRPC code.
func IsCode(err error, code codes.Code) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == code
}
