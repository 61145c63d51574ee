// Package api provides the HTTP surface for remindwell: profile management,
// ad-hoc evaluation, work submission, manual processing, and health. It
// enforces cross-cutting concerns (request IDs, panic recovery, logging,
// error envelopes) before requests reach the handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"remindwell/internal/types"
)

// maxRequestBodySize is the maximum allowed size of a request body (1 MB).
const maxRequestBodySize = 1 << 20

// APIResponse is the standard envelope for all successful responses.
type APIResponse struct {
	Data any `json:"data,omitempty"`
}

// APIErrorResponse is the standard envelope for all error responses.
type APIErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned to clients.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id"`
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fallback := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(types.ErrCodeInternalUnexpected),
				Message:   "failed to marshal response",
				RequestID: types.GetRequestID(r.Context()),
			},
		}
		_ = json.NewEncoder(w).Encode(fallback)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes an error response. If the error is (or wraps) a
// *types.AppError, its code determines the HTTP status; anything else becomes
// a 500 without leaking internal detail.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	requestID := types.GetRequestID(r.Context())

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		resp := APIErrorResponse{
			Error: ErrorDetail{
				Code:      string(appErr.Code),
				Message:   appErr.Message,
				Details:   appErr.Details,
				RequestID: requestID,
			},
		}
		JSON(w, r, appErr.HTTPStatus(), resp)
		return
	}

	resp := APIErrorResponse{
		Error: ErrorDetail{
			Code:      string(types.ErrCodeInternalUnexpected),
			Message:   "an unexpected error occurred",
			RequestID: requestID,
		},
	}
	JSON(w, r, http.StatusInternalServerError, resp)
}

// DecodeJSON reads the request body into dst, enforcing a 1 MB limit, strict
// field checking, and exactly one JSON value. Failures come back as
// validation AppErrors (400).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
			maxErr    *http.MaxBytesError
		)
		switch {
		case errors.Is(err, io.EOF):
			return types.NewAppError(types.ErrCodeValidationJSON, "request body must not be empty", err)
		case errors.As(err, &syntaxErr):
			return types.NewAppError(types.ErrCodeValidationJSON,
				fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset), err)
		case errors.As(err, &typeErr):
			return types.NewAppError(types.ErrCodeValidationJSON,
				fmt.Sprintf("invalid value for field %q", typeErr.Field), err)
		case errors.As(err, &maxErr):
			return types.NewAppError(types.ErrCodeValidationJSON, "request body exceeds 1MB", err)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			field := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return types.NewAppError(types.ErrCodeValidationJSON,
				fmt.Sprintf("unknown field %s", field), err)
		default:
			return types.NewAppError(types.ErrCodeValidationJSON, "invalid request body", err)
		}
	}

	// Reject trailing garbage after the first value.
	if dec.More() {
		return types.NewAppError(types.ErrCodeValidationJSON, "request body must contain a single JSON value", nil)
	}
	return nil
}
