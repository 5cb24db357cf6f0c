// Package api is the HTTP surface of the KeyMaster service: request
// decoding, the error envelope, and the route handlers over the engine.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Mindburn-Labs/keymaster/pkg/keys"
)

// ErrorDetail is the code/message pair inside the error envelope.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the envelope of every error response:
// {"error": {"code": ..., "message": ...}}.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// WriteError writes the error envelope with the given status.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// WriteBadRequest writes a 400 with code invalid_request.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, "invalid_request", message)
}

// WriteInternal writes a 500 internal_error and logs the cause. The cause
// never reaches the response body.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, string(keys.KindInternal), "Internal server error")
}

// kindStatus maps every engine failure kind to its HTTP status.
var kindStatus = map[keys.Kind]int{
	keys.KindInvalidKey:      http.StatusUnauthorized,
	keys.KindKeyNotFound:     http.StatusNotFound,
	keys.KindProjectExists:   http.StatusConflict,
	keys.KindProjectNotFound: http.StatusNotFound,
	keys.KindStorageError:    http.StatusInternalServerError,
	keys.KindInternal:        http.StatusInternalServerError,
}

// WriteEngineError maps a classified engine error onto the envelope.
// Unclassified errors fall through to internal_error.
func WriteEngineError(w http.ResponseWriter, err error) {
	kind := keys.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		WriteInternal(w, err)
		return
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "code", string(kind), "error", err)
	}
	WriteError(w, status, string(kind), publicMessage(kind))
}

// publicMessage keeps response bodies uniform per kind so internals never
// leak through error text.
func publicMessage(kind keys.Kind) string {
	switch kind {
	case keys.KindInvalidKey:
		return "Invalid or expired API key"
	case keys.KindKeyNotFound:
		return "API key not found"
	case keys.KindProjectExists:
		return "Project already exists"
	case keys.KindProjectNotFound:
		return "Project not found"
	case keys.KindStorageError:
		return "Storage operation failed"
	default:
		return "Internal server error"
	}
}

// writeJSON writes a 200 JSON body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
