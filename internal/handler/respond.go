package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/mingpian/cardbase/internal/domain"
)

// maxRequestBody caps JSON request bodies at 64KB.
const maxRequestBody = 65536

// respondJSON writes v as a JSON response with the given status.
func respondJSON(w http.ResponseWriter, logger *slog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads and decodes a JSON request body into v.
// Returns a domain validation error on malformed input.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.Invalid("", "invalid JSON request body")
	}
	return nil
}
