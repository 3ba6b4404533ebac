// Package api exposes the HTTP surface for the pipeline: event analysis,
// alert management, defense state, and manual overrides.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"threatops/internal/errs"
)

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}

// respondForError maps taxonomy errors to HTTP statuses. Validation is the
// caller's fault (400); corrupted state is ours (500); anything else is a
// generic 500 without leaking internals.
func respondForError(w http.ResponseWriter, err error) {
	var ve *errs.ValidationError
	if errors.As(err, &ve) {
		respondError(w, http.StatusBadRequest, ve.Error())
		return
	}
	if errs.IsStateCorruption(err) {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, "internal error")
}
