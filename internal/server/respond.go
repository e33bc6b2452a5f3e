package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/saylens/saylens/internal/pipeline"
	"github.com/saylens/saylens/internal/pipeline/audionorm"
	"github.com/saylens/saylens/internal/pipeline/score"
	"github.com/saylens/saylens/pkg/provider/llm"
	"github.com/saylens/saylens/pkg/provider/stt"
	"github.com/saylens/saylens/pkg/provider/tts"
)

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON encodes v with the given status. Encoding failures surface as a
// plain 500 because the header has not been written yet only on the first
// error path; afterwards the connection is best-effort.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto an HTTP status using the error taxonomy:
// bad input and undecodable or too-short audio are the client's fault (400);
// unavailable upstream providers and failed scoring are retryable service
// conditions (503); anything else is a server error (500).
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrInput),
		errors.Is(err, audionorm.ErrDecode),
		errors.Is(err, audionorm.ErrTooShort):
		status = http.StatusBadRequest
	case errors.Is(err, stt.ErrUnavailable),
		errors.Is(err, llm.ErrUnavailable),
		errors.Is(err, tts.ErrUnavailable),
		errors.Is(err, score.ErrScoringUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		slog.Error("request failed", "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
