package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/testpulse/admitflow/internal/common"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses. Anything unmapped
// is a 500 with the detail kept out of the response body.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound), errors.Is(err, common.ErrJobNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrInvalidResumeState):
		status = http.StatusConflict
	}

	body := errorBody{Error: err.Error()}
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		body.Code = appErr.Code
		body.Error = appErr.Message
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}
