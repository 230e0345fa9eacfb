package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body", errBadRequest)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeDomainError maps session and store errors onto HTTP statuses. Rule
// violations carry their message through so forms can show it inline.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errNoSession):
		writeError(w, http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, quiz.ErrGameEnded):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, quiz.ErrNotFound):
		writeError(w, http.StatusNotFound, "game or team not found")
	case errors.Is(err, quiz.ErrConflict):
		writeError(w, http.StatusConflict, "name already taken")
	case errors.Is(err, quiz.ErrInvariant):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, quiz.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		logger.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
