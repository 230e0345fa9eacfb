package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

func handleEvents(logger *slog.Logger, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		sub, err := st.Subscribe(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		defer sub.Close()
		redact := teamOf(r) != nil

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case c, ok := <-sub.C:
				if !ok {
					return
				}
				data, err := json.Marshal(streamChange(c, redact))
				if err != nil {
					logger.Error("encoding change", "error", err)
					return
				}
				fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
				flusher.Flush()
				if gameEnded(c) {
					return
				}
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}

// streamChange prepares a change for a client. Teams get the game without
// unrevealed answers. The shared change is never modified.
func streamChange(c feed.Change, redact bool) feed.Change {
	if redact && c.Game != nil {
		g := publicGame(*c.Game)
		c.Game = &g
	}
	return c
}

func gameEnded(c feed.Change) bool {
	return c.Relation == feed.RelationGame && c.Op == feed.OpDelete
}
