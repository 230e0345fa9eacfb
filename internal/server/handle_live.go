package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/nmic-mathiasbang/nm-quiz/internal/feed"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

// LiveMessage is one WebSocket frame in either direction. The server sends
// "change" and "error"; a team may send "buzz".
type LiveMessage struct {
	Type   string       `json:"type"`
	Change *feed.Change `json:"change,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// handleLive streams game changes over a WebSocket. A team's connected
// flag follows the socket.
func handleLive(logger *slog.Logger, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := st.Subscribe(r.Context(), chi.URLParam(r, "gameID"))
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		defer sub.Close()

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		ts := teamOf(r)
		if ts != nil {
			trackSocket(r.Context(), logger, ts, (*team.Session).Attach)
			defer trackSocket(r.Context(), logger, ts, (*team.Session).Detach)
		}

		go func() {
			defer cancel()
			readLive(ctx, logger, conn, ts)
		}()

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-sub.C:
				if !ok {
					return
				}
				out := streamChange(c, ts != nil)
				if err := writeLive(ctx, conn, LiveMessage{Type: "change", Change: &out}); err != nil {
					logger.Debug("websocket write failed", "error", err)
					return
				}
				if gameEnded(c) {
					conn.Close(websocket.StatusNormalClosure, "game ended")
					return
				}
			case <-ping.C:
				if err := conn.Ping(ctx); err != nil {
					logger.Debug("websocket ping failed", "error", err)
					return
				}
			}
		}
	}
}

func readLive(ctx context.Context, logger *slog.Logger, conn *websocket.Conn, ts *team.Session) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			logger.Debug("websocket read ended", "error", err)
			return
		}

		var msg LiveMessage
		switch {
		case json.Unmarshal(data, &msg) != nil:
			err = errBadRequest
		case msg.Type != "buzz" || ts == nil:
			err = errBadRequest
		default:
			err = ts.Buzz(ctx)
		}
		if err != nil {
			if werr := writeLive(ctx, conn, LiveMessage{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
		}
	}
}

func writeLive(ctx context.Context, conn *websocket.Conn, msg LiveMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// trackSocket outlives the request so the disconnect is recorded even
// when the socket drops because the request was cancelled.
func trackSocket(ctx context.Context, logger *slog.Logger, ts *team.Session, fn func(*team.Session, context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(ts, ctx); err != nil && !errors.Is(err, quiz.ErrGameEnded) {
		logger.Warn("recording team connection",
			"game_id", ts.GameID(),
			"team_id", ts.TeamID(),
			"error", err,
		)
	}
}
