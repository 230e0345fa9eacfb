package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
)

type CreateGameResponse struct {
	GameID string `json:"gameId"`
	HostID string `json:"hostId"`
	Token  string `json:"token"`
}

// GameSnapshot is the public view of a game used by pollers. Answers stay
// hidden until the host reveals them.
type GameSnapshot struct {
	Phase quiz.Phase  `json:"phase"`
	Game  quiz.Game   `json:"game"`
	Teams []quiz.Team `json:"teams"`
}

func handleCreateGame(logger *slog.Logger, tokens *Tokens, hosts *Registry[*host.Session], deps host.Deps, bank quiz.Bank) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := hosts.Start(func(ctx context.Context) (*host.Session, error) {
			return host.Create(ctx, deps, bank)
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		token, err := tokens.Issue(Identity{Role: RoleHost, GameID: sess.GameID(), Subject: sess.HostID()})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateGameResponse{
			GameID: sess.GameID(),
			HostID: sess.HostID(),
			Token:  token,
		})
	}
}

func handleGetGame(logger *slog.Logger, st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := quiz.NormalizeGameCode(chi.URLParam(r, "gameID"))
		if err != nil {
			writeDomainError(w, logger, quiz.ErrNotFound)
			return
		}

		g, err := st.Game(r.Context(), code)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		teams, err := st.Teams(r.Context(), code)
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, GameSnapshot{
			Phase: g.Phase(),
			Game:  publicGame(g),
			Teams: teams,
		})
	}
}

// publicGame strips every answer a player could read ahead of the reveal.
func publicGame(g quiz.Game) quiz.Game {
	out := g.Clone()
	for c := range out.Board {
		for q := range out.Board[c].Questions {
			out.Board[c].Questions[q].Answer = ""
		}
	}
	if out.ActiveQuestion != nil && !out.ShowAnswer {
		out.ActiveQuestion.Answer = ""
	}
	return out
}
