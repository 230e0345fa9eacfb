package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

type JoinRequest struct {
	GameCode string `json:"gameCode"`
	TeamName string `json:"teamName"`
}

type JoinResponse struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
	GameCode string `json:"gameCode"`
	Token    string `json:"token"`
}

type SoundRequest struct {
	SoundType   quiz.SoundType `json:"soundType"`
	CustomSound string         `json:"customSound,omitempty"`
}

func handleJoin(logger *slog.Logger, tokens *Tokens, teams *Registry[*team.Session], deps team.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req JoinRequest
		if err := readJSON(r, &req); err != nil {
			writeDomainError(w, logger, err)
			return
		}

		sess, err := teams.Start(func(ctx context.Context) (*team.Session, error) {
			return team.Join(ctx, deps, req.GameCode, req.TeamName)
		})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		v, err := sess.View(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		token, err := tokens.Issue(Identity{Role: RoleTeam, GameID: sess.GameID(), Subject: sess.TeamID()})
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, JoinResponse{
			TeamID:   sess.TeamID(),
			TeamName: v.Team.Name,
			GameCode: sess.GameID(),
			Token:    token,
		})
	}
}

// teamCommand runs cmd against the caller's team session and answers with
// the play view as it stands afterwards.
func teamCommand(logger *slog.Logger, cmd func(r *http.Request, s *team.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := teamFrom(r)
		if cmd != nil {
			if err := cmd(r, sess); err != nil {
				writeDomainError(w, logger, err)
				return
			}
		}

		v, err := sess.View(r.Context())
		if err != nil {
			writeDomainError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleTeamView(logger *slog.Logger) http.HandlerFunc {
	return teamCommand(logger, nil)
}

func handleBuzz(logger *slog.Logger) http.HandlerFunc {
	return teamCommand(logger, func(r *http.Request, s *team.Session) error {
		return s.Buzz(r.Context())
	})
}

func handleToggleReady(logger *slog.Logger) http.HandlerFunc {
	return teamCommand(logger, func(r *http.Request, s *team.Session) error {
		return s.ToggleReady(r.Context())
	})
}

func handleSetSound(logger *slog.Logger) http.HandlerFunc {
	return teamCommand(logger, func(r *http.Request, s *team.Session) error {
		var req SoundRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.SetSound(r.Context(), req.SoundType, req.CustomSound)
	})
}
