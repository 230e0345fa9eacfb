package server

import (
	"log/slog"
	"net/http"

	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
)

type SelectRequest struct {
	CategoryIndex int `json:"categoryIndex"`
	QuestionIndex int `json:"questionIndex"`
}

type AwardRequest struct {
	TeamID string `json:"teamId"`
	Delta  int    `json:"delta"`
}

type CloseQuestionRequest struct {
	MarkUsed bool `json:"markUsed"`
}

type StakeRequest struct {
	TeamID string `json:"teamId"`
	Stake  int    `json:"stake"`
}

type ResolveBonusRequest struct {
	Correct bool `json:"correct"`
}

// hostCommand runs cmd against the caller's host session and answers with
// the host view as it stands afterwards.
func hostCommand(logger *slog.Logger, cmd func(r *http.Request, s *host.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := hostFrom(r)
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

func handleHostView(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, nil)
}

func handleStart(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		return s.Start(r.Context())
	})
}

func handleSelect(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		var req SelectRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.Select(r.Context(), req.CategoryIndex, req.QuestionIndex)
	})
}

func handleReveal(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		return s.Reveal(r.Context())
	})
}

func handleResetBuzzer(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		return s.ResetBuzzer(r.Context())
	})
}

func handleAward(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		var req AwardRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.Award(r.Context(), req.TeamID, req.Delta)
	})
}

func handleCloseQuestion(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		var req CloseQuestionRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.CloseQuestion(r.Context(), req.MarkUsed)
	})
}

func handleConfirmStake(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		var req StakeRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.ConfirmStake(r.Context(), req.TeamID, req.Stake)
	})
}

func handleCancelStaking(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		return s.CancelStaking(r.Context())
	})
}

func handleResolveBonus(logger *slog.Logger) http.HandlerFunc {
	return hostCommand(logger, func(r *http.Request, s *host.Session) error {
		var req ResolveBonusRequest
		if err := readJSON(r, &req); err != nil {
			return err
		}
		return s.ResolveBonus(r.Context(), req.Correct)
	})
}

func handleEndGame(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := hostFrom(r).End(r.Context()); err != nil {
			writeDomainError(w, logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
