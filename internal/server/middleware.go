package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

type ctxKey int

const (
	ctxKeyHost ctxKey = iota
	ctxKeyTeam
)

// hostMiddleware admits only the host token of the game in the path and
// attaches its running session.
func hostMiddleware(logger *slog.Logger, tokens *Tokens, hosts *Registry[*host.Session]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := tokens.identityFromRequest(r)
			if err != nil || id.Role != RoleHost || id.GameID != chi.URLParam(r, "gameID") {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			sess, err := hosts.Get(r.Context(), id.GameID)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			if sess.HostID() != id.Subject {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyHost, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func teamMiddleware(logger *slog.Logger, tokens *Tokens, teams *Registry[*team.Session]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := tokens.identityFromRequest(r)
			if err != nil || id.Role != RoleTeam || id.GameID != chi.URLParam(r, "gameID") {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			sess, err := teams.Get(r.Context(), id.Subject)
			if err != nil {
				writeDomainError(w, logger, err)
				return
			}
			if sess.GameID() != id.GameID {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyTeam, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// sessionMiddleware admits either a host or a team of the game in the
// path, for the change streams both of them watch.
func sessionMiddleware(logger *slog.Logger, tokens *Tokens, hosts *Registry[*host.Session], teams *Registry[*team.Session]) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		asHost := hostMiddleware(logger, tokens, hosts)(next)
		asTeam := teamMiddleware(logger, tokens, teams)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := tokens.identityFromRequest(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "not authenticated")
				return
			}
			if id.Role == RoleHost {
				asHost.ServeHTTP(w, r)
				return
			}
			asTeam.ServeHTTP(w, r)
		})
	}
}

func hostFrom(r *http.Request) *host.Session {
	return r.Context().Value(ctxKeyHost).(*host.Session)
}

func teamFrom(r *http.Request) *team.Session {
	return r.Context().Value(ctxKeyTeam).(*team.Session)
}

// teamOf returns the team session attached to r, or nil for a host.
func teamOf(r *http.Request) *team.Session {
	sess, _ := r.Context().Value(ctxKeyTeam).(*team.Session)
	return sess
}
