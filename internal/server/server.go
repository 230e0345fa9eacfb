package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nmic-mathiasbang/nm-quiz/internal/handler/health"
	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
	"github.com/nmic-mathiasbang/nm-quiz/internal/quiz"
	"github.com/nmic-mathiasbang/nm-quiz/internal/store"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

type Deps struct {
	Store     store.Store
	Bank      quiz.Bank
	Tokens    *Tokens
	PollEvery time.Duration
	Checks    map[string]health.Checker
	SPADir    string
}

type Server struct {
	srv    *http.Server
	logger *slog.Logger

	hosts  *Registry[*host.Session]
	teams  *Registry[*team.Session]
	cancel context.CancelFunc
}

func New(addr string, logger *slog.Logger, deps Deps) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	hostDeps := host.Deps{Store: deps.Store, Logger: logger, PollEvery: deps.PollEvery}
	teamDeps := team.Deps{Store: deps.Store, Logger: logger, PollEvery: deps.PollEvery}

	hosts := NewRegistry(ctx, (*host.Session).GameID, func(ctx context.Context, gameID string) (*host.Session, error) {
		return host.Resume(ctx, hostDeps, gameID)
	})
	teams := NewRegistry(ctx, (*team.Session).TeamID, func(ctx context.Context, teamID string) (*team.Session, error) {
		return team.Resume(ctx, teamDeps, teamID)
	})

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	r.Use(middleware.Recoverer)

	addRoutes(r, logger, deps, hostDeps, teamDeps, hosts, teams)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
		hosts:  hosts,
		teams:  teams,
		cancel: cancel,
	}
}

func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and then stops every live session.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	s.Close()
	return err
}

// Close stops every live session without touching the listener.
func (s *Server) Close() {
	s.hosts.Close()
	s.teams.Close()
	s.cancel()
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
