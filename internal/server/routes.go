package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/nmic-mathiasbang/nm-quiz/internal/handler/health"
	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

func addRoutes(
	r chi.Router,
	logger *slog.Logger,
	deps Deps,
	hostDeps host.Deps,
	teamDeps team.Deps,
	hosts *Registry[*host.Session],
	teams *Registry[*team.Session],
) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Quiz API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())

	r.Post("/api/games", handleCreateGame(logger, deps.Tokens, hosts, hostDeps, deps.Bank))
	r.Post("/api/join", handleJoin(logger, deps.Tokens, teams, teamDeps))

	r.Route("/api/games/{gameID}", func(r chi.Router) {
		r.Get("/", handleGetGame(logger, deps.Store))

		// Host controls.
		r.Group(func(r chi.Router) {
			r.Use(hostMiddleware(logger, deps.Tokens, hosts))
			r.Get("/host", handleHostView(logger))
			r.Post("/start", handleStart(logger))
			r.Post("/select", handleSelect(logger))
			r.Post("/reveal", handleReveal(logger))
			r.Post("/buzzer/reset", handleResetBuzzer(logger))
			r.Post("/award", handleAward(logger))
			r.Post("/close", handleCloseQuestion(logger))
			r.Post("/stake", handleConfirmStake(logger))
			r.Post("/stake/cancel", handleCancelStaking(logger))
			r.Post("/bonus/resolve", handleResolveBonus(logger))
			r.Delete("/", handleEndGame(logger))
		})

		// Team controls.
		r.Route("/me", func(r chi.Router) {
			r.Use(teamMiddleware(logger, deps.Tokens, teams))
			r.Get("/", handleTeamView(logger))
			r.Post("/buzz", handleBuzz(logger))
			r.Post("/ready", handleToggleReady(logger))
			r.Put("/sound", handleSetSound(logger))
		})

		// Change streams for either side.
		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware(logger, deps.Tokens, hosts, teams))
			r.Get("/events", handleEvents(logger, deps.Store))
			r.Get("/ws", handleLive(logger, deps.Store))
		})
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
