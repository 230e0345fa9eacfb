package server

import (
	"encoding/json"
	"net/http"
	"strings"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/nmic-mathiasbang/nm-quiz/internal/host"
	"github.com/nmic-mathiasbang/nm-quiz/internal/team"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthStatus struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}

// HealthResponse maps each dependency to its status.
type HealthResponse map[string]HealthStatus

type gamePath struct {
	GameID string `path:"gameID"`
}

type streamRequest struct {
	GameID string `path:"gameID"`
	Token  string `query:"token"`
}

type operation struct {
	method, path  string
	summary, desc string
	req           any
	resp          any
	status        int
	errors        []int
}

var hostErrors = []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusGone, http.StatusUnprocessableEntity}

var teamErrors = hostErrors

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Quiz API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Host and team API for the buzzer quiz. Host and team routes take a Bearer session token.")

	ops := []operation{
		{
			method: http.MethodGet, path: "/healthz",
			summary: "Health check", desc: "Returns the health status of backend dependencies.",
			resp: HealthResponse{}, status: http.StatusOK,
			errors: []int{http.StatusServiceUnavailable},
		},
		{
			method: http.MethodPost, path: "/api/games",
			summary: "Create game", desc: "Creates a game with a fresh code and board. Returns the host session token.",
			resp: CreateGameResponse{}, status: http.StatusCreated,
			errors: []int{http.StatusServiceUnavailable},
		},
		{
			method: http.MethodGet, path: "/api/games/{gameID}",
			summary: "Game snapshot", desc: "Returns the game without unrevealed answers and its teams.",
			resp: GameSnapshot{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodDelete, path: "/api/games/{gameID}",
			summary: "End game", desc: "Deletes the game with its teams and buzzes.",
			status: http.StatusNoContent, errors: hostErrors,
		},
		{
			method: http.MethodGet, path: "/api/games/{gameID}/host",
			summary: "Host view", desc: "Returns the host's view of the game.",
			resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/start",
			summary: "Start game", desc: "Leaves the lobby once every team is ready.",
			resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/select",
			summary: "Select question", desc: "Opens a board cell. A bonus cell starts stake selection instead.",
			req: SelectRequest{}, resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/reveal",
			summary: "Reveal answer",
			resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/buzzer/reset",
			summary: "Reset buzzer", desc: "Clears the winner and reopens the question to every team.",
			resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/award",
			summary: "Award points", desc: "Adds delta, which may be negative, to a team's score.",
			req: AwardRequest{}, resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/close",
			summary: "Close question", desc: "Returns to the board, optionally marking the question used.",
			req: CloseQuestionRequest{}, resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/stake",
			summary: "Confirm stake", desc: "Opens the pending bonus question for one team and stake.",
			req: StakeRequest{}, resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/stake/cancel",
			summary: "Cancel stake selection",
			resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/bonus/resolve",
			summary: "Resolve bonus", desc: "Adds or subtracts the stake and closes the bonus question.",
			req: ResolveBonusRequest{}, resp: host.View{}, status: http.StatusOK, errors: hostErrors,
		},
		{
			method: http.MethodPost, path: "/api/join",
			summary: "Join game", desc: "Adds a team to a game by code. Returns the team session token.",
			req: JoinRequest{}, resp: JoinResponse{}, status: http.StatusCreated,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		},
		{
			method: http.MethodGet, path: "/api/games/{gameID}/me",
			summary: "Team view", desc: "Returns the calling team's view of the game.",
			resp: team.View{}, status: http.StatusOK, errors: teamErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/me/buzz",
			summary: "Buzz", desc: "Claims the active question. The host decides who won.",
			resp: team.View{}, status: http.StatusOK, errors: teamErrors,
		},
		{
			method: http.MethodPost, path: "/api/games/{gameID}/me/ready",
			summary: "Toggle ready",
			resp: team.View{}, status: http.StatusOK, errors: teamErrors,
		},
		{
			method: http.MethodPut, path: "/api/games/{gameID}/me/sound",
			summary: "Set buzzer sound",
			req: SoundRequest{}, resp: team.View{}, status: http.StatusOK, errors: teamErrors,
		},
	}

	for _, op := range ops {
		oc, _ := r.NewOperationContext(op.method, op.path)
		oc.SetSummary(op.summary)
		if op.desc != "" {
			oc.SetDescription(op.desc)
		}
		if strings.Contains(op.path, "{gameID}") {
			oc.AddReqStructure(gamePath{})
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
		for _, status := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(status))
		}
		_ = r.AddOperation(oc)
	}

	// GET /api/games/{gameID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/events")
	getEvents.SetSummary("Change stream")
	getEvents.AddReqStructure(streamRequest{})
	getEvents.SetDescription("Server-Sent Events: one `change` event per committed write. Pass the session token as ?token=.")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	getEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getEvents)

	// GET /api/games/{gameID}/ws
	getLive, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/ws")
	getLive.SetSummary("Live WebSocket")
	getLive.AddReqStructure(streamRequest{})
	getLive.SetDescription("Upgrades to a WebSocket carrying LiveMessage frames. Teams may send {\"type\":\"buzz\"}.")
	getLive.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	getLive.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getLive)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
