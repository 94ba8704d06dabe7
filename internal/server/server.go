package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leadboard/internal/agents"
	"leadboard/internal/app"
	"leadboard/internal/board"
	"leadboard/internal/domain"
	"leadboard/internal/engine"
	"leadboard/internal/events"
	"leadboard/internal/remote"
)

// Config for the HTTP API handler.
type Config struct {
	Session  *app.Session
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"operation_failed"`
	Message string         `json:"message" example:"operation failed: update lead 3: api error: status=503"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"failed\":[2,4]}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the dashboard API for one session.
func New(cfg Config) (http.Handler, error) {
	if cfg.Session == nil {
		return nil, errors.New("server requires a session")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Leadboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	s := cfg.Session
	registerDocs(router, basePath)
	registerHealth(group, s)
	registerMe(group, cfg.Auth)
	registerBoard(group, s)
	registerLeads(group, s)
	registerAgents(group, s)
	registerDiscovery(group, s)
	registerJournal(group, s)
	registerOpenAPI(router, api, basePath, cfg.Auth)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body:   apiErrorBody{Code: code, Message: message, Details: details},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var bulk *engine.BulkError
	switch {
	case errors.As(err, &bulk):
		return newAPIError(http.StatusBadGateway, "operation_failed", err.Error(), map[string]any{"failed": bulk.Failed, "total": bulk.Total})
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, remote.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrUnknownStage):
		return newAPIError(http.StatusBadRequest, "unknown_stage", err.Error(), map[string]any{"stages": domain.Stages()})
	case errors.Is(err, agents.ErrBusy), errors.Is(err, engine.ErrDiscovering):
		return newAPIError(http.StatusConflict, "busy", err.Error(), nil)
	case errors.Is(err, engine.ErrClosed), errors.Is(err, agents.ErrClosed):
		return newAPIError(http.StatusServiceUnavailable, "closed", err.Error(), nil)
	case errors.Is(err, engine.ErrOperationFailed), errors.Is(err, agents.ErrOperationFailed):
		return newAPIError(http.StatusBadGateway, "operation_failed", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return newAPIError(http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string, auth AuthConfig) {
	var (
		once sync.Once
		spec []byte
	)
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			if auth.enabled() {
				applyAuthSecurity(oas, basePath)
			}
			spec, _ = json.Marshal(oas)
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"}},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{Type: "http", Scheme: "bearer", BearerFormat: "JWT"}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>Leadboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => { SwaggerUIBundle({ url: '%s', dom_id: '#swagger-ui' }); };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"status": "ok", "session": s.ID, "leads": s.Cache.Len()}}, nil
	})
}

func registerMe(api huma.API, auth AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Authenticated principal",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body Principal `json:"body"`
	}, error) {
		p, ok := principalFromContext(ctx)
		if !ok {
			if auth.enabled() {
				return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
			}
			p = Principal{Subject: "anonymous"}
		}
		return &struct {
			Body Principal `json:"body"`
		}{Body: p}, nil
	})
}

func registerBoard(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "get-board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Leads grouped by stage",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Version string `header:"X-Cache-Version"`
		Body    board.Board
	}, error) {
		b, v := s.Board.Current()
		return &struct {
			Version string `header:"X-Cache-Version"`
			Body    board.Board
		}{Version: strconv.FormatUint(v, 10), Body: b}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Pipeline figures",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body board.Stats
	}, error) {
		return &struct {
			Body board.Stats
		}{Body: s.Board.Stats()}, nil
	})
}

func registerLeads(api huma.API, s *app.Session) {
	type leadPath struct {
		ID int64 `path:"id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/leads",
		Summary:     "Cached leads in remote order",
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
	}) (*struct {
		Body []LeadResponse
	}, error) {
		items := []LeadResponse{}
		for _, l := range s.Cache.Snapshot() {
			if input.Stage != "" && string(l.Stage) != input.Stage {
				continue
			}
			items = append(items, LeadResponse{Lead: l, SyncState: s.Engine.LeadState(l.ID).String()})
		}
		return &struct {
			Body []LeadResponse
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/leads/{id}",
		Summary:     "Cached lead",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *leadPath) (*struct {
		Body LeadResponse
	}, error) {
		l, ok := s.Cache.Get(input.ID)
		if !ok {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("lead %d not found", input.ID), nil)
		}
		return &struct {
			Body LeadResponse
		}{Body: LeadResponse{Lead: l, SyncState: s.Engine.LeadState(l.ID).String()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-lead",
		Method:      http.MethodPost,
		Path:        "/leads/{id}/move",
		Summary:     "Move a lead to another stage",
		Description: "The cache changes before the remote store answers. On remote failure the cache is reloaded.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		ID   int64 `path:"id"`
		Body MoveRequest
	}) (*struct {
		Body TransitionResponse
	}, error) {
		drag := engine.DragEnd{LeadID: input.ID, Target: domain.Stage(input.Body.Stage)}
		t, err := s.Engine.Begin(ctx, drag)
		if err != nil {
			return nil, handleError(err)
		}
		if t == nil {
			return &struct {
				Body TransitionResponse
			}{Body: TransitionResponse{LeadID: input.ID, State: s.Engine.LeadState(input.ID).String()}}, nil
		}
		if input.Body.Wait {
			if err := t.Wait(ctx); err != nil {
				return nil, handleError(err)
			}
			if err := t.Err(); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body TransitionResponse
		}{Body: transitionResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reload-leads",
		Method:      http.MethodPost,
		Path:        "/leads/reload",
		Summary:     "Replace the cache from the remote store",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ReloadResponse
	}, error) {
		if err := s.Load(ctx); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReloadResponse
		}{Body: ReloadResponse{Leads: s.Cache.Len()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-leads",
		Method:      http.MethodPost,
		Path:        "/leads/delete",
		Summary:     "Delete several leads",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body DeleteLeadsRequest
	}) (*struct {
		Body BulkResponse
	}, error) {
		if err := s.Engine.DeleteLeads(ctx, input.Body.IDs); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResponse
		}{Body: BulkResponse{Total: len(input.Body.IDs), Failed: []int64{}}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "clear-leads",
		Method:      http.MethodPost,
		Path:        "/leads/clear",
		Summary:     "Delete every cached lead",
		Errors:      []int{http.StatusBadGateway},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body BulkResponse
	}, error) {
		n, err := s.Engine.ClearLeads(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BulkResponse
		}{Body: BulkResponse{Total: n, Failed: []int64{}}}, nil
	})
}

func registerAgents(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/agents",
		Summary:     "Agent catalog with run state",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []AgentResponse
	}, error) {
		items := []AgentResponse{}
		for _, a := range domain.Agents() {
			resp := AgentResponse{Agent: a, Executing: s.Trigger.Executing(a.ID)}
			if r, ok := s.History.Latest(a.ID); ok {
				resp.LastRun = &r
			}
			items = append(items, resp)
		}
		return &struct {
			Body []AgentResponse
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-agent",
		Method:      http.MethodPost,
		Path:        "/agents/{agent}/execute",
		Summary:     "Request an agent run",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Agent string         `path:"agent"`
		Body  ExecuteRequest `required:"false"`
	}) (*struct {
		Body domain.ExecuteResult
	}, error) {
		res, err := s.Trigger.Execute(ctx, input.Agent, input.Body.Context)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExecuteResult
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "agent-history",
		Method:      http.MethodGet,
		Path:        "/agents/history",
		Summary:     "Most recent agent runs",
	}, func(ctx context.Context, input *struct {
		Refresh bool `query:"refresh"`
	}) (*struct {
		Body []domain.AgentRun
	}, error) {
		if input.Refresh {
			s.HistoryPoller.Refresh(ctx)
		}
		runs := s.History.Runs()
		if runs == nil {
			runs = []domain.AgentRun{}
		}
		return &struct {
			Body []domain.AgentRun
		}{Body: runs}, nil
	})
}

func registerDiscovery(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "start-discovery",
		Method:      http.MethodPost,
		Path:        "/discovery",
		Summary:     "Trigger bulk lead discovery",
		Description: "Acceptance only means the job started. The cache reloads after a fixed delay.",
		Errors:      []int{http.StatusConflict, http.StatusBadGateway},
	}, func(ctx context.Context, input *struct {
		Body DiscoveryRequest `required:"false"`
	}) (*struct {
		Body DiscoveryResponse
	}, error) {
		target := input.Body.TargetCount
		if target == 0 {
			target = s.Config.Discovery.TargetCount
		}
		if err := s.Engine.Discover(ctx, target); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DiscoveryResponse
		}{Body: DiscoveryResponse{Accepted: true, Discovering: s.Engine.Discovering()}}, nil
	})
}

func registerJournal(api huma.API, s *app.Session) {
	huma.Register(api, huma.Operation{
		OperationID: "list-journal",
		Method:      http.MethodGet,
		Path:        "/journal",
		Summary:     "Recent session activity",
	}, func(ctx context.Context, input *struct {
		Type   string `query:"type"`
		LeadID int64  `query:"lead_id"`
		Limit  int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body paginatedEvents
	}, error) {
		resp := paginatedEvents{Items: []events.Event{}}
		if s.DB == nil {
			return &struct {
				Body paginatedEvents
			}{Body: resp}, nil
		}
		items, err := events.Tail(ctx, s.DB, events.Query{Limit: input.Limit, Type: input.Type, LeadID: input.LeadID})
		if err != nil {
			return nil, handleError(err)
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents
		}{Body: resp}, nil
	})
}
