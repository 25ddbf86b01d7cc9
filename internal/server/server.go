package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/michaelbrown/funcgate/internal/adapter"
	"github.com/michaelbrown/funcgate/internal/llm"
	"github.com/michaelbrown/funcgate/internal/prompt"
	"github.com/michaelbrown/funcgate/internal/storage"
)

// Version is reported in the OpenAPI document.
const Version = "0.1.0"

// Paths of the OpenAI-compatible routes.
const (
	PathChatCompletions   = "/v1/chat/completions"
	PathChatCompletionsWS = "/v1/chat/completions/ws"
	PathCompletions       = "/v1/completions"
	PathModels            = "/v1/models"
)

// Options configure the host server.
type Options struct {
	// APIKey is the bearer token required on authenticated routes. Empty
	// disables authentication.
	APIKey string
	// Model is reported by /v1/models when the engine cannot list models.
	Model string
	// Template renders the host's plain chat route; empty is Llama-3.
	Template  string
	StopToken string
}

// Server is the OpenAI-compatible HTTP server in front of the engine.
type Server struct {
	opts     Options
	engine   llm.Engine
	store    storage.Store
	renderer *prompt.Renderer
	routes   *Routes

	handlerOnce sync.Once
	handler     http.Handler
	http        *http.Server
}

// New creates a server with the host routes registered. store may be nil,
// in which case the record routes are not served.
func New(engine llm.Engine, store storage.Store, opts Options) (*Server, error) {
	if opts.StopToken == "" {
		opts.StopToken = prompt.EndOfTurn
	}
	renderer, err := prompt.NewRenderer(opts.Template)
	if err != nil {
		return nil, err
	}

	s := &Server{
		opts:     opts,
		engine:   engine,
		store:    store,
		renderer: renderer,
		routes:   NewRoutes(),
	}
	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

type hostRoute struct {
	method, pattern string
	h               http.HandlerFunc
	auth            bool
	doc             Operation
}

func (s *Server) setupRoutes() error {
	rs := s.routes
	handlers := []hostRoute{
		{http.MethodGet, "/health", s.handleHealth, false,
			Operation{OperationID: "health", Summary: "Health check"}},
		{http.MethodGet, "/openapi.json", s.handleOpenAPI, false,
			Operation{OperationID: "openapi", Summary: "OpenAPI document"}},
		{http.MethodGet, PathModels, s.handleModels, true,
			Operation{OperationID: "get_models_v1_models_get", Summary: "Models", Tags: []string{"OpenAI V1"}}},
		{http.MethodPost, PathCompletions, s.handleCompletions, true,
			Operation{OperationID: "create_completion_v1_completions_post", Summary: "Completion", Tags: []string{"OpenAI V1"}}},
		{http.MethodPost, PathChatCompletions, s.handlePlainChat, true,
			Operation{
				OperationID: "create_chat_completion_v1_chat_completions_post",
				Summary:     "Chat",
				Description: "Generate a chat completion from a list of messages.",
				Tags:        []string{"OpenAI V1"},
			}},
	}
	if s.store != nil {
		handlers = append(handlers,
			hostRoute{http.MethodGet, "/api/records", s.handleListRecords, true,
				Operation{OperationID: "list_records", Summary: "List completion records", Tags: []string{"Diagnostics"}}},
			hostRoute{http.MethodGet, "/api/records/{id}", s.handleGetRecord, true,
				Operation{OperationID: "get_record", Summary: "Get a completion record", Tags: []string{"Diagnostics"}}},
			hostRoute{http.MethodDelete, "/api/records/{id}", s.handleDeleteRecord, true,
				Operation{OperationID: "delete_record", Summary: "Delete a completion record", Tags: []string{"Diagnostics"}}},
		)
	}

	for _, h := range handlers {
		if err := rs.Handle(h.method, h.pattern, h.h, h.auth, h.doc); err != nil {
			return err
		}
	}
	return nil
}

// Routes returns the route table. Changes take effect until the first
// call to Handler.
func (s *Server) Routes() *Routes {
	return s.routes
}

// UseAdapter replaces the host chat route with the function-calling
// handler and adds its WebSocket variant. Both inherit the chat route's
// authentication.
func (s *Server) UseAdapter(h *adapter.Handler) error {
	if err := s.routes.Override(http.MethodPost, PathChatCompletions, chatHandler(h)); err != nil {
		return err
	}
	chat, _ := s.routes.Lookup(http.MethodPost, PathChatCompletions)
	return s.routes.Handle(http.MethodGet, PathChatCompletionsWS, wsChatHandler(h), chat.Auth, Operation{
		OperationID: "chat_completion_ws",
		Summary:     "Chat (WebSocket)",
		Description: "Stream chat completions over a WebSocket. Each text frame is a chat completion request.",
		Tags:        chat.Doc.Tags,
	})
}

// Handler builds the router from the route table on first use.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(requestLogger)
		r.Use(middleware.Recoverer)

		s.routes.Mount(r, bearerAuth(s.opts.APIKey))
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not_found_error", "Not Found")
		})
		s.handler = r
	})
	return s.handler
}

// Start begins listening on the given port.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("funcgate server starting", "addr", "http://localhost"+addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
