package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Operation is the OpenAPI description of a route.
type Operation struct {
	OperationID string   `json:"operationId,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Route is one registered endpoint.
type Route struct {
	Method  string
	Pattern string
	Handler http.Handler
	// Auth requires the server's bearer token.
	Auth bool
	Doc  Operation
}

func routeKey(method, pattern string) string {
	return strings.ToUpper(method) + " " + pattern
}

// Routes is the server's route table. Routes are mounted on a router only
// when the server starts serving, so a handler can still be overridden
// after the host routes are registered.
type Routes struct {
	mu     sync.Mutex
	order  []string
	routes map[string]*Route
}

// NewRoutes creates an empty route table.
func NewRoutes() *Routes {
	return &Routes{routes: make(map[string]*Route)}
}

// Handle registers a new route. Registering the same method and pattern
// twice is an error; use Override to replace a handler.
func (rs *Routes) Handle(method, pattern string, h http.Handler, auth bool, doc Operation) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	key := routeKey(method, pattern)
	if _, ok := rs.routes[key]; ok {
		return fmt.Errorf("route %s already registered", key)
	}
	rs.routes[key] = &Route{
		Method:  strings.ToUpper(method),
		Pattern: pattern,
		Handler: h,
		Auth:    auth,
		Doc:     doc,
	}
	rs.order = append(rs.order, key)
	return nil
}

// Override replaces the handler of an existing route. The route keeps its
// authentication requirement and OpenAPI description.
func (rs *Routes) Override(method, pattern string, h http.Handler) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	key := routeKey(method, pattern)
	route, ok := rs.routes[key]
	if !ok {
		return fmt.Errorf("route %s is not registered", key)
	}
	route.Handler = h
	return nil
}

// Lookup returns a copy of the route registered for method and pattern.
func (rs *Routes) Lookup(method, pattern string) (Route, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	route, ok := rs.routes[routeKey(method, pattern)]
	if !ok {
		return Route{}, false
	}
	return *route, true
}

// All returns the routes in registration order.
func (rs *Routes) All() []Route {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	out := make([]Route, len(rs.order))
	for i, key := range rs.order {
		out[i] = *rs.routes[key]
	}
	return out
}

// Mount adds every route to r, wrapping authenticated ones with auth.
func (rs *Routes) Mount(r chi.Router, auth func(http.Handler) http.Handler) {
	for _, route := range rs.All() {
		h := route.Handler
		if route.Auth && auth != nil {
			h = auth(h)
		}
		r.Method(route.Method, route.Pattern, h)
	}
}

// OpenAPI returns an OpenAPI 3 document listing the routes.
func (rs *Routes) OpenAPI(title, version string) map[string]any {
	paths := map[string]map[string]any{}
	for _, route := range rs.All() {
		op := map[string]any{
			"responses": map[string]any{
				"200": map[string]any{"description": "Successful Response"},
			},
		}
		if route.Doc.OperationID != "" {
			op["operationId"] = route.Doc.OperationID
		}
		if route.Doc.Summary != "" {
			op["summary"] = route.Doc.Summary
		}
		if route.Doc.Description != "" {
			op["description"] = route.Doc.Description
		}
		if len(route.Doc.Tags) > 0 {
			op["tags"] = route.Doc.Tags
		}
		if route.Auth {
			op["security"] = []map[string][]string{{"bearerAuth": {}}}
		}

		path := route.Pattern
		if paths[path] == nil {
			paths[path] = map[string]any{}
		}
		paths[path][strings.ToLower(route.Method)] = op
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   title,
			"version": version,
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{"type": "http", "scheme": "bearer"},
			},
		},
	}
}
