// Package web serves the events macro over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"groupcal/internal/config"
	appLog "groupcal/internal/log"
	"groupcal/internal/macro"
	"groupcal/internal/model"
	"groupcal/internal/render"
	"groupcal/internal/scheduler"
)

// Renderer runs the events macro for a scope.
type Renderer interface {
	Render(ctx context.Context, scope *model.Scope, args []string) (macro.Result, error)
}

// Refresher exposes the ICS cache warm-up.
type Refresher interface {
	RunOnce(ctx context.Context) scheduler.Status
	Last() scheduler.Status
}

// Server routes:
//
//	GET  /health                   liveness, never authenticated
//	GET  /metrics                  Prometheus metrics
//	GET  /help                     macro argument help
//	GET  /groups/{cn}/events       HTML listing
//	GET  /api/groups/{cn}/events   JSON year groups
//	GET  /api/refresh              last ICS refresh
//	POST /api/refresh              refresh ICS feeds now
//
// Macro arguments come from repeated "arg" parameters and/or a
// comma-separated "args" parameter, e.g. ?args=from=today,for=2 weeks.
type Server struct {
	cfg       *config.Config
	renderer  Renderer
	refresher Refresher
	mux       *http.ServeMux
}

// NewServer constructs a Server. refresher may be nil when no feeds are
// configured.
func NewServer(cfg *config.Config, renderer Renderer, refresher Refresher) *Server {
	s := &Server{
		cfg:       cfg,
		renderer:  renderer,
		refresher: refresher,
		mux:       http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the routes wrapped in request id, access log and, when
// configured, basic auth.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled")
		h = basicAuth(s.cfg.BasicAuth.Username, s.cfg.BasicAuth.Password, h)
	}
	return requestIDMiddleware(accessLog(h))
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.Handler())
	s.mux.HandleFunc("GET /help", s.handleHelp)
	s.mux.HandleFunc("GET /groups/{cn}/events", s.handleEventsHTML)
	s.mux.HandleFunc("GET /api/groups/{cn}/events", s.handleEventsJSON)
	s.mux.HandleFunc("GET /api/refresh", s.handleRefreshStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHelp(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(macro.Description()))
}

// handleEventsHTML renders the listing. Argument errors are shown inline in
// place of the listing; calendar failures are 500s.
func (s *Server) handleEventsHTML(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(r.PathValue("cn"))
	if !ok {
		http.NotFound(w, r)
		return
	}

	res, err := s.renderer.Render(r.Context(), scope, macroArgs(r))
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case macro.IsValidation(err):
		_, _ = w.Write([]byte(`<p class="error">` + html.EscapeString(err.Error()) + "</p>\n"))
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	if err := render.HTML(w, render.Page{Groups: res.Groups, AddEventURL: res.AddEventURL}); err != nil {
		appLog.Error("template execution failed", err, "request_id", RequestID(r.Context()))
	}
}

type eventsResponse struct {
	Group string `json:"group"`
	macro.Result
}

func (s *Server) handleEventsJSON(w http.ResponseWriter, r *http.Request) {
	scope, ok := s.scope(r.PathValue("cn"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown group")
		return
	}

	res, err := s.renderer.Render(r.Context(), scope, macroArgs(r))
	switch {
	case macro.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		appLog.Error("events request failed", err, "request_id", RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "failed to load events")
		return
	}
	if res.Groups == nil {
		res.Groups = []model.YearGroup{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Group: scope.CN, Result: res})
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "no ICS feeds configured")
		return
	}
	writeJSON(w, http.StatusOK, s.refresher.Last())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusNotFound, "no ICS feeds configured")
		return
	}
	writeJSON(w, http.StatusOK, s.refresher.RunOnce(r.Context()))
}

// scope resolves a configured group by cn.
func (s *Server) scope(cn string) (*model.Scope, bool) {
	g, ok := s.cfg.Group(cn)
	if !ok {
		return nil, false
	}
	return &model.Scope{Type: model.ScopeGroup, ID: g.GIDNumber, CN: g.CN}, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	appLog.Error("events request failed", err, "request_id", RequestID(r.Context()), "path", r.URL.Path)
	http.Error(w, "failed to load events", http.StatusInternalServerError)
}

// macroArgs collects macro arguments from the query string in order: the
// comma-separated "args" value first, then every "arg" parameter.
func macroArgs(r *http.Request) []string {
	q := r.URL.Query()
	var args []string
	for _, list := range q["args"] {
		args = append(args, SplitArgs(list)...)
	}
	for _, a := range q["arg"] {
		if a = strings.TrimSpace(a); a != "" {
			args = append(args, a)
		}
	}
	return args
}

// SplitArgs splits a macro argument string such as "from=today, for=2 weeks"
// on commas, dropping empty parts.
func SplitArgs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
