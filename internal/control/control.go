// Package control exposes the voice session over HTTP.
//
// Routes:
//
//	POST   /v1/session/start     start a session (body: [StartRequest])
//	POST   /v1/session/stop      request a stop; ?wait=true blocks until stopped
//	GET    /v1/session           current [session.Snapshot]
//	DELETE /v1/session/history   clear the history of a stopped session
//	GET    /v1/session/watch     websocket that pushes the latest snapshot on change
//	GET    /v1/recipes           list stored recipes (?source=postgres|notion)
//	PUT    /v1/recipes/{id}      create or replace a stored recipe
//	DELETE /v1/recipes/{id}      delete a stored recipe
//
// Errors are JSON objects with a single "error" field.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/heychef/internal/generate"
	"github.com/MrWong99/heychef/internal/observe"
	"github.com/MrWong99/heychef/internal/recipe"
	"github.com/MrWong99/heychef/internal/session"
)

// maxBodyBytes bounds request bodies. Inline recipes are the largest input.
const maxBodyBytes = 1 << 20

// Session is the part of [session.Orchestrator] the control surface drives.
type Session interface {
	Start(ctx context.Context, cfg session.Config) error
	RequestStop()
	Wait(ctx context.Context) error
	Snapshot() session.Snapshot
	WaitChange(ctx context.Context, version uint64) (session.Snapshot, error)
	ClearHistory() error
}

// Recipes resolves and lists recipes.
type Recipes interface {
	Get(ctx context.Context, sel recipe.Selector) (string, error)
	List(ctx context.Context, src recipe.Source) ([]recipe.Recipe, error)
}

var _ Session = (*session.Orchestrator)(nil)

// Defaults fill the fields a start request leaves out.
type Defaults struct {
	Mode       generate.Mode
	Streaming  bool
	UseHistory bool
	Recipe     recipe.Selector
}

// StartRequest is the body of POST /v1/session/start. Every field is
// optional.
type StartRequest struct {
	Mode        string           `json:"mode,omitempty"`
	Streaming   *bool            `json:"streaming,omitempty"`
	UseHistory  *bool            `json:"use_history,omitempty"`
	KeepHistory bool             `json:"keep_history,omitempty"`
	Recipe      *recipe.Selector `json:"recipe,omitempty"`
}

// Server serves the control routes.
type Server struct {
	sess     Session
	recipes  Recipes
	store    recipe.Store
	defaults atomic.Pointer[Defaults]
	metrics  *observe.Metrics
	log      *slog.Logger

	// pingInterval keeps idle watch connections alive.
	pingInterval time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithDefaults sets the start defaults. Default: normal mode, batch
// speech, history on, bundled recipe.
func WithDefaults(d Defaults) Option {
	return func(s *Server) { s.defaults.Store(&d) }
}

// WithRecipeStore enables the recipe write routes.
func WithRecipeStore(st recipe.Store) Option {
	return func(s *Server) { s.store = st }
}

// WithMetrics wraps the handler in [observe.Middleware].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithPingInterval sets how often watch connections are pinged. Default: 30s.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) { s.pingInterval = d }
}

// New returns a Server for sess. recipes may be nil, in which case only the
// bundled recipe is available.
func New(sess Session, recipes Recipes, opts ...Option) *Server {
	s := &Server{
		sess:         sess,
		recipes:      recipes,
		log:          slog.Default(),
		pingInterval: 30 * time.Second,
	}
	s.defaults.Store(&Defaults{Mode: generate.ModeNormal, UseHistory: true, Recipe: recipe.Selector{Source: recipe.SourceBundled}})
	for _, o := range opts {
		o(s)
	}
	if s.recipes == nil {
		s.recipes = recipe.NewLoader()
	}
	return s
}

// SetDefaults replaces the start defaults. Running sessions are unaffected.
func (s *Server) SetDefaults(d Defaults) {
	s.defaults.Store(&d)
}

// Register adds the control routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("GET /v1/session", s.handleSnapshot)
	mux.HandleFunc("DELETE /v1/session/history", s.handleClearHistory)
	mux.HandleFunc("GET /v1/session/watch", s.handleWatch)
	mux.HandleFunc("GET /v1/recipes", s.handleListRecipes)
	mux.HandleFunc("PUT /v1/recipes/{id}", s.handlePutRecipe)
	mux.HandleFunc("DELETE /v1/recipes/{id}", s.handleDeleteRecipe)
}

// Handler returns a mux with the control routes, wrapped in the request
// middleware when metrics are configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}

// StartConfig resolves req against the defaults and loads the recipe.
func (s *Server) StartConfig(ctx context.Context, req StartRequest) (session.Config, error) {
	d := *s.defaults.Load()
	cfg := session.Config{Mode: d.Mode, Streaming: d.Streaming, UseHistory: d.UseHistory}
	if req.Mode != "" {
		m, err := generate.ParseMode(req.Mode)
		if err != nil {
			return session.Config{}, err
		}
		cfg.Mode = m
	}
	if req.Streaming != nil {
		cfg.Streaming = *req.Streaming
	}
	if req.UseHistory != nil {
		cfg.UseHistory = *req.UseHistory
	}
	cfg.KeepHistory = req.KeepHistory
	sel := d.Recipe
	if req.Recipe != nil {
		sel = *req.Recipe
	}
	text, err := s.recipes.Get(ctx, sel)
	if err != nil {
		return session.Config{}, fmt.Errorf("control: load recipe: %w", err)
	}
	cfg.Recipe = text
	return cfg, nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}

	cfg, err := s.StartConfig(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if err := s.sess.Start(r.Context(), cfg); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	observe.Logger(r.Context()).Info("session start requested", "mode", cfg.Mode, "streaming", cfg.Streaming)
	writeJSON(w, http.StatusAccepted, s.sess.Snapshot())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sess.RequestStop()
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		// A session that ended with an error is still stopped; the error
		// is part of the snapshot.
		if err := s.sess.Wait(r.Context()); err != nil && r.Context().Err() != nil {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		writeJSON(w, http.StatusOK, s.sess.Snapshot())
		return
	}
	writeJSON(w, http.StatusAccepted, s.sess.Snapshot())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Snapshot())
}

func (s *Server) handleClearHistory(w http.ResponseWriter, _ *http.Request) {
	if err := s.sess.ClearHistory(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWatch streams snapshots over a websocket: the current one right
// away, then each newer one. Clients only receive; anything they send closes
// the feed.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("control: accept watch connection", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	log := observe.Logger(r.Context())

	updates := make(chan session.Snapshot)
	go func() {
		defer close(updates)
		snap := s.sess.Snapshot()
		for {
			select {
			case updates <- snap:
			case <-ctx.Done():
				return
			}
			next, err := s.sess.WaitChange(ctx, snap.Version)
			if err != nil {
				return
			}
			snap = next
		}
	}()

	ping := time.NewTicker(s.pingInterval)
	defer ping.Stop()
	for {
		select {
		case snap, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, snap)
			cancel()
			if err != nil {
				log.Debug("control: watch write failed", "err", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("control: watch ping failed", "err", err)
				return
			}
		}
	}
}

func (s *Server) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	src := recipe.Source(r.URL.Query().Get("source"))
	if src == "" {
		src = recipe.SourcePostgres
	}
	list, err := s.recipes.List(r.Context(), src)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if list == nil {
		list = []recipe.Recipe{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePutRecipe(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, recipe.ErrUnavailable)
		return
	}
	var rec recipe.Recipe
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode recipe: %w", err))
		return
	}
	rec.ID = r.PathValue("id")
	if err := s.store.Upsert(r.Context(), &rec); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotImplemented, recipe.ErrUnavailable)
		return
	}
	if err := s.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrRunning):
		return http.StatusConflict
	case errors.Is(err, generate.ErrUnknownMode),
		errors.Is(err, recipe.ErrEmpty),
		errors.Is(err, recipe.ErrUnknownSource):
		return http.StatusBadRequest
	case errors.Is(err, recipe.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, recipe.ErrUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrFatalStartup):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("control: encode response", "err", err)
	}
}
