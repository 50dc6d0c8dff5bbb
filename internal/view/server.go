package view

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/rickgao/session-monitor/internal/api"
	"github.com/rickgao/session-monitor/internal/model"
	"github.com/rickgao/session-monitor/internal/subscription"
	"github.com/rickgao/session-monitor/internal/version"
)

const timeout = 10 * time.Second

// Controller is the subscription surface the server drives.
type Controller interface {
	Activate(ctx context.Context, topic model.Topic) (*subscription.Observable, error)
	Active() (*subscription.Observable, bool)
	Refresh(ctx context.Context) error
}

// Config holds server configuration.
type Config struct {
	Bind           string
	Port           int
	AllowedOrigins []string // Empty allows any origin
}

// Server is the local HTTP view.
type Server struct {
	cfg    Config
	ctrl   Controller
	logger *slog.Logger

	// base outlives individual requests; activations hang off it.
	base context.Context
}

// New creates a Server.
func New(cfg Config, ctrl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		logger: logger.With("component", "view"),
		base:   context.Background(),
	}
}

// stateResponse is the body of GET /state.
type stateResponse struct {
	subscription.View
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"` // Upstream status for hydration failures
}

// Handler returns the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		s.logger.Error("handler panic", "path", r.URL.Path, "panic", i)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}

	mux.GET("/health", s.serveHealth)
	mux.GET("/state", s.serveState)
	mux.PUT("/topic/lobby", s.serveActivate(func(httprouter.Params) model.Topic {
		return model.LobbyTopic()
	}))
	mux.PUT("/topic/sessions/:id", s.serveActivate(func(p httprouter.Params) model.Topic {
		return model.SessionTopic(p.ByName("id"))
	}))
	mux.POST("/refresh", s.serveRefresh)

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPut,
			http.MethodPost,
		},
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedHeaders: []string{"Content-Type"},
	})

	return c.Handler(mux)
}

// Serve listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	s.base = ctx

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port)),
		Handler:           s.Handler(),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("view server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			return fmt.Errorf("view server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown view server: %w", err)
	}
	return nil
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	_, active := s.ctrl.Active()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
		"active":  active,
	})
}

func (s *Server) serveState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	obs, ok := s.ctrl.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: subscription.ErrNotActive.Error()})
		return
	}

	v := obs.Current()
	writeJSON(w, http.StatusOK, stateResponse{View: v, Value: v.Payload()})
}

func (s *Server) serveActivate(topicOf func(httprouter.Params) model.Topic) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		topic := topicOf(p)

		obs, err := s.ctrl.Activate(s.base, topic)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}

		s.logger.Info("topic switched", "topic", topic.String(), "remote", r.RemoteAddr)

		v := obs.Current()
		writeJSON(w, http.StatusAccepted, stateResponse{View: v, Value: v.Payload()})
	}
}

func (s *Server) serveRefresh(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	err := s.ctrl.Refresh(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, subscription.ErrNotActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error(), Status: upstreamStatus(err)})
	}
}

// upstreamStatus extracts the session server's status code from a
// hydration failure, or 0.
func upstreamStatus(err error) int {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
