package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	cnerrors "github.com/pvbeek/componentnetwork/errors"
)

// DefaultPort is the port web clients expect the ingress server on.
const DefaultPort = 5000

const maxBodyBytes = 1 << 20

// ServerConfig configures an ingress Server.
type ServerConfig struct {
	// Host defaults to 127.0.0.1.
	Host string
	Port int

	// RateLimit is the number of requests per second accepted on
	// /api/send. Zero disables limiting.
	RateLimit float64
	Burst     int

	// CORSOrigins lists the allowed origins. Empty allows any origin.
	CORSOrigins []string
}

// Response is the JSON body returned by /api/send.
type Response struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Server serves /api/send and dispatches every request to a Registry.
type Server struct {
	registry *Registry
	config   ServerConfig
	router   *mux.Router
	limiter  *rate.Limiter
	logger   *slog.Logger

	lock       sync.Mutex
	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates a Server. It does not listen until Start.
func NewServer(registry *Registry, cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	s := &Server{
		registry: registry,
		config:   cfg,
		logger:   registry.logger,
	}

	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.router = mux.NewRouter()
	s.router.Use(s.corsMiddleware)
	s.router.HandleFunc("/api/send", s.handleSend).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	return s
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.httpServer != nil {
		return cnerrors.WrapInvalid(cnerrors.ErrAlreadyStarted,
			"Server", "Start", "start ingress server")
	}

	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return cnerrors.WrapFatal(err, "Server", "Start", "listen on "+addr)
	}

	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := s.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ingress server failed", "addr", addr, "error", err)
		}
	}()

	s.logger.Info("ingress server started", "addr", listener.Addr().String())

	return nil
}

// Addr returns the address the server listens on, or "" before Start.
func (s *Server) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.lock.Lock()
	server := s.httpServer
	s.lock.Unlock()

	if server == nil {
		return nil
	}

	if err := server.Shutdown(ctx); err != nil {
		return cnerrors.WrapTransient(err, "Server", "Stop", "graceful shutdown failed")
	}

	return nil
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests,
			Response{Status: "error", Error: "rate limit exceeded"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			Response{Status: "error", Error: fmt.Sprintf("read body: %v", err)})
		return
	}

	res, err := s.registry.Dispatch(r.Context(), string(body))
	switch {
	case errors.Is(err, cnerrors.ErrNoHandler):
		writeJSON(w, http.StatusServiceUnavailable,
			Response{Status: "error", Error: "No handlers registered"})
	case err != nil:
		s.logger.Warn("ingress handler failed",
			"handler", res.HandlerID,
			"error", err)
		writeJSON(w, http.StatusOK, Response{Status: "error", Error: err.Error()})
	case !res.Bidirectional:
		writeJSON(w, http.StatusOK, Response{Status: "received"})
	default:
		writeJSON(w, http.StatusOK, Response{Status: "success", Response: res.Reply})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"handlers": s.registry.HandlerIDs(),
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		allowed := len(s.config.CORSOrigins) == 0
		for _, o := range s.config.CORSOrigins {
			if o == "*" || o == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
