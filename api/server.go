// Package api exposes the simulator over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"
	"github.com/ethereum/go-ethereum/metrics/prometheus"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/clydemeng/forksim/core"
)

const (
	// APIKeyHeader carries the shared secret when authentication is enabled.
	APIKeyHeader = "X-API-KEY"
	// DefaultMaxRequestSize is the body limit in bytes.
	DefaultMaxRequestSize = 16 * 1024
)

// Backend is the simulator as seen by the HTTP layer.
type Backend interface {
	Simulate(ctx context.Context, tx *core.TransactionRequest) (*core.SimulationResult, error)
	SimulateBundle(ctx context.Context, txs []*core.TransactionRequest) ([]*core.SimulationResult, error)
	CreateSession(ctx context.Context, req *core.StatefulRequest) (uuid.UUID, error)
	SimulateStateful(ctx context.Context, id uuid.UUID, txs []*core.TransactionRequest) ([]*core.SimulationResult, error)
	EndSession(id uuid.UUID) error
}

// Config configures the HTTP surface.
type Config struct {
	// APIKey, when set, is required in the X-API-KEY header of every
	// simulation route.
	APIKey string
	// MaxRequestSize limits request bodies in bytes.
	MaxRequestSize int64
	// CorsOrigins enables CORS for the listed origins.
	CorsOrigins []string
	// Metrics exposes /debug/metrics/prometheus.
	Metrics bool
}

type Server struct {
	backend Backend
	cfg     Config
}

func NewServer(backend Backend, cfg Config) *Server {
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = DefaultMaxRequestSize
	}
	return &Server{backend: backend, cfg: cfg}
}

// Handler returns the complete HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.recoverPanics(s.logRequests(newCorsHandler(s.router(), s.cfg.CorsOrigins)))
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics {
		r.Handle("/debug/metrics/prometheus", prometheus.Handler(metrics.DefaultRegistry)).Methods(http.MethodGet)
	}
	for _, prefix := range []string{"", "/api/v1"} {
		r.HandleFunc(prefix+"/simulate", s.auth(s.handleSimulate)).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/simulate-bundle", s.auth(s.handleSimulateBundle)).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/simulate-stateful", s.auth(s.handleCreateSession)).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/simulate-stateful/{id}", s.auth(s.handleSimulateStateful)).Methods(http.MethodPost)
		r.HandleFunc(prefix+"/simulate-stateful/{id}", s.auth(s.handleEndSession)).Methods(http.MethodDelete)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, core.NewError(core.KindNotFound, "", nil))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, core.NewError(core.KindMethodNotAllowed, "", nil))
	})
	return r
}

func newCorsHandler(srv http.Handler, allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		return srv
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodDelete},
		MaxAge:         600,
		AllowedHeaders: []string{"*"},
	})
	return c.Handler(srv)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.cfg.APIKey == "" {
		return next
	}
	want := []byte(s.cfg.APIKey)
	return func(w http.ResponseWriter, req *http.Request) {
		got := req.Header.Get(APIKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeError(w, core.NewError(core.KindUnauthorized, "", nil))
			return
		}
		next(w, req)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)

		requestTimer.UpdateSince(start)
		if rec.status >= http.StatusBadRequest {
			requestErrorMeter.Mark(1)
		}
		log.Debug("Served request", "method", req.Method, "path", req.URL.Path, "status", rec.status, "elapsed", time.Since(start))
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Request handler panicked", "path", req.URL.Path, "err", r, "stack", string(debug.Stack()))
				writeError(w, core.NewError(core.KindUnhandled, "", fmt.Errorf("panic: %v", r)))
			}
		}()
		next.ServeHTTP(w, req)
	})
}

type httpErrorResp struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func respondError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(httpErrorResp{code, message}); err != nil {
		http.Error(w, message, code)
	}
}

// writeError is the single translation of simulator errors to the wire.
func writeError(w http.ResponseWriter, err error) {
	e := core.AsError(err)
	status := e.Kind.Status()
	if status >= http.StatusInternalServerError {
		log.Warn("Request failed", "kind", e.Kind.Tag(), "err", err)
	}
	respondError(w, status, e.Message())
}

func respondOK(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("Failed to encode response", "err", err)
	}
}

// decodeBody reads a size-limited JSON body into v.
func (s *Server) decodeBody(w http.ResponseWriter, req *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, req.Body, s.cfg.MaxRequestSize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return core.NewError(core.KindPayloadTooLarge, "", err)
		}
		return core.NewError(core.KindMalformedBody, err.Error(), err)
	}
	return nil
}

func sessionID(req *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(req)["id"])
	if err != nil {
		return uuid.UUID{}, core.NewError(core.KindNotFound, "", err)
	}
	return id, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSimulate(w http.ResponseWriter, req *http.Request) {
	var tx core.TransactionRequest
	if err := s.decodeBody(w, req, &tx); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.backend.Simulate(req.Context(), &tx)
	if err != nil {
		writeError(w, err)
		return
	}
	respondOK(w, res)
}

func (s *Server) handleSimulateBundle(w http.ResponseWriter, req *http.Request) {
	var txs []*core.TransactionRequest
	if err := s.decodeBody(w, req, &txs); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.backend.SimulateBundle(req.Context(), txs)
	if err != nil {
		writeError(w, err)
		return
	}
	respondOK(w, res)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, req *http.Request) {
	var body core.StatefulRequest
	if err := s.decodeBody(w, req, &body); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.backend.CreateSession(req.Context(), &body)
	if err != nil {
		writeError(w, err)
		return
	}
	respondOK(w, core.StatefulResponse{StatefulSimulationID: id})
}

func (s *Server) handleSimulateStateful(w http.ResponseWriter, req *http.Request) {
	id, err := sessionID(req)
	if err != nil {
		writeError(w, err)
		return
	}
	var txs []*core.TransactionRequest
	if err := s.decodeBody(w, req, &txs); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.backend.SimulateStateful(req.Context(), id, txs)
	if err != nil {
		writeError(w, err)
		return
	}
	respondOK(w, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, req *http.Request) {
	id, err := sessionID(req)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.EndSession(id); err != nil {
		writeError(w, err)
		return
	}
	respondOK(w, core.EndResponse{Success: true})
}
