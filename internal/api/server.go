// Package api serves a keychain Store to local processes over a Unix
// socket, so clients need neither cgo nor their own keychain entitlement.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/benaskins/keyhold/internal/keychain"
)

// Value encodings accepted and produced by the item endpoints.
const (
	EncodingText   = ""
	EncodingBase64 = "base64"
)

// Item is the body of item reads and writes.
type Item struct {
	Key      string `json:"key,omitempty"`
	Value    string `json:"value"`
	Encoding string `json:"encoding,omitempty"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server serves the keyhold item API.
type Server struct {
	mu       sync.RWMutex
	store    keychain.Store
	limiter  *rate.Limiter
	server   *http.Server
	logger   *slog.Logger
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// Options configures a Server.
type Options struct {
	// ReadRate is the sustained number of value reads per second; zero
	// disables limiting.
	ReadRate  float64
	ReadBurst int
}

// NewServer creates an API server backed by the given store.
func NewServer(store keychain.Store, opts Options) *Server {
	s := &Server{
		store:    store,
		logger:   slog.With("component", "api"),
		registry: prometheus.NewRegistry(),
	}
	s.setLimit(opts)

	s.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "keyhold",
		Name:      "api_requests_total",
		Help:      "Item API requests by operation and outcome.",
	}, []string{"op", "outcome"})
	s.registry.MustRegister(s.requests)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/items", s.listItems)
	mux.HandleFunc("DELETE /v1/items", s.clearItems)
	mux.HandleFunc("GET /v1/items/{key}", s.getItem)
	mux.HandleFunc("PUT /v1/items/{key}", s.putItem)
	mux.HandleFunc("DELETE /v1/items/{key}", s.deleteItem)
	mux.HandleFunc("GET /v1/exists/{key}", s.itemExists)
	mux.HandleFunc("GET /v1/health", s.health)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	s.server = &http.Server{Handler: mux}
	return s
}

// Reconfigure swaps the store and read limits, e.g. after a config reload.
func (s *Server) Reconfigure(store keychain.Store, opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store = store
	s.setLimitLocked(opts)
	s.logger.Info("store reconfigured")
}

func (s *Server) setLimit(opts Options) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLimitLocked(opts)
}

func (s *Server) setLimitLocked(opts Options) {
	if opts.ReadRate <= 0 {
		s.limiter = nil
		return
	}
	burst := opts.ReadBurst
	if burst <= 0 {
		burst = 1
	}
	s.limiter = rate.NewLimiter(rate.Limit(opts.ReadRate), burst)
}

func (s *Server) current() (keychain.Store, *rate.Limiter) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store, s.limiter
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// ListenUnix starts the server on a Unix socket. Connections from other
// users are refused where the platform reports peer credentials.
func (s *Server) ListenUnix(path string) error {
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(&peerListener{Listener: ln, logger: s.logger})
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.logger.Info("API listening", "addr", addr)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	store, _ := s.current()
	keys, err := store.List()
	if err != nil {
		s.fail(w, "list", err)
		return
	}
	s.ok(w, "list", http.StatusOK, map[string][]string{"keys": keys})
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	store, limiter := s.current()
	if limiter != nil && !limiter.Allow() {
		s.requests.WithLabelValues("get", "rate_limited").Inc()
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "read rate exceeded", Code: "rate_limited"})
		return
	}

	key, ok := s.pathKey(w, r, "get")
	if !ok {
		return
	}
	item := Item{Key: key, Encoding: r.URL.Query().Get("encoding")}
	switch item.Encoding {
	case EncodingBase64:
		data, err := store.Data(key)
		if err != nil {
			s.fail(w, "get", err)
			return
		}
		item.Value = base64.StdEncoding.EncodeToString(data)
	case EncodingText:
		val, err := getVia(store, key)
		if err != nil {
			s.fail(w, "get", err)
			return
		}
		item.Value = val
	default:
		s.badRequest(w, "get", "unknown encoding "+item.Encoding)
		return
	}
	s.ok(w, "get", http.StatusOK, item)
}

// getVia records API reads distinctly when the store is audited.
func getVia(store keychain.Store, key string) (string, error) {
	if a, ok := store.(interface {
		GetVia(key, trigger string) (string, error)
	}); ok {
		return a.GetVia(key, "api")
	}
	return store.Get(key)
}

func (s *Server) putItem(w http.ResponseWriter, r *http.Request) {
	store, _ := s.current()
	key, ok := s.pathKey(w, r, "set")
	if !ok {
		return
	}

	var item Item
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&item); err != nil {
		s.badRequest(w, "set", "invalid body: "+err.Error())
		return
	}

	var err error
	switch item.Encoding {
	case EncodingBase64:
		data, decErr := base64.StdEncoding.DecodeString(item.Value)
		if decErr != nil {
			s.badRequest(w, "set", "invalid base64 value")
			return
		}
		err = store.SetData(key, data)
	case EncodingText:
		err = store.Set(key, item.Value)
	default:
		s.badRequest(w, "set", "unknown encoding "+item.Encoding)
		return
	}
	if err != nil {
		s.fail(w, "set", err)
		return
	}
	s.ok(w, "set", http.StatusNoContent, nil)
}

func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	store, _ := s.current()
	key, ok := s.pathKey(w, r, "delete")
	if !ok {
		return
	}
	if err := store.Delete(key); err != nil {
		s.fail(w, "delete", err)
		return
	}
	s.ok(w, "delete", http.StatusNoContent, nil)
}

func (s *Server) clearItems(w http.ResponseWriter, r *http.Request) {
	store, _ := s.current()
	if err := store.Clear(); err != nil {
		s.fail(w, "clear", err)
		return
	}
	s.ok(w, "clear", http.StatusNoContent, nil)
}

func (s *Server) itemExists(w http.ResponseWriter, r *http.Request) {
	store, _ := s.current()
	key, ok := s.pathKey(w, r, "exists")
	if !ok {
		return
	}
	exists, err := store.Exists(key)
	if err != nil {
		s.fail(w, "exists", err)
		return
	}
	s.ok(w, "exists", http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) pathKey(w http.ResponseWriter, r *http.Request, op string) (string, bool) {
	key := r.PathValue("key")
	if key == "" {
		s.badRequest(w, op, "missing key")
		return "", false
	}
	return key, true
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ok(w http.ResponseWriter, op string, status int, v any) {
	s.requests.WithLabelValues(op, "ok").Inc()
	if v == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, v)
}

func (s *Server) badRequest(w http.ResponseWriter, op, msg string) {
	s.requests.WithLabelValues(op, "bad_request").Inc()
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status, code := httpStatus(err)
	s.requests.WithLabelValues(op, code).Inc()
	if status >= http.StatusInternalServerError {
		s.logger.Error("store operation failed", "op", op, "error", err)
	} else {
		s.logger.Debug("store operation rejected", "op", op, "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

// httpStatus maps a store error to an HTTP status and a stable code name.
func httpStatus(err error) (int, string) {
	code, ok := keychain.CodeOf(err)
	if !ok {
		return http.StatusInternalServerError, "internal"
	}
	switch {
	case errors.Is(err, keychain.ErrItemNotFound):
		return http.StatusNotFound, code.String()
	case errors.Is(err, keychain.ErrUserCanceled),
		errors.Is(err, keychain.ErrAuthFailed),
		errors.Is(err, keychain.ErrInteractionNotAllowed):
		return http.StatusForbidden, code.String()
	case errors.Is(err, keychain.ErrInvalidParameters):
		return http.StatusBadRequest, code.String()
	case errors.Is(err, keychain.ErrOperationNotImplemented):
		return http.StatusNotImplemented, code.String()
	case errors.Is(err, keychain.ErrUnknown):
		return http.StatusUnprocessableEntity, code.String()
	}
	return http.StatusInternalServerError, code.String()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
