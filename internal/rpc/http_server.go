package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// HTTPServer is the fallback loopback transport (spec.md §4.3): bound to
// 127.0.0.1 only, bearer-token authenticated, routed with gorilla/mux.
type HTTPServer struct {
	dispatcher *Dispatcher
	pool       *Pool
	token      string
	log        *zap.Logger
	events     *EventBroker

	router *mux.Router
	server *http.Server

	statsFn func() Stats
}

// Stats summarises broker activity for /api/status (spec.md §6 NEW).
type Stats struct {
	TotalRequests  uint64 `json:"totalRequests"`
	AllowCount     uint64 `json:"allowCount"`
	DenyCount      uint64 `json:"denyCount"`
	ErrorCount     uint64 `json:"errorCount"`
	CacheHitRate   float64 `json:"cacheHitRate"`
	PoliciesLoaded int     `json:"policiesLoaded"`
}

// NewHTTPServer builds the mux and wires /rpc, /api/health, /api/status,
// and /sse/events. statsFn supplies the live counters /api/status reports.
func NewHTTPServer(addr, token string, dispatcher *Dispatcher, pool *Pool, events *EventBroker, statsFn func() Stats, log *zap.Logger) *HTTPServer {
	s := &HTTPServer{dispatcher: dispatcher, pool: pool, token: token, events: events, statsFn: statsFn, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/rpc", s.requireAuth(s.handleRPC)).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.requireAuth(s.handleStatus)).Methods(http.MethodGet)
	r.HandleFunc("/sse/events", s.requireAuth(s.handleSSE)).Methods(http.MethodGet)
	r.PathPrefix("/sse/events/").HandlerFunc(s.requireAuth(s.handleSSE)).Methods(http.MethodGet)

	s.router = r
	s.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handle registers an additional unauthenticated route on the same mux
// (SPEC_FULL.md §6 NEW: a `/metrics` Prometheus scrape endpoint, installed
// by the daemon entrypoint once the server is built).
func (s *HTTPServer) Handle(path string, h http.Handler) {
	s.router.Handle(path, h)
}

// ListenAndServe blocks serving HTTP until the server is shut down.
func (s *HTTPServer) ListenAndServe() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, closing SSE connections first
// (spec.md §4.3 "On shutdown, connections are closed before the HTTP
// listener").
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.events != nil {
		s.events.CloseAll()
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token != s.token {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, Failure(nil, NewError(CodeValidation, "malformed request body")))
		return
	}

	if s.dispatcher.SocketOnly(req.Method) {
		writeJSON(w, Failure(req.ID, NewError(CodeChannelDenied, req.Method)))
		return
	}

	respCh := make(chan *Response, 1)
	rpcErr := s.pool.Submit(r.Context(), func() {
		respCh <- s.dispatcher.Dispatch(r.Context(), ChannelHTTP, &req)
	})
	if rpcErr != nil {
		writeJSON(w, Failure(req.ID, rpcErr))
		return
	}

	select {
	case resp := <-respCh:
		writeJSON(w, resp)
	case <-r.Context().Done():
		writeJSON(w, Failure(req.ID, NewError(CodeTimeout, "client disconnected")))
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.statsFn == nil {
		writeJSON(w, Stats{})
		return
	}
	writeJSON(w, s.statsFn())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
