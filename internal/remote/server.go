package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/roach88/subtrackr/internal/metrics"
)

// Backend is a document store the server exposes.
type Backend interface {
	Pull(ctx context.Context, cursor string, limit int) (Page, error)
	Push(ctx context.Context, req PushRequest) (PushResult, error)
}

// MaxPushEnvelopes bounds a single push request.
const MaxPushEnvelopes = 1000

// Server exposes a Backend over HTTP:
//
//	GET  /v1/documents?cursor=<rev>&limit=<n>  -> Page
//	POST /v1/push                              -> PushResult
//	GET  /healthz
type Server struct {
	backend Backend
	metrics *metrics.Remote
	log     zerolog.Logger
	mux     *http.ServeMux
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerMetrics records each request in m.
func WithServerMetrics(m *metrics.Remote) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithServerLogger sets the request logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// NewServer builds the HTTP handler for backend.
func NewServer(backend Backend, opts ...ServerOption) *Server {
	s := &Server{backend: backend, log: zerolog.Nop(), mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc("GET /v1/documents", s.handlePull)
	s.mux.HandleFunc("POST /v1/push", s.handlePush)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return s
}

// Handle mounts an extra handler, e.g. /metrics.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(w, "pull", http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	page, err := s.backend.Pull(r.Context(), q.Get("cursor"), limit)
	if err != nil {
		s.fail(w, "pull", statusFor(err), err)
		return
	}
	s.ok(w, "pull", page)
	s.log.Debug().
		Str("cursor", q.Get("cursor")).
		Int("documents", len(page.Documents)).
		Dur("took", time.Since(start)).
		Msg("pull served")
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req PushRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<20))
	if err := dec.Decode(&req); err != nil {
		s.fail(w, "push", http.StatusBadRequest, err)
		return
	}
	if len(req.Envelopes) > MaxPushEnvelopes {
		s.fail(w, "push", http.StatusRequestEntityTooLarge, errors.New("too many envelopes"))
		return
	}

	res, err := s.backend.Push(r.Context(), req)
	if err != nil {
		s.fail(w, "push", statusFor(err), err)
		return
	}
	s.ok(w, "push", res)
	s.log.Info().
		Str("device", req.Device).
		Int("accepted", len(res.Accepted)).
		Int("rejected", len(res.Rejected)).
		Bool("fast_forward", res.FastForward).
		Msg("push stored")
}

func (s *Server) ok(w http.ResponseWriter, op string, v any) {
	s.metrics.ObserveRequest(op, http.StatusOK)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) fail(w http.ResponseWriter, op string, status int, err error) {
	s.metrics.ObserveRequest(op, status)
	if status >= http.StatusInternalServerError {
		s.log.Warn().Err(err).Str("op", op).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

type errorBody struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	if errors.Is(err, ErrBadRequest) {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
