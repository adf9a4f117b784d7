// Package imageserver exposes QC figures over HTTP so an external viewer
// (browser or image program) can display them:
//
//	GET /health                        lifecycle status
//	GET /images/{subject}/{artifact}   figure bytes, 404 when missing
//	GET /api/verdicts                  read-only snapshot of the verdict store
package imageserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/verdict"
)

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// ErrDisabled is returned by Start when the settings disable the server.
var ErrDisabled = errors.New("imageserver: server disabled")

// ArtifactSource resolves a request to a file inside FS.
type ArtifactSource interface {
	Locate(subject, artifact string) (string, error)
	FS() fs.FS
}

// VerdictSource lists recorded verdicts.
type VerdictSource interface {
	Entries() []verdict.Entry
	Summary() verdict.Summary
}

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Server wraps the HTTP listener and handlers.
type Server struct {
	settings Settings
	images   ArtifactSource
	verdicts VerdictSource
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithVerdicts enables the /api/verdicts route.
func WithVerdicts(v VerdictSource) Option {
	return func(s *Server) {
		if v != nil {
			s.verdicts = v
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares an image server backed by images.
func NewServer(settings Settings, images ArtifactSource, opts ...Option) *Server {
	s := &Server{
		settings: settings,
		images:   images,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the route table. Start serves it; tests may use it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /images/{subject}/{artifact}", s.handleImage)
	mux.HandleFunc("GET /api/verdicts", s.handleVerdicts)
	return mux
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("imageserver: server is nil")
	}
	if !s.settings.Enabled {
		return ErrDisabled
	}
	if s.images == nil {
		return fmt.Errorf("imageserver: no artifact source")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("imageserver: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("imageserver: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("imageserver: serve error: %v", err)
		}
	}()
	s.logger.Printf("imageserver: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL (scheme + host:port) for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// ImageURL is the address a viewer fetches for one artifact.
func (s *Server) ImageURL(subject, artifact string) string {
	return ImageURL(s.BaseURL(), subject, artifact)
}

// ImageURL joins base with the image route for subject and artifact.
func ImageURL(base, subject, artifact string) string {
	return base + "/images/" + url.PathEscape(subject) + "/" + url.PathEscape(artifact)
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

type verdictRecord struct {
	Participant string `json:"participant"`
	Session     string `json:"session"`
	Status      string `json:"status"`
	Message     string `json:"message"`
	Time        string `json:"time"`
}

type verdictsResponse struct {
	Summary  map[string]int  `json:"summary"`
	Verdicts []verdictRecord `json:"verdicts"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	artifact := r.PathValue("artifact")
	rel, err := s.images.Locate(subject, artifact)
	if err != nil {
		status := http.StatusInternalServerError
		if qcerr.IsNotFound(err) {
			status = http.StatusNotFound
		}
		s.logger.Printf("imageserver: GET %s: %v", r.URL.Path, err)
		writeJSON(w, status, errorResponse{Code: string(qcerr.GetCode(err)), Error: err.Error()})
		return
	}
	http.ServeFileFS(w, r, s.images.FS(), rel)
}

func (s *Server) handleVerdicts(w http.ResponseWriter, r *http.Request) {
	if s.verdicts == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: string(qcerr.ENotFound), Error: "verdict store not attached"})
		return
	}
	entries := s.verdicts.Entries()
	summary := s.verdicts.Summary()
	resp := verdictsResponse{
		Summary: map[string]int{
			string(verdict.Failed): summary.Failed,
			string(verdict.Maybe):  summary.Maybe,
			string(verdict.Passed): summary.Passed,
			verdict.Unset.String(): summary.Unset,
		},
		Verdicts: make([]verdictRecord, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Verdicts = append(resp.Verdicts, verdictRecord{
			Participant: e.Participant,
			Session:     e.Session,
			Status:      e.Record.Status.String(),
			Message:     e.Record.Message,
			Time:        e.Record.Time,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
