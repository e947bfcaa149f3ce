// Package web provides the HTTP control surface and status page.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/logic"
	"github.com/sweeney/relay-node/internal/router"
	"github.com/sweeney/relay-node/internal/status"
)

// Source tags messages that arrived over HTTP.
const Source = "http"

// Form fields read by the actuation endpoints.
const (
	FieldRelay    = "relay"
	FieldDuration = "duration"
)

const notFoundBody = "404: Not found"

// Sender delivers a message to the daemon loop and waits for it to be
// handled. relay.Inbox implements it.
type Sender interface {
	Send(ctx context.Context, msg router.Message) error
}

// Options configures the server.
type Options struct {
	// Trigger is the pulse length used by POST /trigger without a
	// duration field. Zero leaves the router default in place.
	Trigger time.Duration
	Logger  *zap.SugaredLogger
}

// Server serves the control page and actuation endpoints over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	sender     Sender
	trigger    time.Duration
	log        *zap.SugaredLogger
}

// New creates a Server that reads state from tracker and forwards
// actuation requests to sender.
func New(addr string, tracker *status.Tracker, sender Sender, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{tracker: tracker, sender: sender, trigger: opts.Trigger, log: log}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)

	r.Post("/activate", s.actuate(router.AddrActivate, true))
	r.Post("/deactivate", s.actuate(router.AddrDeactivate, true))
	r.Post("/trigger", s.actuate(router.AddrTrigger, false))

	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)
	return r
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("render index", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// actuate builds the handler for one actuation endpoint. When required is
// set a request without a relay field is rejected; otherwise the default
// channel is used.
func (s *Server) actuate(address string, required bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "invalid form", http.StatusBadRequest)
			return
		}

		ch, present, err := formInt(r, FieldRelay)
		switch {
		case err != nil:
			http.Error(w, "invalid relay", http.StatusBadRequest)
			return
		case !present && required:
			http.Error(w, "missing relay", http.StatusBadRequest)
			return
		case !present:
			ch = int32(logic.DefaultChannel)
		}

		args := []any{ch}
		if address == router.AddrTrigger {
			ms, ok, err := formInt(r, FieldDuration)
			if err != nil || (ok && ms <= 0) {
				http.Error(w, "invalid duration", http.StatusBadRequest)
				return
			}
			if !ok {
				ms = int32(s.trigger / time.Millisecond)
			}
			args = append(args, ms)
		}

		msg := router.Message{Address: address, Args: args, Source: Source}
		if err := s.sender.Send(r.Context(), msg); err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warnw("actuation not delivered", "address", address, "error", err)
			}
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// formInt reads a 32-bit integer form field. present is false when the
// field is absent or blank. Values that do not fit are an error.
func formInt(r *http.Request, name string) (v int32, present bool, err error) {
	raw := strings.TrimSpace(r.Form.Get(name))
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, true, err
	}
	return int32(n), true, nil
}

func notFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(notFoundBody))
}
