package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fpt/nexus-guard/internal/metrics"
	"github.com/fpt/nexus-guard/internal/store"
	pkgLogger "github.com/fpt/nexus-guard/pkg/logger"
)

const (
	DefaultLimit   = 15
	MaxLimit       = 100
	DefaultRefresh = 2 * time.Second

	shutdownTimeout = 5 * time.Second
	writeTimeout    = 10 * time.Second
)

// Options configures the feed server.
type Options struct {
	Addr    string
	Refresh time.Duration
	Limit   int
}

// Server is the read-only live feed. It keeps a periodically refreshed
// snapshot of the newest messages, serves it as JSON and pushes it to
// websocket subscribers on every refresh.
type Server struct {
	store  *store.Store
	opts   Options
	logger *pkgLogger.Logger

	mu   sync.RWMutex
	doc  Document
	subs map[chan Document]struct{}
	done chan struct{}

	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates the server and takes the first snapshot.
func New(st *store.Store, opts Options, logger *pkgLogger.Logger) *Server {
	if opts.Refresh <= 0 {
		opts.Refresh = DefaultRefresh
	}
	if opts.Limit <= 0 || opts.Limit > MaxLimit {
		opts.Limit = DefaultLimit
	}
	s := &Server{
		store:  st,
		opts:   opts,
		logger: logger.WithComponent("feed"),
		subs:   make(map[chan Document]struct{}),
		done:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()
	s.Refresh()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/api/feed", s.handleFeed)
	r.Get("/api/feed/ws", s.handleWebSocket)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Refresh rebuilds the cached snapshot and pushes it to subscribers.
func (s *Server) Refresh() Document {
	doc := s.build(s.opts.Limit)

	s.mu.Lock()
	s.doc = doc
	for ch := range s.subs {
		// keep only the newest document for slow subscribers
		select {
		case <-ch:
		default:
		}
		ch <- doc
	}
	s.mu.Unlock()
	return doc
}

// Snapshot returns the cached document.
func (s *Server) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

func (s *Server) build(limit int) Document {
	msgs, stats := s.store.SnapshotWithStats(limit)
	doc := Document{
		Messages:       make([]MessageView, len(msgs)),
		Stats:          stats,
		ActiveChannels: activeChannels(stats),
		GeneratedAt:    time.Now(),
	}
	for i, m := range msgs {
		doc.Messages[i] = viewOf(m)
	}
	return doc
}

// Run refreshes the snapshot and serves HTTP on the configured address until
// ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Feed server listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ticker := time.NewTicker(s.opts.Refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.done)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errors.Wrap(err, "feed server shutdown")
			}
			return nil
		case err, ok := <-errCh:
			if ok {
				close(s.done)
				return errors.Wrap(err, "feed server failed")
			}
			errCh = nil
		case <-ticker.C:
			s.Refresh()
		}
	}
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.Limit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxLimit)
	}

	if limit == s.opts.Limit {
		writeJSON(w, http.StatusOK, s.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, s.build(limit))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"messages":  s.store.Len(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan Document, 1)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	ch <- s.doc
	s.mu.Unlock()
	metrics.FeedClients.Inc()

	defer func() {
		s.mu.Lock()
		delete(s.subs, ch)
		s.mu.Unlock()
		metrics.FeedClients.Dec()
	}()

	// The feed is push-only; reading detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-s.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case doc := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(doc); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("Websocket write failed", "error", err)
				}
				return
			}
		}
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			route := r.URL.Path
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.FeedRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			s.logger.Debug("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"latency", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()))
		}()

		next.ServeHTTP(ww, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
