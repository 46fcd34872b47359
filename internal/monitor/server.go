// Package monitor serves live run metrics over HTTP: Prometheus text on
// /metrics, the latest snapshot as JSON on /snapshot, a snapshot push stream
// on /ws and a liveness check on /healthz.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/torosent/gamestorm/internal/metrics"
)

type Options struct {
	// Interval between pushes on /ws.
	Interval time.Duration
	Logger   zerolog.Logger
}

type Server struct {
	src      metrics.SnapshotSource
	interval time.Duration
	log      zerolog.Logger
	started  time.Time

	ln       net.Listener
	http     *http.Server
	upgrader websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
	streams   sync.WaitGroup
}

// Listen binds addr and starts serving in the background. A bind failure is
// returned to the caller so the run can refuse to start.
func Listen(addr string, src metrics.SnapshotSource, opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("monitor listen %s: %w", addr, err)
	}
	s := newServer(src, opts)
	s.ln = ln
	s.http = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("monitor server stopped")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("monitor listening")
	return s, nil
}

func newServer(src metrics.SnapshotSource, opts Options) *Server {
	interval := opts.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Server{
		src:      src,
		interval: interval,
		log:      opts.Logger,
		started:  time.Now(),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		done:     make(chan struct{}),
	}
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Handler returns the routes without binding a socket.
func (s *Server) Handler() http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewPrometheusCollector(s.src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /ws", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.src.Snapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleStream pushes one snapshot immediately and then one per interval
// until the client goes away or the server shuts down.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already replied
	}
	s.streams.Add(1)
	defer s.streams.Done()
	defer conn.Close()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.src.Snapshot()); err != nil {
			s.log.Debug().Err(err).Msg("monitor stream closed")
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-s.done:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(time.Second))
			return
		}
	}
}

// Shutdown stops accepting requests and ends every open stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.done) })
	err := s.http.Shutdown(ctx)

	finished := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
