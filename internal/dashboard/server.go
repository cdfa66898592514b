// Package dashboard serves the monitor's state over HTTP: JSON endpoints
// for polling clients and a WebSocket push stream for live ones.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/signalsfoundry/linkwatch/internal/logging"
	"github.com/signalsfoundry/linkwatch/internal/monitor"
	"github.com/signalsfoundry/linkwatch/internal/predictor"
	"github.com/signalsfoundry/linkwatch/internal/session"
	"github.com/signalsfoundry/linkwatch/model"
)

// State is the read side of the monitor.
type State interface {
	CurrentData() monitor.View
	Snapshot() session.Snapshot
	History() []monitor.HistoryPoint
	Warnings() []model.Warning
}

// Config controls the HTTP listener.
type Config struct {
	Addr string `mapstructure:"addr"`
}

// Server wires the routes.
type Server struct {
	state   State
	hub     *Hub
	metrics http.Handler
	log     logging.Logger
}

// NewServer builds the dashboard. metrics may be nil to omit /metrics.
func NewServer(state State, hub *Hub, metrics http.Handler, log logging.Logger) *Server {
	if log == nil {
		log = logging.Noop()
	}
	return &Server{state: state, hub: hub, metrics: metrics, log: log}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.state.CurrentData())
	})
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, _ *http.Request) {
		v := s.state.CurrentData()
		writeJSON(w, http.StatusOK, statusResponse{
			SessionID:        v.SessionID,
			ConnectionStatus: v.ConnectionStatus,
			Duration:         v.Duration,
			Disconnects:      v.Session.Disconnects,
			Predictor:        v.Predictor,
		})
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.state.History())
	})
	mux.HandleFunc("GET /api/warnings", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.state.Warnings())
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.HandleWS)
	}
	return mux
}

type statusResponse struct {
	SessionID        string           `json:"session_id"`
	ConnectionStatus string           `json:"connection_status"`
	Duration         string           `json:"duration"`
	Disconnects      int              `json:"disconnect_count"`
	Predictor        predictor.Status `json:"predictor"`
}

// Serve runs the HTTP server on ln until ctx is done, then shuts it down
// and closes the push hub.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info(ctx, "dashboard listening", logging.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn(ctx, "dashboard shutdown", logging.Err(err))
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
