package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cointop10/cointop10-websocket/internal/stream"
)

// Server is the thin HTTP plumbing around the bridge's control surface.
type Server struct {
	bridge    *stream.Bridge
	logger    *logrus.Logger
	version   string
	startTime time.Time
}

func NewServer(bridge *stream.Bridge, version string, logger *logrus.Logger) *Server {
	return &Server{
		bridge:    bridge,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// subscribeRequest is the JSON body for subscribe and unsubscribe calls.
type subscribeRequest struct {
	Exchange     string `json:"exchange"`
	Symbol       string `json:"symbol"`
	Timeframe    string `json:"timeframe"`
	SubscriberID string `json:"subscriber_id"`
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/subscribe", s.handleSubscribe)
	mux.HandleFunc("/api/v1/unsubscribe", s.handleUnsubscribe)
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	count, err := s.bridge.Subscribe(req.Exchange, req.Symbol, req.Timeframe, req.SubscriberID)
	if err != nil {
		if errors.Is(err, stream.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithError(err).Error("Subscribe failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"subscriber_count": count,
	})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.bridge.Unsubscribe(req.Exchange, req.Symbol, req.Timeframe, req.SubscriberID); err != nil {
		if errors.Is(err, stream.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.WithError(err).Error("Unsubscribe failed")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.bridge.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"healthy":true,"version":"%s","uptime_seconds":%d}`,
		s.version, int64(time.Since(s.startTime).Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
