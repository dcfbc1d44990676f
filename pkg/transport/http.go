package transport

import (
	"encoding/json"
	"net/http"

	qerrors "github.com/pzverkov/quantum-chat/internal/errors"
	"github.com/pzverkov/quantum-chat/pkg/handshake"
	"github.com/pzverkov/quantum-chat/pkg/metrics"
	"github.com/pzverkov/quantum-chat/pkg/version"
)

// API serves the HTTP companion endpoints: payload decryption and
// encryption for clients that keep ciphertext in their scrollback, a
// chat-centric health summary, and the observability surface (Prometheus
// metrics, aggregated health, liveness and readiness probes).
type API struct {
	hub         *Hub
	coordinator *handshake.Coordinator
	logger      *metrics.Logger
	mux         *http.ServeMux
	obs         *metrics.Server
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	// Hub reports connected users. Required.
	Hub *Hub

	// Coordinator serves session lookups and payload operations. Required.
	Coordinator *handshake.Coordinator

	// Collector backs the /metrics endpoint. Optional; defaults to the
	// global collector.
	Collector *metrics.Collector

	// Logger for request handling. Optional; defaults to silent.
	Logger *metrics.Logger
}

// NewAPI creates the HTTP API and registers its routes.
func NewAPI(cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = metrics.NullLogger()
	}
	collector := cfg.Collector
	if collector == nil {
		collector = metrics.Global()
	}

	a := &API{
		hub:         cfg.Hub,
		coordinator: cfg.Coordinator,
		logger:      logger.Named("api"),
		mux:         http.NewServeMux(),
		obs: metrics.NewServer(metrics.ServerConfig{
			Collector:        collector,
			Version:          version.String(),
			EnablePrometheus: true,
			EnableHealth:     true,
		}),
	}
	a.obs.AddHealthCheck("hub", a.hub.Healthy)

	a.mux.HandleFunc("/api/decrypt-message", a.handleDecrypt)
	a.mux.HandleFunc("/api/encrypt-message", a.handleEncrypt)
	a.mux.HandleFunc("/api/health", a.handleHealth)

	obs := a.obs.Handler()
	a.mux.Handle("/metrics", obs)
	a.mux.Handle("/health", obs)
	a.mux.Handle("/healthz", obs)
	a.mux.Handle("/readyz", obs)

	return a
}

// AddHealthCheck registers a named readiness check on the observability
// endpoints.
func (a *API) AddHealthCheck(name string, check metrics.CheckFunc) {
	a.obs.AddHealthCheck(name, check)
}

// Handler returns the API's HTTP handler.
func (a *API) Handler() http.Handler {
	return a.mux
}

// ListenAndServe runs the API server on the given address.
func (a *API) ListenAndServe(addr string) error {
	server := metrics.NewHTTPServer(addr, a.mux)
	a.logger.Info("http api listening", metrics.Fields{"addr": addr})
	return server.ListenAndServe()
}

// payloadRequest is the body of the decrypt and encrypt endpoints. Payload
// is base64-encoded by the JSON layer.
type payloadRequest struct {
	SessionID string `json:"session_id"`
	Payload   []byte `json:"payload"`
}

type payloadResponse struct {
	SessionID string `json:"session_id"`
	Payload   []byte `json:"payload"`
}

// handleDecrypt opens a relayed ciphertext for display.
func (a *API) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	req, ok := a.readPayloadRequest(w, r)
	if !ok {
		return
	}

	plaintext, err := a.coordinator.DecryptForSession(req.SessionID, req.Payload)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, payloadResponse{SessionID: req.SessionID, Payload: plaintext})
}

// handleEncrypt seals a plaintext under the session key without relaying
// it. Used by tooling and tests.
func (a *API) handleEncrypt(w http.ResponseWriter, r *http.Request) {
	req, ok := a.readPayloadRequest(w, r)
	if !ok {
		return
	}

	payload, err := a.coordinator.EncryptForSession(req.SessionID, req.Payload)
	if err != nil {
		a.writeError(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, payloadResponse{SessionID: req.SessionID, Payload: payload})
}

// healthResponse summarizes service activity.
type healthResponse struct {
	Status            string `json:"status"`
	Version           string `json:"version"`
	ConnectedUsers    int    `json:"connected_users"`
	ActiveSessions    int    `json:"active_sessions"`
	PendingHandshakes int    `json:"pending_handshakes"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	established, pending := a.coordinator.Counts()
	a.writeJSON(w, http.StatusOK, healthResponse{
		Status:            "healthy",
		Version:           version.String(),
		ConnectedUsers:    a.hub.ConnectedUsers(),
		ActiveSessions:    established,
		PendingHandshakes: pending,
	})
}

func (a *API) readPayloadRequest(w http.ResponseWriter, r *http.Request) (payloadRequest, bool) {
	var req payloadRequest
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return req, false
	}
	if req.SessionID == "" {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id required"})
		return req, false
	}
	return req, true
}

// writeError maps coordinator errors to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case qerrors.Is(err, qerrors.ErrSessionNotFound):
		status = http.StatusNotFound
	case qerrors.Is(err, qerrors.ErrSessionNotEstablished),
		qerrors.Is(err, qerrors.ErrInvalidState):
		status = http.StatusConflict
	case qerrors.Is(err, qerrors.ErrAuthenticationFailed),
		qerrors.Is(err, qerrors.ErrPayloadTooShort):
		status = http.StatusUnprocessableEntity
	case qerrors.Is(err, qerrors.ErrMessageTooLarge):
		status = http.StatusRequestEntityTooLarge
	}
	a.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Debug("response encoding failed", metrics.Fields{"error": err.Error()})
	}
}
