package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	gwebsocket "github.com/gorilla/websocket" // Alias to avoid name conflict

	"lostwheel-gateway/internal/alerting"
	"lostwheel-gateway/internal/auth"
	"lostwheel-gateway/internal/data"
	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/metrics"
	"lostwheel-gateway/internal/registry"
	"lostwheel-gateway/internal/session"
	"lostwheel-gateway/internal/websocket"
)

var upgrader = gwebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // Allow all origins for simplicity
}

type APIHandler struct {
	registry *registry.Registry
	lister   device.Lister
	match    string
	hub      *websocket.Hub
	alerter  *alerting.Alerter
	auth     *auth.AuthManager
	metrics  *metrics.Metrics
	log      *slog.Logger
}

type Deps struct {
	Registry *registry.Registry
	Lister   device.Lister
	Match    string // device description filter for discovery
	Hub      *websocket.Hub
	Alerter  *alerting.Alerter
	Auth     *auth.AuthManager
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

func NewAPIHandler(d Deps) *APIHandler {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Auth == nil {
		d.Auth = auth.NewAuthManager(auth.Config{})
	}
	if d.Match == "" {
		d.Match = device.DefaultMatch
	}
	return &APIHandler{
		registry: d.Registry,
		lister:   d.Lister,
		match:    d.Match,
		hub:      d.Hub,
		alerter:  d.Alerter,
		auth:     d.Auth,
		metrics:  d.Metrics,
		log:      d.Log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps an operation error to an HTTP status. Joined errors from
// fan-out operations map by the first recognised cause.
func statusFor(err error) int {
	var (
		verr *registry.ValidationError
		terr *session.InvalidTransitionError
		cerr *session.ConnectionError
		serr *session.SinkError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &terr):
		return http.StatusConflict
	case errors.As(err, &cerr):
		return http.StatusBadGateway
	case errors.As(err, &serr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error    string           `json:"error"`
	Sessions []session.Status `json:"sessions,omitempty"`
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error, withStatuses bool) {
	resp := errorResponse{Error: err.Error()}
	if withStatuses {
		resp.Sessions = h.registry.Statuses()
	}
	writeJSON(w, statusFor(err), resp)
}

// HandleDevices lists attached devices matching the configured description.
func (h *APIHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := device.Discover(h.lister, h.match)
	if err != nil {
		h.log.Error("device discovery", slog.Any("err", err))
		http.Error(w, "Device discovery failed", http.StatusBadGateway)
		return
	}
	if devices == nil {
		devices = []device.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

type sessionsResponse struct {
	BasePath string           `json:"base_path"`
	Sessions []session.Status `json:"sessions"`
}

func (h *APIHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	statuses := h.registry.Statuses()
	if statuses == nil {
		statuses = []session.Status{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{BasePath: h.registry.BasePath(), Sessions: statuses})
}

type assignRequest struct {
	BasePath string                `json:"base_path"`
	Sessions []registry.Assignment `json:"sessions"`
}

// HandleAssign replaces the session set. Entries without a serial number
// are completed from discovery.
func (h *APIHandler) HandleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: Cannot parse JSON", http.StatusBadRequest)
		return
	}
	for i, entry := range req.Sessions {
		if entry.Device.SerialNumber != "" || entry.Device.Locator == "" || h.lister == nil {
			continue
		}
		dev, err := device.Lookup(h.lister, h.match, entry.Device.Locator)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		req.Sessions[i].Device = dev
	}
	if err := h.registry.Assign(req.BasePath, req.Sessions); err != nil {
		h.writeError(w, err, false)
		return
	}
	h.HandleListSessions(w, r)
}

func (h *APIHandler) fanOut(name string, op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := op(); err != nil {
			h.log.Warn("session operation failed", slog.String("op", name), slog.Any("err", err))
			h.writeError(w, err, true)
			return
		}
		h.HandleListSessions(w, r)
	}
}

func (h *APIHandler) HandleStartMonitor() http.HandlerFunc {
	return h.fanOut("monitor", h.registry.StartMonitorAll)
}

func (h *APIHandler) HandleStartRecord() http.HandlerFunc {
	return h.fanOut("record", h.registry.StartRecordAll)
}

func (h *APIHandler) HandleStop() http.HandlerFunc {
	return h.fanOut("stop", h.registry.StopAll)
}

func (h *APIHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	s, ok := h.registry.Session(id)
	if !ok {
		http.Error(w, "Unknown session", http.StatusNotFound)
	}
	return s, ok
}

func (h *APIHandler) HandleSessionStatus(w http.ResponseWriter, r *http.Request) {
	if s, ok := h.lookup(w, r); ok {
		writeJSON(w, http.StatusOK, s.Status())
	}
}

// HandleWindow returns both windows of one session, optionally trimmed to
// the last ?limit entries each.
func (h *APIHandler) HandleWindow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap := s.Snapshot()
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Bad Request: limit", http.StatusBadRequest)
			return
		}
		snap.Raw = lastN(snap.Raw, n)
		snap.Binned = lastN(snap.Binned, n)
	}
	writeJSON(w, http.StatusOK, snap)
}

func lastN(s []data.Sample, n int) []data.Sample {
	if n < len(s) {
		return s[len(s)-n:]
	}
	return s
}

func (h *APIHandler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	alerts := []data.Alert{}
	if h.alerter != nil {
		alerts = append(alerts, h.alerter.Recent(n)...)
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *APIHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleWebSocket upgrades connections and registers clients with the hub
func (h *APIHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade", slog.Any("err", err))
		return
	}

	client := websocket.NewClient(h.hub, conn)
	client.Hub.RegisterClient(client)

	// Start read/write pumps in separate goroutines
	go client.WritePump()
	go client.ReadPump() // Must run ReadPump to handle control messages (close, pong)

	h.log.Info("websocket connection established", slog.String("remote", conn.RemoteAddr().String()))

	// Send current windows upon connection
	h.sendInitialData(client)
}

// sendInitialData sends every session's windows to a newly connected client
func (h *APIHandler) sendInitialData(client *websocket.Client) {
	sessions := h.registry.Sessions()
	if len(sessions) == 0 {
		return
	}
	history := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		history = append(history, s.Snapshot())
	}

	messageBytes, err := websocket.Encode("history", "", history)
	if err != nil {
		h.log.Error("marshal history", slog.Any("err", err))
		return
	}

	client.Hub.SendTo(client, messageBytes)
}
