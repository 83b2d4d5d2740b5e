package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/poetrycam/internal/app"
	"github.com/ayusman/poetrycam/internal/status"
	"github.com/ayusman/poetrycam/internal/trigger"
)

// Controller is the part of the app the control endpoints drive.
type Controller interface {
	Mode() app.Mode
	SetMode(app.Mode) error
	Busy() bool
}

// ControlHandler serves status, trigger and mode requests. Triggers are
// published on the bus like every other trigger source; the app makes the
// final decision.
type ControlHandler struct {
	ctl Controller
	bus *trigger.Bus
	hub *status.Hub
}

// NewControlHandler creates a ControlHandler.
func NewControlHandler(ctl Controller, bus *trigger.Bus, hub *status.Hub) *ControlHandler {
	return &ControlHandler{ctl: ctl, bus: bus, hub: hub}
}

type triggerResponse struct {
	Event trigger.Event `json:"event"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode  app.Mode   `json:"mode"`
	Modes []app.Mode `json:"modes"`
	Error string     `json:"error,omitempty"`
}

// Status handles GET /api/status.
func (h *ControlHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.hub.Current())
}

// Trigger handles POST /api/trigger.
func (h *ControlHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.ctl.Mode() != app.ModeManual {
		writeError(w, http.StatusConflict, app.ErrNotManual.Error())
		return
	}
	if h.ctl.Busy() {
		writeError(w, http.StatusConflict, app.ErrCycleActive.Error())
		return
	}

	ev := h.bus.Fire(trigger.OriginHTTP)
	writeJSON(w, http.StatusAccepted, triggerResponse{Event: ev})
}

// Mode handles GET and PUT /api/mode.
func (h *ControlHandler) Mode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, modeResponse{Mode: h.ctl.Mode(), Modes: app.Modes})
	case http.MethodPut:
		h.setMode(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ControlHandler) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	mode, err := app.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ctl.SetMode(mode); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, modeResponse{
			Mode:  h.ctl.Mode(),
			Modes: app.Modes,
			Error: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, modeResponse{Mode: h.ctl.Mode(), Modes: app.Modes})
}
