// Package api provides the HTTP API handlers for the poetry camera.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/poetrycam/internal/store"
)

// DefaultCycleLimit is how many cycles GET /api/cycles returns without a
// limit parameter.
const DefaultCycleLimit = 50

// CycleHandler serves the cycle history.
type CycleHandler struct {
	store *store.Store
}

// NewCycleHandler creates a new CycleHandler with the given store.
func NewCycleHandler(s *store.Store) *CycleHandler {
	return &CycleHandler{store: s}
}

// ServeHTTP routes /api/cycles and /api/cycles/{id}.
func (h *CycleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/cycles")
	id = strings.TrimPrefix(id, "/")
	if id == "" {
		h.list(w, r)
		return
	}
	h.get(w, id)
}

type cycleResponse struct {
	ID           string `json:"id"`
	Token        string `json:"token,omitempty"`
	Origin       string `json:"origin"`
	Gesture      string `json:"gesture,omitempty"`
	Mode         string `json:"mode"`
	Strategy     string `json:"strategy"`
	Outcome      string `json:"outcome"`
	PhotoPath    string `json:"photo_path,omitempty"`
	PoemPath     string `json:"poem_path,omitempty"`
	AnalysisPath string `json:"analysis_path,omitempty"`
	Poem         string `json:"poem,omitempty"`
	Error        string `json:"error,omitempty"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

type listCyclesResponse struct {
	Cycles []cycleResponse `json:"cycles"`
	Total  int             `json:"total"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func toResponse(c *store.Cycle) cycleResponse {
	resp := cycleResponse{
		ID:           c.ID,
		Token:        c.Token,
		Origin:       c.Origin,
		Gesture:      c.Gesture,
		Mode:         c.Mode,
		Strategy:     c.Strategy,
		Outcome:      string(c.Outcome),
		PhotoPath:    c.PhotoPath,
		PoemPath:     c.PoemPath,
		AnalysisPath: c.AnalysisPath,
		Poem:         c.Poem,
		Error:        c.Error,
		StartedAt:    c.StartedAt.Format(timeLayout),
	}
	if c.FinishedAt != nil {
		resp.FinishedAt = c.FinishedAt.Format(timeLayout)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/cycles, newest first.
func (h *CycleHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := DefaultCycleLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	cycles, err := h.store.Cycles().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list cycles")
		return
	}
	total, err := h.store.Cycles().Count("")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count cycles")
		return
	}

	response := listCyclesResponse{
		Cycles: make([]cycleResponse, 0, len(cycles)),
		Total:  total,
	}
	for _, c := range cycles {
		response.Cycles = append(response.Cycles, toResponse(c))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/cycles/{id}.
func (h *CycleHandler) get(w http.ResponseWriter, id string) {
	c, err := h.store.Cycles().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Cycle not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get cycle")
		return
	}

	writeJSON(w, http.StatusOK, toResponse(c))
}
