package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/octoprint-bridge/internal/channel"
)

// slotResponse is a materialized channel with its latest value.
type slotResponse struct {
	channel.Channel

	// Value is a string, a number, or null when unavailable or never seen.
	Value       any        `json:"value"`
	Unavailable bool       `json:"unavailable"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) slotView(ch channel.Channel) slotResponse {
	resp := slotResponse{Channel: ch, Unavailable: true}
	if s.states == nil {
		return resp
	}
	v, at, ok := s.states.Latest(ch.ID)
	if !ok {
		return resp
	}
	resp.Value = v.Interface()
	resp.Unavailable = v.Unavailable
	resp.UpdatedAt = &at
	return resp
}

// handleListSlots returns every materialized slot, sorted by id.
func (s *Server) handleListSlots(w http.ResponseWriter, _ *http.Request) {
	channels := s.channels.List()
	slots := make([]slotResponse, 0, len(channels))
	for _, ch := range channels {
		slots = append(slots, s.slotView(ch))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slots": slots,
		"count": len(slots),
	})
}

// handleGetSlot returns a single slot by id.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ch, ok := s.channels.Get(id)
	if !ok {
		writeNotFound(w, "slot not found")
		return
	}
	writeJSON(w, http.StatusOK, s.slotView(*ch))
}
