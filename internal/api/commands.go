package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/octoprint-bridge/internal/bridges/octoprint"
)

// commandInfo describes one entry of the command table.
type commandInfo struct {
	ID    octoprint.CommandID `json:"id"`
	Kind  octoprint.ValueKind `json:"kind"`
	Route string              `json:"route"`
}

// commandRequest is the body of POST /commands/{command}.
type commandRequest struct {
	Value any `json:"value"`
}

// handleListCommands returns the command table in its fixed order.
func (s *Server) handleListCommands(w http.ResponseWriter, _ *http.Request) {
	table := octoprint.Commands()
	out := make([]commandInfo, 0, len(table))
	for _, d := range table {
		out = append(out, commandInfo{ID: d.ID, Kind: d.Kind, Route: d.Route})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commands": out,
		"count":    len(out),
	})
}

// handleExecuteCommand runs a command against the printer and answers with
// the acknowledgement that MQTT clients would receive.
func (s *Server) handleExecuteCommand(w http.ResponseWriter, r *http.Request) {
	id := octoprint.CommandID(chi.URLParam(r, "command"))
	if _, ok := octoprint.LookupCommand(id); !ok {
		writeNotFound(w, "unknown command: "+string(id))
		return
	}

	var req commandRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	v, err := octoprint.ValueFromJSON(req.Value)
	if err != nil {
		writeBadRequest(w, "value must be a string or a number")
		return
	}

	commandID := requestID(r.Context())
	if commandID == "" {
		commandID = uuid.NewString()
	}

	outcome := s.bridge.ExecuteCommand(r.Context(), id, v)
	s.logger.Info("command executed via API",
		"command", string(id),
		"command_id", commandID,
		"outcome", outcome.Kind.String(),
	)

	writeJSON(w, outcomeHTTPStatus(outcome.Kind), octoprint.NewAckMessage(commandID, outcome))
}

// outcomeHTTPStatus maps a command outcome to the API response status.
func outcomeHTTPStatus(k octoprint.OutcomeKind) int {
	switch k {
	case octoprint.OutcomeAccepted:
		return http.StatusAccepted
	case octoprint.OutcomeConflict:
		return http.StatusConflict
	case octoprint.OutcomeIgnored:
		return http.StatusBadRequest
	case octoprint.OutcomeUnknownCommand:
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}
