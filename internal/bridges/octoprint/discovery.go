package octoprint

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Slot presentation defaults for temperatures.
const (
	TemperatureCategory = "Temperature"
	TemperaturePattern  = "%.1f °C"
)

// SlotDescriptor describes one observable value read from a device route.
type SlotDescriptor struct {
	// ID is unique within a bridge, e.g. "actual_temp_tool0".
	ID string `json:"id"`

	Route   string    `json:"route"`
	KeyPath []string  `json:"key_path"`
	Kind    ValueKind `json:"kind"`

	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

type family struct {
	route string
	label string // "Tool", "Bed", "Chamber"
}

var families = []family{
	{route: RouteTool, label: "Tool"},
	{route: RouteBed, label: "Bed"},
	{route: RouteChamber, label: "Chamber"},
}

var measurements = []struct {
	key         string
	label       string
	description string // completed with the family, e.g. "tool"
}{
	{key: "actual", label: "Actual", description: "Actual temperature of the printer "},
	{key: "target", label: "Target", description: "Target temperature of the printer "},
	{key: "offset", label: "Offset", description: "Temperature offset of the printer "},
}

// Discover asks the printer which tool heads, bed and chamber it has and
// returns temperature slots for them. A family whose route fails or
// returns anything but a JSON object is skipped.
func Discover(ctx context.Context, t Transport, logger Logger) []SlotDescriptor {
	logger = loggerOrNop(logger)

	var out []SlotDescriptor
	for _, f := range families {
		resp, err := t.Get(ctx, f.route)
		if err != nil {
			logger.Warn("discovery request failed, skipping family", "route", f.route, "error", err)
			continue
		}
		if resp.Status != http.StatusOK {
			logger.Debug("family not available", "route", f.route, "status", resp.Status)
			continue
		}

		var body map[string]json.RawMessage
		if err := json.Unmarshal(resp.Body, &body); err != nil || body == nil {
			logger.Warn("discovery reply is not an object, skipping family", "route", f.route)
			continue
		}

		out = append(out, familySlots(f, body)...)
	}
	return out
}

func familySlots(f family, body map[string]json.RawMessage) []SlotDescriptor {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []SlotDescriptor
	for _, key := range keys {
		raw := bytes.TrimSpace(body[key])
		if len(raw) == 0 || raw[0] != '{' {
			continue
		}
		var entry map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entry); err != nil {
			continue
		}
		for _, m := range measurements {
			if _, ok := entry[m.key]; !ok {
				continue
			}
			out = append(out, SlotDescriptor{
				ID:          m.key + "_temp_" + key,
				Route:       f.route,
				KeyPath:     []string{key, m.key},
				Kind:        KindNumber,
				Label:       m.label + " " + f.label + " Temperature",
				Description: m.description + strings.ToLower(f.label),
				Category:    TemperatureCategory,
				Pattern:     TemperaturePattern,
			})
		}
	}
	return out
}

// StaticSlots returns the job and server slots every printer has.
func StaticSlots() []SlotDescriptor {
	return []SlotDescriptor{
		{ID: "server_version", Route: RouteServer, KeyPath: []string{"version"}, Kind: KindString,
			Label: "Server Version", Description: "Version of the OctoPrint server"},
		{ID: "job_state", Route: RouteJob, KeyPath: []string{"state"}, Kind: KindString,
			Label: "Job State", Description: "State of the current print job"},
		{ID: "job_file_name", Route: RouteJob, KeyPath: []string{"job", "file", "name"}, Kind: KindString,
			Label: "Job File", Description: "Name of the file being printed"},
		{ID: "job_completion", Route: RouteJob, KeyPath: []string{"progress", "completion"}, Kind: KindNumber,
			Label: "Job Completion", Description: "Completion of the current print job", Pattern: "%.1f %%"},
		{ID: "job_print_time", Route: RouteJob, KeyPath: []string{"progress", "printTime"}, Kind: KindNumber,
			Label: "Print Time", Description: "Seconds spent printing so far", Pattern: "%.0f s"},
		{ID: "job_print_time_left", Route: RouteJob, KeyPath: []string{"progress", "printTimeLeft"}, Kind: KindNumber,
			Label: "Print Time Left", Description: "Estimated seconds until the print finishes", Pattern: "%.0f s"},
	}
}
