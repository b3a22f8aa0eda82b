package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementSlot   = "printer_slot"
	MeasurementPoll   = "printer_poll"
	MeasurementStatus = "printer_status"
)

// WriteSlotValue records one numeric slot reading.
//
//	client.WriteSlotValue("mk3", "actual_temp_tool0", 214.8, time.Now())
func (c *Client) WriteSlotValue(bridgeID, slotID string, value float64, ts time.Time) {
	c.writePoint(write.NewPoint(
		MeasurementSlot,
		map[string]string{
			"bridge_id": bridgeID,
			"slot_id":   slotID,
		},
		map[string]any{
			"value": value,
		},
		ts,
	))
}

// WritePollCycle records the outcome of one poll cycle.
func (c *Client) WritePollCycle(bridgeID string, fetched, failed int, duration time.Duration) {
	c.writePoint(write.NewPoint(
		MeasurementPoll,
		map[string]string{"bridge_id": bridgeID},
		map[string]any{
			"routes_fetched": fetched,
			"routes_failed":  failed,
			"duration_ms":    duration.Milliseconds(),
		},
		time.Now(),
	))
}

// WriteStatus records a bridge status transition. online is 1 for ONLINE
// and 0 otherwise, so the status can be graphed next to slot values.
func (c *Client) WriteStatus(bridgeID, status string) {
	online := 0
	if status == "ONLINE" {
		online = 1
	}
	c.writePoint(write.NewPoint(
		MeasurementStatus,
		map[string]string{"bridge_id": bridgeID},
		map[string]any{
			"status": status,
			"online": online,
		},
		time.Now(),
	))
}

func (c *Client) writePoint(p *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(p)
}
