package channel

import (
	"fmt"
	"time"
)

// Value kinds stored in the kind column.
const (
	KindString = "string"
	KindNumber = "number"
)

// Channel is a materialized bridge slot.
type Channel struct {
	BridgeID    string    `json:"bridge_id"`
	ID          string    `json:"id"`
	Route       string    `json:"route"`
	KeyPath     []string  `json:"key_path"`
	Kind        string    `json:"kind"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	Category    string    `json:"category,omitempty"`
	Pattern     string    `json:"pattern,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks the fields the schema requires.
func (c *Channel) Validate() error {
	switch {
	case c.BridgeID == "":
		return fmt.Errorf("%w: bridge_id is required", ErrInvalidChannel)
	case c.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidChannel)
	case c.Route == "":
		return fmt.Errorf("%w: route is required", ErrInvalidChannel)
	case len(c.KeyPath) == 0:
		return fmt.Errorf("%w: key_path is required", ErrInvalidChannel)
	case c.Kind != KindString && c.Kind != KindNumber:
		return fmt.Errorf("%w: kind %q", ErrInvalidChannel, c.Kind)
	}
	return nil
}

// Clone returns a copy that shares no slices with c.
func (c *Channel) Clone() *Channel {
	cp := *c
	cp.KeyPath = append([]string(nil), c.KeyPath...)
	return &cp
}
