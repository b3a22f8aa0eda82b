package channel

import "errors"

// Domain errors for the channel package.
var (
	// ErrChannelNotFound is returned when a channel ID does not exist.
	ErrChannelNotFound = errors.New("channel: not found")

	// ErrChannelExists is returned when creating a channel whose ID is taken.
	ErrChannelExists = errors.New("channel: already exists")

	// ErrInvalidChannel is returned when a channel is missing required fields.
	ErrInvalidChannel = errors.New("channel: invalid")
)
