package reactor

import "strings"

// EventMask is the backend independent readiness / interest set of a channel.
type EventMask uint8

const (
	EventNone  EventMask = 0
	EventRead  EventMask = 1 << 0
	EventWrite EventMask = 1 << 1
)

func (m EventMask) String() string {
	if m == EventNone {
		return "none"
	}
	var parts []string
	if m&EventRead != 0 {
		parts = append(parts, "read")
	}
	if m&EventWrite != 0 {
		parts = append(parts, "write")
	}
	return strings.Join(parts, "|")
}
