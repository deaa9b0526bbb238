package reactor

import "errors"

var (
	// ErrNoBackend is returned when no readiness backend is available for the requested kind.
	ErrNoBackend = errors.New("reactor: no multiplexing backend available")
	// ErrDispatcherFull is returned when a backend has no room for another descriptor.
	ErrDispatcherFull = errors.New("reactor: dispatcher registration table full")
	// ErrChannelTableFull is returned when a descriptor exceeds the channel table hard cap.
	ErrChannelTableFull = errors.New("reactor: channel table full")
	// ErrFdOutOfRange is returned when a descriptor lies outside the allocated table.
	ErrFdOutOfRange = errors.New("reactor: fd out of channel table range")
	// ErrChannelNotRegistered signals an Update for a descriptor with no channel.
	ErrChannelNotRegistered = errors.New("reactor: channel not registered")
	// ErrLoopClosed is returned by operations on a loop whose resources were released.
	ErrLoopClosed = errors.New("reactor: event loop closed")

	ErrConnectionClosed = errors.New("reactor: connection closed")
	ErrConnectionBroken = errors.New("reactor: connection broken")
)
