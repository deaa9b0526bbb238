package reactor

import (
	"fmt"
	"time"
)

// Backend names a readiness-notification facility.
type Backend uint8

const (
	// BackendAuto picks the best backend of the platform.
	BackendAuto Backend = iota
	BackendSelect
	BackendPoll
	BackendEpoll
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendSelect:
		return "select"
	case BackendPoll:
		return "poll"
	case BackendEpoll:
		return "epoll"
	default:
		return fmt.Sprintf("backend(%d)", uint8(b))
	}
}

// ParseBackend maps a backend name to its Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "", "auto":
		return BackendAuto, nil
	case "select":
		return BackendSelect, nil
	case "poll":
		return BackendPoll, nil
	case "epoll":
		return BackendEpoll, nil
	}
	return BackendAuto, fmt.Errorf("%w: %q", ErrNoBackend, name)
}

// ActivateFunc receives one readiness notification from a dispatcher.
type ActivateFunc func(fd int, events EventMask)

// Dispatcher is a readiness multiplexing backend owned by exactly one EventLoop.
// None of its methods are safe for concurrent use.
type Dispatcher interface {
	// Name returns the backend name.
	Name() string
	// Add starts watching ch for its interest mask.
	Add(ch *Channel) error
	// Remove stops watching ch.
	Remove(ch *Channel) error
	// Update re-reads the interest mask of ch.
	Update(ch *Channel) error
	// Dispatch blocks up to timeout and reports every ready descriptor to activate.
	Dispatch(timeout time.Duration, activate ActivateFunc) error
	// Close releases backend resources.
	Close() error
}

type readyEvent struct {
	fd     int
	events EventMask
}

const (
	// DefaultMainReactorName names a loop created without a name.
	DefaultMainReactorName = "main-reactor"
	// DefaultDispatchTimeout bounds every readiness wait.
	DefaultDispatchTimeout = time.Second
	// DefaultPollCapacity is the size of the fixed poll table.
	DefaultPollCapacity = 1024
	// maxEpollEvents caps the events returned by one epoll_wait.
	maxEpollEvents = 128
)

// Options configures an EventLoop and its dispatcher. Zero values select defaults.
type Options struct {
	Name            string
	Backend         Backend
	DispatchTimeout time.Duration
	// MaxChannels caps the channel table.
	MaxChannels int
	// PollCapacity sizes the poll backend table.
	PollCapacity int
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = DefaultMainReactorName
	}
	if o.DispatchTimeout <= 0 {
		o.DispatchTimeout = DefaultDispatchTimeout
	}
	if o.MaxChannels <= 0 {
		o.MaxChannels = DefaultMaxChannels
	}
	if o.PollCapacity <= 0 {
		o.PollCapacity = DefaultPollCapacity
	}
	return o
}
