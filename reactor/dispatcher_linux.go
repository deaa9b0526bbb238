//go:build linux
// +build linux

package reactor

import "fmt"

// NewDispatcher creates the backend selected by backend. BackendAuto resolves to epoll.
func NewDispatcher(backend Backend, opts Options) (Dispatcher, error) {
	opts = opts.withDefaults()
	switch backend {
	case BackendAuto, BackendEpoll:
		return newEpollDispatcher()
	case BackendPoll:
		return newPollDispatcher(opts.PollCapacity), nil
	case BackendSelect:
		return newSelectDispatcher(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoBackend, backend)
}
