//go:build linux
// +build linux

package reactor

import (
	"fmt"
	"sync"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// SubReactorPrefix prefixes the names of pool loops.
const SubReactorPrefix = "sub-reactor-"

// EventLoopThread runs one EventLoop on a dedicated, OS-thread-locked goroutine.
type EventLoopThread struct {
	name string
	opts Options

	mu   sync.Mutex
	cond *sync.Cond
	loop *EventLoop
	err  error
	done chan struct{}

	connHandled atomic.Int64
}

// NewEventLoopThread prepares a thread; nothing runs until Start.
func NewEventLoopThread(name string, opts Options) *EventLoopThread {
	opts.Name = name
	t := &EventLoopThread{
		name: name,
		opts: opts,
		done: make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// Name returns the thread name.
func (t *EventLoopThread) Name() string {
	return t.name
}

// Loop returns the published loop, nil before Start returned.
func (t *EventLoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// ConnHandled returns how many connections were assigned to this thread.
func (t *EventLoopThread) ConnHandled() int64 {
	return t.connHandled.Load()
}

// Start spawns the thread and blocks until its loop exists, or returns the error that
// prevented the loop from being created.
func (t *EventLoopThread) Start() (*EventLoop, error) {
	go t.routine()

	t.mu.Lock()
	defer t.mu.Unlock()
	for t.loop == nil && t.err == nil {
		t.cond.Wait()
	}
	if t.err != nil {
		return nil, fmt.Errorf("start %s: %w", t.name, t.err)
	}
	return t.loop, nil
}

func (t *EventLoopThread) routine() {
	defer close(t.done)

	loop, err := NewEventLoop(t.opts)

	t.mu.Lock()
	t.loop, t.err = loop, err
	t.mu.Unlock()
	t.cond.Signal()

	if err != nil {
		return
	}
	log.Logger.Info("reactor thread initialized", zap.String("thread", t.name))

	if err := loop.Run(); err != nil {
		log.Logger.Error("event loop exited", zap.String("thread", t.name), zap.Error(err))
	}
	if err := loop.Close(); err != nil {
		log.Logger.Warn("event loop cleanup failed", zap.String("thread", t.name), zap.Error(err))
	}
	log.Logger.Info("reactor thread clean up successfully", zap.String("thread", t.name))
}

// Stop stops the loop and waits for the thread to release it.
func (t *EventLoopThread) Stop() {
	loop := t.Loop()
	if loop == nil {
		return
	}
	loop.Stop()
	<-t.done
}

// Done is closed once the thread has exited.
func (t *EventLoopThread) Done() <-chan struct{} {
	return t.done
}
