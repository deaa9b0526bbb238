//go:build linux
// +build linux

package reactor

import (
	"fmt"

	"github.com/fzft/go-reactor/log"
	"go.uber.org/zap"
)

// ThreadPool is a fixed set of sub-reactors. Selection is strict round robin and is
// only ever done by the main-reactor thread, so next needs no synchronization.
type ThreadPool struct {
	mainLoop *EventLoop
	threads  []*EventLoopThread
	next     int
	started  bool
}

// NewThreadPool prepares n sub-reactors. With n == 0 every connection stays on mainLoop.
func NewThreadPool(mainLoop *EventLoop, n int, opts Options) *ThreadPool {
	if n < 0 {
		n = 0
	}
	p := &ThreadPool{
		mainLoop: mainLoop,
		threads:  make([]*EventLoopThread, n),
	}
	for i := range p.threads {
		p.threads[i] = NewEventLoopThread(fmt.Sprintf("%s%d", SubReactorPrefix, i), opts)
	}
	return p
}

// Size returns the number of sub-reactors.
func (p *ThreadPool) Size() int {
	return len(p.threads)
}

// Start launches every sub-reactor and returns once all loops exist. If one fails, the
// ones already running are stopped.
func (p *ThreadPool) Start() error {
	if p.started {
		return nil
	}
	for i, t := range p.threads {
		if _, err := t.Start(); err != nil {
			for _, started := range p.threads[:i] {
				started.Stop()
			}
			log.Logger.Error("failed to create sub-reactor thread pool", zap.Error(err))
			return err
		}
	}
	p.started = true
	log.Logger.Info("thread pool run successfully", zap.Int("threads", len(p.threads)))
	return nil
}

// SelectThread returns the next sub-reactor in round robin order, nil for an empty pool.
func (p *ThreadPool) SelectThread() *EventLoopThread {
	if len(p.threads) == 0 {
		return nil
	}
	t := p.threads[p.next]
	p.next = (p.next + 1) % len(p.threads)
	return t
}

// SelectLoop returns the loop that should own the next connection.
func (p *ThreadPool) SelectLoop() *EventLoop {
	t := p.SelectThread()
	if t == nil {
		return p.mainLoop
	}
	t.connHandled.Inc()
	return t.Loop()
}

// Threads returns the sub-reactors in pool order.
func (p *ThreadPool) Threads() []*EventLoopThread {
	return p.threads
}

// Stop stops every sub-reactor and waits for them to exit.
func (p *ThreadPool) Stop() {
	for _, t := range p.threads {
		t.Stop()
	}
	p.started = false
}
