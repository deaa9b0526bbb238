//go:build linux
// +build linux

package reactor

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/eapache/queue"
	"github.com/fzft/go-reactor/log"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	statusIdle int32 = iota
	statusRunning
	statusStopped
)

var wakeupBytes = []byte{1}

// EventLoop is a reactor bound to one OS thread. The dispatcher and the channel table are
// only ever touched by that thread; other threads queue registration changes and wake
// the loop through a socketpair whose read end is registered like any other channel.
type EventLoop struct {
	name       string
	opts       Options
	dispatcher Dispatcher
	channels   *ChannelTable

	// mu guards pending, handlingPending, closing and every write to the wakeup socket.
	// closed is only set while holding it.
	mu              sync.Mutex
	pending         *queue.Queue
	handlingPending bool
	closing         bool

	ownerTid      int
	threadLocked  bool
	wakeupFds     [2]int
	wakeupChannel *Channel

	status     atomic.Int32
	closed     atomic.Bool
	registered atomic.Int64

	logger *zap.Logger
}

// NewEventLoop creates a loop owned by the calling goroutine. The goroutine is locked to
// its OS thread until Close, and must be the one that calls Run and Close.
func NewEventLoop(opts Options) (l *EventLoop, err error) {
	opts = opts.withDefaults()
	runtime.LockOSThread()

	l = &EventLoop{
		name:         opts.Name,
		opts:         opts,
		channels:     newChannelTable(opts.MaxChannels),
		pending:      queue.New(),
		ownerTid:     unix.Gettid(),
		threadLocked: true,
		logger:       log.Logger.With(zap.String("loop", opts.Name)),
	}

	var release []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(release) - 1; i >= 0; i-- {
			release[i]()
		}
		runtime.UnlockOSThread()
		log.Logger.Error("failed to create event loop", zap.String("loop", opts.Name), zap.Error(err))
		l = nil
	}()

	d, err := NewDispatcher(opts.Backend, opts)
	if err != nil {
		return nil, err
	}
	l.dispatcher = d
	release = append(release, func() { _ = d.Close() })

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, os.NewSyscallError("socketpair", err)
	}
	l.wakeupFds = fds
	release = append(release, func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})

	l.wakeupChannel = NewChannel(fds[1], EventRead, l.handleWakeup, nil, nil)
	if err = l.AddChannel(l.wakeupChannel); err != nil {
		return nil, fmt.Errorf("register wakeup channel: %w", err)
	}

	l.logger.Debug("event loop created", zap.String("backend", d.Name()), zap.Int("tid", l.ownerTid))
	return l, nil
}

// Name returns the loop name, e.g. "main-reactor" or "sub-reactor-1".
func (l *EventLoop) Name() string {
	return l.name
}

// Backend returns the name of the dispatcher in use.
func (l *EventLoop) Backend() string {
	return l.dispatcher.Name()
}

// ChannelCount returns the number of registered channels, including the wakeup channel.
func (l *EventLoop) ChannelCount() int {
	return int(l.registered.Load())
}

// IsRunning reports whether Run is executing its dispatch loop.
func (l *EventLoop) IsRunning() bool {
	return l.status.Load() == statusRunning
}

// InOwnerThread reports whether the caller runs on the loop's OS thread.
func (l *EventLoop) InOwnerThread() bool {
	return unix.Gettid() == l.ownerTid
}

// AssertInOwnerThread panics when called from a foreign thread.
func (l *EventLoop) AssertInOwnerThread() {
	if tid := unix.Gettid(); tid != l.ownerTid {
		panic(fmt.Sprintf("reactor: loop %s used from thread %d, owner is %d", l.name, tid, l.ownerTid))
	}
}

// AddChannel registers ch with the loop.
func (l *EventLoop) AddChannel(ch *Channel) error {
	return l.requestChannelChange(opAdd, ch, nil)
}

// AddChannelNotify registers ch and runs done on the owning thread once the
// registration has been applied (or dropped).
func (l *EventLoop) AddChannelNotify(ch *Channel, done func(error)) error {
	return l.requestChannelChange(opAdd, ch, done)
}

// RemoveChannel unregisters ch.
func (l *EventLoop) RemoveChannel(ch *Channel) error {
	return l.requestChannelChange(opRemove, ch, nil)
}

// UpdateChannel pushes the current interest mask of ch to the dispatcher.
func (l *EventLoop) UpdateChannel(ch *Channel) error {
	return l.requestChannelChange(opUpdate, ch, nil)
}

// EnableWriting adds write interest to ch.
func (l *EventLoop) EnableWriting(ch *Channel) error {
	if ch.IsWriting() {
		return nil
	}
	ch.events |= EventWrite
	return l.UpdateChannel(ch)
}

// DisableWriting drops write interest from ch.
func (l *EventLoop) DisableWriting(ch *Channel) error {
	if !ch.IsWriting() {
		return nil
	}
	ch.events &^= EventWrite
	return l.UpdateChannel(ch)
}

// requestChannelChange queues a registration change. On the owning thread the queue is
// drained right away and the result of this change is returned. From any other thread the
// loop is woken up and nil is returned; the change is applied by the owner shortly after,
// at the latest by Close. Once Close started, foreign changes get ErrLoopClosed.
func (l *EventLoop) requestChannelChange(kind channelOp, ch *Channel, done func(error)) error {
	owner := l.InOwnerThread()
	var opErr error
	if owner {
		notify := done
		done = func(err error) {
			opErr = err
			if notify != nil {
				notify(err)
			}
		}
	}

	l.mu.Lock()
	if l.closed.Load() || (l.closing && !owner) {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.pending.Add(pendingOperation{kind: kind, fd: ch.Fd(), channel: ch, done: done})
	if !owner {
		err := l.wakeupLocked()
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	l.handlePendingChannel()
	return opErr
}

// handlePendingChannel applies queued changes in FIFO order. Operations are popped under
// the mutex and applied without it; completion hooks run after the drain.
func (l *EventLoop) handlePendingChannel() {
	l.mu.Lock()
	if l.handlingPending {
		l.mu.Unlock()
		return
	}
	l.handlingPending = true

	var completions []completion
	for l.pending.Length() > 0 {
		op := l.pending.Remove().(pendingOperation)
		l.mu.Unlock()

		err := l.applyOperation(op)
		if op.done != nil {
			completions = append(completions, completion{done: op.done, err: err})
		} else if err != nil {
			l.logger.Warn("channel operation failed",
				zap.Stringer("op", op.kind), zap.Int("fd", op.fd), zap.Error(err))
		}

		l.mu.Lock()
	}
	l.handlingPending = false
	l.mu.Unlock()

	for _, c := range completions {
		c.done(c.err)
	}
}

func (l *EventLoop) applyOperation(op pendingOperation) error {
	switch op.kind {
	case opAdd:
		return l.handlePendingAdd(op.fd, op.channel)
	case opRemove:
		return l.handlePendingRemove(op.fd)
	case opUpdate:
		return l.handlePendingUpdate(op.fd, op.channel)
	}
	return fmt.Errorf("reactor: unknown channel operation %s", op.kind)
}

// handlePendingAdd installs ch unless its slot is taken. The table grows on demand.
func (l *EventLoop) handlePendingAdd(fd int, ch *Channel) error {
	if fd < 0 {
		return nil
	}
	if err := l.channels.expand(fd); err != nil {
		l.logger.Warn("channel table full, dropping registration",
			zap.Int("fd", fd), zap.Int("max", l.channels.maxSize))
		return err
	}
	if l.channels.Get(fd) != nil {
		return nil
	}

	l.channels.set(fd, ch)
	if err := l.dispatcher.Add(ch); err != nil {
		l.channels.clear(fd)
		return err
	}
	l.registered.Inc()
	return nil
}

func (l *EventLoop) handlePendingRemove(fd int) error {
	if fd < 0 {
		return nil
	}
	if fd >= l.channels.Len() {
		return ErrFdOutOfRange
	}
	ch := l.channels.Get(fd)
	if ch == nil {
		return nil
	}

	err := l.dispatcher.Remove(ch)
	l.channels.clear(fd)
	l.registered.Dec()
	return err
}

func (l *EventLoop) handlePendingUpdate(fd int, ch *Channel) error {
	if l.channels.Get(fd) == nil {
		return ErrChannelNotRegistered
	}
	return l.dispatcher.Update(ch)
}

// activate runs the callbacks of fd for the ready events. The channel is looked up again
// before the write callback since the read callback may have closed it.
func (l *EventLoop) activate(fd int, events EventMask) {
	if events&EventRead != 0 {
		if ch := l.channels.Get(fd); ch != nil && ch.onRead != nil {
			if err := ch.onRead(); err != nil {
				l.logger.Warn("read callback failed", zap.Int("fd", fd), zap.Error(err))
			}
		}
	}
	if events&EventWrite != 0 {
		if ch := l.channels.Get(fd); ch != nil && ch.onWrite != nil {
			if err := ch.onWrite(); err != nil {
				l.logger.Warn("write callback failed", zap.Int("fd", fd), zap.Error(err))
			}
		}
	}
}

func (l *EventLoop) wakeup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closing || l.closed.Load() {
		return ErrLoopClosed
	}
	return l.wakeupLocked()
}

// wakeupLocked writes to the wakeup socket. l.mu must be held, so the socket cannot be
// closed underneath the write.
func (l *EventLoop) wakeupLocked() error {
	_, err := unix.Write(l.wakeupFds[0], wakeupBytes)
	if err != nil && !IsTemporaryError(err) {
		l.logger.Error("failed to wake up loop", zap.Error(err))
		return os.NewSyscallError("write", err)
	}
	return nil
}

// handleWakeup drains the wakeup socket. The bytes carry no meaning.
func (l *EventLoop) handleWakeup() error {
	var buf [64]byte
	for {
		n, err := unix.Read(l.wakeupFds[1], buf[:])
		if n > 0 {
			continue
		}
		if err != nil && !IsTemporaryError(err) {
			return os.NewSyscallError("read", err)
		}
		return nil
	}
}

// Run dispatches until Stop is called. It must run on the owning thread.
func (l *EventLoop) Run() error {
	if l.closed.Load() {
		return ErrLoopClosed
	}
	l.AssertInOwnerThread()
	if !l.status.CAS(statusIdle, statusRunning) {
		return nil
	}

	l.logger.Info("event loop running", zap.String("backend", l.dispatcher.Name()))
	for l.status.Load() == statusRunning {
		if err := l.dispatcher.Dispatch(l.opts.DispatchTimeout, l.activate); err != nil {
			l.logger.Warn("dispatch failed", zap.Error(err))
		}
		l.handlePendingChannel()
	}
	l.logger.Info("event loop stopped")
	return nil
}

// Stop asks the loop to leave Run. It is observed at the top of the next iteration.
func (l *EventLoop) Stop() {
	l.status.Store(statusStopped)
	if !l.InOwnerThread() {
		_ = l.wakeup()
	}
}

// Close releases the loop and unlocks the owning goroutine from its OS thread. It must be
// called on the owning thread after Run returned. Foreign changes queued before Close are
// applied, later ones are rejected. Owners of registered channels that implement
// io.Closer (connections) are closed before the dispatcher.
func (l *EventLoop) Close() error {
	if l.closed.Load() {
		return nil
	}
	l.AssertInOwnerThread()

	l.mu.Lock()
	if l.handlingPending {
		l.mu.Unlock()
		panic("reactor: closing event loop while pending operations are applied")
	}
	l.closing = true
	l.mu.Unlock()

	// registrations queued after the last dispatch still own their descriptors
	l.handlePendingChannel()

	var closers []io.Closer
	l.channels.Range(func(fd int, ch *Channel) bool {
		if c, ok := ch.owner.(io.Closer); ok {
			closers = append(closers, c)
		}
		return true
	})

	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}

	l.mu.Lock()
	l.closed.Store(true)
	l.mu.Unlock()

	err = multierr.Append(err, l.dispatcher.Close())
	err = multierr.Append(err, os.NewSyscallError("close", unix.Close(l.wakeupFds[0])))
	err = multierr.Append(err, os.NewSyscallError("close", unix.Close(l.wakeupFds[1])))
	l.logger.Debug("event loop closed", zap.Int("closed_channels", len(closers)))
	if l.threadLocked {
		l.threadLocked = false
		runtime.UnlockOSThread()
	}
	return err
}
