//go:build linux
// +build linux

package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fzft/go-reactor/acceptor"
	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/reactor"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// MaxThreadNum caps the number of sub-reactors.
	MaxThreadNum = 32
	// MaxNameLen caps the server name; longer names are truncated.
	MaxNameLen = 32
)

var (
	ErrUnsupportedType = errors.New("server: unsupported socket type")
	ErrTooManyThreads  = fmt.Errorf("server: thread number exceeds %d", MaxThreadNum)
	ErrNotStarted      = errors.New("server: not started")
)

// Config describes a server. Zero values select defaults.
type Config struct {
	Name            string
	Type            acceptor.SocketType
	Port            int
	ThreadNum       int
	Backend         reactor.Backend
	DispatchTimeout time.Duration
}

// Server accepts connections on a main-reactor loop and hands each of them to a
// sub-reactor in round robin order.
type Server struct {
	cfg       Config
	callbacks reactor.Callbacks
	data      any

	acceptor   *acceptor.Acceptor
	mainThread *reactor.EventLoopThread
	mainLoop   *reactor.EventLoop
	pool       *reactor.ThreadPool

	stopOnce sync.Once
	stopped  chan struct{}
	logger   *zap.Logger
}

// New validates cfg. Every accepted connection gets callbacks and data.
func New(cfg Config, callbacks reactor.Callbacks, data any) (*Server, error) {
	if cfg.Type != acceptor.TCP {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, cfg.Type)
	}
	if cfg.ThreadNum < 0 || cfg.ThreadNum > MaxThreadNum {
		return nil, ErrTooManyThreads
	}
	if cfg.Name == "" {
		cfg.Name = "go-reactor"
	}
	if len(cfg.Name) > MaxNameLen {
		cfg.Name = cfg.Name[:MaxNameLen]
	}
	return &Server{
		cfg:       cfg,
		callbacks: callbacks,
		data:      data,
		stopped:   make(chan struct{}),
		logger:    log.Logger.With(zap.String("server", cfg.Name)),
	}, nil
}

// Name returns the (possibly truncated) server name.
func (s *Server) Name() string {
	return s.cfg.Name
}

// Start binds the listening socket, starts the main reactor and the pool, and registers
// the listening channel. It returns once everything is running.
func (s *Server) Start() (err error) {
	if s.acceptor, err = acceptor.New(s.cfg.Type, s.cfg.Port); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, s.shutdown())
			s.logger.Error("failed to start server", zap.Error(err))
		}
	}()

	opts := reactor.Options{Backend: s.cfg.Backend, DispatchTimeout: s.cfg.DispatchTimeout}
	s.mainThread = reactor.NewEventLoopThread(reactor.DefaultMainReactorName, opts)
	if s.mainLoop, err = s.mainThread.Start(); err != nil {
		return err
	}

	s.pool = reactor.NewThreadPool(s.mainLoop, s.cfg.ThreadNum, opts)
	if err = s.pool.Start(); err != nil {
		return err
	}

	ch := reactor.NewChannel(s.acceptor.Fd(), reactor.EventRead, s.handleAccept, nil, s)
	if err = s.mainLoop.AddChannel(ch); err != nil {
		return err
	}

	s.logger.Info("server started",
		zap.Int("port", s.acceptor.Port()),
		zap.Int("threads", s.cfg.ThreadNum),
		zap.String("backend", s.mainLoop.Backend()))
	return nil
}

// handleAccept runs on the main reactor and accepts until the backlog is empty.
func (s *Server) handleAccept() error {
	for {
		fd, sa, err := s.acceptor.Accept()
		if err != nil {
			switch {
			case reactor.IsTemporaryError(err):
				return nil
			case errors.Is(err, unix.ECONNABORTED):
				continue
			default:
				s.logger.Error("accept failed", zap.Error(err))
				return err
			}
		}

		loop := s.pool.SelectLoop()
		if _, err := reactor.NewConnection(fd, sa, loop, s.callbacks, s.data); err != nil {
			s.logger.Warn("failed to hand over connection",
				zap.Int("fd", fd), zap.String("loop", loop.Name()), zap.Error(err))
			if errors.Is(err, reactor.ErrLoopClosed) {
				unix.Close(fd)
			}
			continue
		}
		s.logger.Debug("connection accepted", zap.Int("fd", fd), zap.String("loop", loop.Name()))
	}
}

// Port returns the bound port, 0 before Start.
func (s *Server) Port() int {
	if s.acceptor == nil {
		return 0
	}
	return s.acceptor.Port()
}

// Accepted returns the number of accepted connections.
func (s *Server) Accepted() int64 {
	if s.acceptor == nil {
		return 0
	}
	return s.acceptor.Accepted()
}

// Pool returns the sub-reactor pool, nil before Start.
func (s *Server) Pool() *reactor.ThreadPool {
	return s.pool
}

// Stop stops accepting first: the main reactor and the listening socket go down before
// the pool, so every connection already handed to a sub-reactor is closed by it.
func (s *Server) Stop() error {
	if s.acceptor == nil {
		return ErrNotStarted
	}
	var err error
	s.stopOnce.Do(func() {
		err = s.shutdown()
		close(s.stopped)
		s.logger.Info("server stopped", zap.Int64("accepted", s.acceptor.Accepted()))
	})
	return err
}

func (s *Server) shutdown() error {
	if s.mainThread != nil {
		s.mainThread.Stop()
	}
	err := s.acceptor.Close()
	if s.pool != nil {
		s.pool.Stop()
	}
	return err
}

// Wait blocks until Stop has completed.
func (s *Server) Wait() {
	<-s.stopped
}

// Run starts the server and blocks until it is stopped.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	s.Wait()
	return nil
}
