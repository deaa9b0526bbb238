//go:build linux
// +build linux

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fzft/go-reactor/acceptor"
	"github.com/fzft/go-reactor/log"
	"github.com/fzft/go-reactor/reactor"
	"github.com/fzft/go-reactor/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LogLevelEnv = "REACTOR_LOG_LEVEL"
	BackendEnv  = "REACTOR_BACKEND"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: go-reactor <port> <thread-count>
  port           TCP port to listen on.
  thread-count   Number of sub-reactors, 0..%d. 0 serves everything on the main reactor.

Environment:
  %s   debug, info, warn or error (default: info).
  %s     select, poll or epoll (default: epoll).
`, server.MaxThreadNum, LogLevelEnv, BackendEnv)
}

func parseArgs(args []string) (server.Config, error) {
	var cfg server.Config
	if len(args) != 2 {
		return cfg, fmt.Errorf("expected 2 arguments, got %d", len(args))
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port < 0 || port > 65535 {
		return cfg, fmt.Errorf("invalid port %q", args[0])
	}
	threads, err := strconv.Atoi(args[1])
	if err != nil || threads < 0 || threads > server.MaxThreadNum {
		return cfg, fmt.Errorf("invalid thread count %q", args[1])
	}
	backend, err := reactor.ParseBackend(os.Getenv(BackendEnv))
	if err != nil {
		return cfg, err
	}

	cfg.Name = "echo-server"
	cfg.Type = acceptor.TCP
	cfg.Port = port
	cfg.ThreadNum = threads
	cfg.Backend = backend
	return cfg, nil
}

func logLevel() zapcore.Level {
	level := zapcore.InfoLevel
	if v := os.Getenv(LogLevelEnv); v != "" {
		if err := level.UnmarshalText([]byte(v)); err != nil {
			fmt.Fprintf(os.Stderr, "ignoring %s=%q: %s\n", LogLevelEnv, v, err.Error())
		}
	}
	return level
}

// echo writes every received byte back to the peer.
func echo(c *reactor.Connection) error {
	_, err := c.SendBuffer(c.InBuffer())
	return err
}

func main() {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err.Error())
		usage()
		os.Exit(1)
	}

	if err := log.InitLogger(logLevel()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %s\n", err.Error())
		os.Exit(1)
	}
	defer log.Sync()
	log.Logger.Info("go-reactor starting",
		zap.String("version", Version()),
		zap.String("build", ReactorBuildIdRaw()))

	s, err := server.New(cfg, reactor.Callbacks{OnMessage: echo}, nil)
	if err != nil {
		log.Logger.Error("invalid server config", zap.Error(err))
		os.Exit(1)
	}
	if err := s.Start(); err != nil {
		log.Logger.Error("failed to start server", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-signals
		log.Logger.Info("shutting down server", zap.Stringer("signal", sig))
		if err := s.Stop(); err != nil {
			log.Logger.Warn("server stop", zap.Error(err))
		}
	}()

	s.Wait()
}
