//go:build !windows

package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"bundleactivator/internal/logger"
)

// LinuxService runs the host in the foreground and stops it on SIGINT or
// SIGTERM. A second signal abandons the graceful shutdown.
type LinuxService struct {
	runFunc RunFunc
	opts    options
	cancel  context.CancelFunc
	mu      sync.Mutex
	stopped bool
}

// NewService creates a new platform-specific service.
func NewService(runFunc RunFunc, opts ...Option) Service {
	return &LinuxService{
		runFunc: runFunc,
		opts:    newOptions(opts),
	}
}

// Run starts the service and handles signals for graceful shutdown.
func (s *LinuxService) Run(ctx context.Context) error {
	log := logger.WithComponent("linux-service")

	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan error, 1)
	go func() {
		done <- s.runFunc(ctx)
	}()

	log.Info().Str("service", Name).Msg("Service started")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Shutdown requested")
	case err := <-done:
		return err
	}

	s.Stop()

	d := s.opts.stopGrace()
	grace, stopTimer := graceTimer(d)
	defer stopTimer()

	select {
	case err := <-done:
		return err
	case sig := <-sigChan:
		log.Warn().Str("signal", sig.String()).Msg("Received second signal, forcing exit")
		return nil
	case <-grace:
		log.Warn().Dur("grace", d).Msg("Timeout waiting for host to stop")
		return fmt.Errorf("host did not stop within %s", d)
	}
}

// Stop requests the service to stop.
func (s *LinuxService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil && !s.stopped {
		s.stopped = true
		s.cancel()
	}
	return nil
}

// IsService reports whether stdin is not a terminal, which is the case under
// systemd.
func (s *LinuxService) IsService() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}
