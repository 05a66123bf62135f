// Package main is the entry point for the bundlehost application.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bundleactivator/internal/activator"
	"bundleactivator/internal/config"
	"bundleactivator/internal/heartbeat"
	"bundleactivator/internal/hostrt"
	"bundleactivator/internal/logger"
	"bundleactivator/internal/sender"
	"bundleactivator/internal/service"
	"bundleactivator/internal/supervisor"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "conf/bundlehost/BundleHost.json", "Path to main configuration file")
		loggingPath = flag.String("logging", "conf/bundlehost/Logging.json", "Path to logging configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("bundlehost %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// An absolute config path means we were started as a service with the
	// working directory somewhere else; run from the install root instead.
	const startupErrorLogDir = "log/bundlehost"

	if filepath.IsAbs(*configPath) {
		basePath := filepath.Dir(filepath.Dir(filepath.Dir(*configPath)))
		if err := os.Chdir(basePath); err != nil {
			service.ReportStartupError(service.Name, fmt.Errorf("failed to chdir to %s: %w", basePath, err))
			fmt.Fprintf(os.Stderr, "Failed to change directory to %s: %v\n", basePath, err)
			os.Exit(1)
		}
	}

	if service.NewService(nil).IsService() {
		logger.SetServiceMode(true)
	}

	cfg, lc, err := config.LoadSplit(*configPath, *loggingPath)
	if err != nil {
		fail(startupErrorLogDir, "load configuration", err)
	}

	if err := logger.Init(*lc); err != nil {
		fail(startupErrorLogDir, "initialize logger", err)
	}

	log := logger.WithComponent("main")
	log.Info().
		Str("version", version).
		Str("config", *configPath).
		Str("logging", *loggingPath).
		Msg("Starting bundlehost")

	budget := newStopBudget(cfg)
	svc := service.NewService(func(ctx context.Context) error {
		return run(ctx, cfg, lc, budget, *configPath, *loggingPath)
	}, service.WithStopGraceFunc(budget.Grace))

	if err := svc.Run(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Service exited with error")
	}

	log.Info().Msg("bundlehost stopped")
}

func fail(logDir, stage string, err error) {
	service.ReportStartupError(service.Name, err)
	service.WriteStartupErrorFile(logDir, stage, err)
	fmt.Fprintf(os.Stderr, "Failed to %s: %v\n", stage, err)
	os.Exit(1)
}

// stopBudget holds the service stop grace. It leaves every installed bundle
// its full stop timeout before the service gives up; with no timeout the
// service waits forever too.
type stopBudget struct {
	bundles int
	grace   atomic.Int64
}

func newStopBudget(cfg *config.Config) *stopBudget {
	b := &stopBudget{bundles: len(cfg.Bundles)}
	b.Update(cfg.Supervisor.StopTimeout)
	return b
}

// Update recomputes the grace for a new stop timeout. The bundle count is
// fixed at startup since reloads never install bundles.
func (b *stopBudget) Update(timeout time.Duration) {
	b.grace.Store(int64(stopGrace(b.bundles, timeout)))
}

// Grace returns the current stop grace.
func (b *stopBudget) Grace() time.Duration {
	return time.Duration(b.grace.Load())
}

func stopGrace(bundles int, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return 0
	}
	grace := time.Duration(bundles+1) * timeout
	if grace < service.DefaultStopGrace {
		grace = service.DefaultStopGrace
	}
	return grace
}

// setupSender creates the event sender and logs where events go.
func setupSender(cfg *config.Config, lc *logger.Config) (sender.Sender, error) {
	log := logger.WithComponent("main")

	// Logging.json Console is the master switch for console echo.
	cfg.File.Console = lc.Console

	snd, err := sender.NewSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sender: %w", err)
	}

	switch strings.ToLower(cfg.SenderType) {
	case "file":
		log.Info().Str("file_path", cfg.File.FilePath).Msg("Using file event sender")
	case "kafka":
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("Using Kafka event sender")
	case "redis":
		log.Info().Str("address", cfg.Redis.Address).Str("stream", cfg.Redis.Stream).Msg("Using Redis event sender")
	default:
		log.Info().Msg("Lifecycle events disabled")
	}

	return snd, nil
}

// setupRuntime installs one heartbeat bundle per configured bundle.
func setupRuntime(cfg *config.Config, sup *supervisor.Supervisor, snd sender.Sender) (*hostrt.Runtime, error) {
	hostname := config.GetHostname(cfg)
	rt := hostrt.New()

	for _, bc := range cfg.Bundles {
		act := activator.New(heartbeat.New(bc.Name, bc.Interval),
			activator.WithName(bc.Name),
			activator.WithSupervisor(sup),
			activator.WithSender(snd),
			activator.WithStopTimeout(cfg.Supervisor.StopTimeout),
			activator.WithHostname(hostname),
		)
		if err := rt.Install(act); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// setupWatchers creates hot-reload watchers for BundleHost.json and
// Logging.json. Returns a cleanup function that stops all started watchers.
func setupWatchers(rt *hostrt.Runtime, budget *stopBudget, snd sender.Sender, configPath, loggingPath string) func() {
	log := logger.WithComponent("main")
	var watcherMu sync.Mutex
	var cleanups []func()

	start := func(name string, w *config.FileWatcher, err error) {
		if err != nil {
			log.Warn().Err(err).Str("watcher", name).Msg("Failed to create watcher, hot reload disabled")
			return
		}
		if err := w.Start(); err != nil {
			log.Warn().Err(err).Str("watcher", name).Msg("Failed to start watcher")
			return
		}
		cleanups = append(cleanups, func() {
			log.Info().Str("watcher", name).Msg("Stopping watcher")
			if err := w.Stop(); err != nil {
				log.Error().Err(err).Str("watcher", name).Msg("Error stopping watcher")
			}
		})
	}

	// Only the stop timeout is applied live; other changes need a restart.
	configWatcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		watcherMu.Lock()
		defer watcherMu.Unlock()

		rt.SetStopTimeout(newCfg.Supervisor.StopTimeout)
		budget.Update(newCfg.Supervisor.StopTimeout)
		log.Info().
			Dur("stop_timeout", newCfg.Supervisor.StopTimeout).
			Dur("stop_grace", budget.Grace()).
			Msg("Stop timeout updated")
	})
	start("config", configWatcher, err)

	loggingWatcher, err := config.NewLoggingWatcher(loggingPath, func(newLC *logger.Config) {
		watcherMu.Lock()
		defer watcherMu.Unlock()

		log.Info().Msg("Applying logging configuration changes")
		if err := logger.Init(*newLC); err != nil {
			log.Error().Err(err).Msg("Failed to update logging configuration")
			return
		}
		if fs, ok := snd.(*sender.FileSender); ok {
			fs.SetConsole(newLC.Console)
		}
		log.Info().Msg("Logging configuration updated")
	})
	start("logging", loggingWatcher, err)

	return func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
}

func run(ctx context.Context, cfg *config.Config, lc *logger.Config, budget *stopBudget, configPath, loggingPath string) error {
	log := logger.WithComponent("main")

	snd, err := setupSender(cfg, lc)
	if err != nil {
		return err
	}
	defer func() {
		log.Info().Msg("Closing sender")
		if err := snd.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing sender")
		}
	}()

	sup := supervisor.New(supervisor.WithLockOSThread(cfg.Supervisor.LockOSThread))

	rt, err := setupRuntime(cfg, sup, snd)
	if err != nil {
		return fmt.Errorf("failed to install bundles: %w", err)
	}

	if err := rt.Start(ctx); err != nil {
		return fmt.Errorf("failed to start bundles: %w", err)
	}

	cleanupWatchers := setupWatchers(rt, budget, snd, configPath, loggingPath)
	defer cleanupWatchers()

	<-ctx.Done()
	log.Info().Msg("Received shutdown signal")

	stopErr := rt.Stop()
	if n := sup.Leaked(); n > 0 {
		log.Warn().Int("leaked", n).Msg("Some workers ignored their stop signal and were detached")
	}
	return stopErr
}
