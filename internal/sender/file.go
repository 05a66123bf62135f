package sender

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"bundleactivator/internal/config"
	"bundleactivator/internal/logger"
)

// FileSender appends events as JSON lines to a rotating file and optionally
// echoes them to the console.
type FileSender struct {
	filePath    string
	writer      *lumberjack.Logger
	prettyPrint bool
	console     bool
	mu          sync.Mutex
	closed      bool
}

// NewFileSender creates a new FileSender with the given configuration.
func NewFileSender(cfg config.FileConfig) (*FileSender, error) {
	log := logger.WithComponent("file-sender")

	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file sender requires a file path")
	}

	dir := filepath.Dir(cfg.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create event directory: %w", err)
		}
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}

	log.Info().
		Str("file_path", cfg.FilePath).
		Bool("console", cfg.Console).
		Bool("pretty", cfg.Pretty).
		Msg("FileSender initialized")

	return &FileSender{
		filePath:    cfg.FilePath,
		writer:      writer,
		prettyPrint: cfg.Pretty,
		console:     cfg.Console,
	}, nil
}

// Send writes one event.
func (s *FileSender) Send(ctx context.Context, ev *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sender is closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var line []byte
	var err error
	if s.prettyPrint {
		line, err = json.MarshalIndent(ev, "", "  ")
	} else {
		line, err = json.Marshal(ev)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	if s.console {
		fmt.Println(string(line))
	}
	return nil
}

// SetConsole toggles echoing events to stdout.
func (s *FileSender) SetConsole(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.console = enabled
}

// SendBatch writes events in order.
func (s *FileSender) SendBatch(ctx context.Context, evs []*Event) error {
	return sendEach(ctx, s, evs)
}

// Close releases resources held by the FileSender.
func (s *FileSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.writer.Close()
}
