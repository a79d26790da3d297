package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Logger defines the interface for audit logging.
type Logger interface {
	// Log records an audit event.
	Log(ctx context.Context, event Event) error

	// Query retrieves events matching the filter.
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)

	// Close releases any resources.
	Close() error
}

// FileLogger implements Logger with append-only JSONL files.
type FileLogger struct {
	mu        sync.Mutex
	dir       string
	maxSize   int64
	rotations int
	file      *os.File
	size      int64
}

// FileLoggerConfig configures the file logger.
type FileLoggerConfig struct {
	// Dir is the directory for log files.
	Dir string

	// MaxSize is the maximum size of a log file before rotation (default: 10MB).
	MaxSize int64

	// MaxRotations is the number of rotated files to keep (default: 10).
	MaxRotations int
}

// DefaultFileLoggerConfig returns sensible defaults.
func DefaultFileLoggerConfig() FileLoggerConfig {
	home, _ := os.UserHomeDir()
	return FileLoggerConfig{
		Dir:          filepath.Join(home, ".enact", "audit"),
		MaxSize:      10 * 1024 * 1024,
		MaxRotations: 10,
	}
}

const currentLogName = "audit.jsonl"

// NewFileLogger creates a new file-based logger.
func NewFileLogger(config FileLoggerConfig) (*FileLogger, error) {
	if config.MaxSize <= 0 {
		config.MaxSize = 10 * 1024 * 1024
	}
	if config.MaxRotations <= 0 {
		config.MaxRotations = 10
	}

	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	logger := &FileLogger{
		dir:       config.Dir,
		maxSize:   config.MaxSize,
		rotations: config.MaxRotations,
	}

	if err := logger.openOrCreate(); err != nil {
		return nil, err
	}

	return logger, nil
}

// Log records an audit event. The event hash is computed just before
// the write so tampering with stored lines is detectable.
func (l *FileLogger) Log(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid audit event: %w", err)
	}
	event.EventHash = event.ComputeHash()

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size >= l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log: %w", err)
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	data = append(data, '\n')
	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}

	l.size += int64(n)
	return nil
}

// Query retrieves events matching the filter, newest files first.
func (l *FileLogger) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.listLogFiles()
	if err != nil {
		return nil, err
	}

	var events []Event
	for i := len(files) - 1; i >= 0; i-- {
		fileEvents, err := l.readLogFile(files[i])
		if err != nil {
			continue // Skip corrupt files
		}

		for _, event := range fileEvents {
			if filter.Matches(event) {
				events = append(events, event)
				if filter.Limit > 0 && len(events) >= filter.Limit {
					return events, nil
				}
			}
		}
	}

	return events, nil
}

// Close releases resources.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *FileLogger) openOrCreate() error {
	path := filepath.Join(l.dir, currentLogName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to stat audit log: %w", err)
	}

	l.file = file
	l.size = info.Size()
	return nil
}

// rotate moves the current file aside and opens a fresh one, pruning
// the oldest rotations beyond the configured count.
func (l *FileLogger) rotate() error {
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}

	current := filepath.Join(l.dir, currentLogName)
	rotated := filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("20060102T150405")))
	if err := os.Rename(current, rotated); err != nil {
		return err
	}

	files, err := l.listLogFiles()
	if err == nil && len(files) > l.rotations {
		for _, old := range files[:len(files)-l.rotations] {
			_ = os.Remove(old)
		}
	}

	return l.openOrCreate()
}

// listLogFiles returns rotated files plus the current one, oldest first.
func (l *FileLogger) listLogFiles() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}

	var rotated []string
	current := ""
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		if entry.Name() == currentLogName {
			current = filepath.Join(l.dir, entry.Name())
			continue
		}
		rotated = append(rotated, filepath.Join(l.dir, entry.Name()))
	}

	sort.Strings(rotated)
	if current != "" {
		rotated = append(rotated, current)
	}
	return rotated, nil
}

func (l *FileLogger) readLogFile(path string) ([]Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue // Skip corrupt lines
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}

// NopLogger discards all events. Used when auditing is redirected
// elsewhere in tests; the gate itself always logs.
type NopLogger struct{}

// Log does nothing.
func (NopLogger) Log(_ context.Context, _ Event) error { return nil }

// Query returns nothing.
func (NopLogger) Query(_ context.Context, _ QueryFilter) ([]Event, error) { return nil, nil }

// Close does nothing.
func (NopLogger) Close() error { return nil }

// Ensure implementations satisfy Logger.
var (
	_ Logger = (*FileLogger)(nil)
	_ Logger = NopLogger{}
)
