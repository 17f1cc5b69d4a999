package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

const fileSinkName = "audit.log"

// FileSink appends entries as JSON lines for log shippers. It rotates by size.
type FileSink struct {
	basePath string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileSinkConfig configures the file sink
type FileSinkConfig struct {
	BasePath string // Directory holding audit.log and rotated files
	MaxSize  int64  // Bytes before rotation (default: 100MB)
	MaxFiles int    // Rotated files to keep (default: 10)
}

// NewFileSink creates the directory if needed and opens audit.log for append
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("audit file sink path is required")
	}
	if err := os.MkdirAll(config.BasePath, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileSink{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if s.maxSize <= 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles <= 0 {
		s.maxFiles = 10
	}

	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) currentPath() string {
	return filepath.Join(s.basePath, fileSinkName)
}

func (s *FileSink) open() error {
	file, err := os.OpenFile(s.currentPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

func (s *FileSink) rotate() error {
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(s.currentPath(), rotated); err != nil {
		return fmt.Errorf("failed to rename log file: %w", err)
	}

	files, err := filepath.Glob(filepath.Join(s.basePath, "audit-*.log"))
	if err != nil {
		return fmt.Errorf("failed to list rotated logs: %w", err)
	}
	// Names embed a sortable UTC timestamp.
	sort.Strings(files)
	if len(files) > s.maxFiles {
		for _, f := range files[:len(files)-s.maxFiles] {
			os.Remove(f)
		}
	}

	return s.open()
}

// Write implements Sink
func (s *FileSink) Write(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("audit file sink is closed")
	}

	if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
		if err := s.rotate(); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	if err := s.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Close closes the current file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
