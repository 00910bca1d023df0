package notify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/artpar/hostdeploy/internal/core/domain"
)

// ErrorLog appends one line per failure to a file.
type ErrorLog struct {
	path string
	mu   sync.Mutex
}

// NewErrorLog creates an error log writer for path.
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path}
}

// Path returns the log file location.
func (l *ErrorLog) Path() string {
	return l.path
}

// Notify appends the record's log line, creating the file and its parent
// directory on first use.
func (l *ErrorLog) Notify(_ context.Context, record domain.FailureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("error log: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("error log: %w", err)
	}

	if _, err := f.WriteString(record.LogLine() + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("error log: write %s: %w", l.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error log: close %s: %w", l.path, err)
	}
	return nil
}
