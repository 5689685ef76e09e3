// Package failurelog appends verification-failure transcripts to a per-file
// log, append-only and keyed by basename rather than truncated per run.
package failurelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const separator = "================================================================================"

// Logger appends entries under dir/failures/<basename>.log.
type Logger struct {
	dir string
}

// New returns a Logger rooted at tasksDir; the failures subdirectory is
// created lazily on first write.
func New(tasksDir string) *Logger {
	return &Logger{dir: filepath.Join(tasksDir, "failures")}
}

// Append writes entry to the log for path, preceded by a timestamped
// separator line.
func (l *Logger) Append(path, entry string) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create failures dir: %w", err)
	}
	base := strings.ReplaceAll(filepath.Base(path), string(filepath.Separator), "_")
	logPath := filepath.Join(l.dir, base+".log")

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log %s: %w", logPath, err)
	}
	defer f.Close()

	header := fmt.Sprintf("%s\n%s\n", separator, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(header + entry + "\n"); err != nil {
		return fmt.Errorf("write failure log %s: %w", logPath, err)
	}
	return nil
}
