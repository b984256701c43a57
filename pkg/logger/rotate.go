package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// backupStamp is the suffix format for rotated audit files, e.g.
// audit.log.20260829T101500.
const backupStamp = "20060102T150405"

// auditTrailWriter backs the invocation audit stream. The stream appends one
// JSON record per invocation state transition, so on a busy farm the file
// grows without bound; the writer rotates it by size and prunes timestamped
// backups by count and age.
type auditTrailWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newAuditTrailWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditTrailWriter, error) {
	if path == "" {
		return nil, errors.New("audit trail path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 64
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit trail directory: %w", err)
	}
	writer := &auditTrailWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}
	return writer, nil
}

func (w *auditTrailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.ensureFile(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *auditTrailWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *auditTrailWriter) ensureFile() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit trail: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit trail: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rotate moves the active file aside under a timestamped name and prunes old
// backups. Audit records are renamed aside, never truncated.
func (w *auditTrailWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, w.backupPath(time.Now())); err != nil {
			return fmt.Errorf("rotate audit trail: %w", err)
		}
	}

	w.prune()
	return nil
}

// backupPath picks an unused timestamped name. Two rotations within one
// second get a numeric tie-breaker instead of overwriting each other.
func (w *auditTrailWriter) backupPath(now time.Time) string {
	base := fmt.Sprintf("%s.%s", w.path, now.UTC().Format(backupStamp))
	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// prune removes backups beyond maxBackups and backups older than maxAge.
// The sort key is the timestamp embedded in the file name, newest first.
func (w *auditTrailWriter) prune() {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	backups := make([]string, 0, len(matches))
	for _, match := range matches {
		suffix := strings.TrimPrefix(match, w.path+".")
		if len(suffix) >= len(backupStamp) {
			if _, err := time.Parse(backupStamp, suffix[:len(backupStamp)]); err == nil {
				backups = append(backups, match)
			}
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))

	cutoff := time.Now().Add(-w.maxAge)
	for i, path := range backups {
		if w.maxBackups > 0 && i >= w.maxBackups {
			_ = os.Remove(path)
			continue
		}
		if w.maxAge > 0 {
			if info, err := os.Stat(path); err == nil && info.ModTime().Before(cutoff) {
				_ = os.Remove(path)
			}
		}
	}
}
