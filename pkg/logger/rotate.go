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

// auditFile is an append-only size-capped writer. When the active file would
// exceed the limit it is renamed with a timestamp suffix and a fresh file is
// opened. Old backups are pruned by count and by age.
type auditFile struct {
	mu       sync.Mutex
	out      *os.File
	path     string
	limit    int64
	keep     int
	maxAge   time.Duration
	written  int64
	nowStamp func() string
}

func openAuditFile(path string, maxSizeMB, maxBackups, maxAgeDays int) (*auditFile, error) {
	if path == "" {
		return nil, errors.New("audit file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	a := &auditFile{
		path:   path,
		limit:  int64(maxSizeMB) * 1024 * 1024,
		keep:   maxBackups,
		maxAge: time.Duration(maxAgeDays) * 24 * time.Hour,
		nowStamp: func() string {
			return time.Now().UTC().Format("20060102T150405.000000000")
		},
	}
	if err := a.open(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *auditFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.out == nil {
		if err := a.open(); err != nil {
			return 0, err
		}
	}
	if a.limit > 0 && a.written+int64(len(p)) > a.limit {
		if err := a.roll(); err != nil {
			return 0, err
		}
	}
	n, err := a.out.Write(p)
	a.written += int64(n)
	return n, err
}

func (a *auditFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.out == nil {
		return nil
	}
	err := a.out.Close()
	a.out = nil
	a.written = 0
	return err
}

func (a *auditFile) open() error {
	out, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := out.Stat()
	if err != nil {
		out.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	a.out = out
	a.written = info.Size()
	return nil
}

// roll renames the active file to path.<timestamp> and reopens a fresh one.
func (a *auditFile) roll() error {
	if a.out != nil {
		_ = a.out.Close()
		a.out = nil
		a.written = 0
	}
	if a.keep > 0 {
		if err := os.Rename(a.path, a.path+"."+a.nowStamp()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	} else {
		_ = os.Remove(a.path)
	}
	a.prune()
	return a.open()
}

// prune removes backups beyond the retention count or older than maxAge.
// Backup names sort lexicographically by timestamp, oldest first.
func (a *auditFile) prune() {
	matches, err := filepath.Glob(a.path + ".*")
	if err != nil || len(matches) == 0 {
		return
	}
	backups := matches[:0]
	for _, m := range matches {
		if strings.HasPrefix(m, a.path+".") {
			backups = append(backups, m)
		}
	}
	sort.Strings(backups)

	excess := len(backups) - a.keep
	for i, backup := range backups {
		if i < excess {
			_ = os.Remove(backup)
			continue
		}
		if a.maxAge > 0 {
			if info, err := os.Stat(backup); err == nil && time.Since(info.ModTime()) > a.maxAge {
				_ = os.Remove(backup)
			}
		}
	}
}
