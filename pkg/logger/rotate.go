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

const (
	defaultAuditMaxSizeMB  = 50
	defaultAuditMaxBackups = 5
	defaultAuditMaxAgeDays = 14

	backupStamp = "20060102T150405.000000000"
)

// auditFile 是按大小切分的审计日志文件。写满后当前文件被改名为
// <path>.<UTC 时间戳>，只保留最新的 maxBackups 个且不超过 maxAge 的备份。
type auditFile struct {
	mu         sync.Mutex
	path       string
	limit      int64
	maxBackups int
	maxAge     time.Duration
	now        func() time.Time

	f    *os.File
	size int64
}

func openAuditFile(cfg AuditConfig) (*auditFile, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	sizeMB, backups, ageDays := cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays
	if sizeMB <= 0 {
		sizeMB = defaultAuditMaxSizeMB
	}
	if backups <= 0 {
		backups = defaultAuditMaxBackups
	}
	if ageDays <= 0 {
		ageDays = defaultAuditMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &auditFile{
		path:       cfg.Path,
		limit:      int64(sizeMB) << 20,
		maxBackups: backups,
		maxAge:     time.Duration(ageDays) * 24 * time.Hour,
		now:        time.Now,
	}, nil
}

func (a *auditFile) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.f == nil {
		if err := a.reopen(); err != nil {
			return 0, err
		}
	}
	if a.size > 0 && a.size+int64(len(p)) > a.limit {
		if err := a.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := a.f.Write(p)
	a.size += int64(n)
	return n, err
}

func (a *auditFile) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f, a.size = nil, 0
	return err
}

func (a *auditFile) reopen() error {
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	a.f, a.size = f, info.Size()
	return nil
}

func (a *auditFile) rotate() error {
	if err := a.f.Close(); err != nil {
		return fmt.Errorf("close audit log: %w", err)
	}
	a.f, a.size = nil, 0

	backup := a.path + "." + a.now().UTC().Format(backupStamp)
	if err := os.Rename(a.path, backup); err != nil {
		return fmt.Errorf("rotate audit log: %w", err)
	}
	a.prune()
	return a.reopen()
}

// backups 返回已有备份，新的在前。时间戳格式保证字典序与时间序一致。
func (a *auditFile) backups() []string {
	matches, _ := filepath.Glob(a.path + ".*")
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}

func (a *auditFile) prune() {
	cutoff := a.now().Add(-a.maxAge)
	for i, name := range a.backups() {
		if i >= a.maxBackups {
			_ = os.Remove(name)
			continue
		}
		if info, err := os.Stat(name); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}
