// Package logger 提供进程级的结构化日志与审计日志。
//
// 主日志用于排查问题，审计日志只记录会话状态与交易状态的迁移，
// 两者都基于 log/slog。
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config 描述日志输出。
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig 控制审计日志文件。未启用时审计记录写入主日志。
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	main    *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	current atomic.Pointer[state]
	initMu  sync.Mutex
)

// Init 按 cfg 重新配置日志，并关闭上一次 Init 打开的文件。
func Init(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()

	next, err := build(cfg)
	if err != nil {
		return err
	}
	if prev := current.Swap(next); prev != nil {
		_ = closeAll(prev.closers)
	}
	return nil
}

func build(cfg Config) (*state, error) {
	st := &state{}
	fail := func(err error) (*state, error) {
		_ = closeAll(st.closers)
		return nil, err
	}

	out, err := st.open(cfg.OutputPaths)
	if err != nil {
		return fail(err)
	}
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level), ReplaceAttr: utcTime}
	if strings.EqualFold(cfg.Format, "json") {
		st.main = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		st.main = slog.New(slog.NewTextHandler(out, opts))
	}

	st.audit = st.main
	if cfg.Audit.Enabled {
		file, err := openAuditFile(cfg.Audit)
		if err != nil {
			return fail(err)
		}
		st.closers = append(st.closers, file)
		st.audit = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{ReplaceAttr: utcTime}))
	}
	return st, nil
}

// open 解析输出目标。stdout、stderr 与 discard 是保留名，其余视为文件路径。
func (st *state) open(paths []string) (io.Writer, error) {
	var writers []io.Writer
	for _, p := range paths {
		switch name := strings.ToLower(strings.TrimSpace(p)); name {
		case "", "stderr":
			writers = append(writers, os.Stderr)
		case "stdout":
			writers = append(writers, os.Stdout)
		case "discard":
			writers = append(writers, io.Discard)
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", p, err)
			}
			st.closers = append(st.closers, f)
			writers = append(writers, f)
		}
	}
	switch len(writers) {
	case 0:
		return os.Stderr, nil
	case 1:
		return writers[0], nil
	default:
		return io.MultiWriter(writers...), nil
	}
}

func utcTime(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
	}
	return a
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	level = strings.TrimSpace(level)
	switch strings.ToLower(level) {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func load() *state {
	if st := current.Load(); st != nil {
		return st
	}
	_ = Init(Config{})
	return current.Load()
}

// L 返回主日志。
func L() *slog.Logger { return load().main }

// Audit 返回审计日志。
func Audit() *slog.Logger { return load().audit }

// Named 返回带 component 字段的主日志。
func Named(component string) *slog.Logger {
	return L().With(slog.String("component", component))
}

// Sync 关闭 Init 打开的文件。之后的写入会失败，需要重新 Init。
func Sync() error {
	initMu.Lock()
	defer initMu.Unlock()
	st := current.Load()
	if st == nil {
		return nil
	}
	err := closeAll(st.closers)
	st.closers = nil
	return err
}

func closeAll(list []io.Closer) error {
	var err error
	for _, c := range list {
		err = errors.Join(err, c.Close())
	}
	return err
}
