// Package events 发布交易生命周期事件，供审计、消息队列与测试观察使用。
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "BlueCarbon-Chain/internal/errors"
)

// Type 表示事件类型。
type Type string

const (
	TypeSubmitted   Type = "submitted"
	TypeConfirmed   Type = "confirmed"
	TypeFailed      Type = "failed"
	TypePollTimeout Type = "poll_timeout"
	TypeAbandoned   Type = "abandoned"
)

// CodePublishFailed 表示事件未能投递到下游。
const CodePublishFailed xerrors.Code = "EVENT_PUBLISH_FAILED"

func init() {
	xerrors.Register(CodePublishFailed, xerrors.Attributes{
		Message:   "failed to publish lifecycle event",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Event 描述一次交易状态变化。
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Network    string    `json:"network"`
	LocalID    string    `json:"local_id"`
	TxID       string    `json:"tx_id,omitempty"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Amount     string    `json:"amount"`
	TokenID    string    `json:"token_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Stamp 填充事件 ID 与发生时间。
func (e Event) Stamp(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now.UTC()
	}
	return e
}

// Sink 接收事件。
type Sink interface {
	Publish(ctx context.Context, event Event) error
}

// Fanout 将事件广播给多个 Sink。
type Fanout struct {
	sinks []Sink
}

// NewFanout 创建 Fanout，忽略 nil。
func NewFanout(sinks ...Sink) *Fanout {
	list := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			list = append(list, s)
		}
	}
	return &Fanout{sinks: list}
}

// Publish 依次投递，收集所有失败。
func (f *Fanout) Publish(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for i, sink := range f.sinks {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %d (%T): %w", i, sink, err))
		}
	}
	if len(errs) > 0 {
		return xerrors.Wrap(CodePublishFailed, errors.Join(errs...), "", xerrors.WithMetadata("event", string(event.Type)))
	}
	return nil
}

// LogSink 将事件写入结构化日志。
type LogSink struct {
	Logger *slog.Logger
}

// Publish 实现 Sink。
func (s LogSink) Publish(ctx context.Context, event Event) error {
	if s.Logger == nil {
		return nil
	}
	level := slog.LevelInfo
	if event.Type == TypeFailed || event.Type == TypePollTimeout {
		level = slog.LevelWarn
	}
	s.Logger.LogAttrs(ctx, level, "transaction "+string(event.Type),
		slog.String("event_id", event.ID),
		slog.String("network", event.Network),
		slog.String("local_id", event.LocalID),
		slog.String("tx_id", event.TxID),
		slog.String("kind", event.Kind),
		slog.String("status", event.Status),
		slog.String("amount", event.Amount),
		slog.String("error", event.Error),
		slog.String("diagnostic", event.Diagnostic),
	)
	return nil
}

// MemorySink 在内存中保留事件，主要用于测试。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Publish 实现 Sink。
func (m *MemorySink) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events 返回已记录事件的副本。
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Types 返回已记录事件的类型序列。
func (m *MemorySink) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]Type, 0, len(m.events))
	for _, e := range m.events {
		types = append(types, e.Type)
	}
	return types
}
