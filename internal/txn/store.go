package txn

import (
	"context"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
)

// Outcome 是写入终态时携带的信息。
type Outcome struct {
	Status        Status
	BlockHeight   uint64
	Confirmations uint64
	Error         string
}

// Store 抽象了交易账本的持久化接口。Get 同时接受 LocalID 与链上 ID。
// 进入终态后的交易不再接受任何修改，相关调用返回 ErrAlreadyTerminal。
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	AssignChainID(ctx context.Context, localID, chainID string) error
	UpdateProgress(ctx context.Context, localID string, res StatusResult) error
	MarkTerminal(ctx context.Context, localID string, outcome Outcome) error
	SetDiagnostic(ctx context.Context, localID string, diagnostic Diagnostic) error
	List(ctx context.Context, opts ListOptions) ([]*Transaction, error)
	Stats(ctx context.Context, opts ListOptions) (Stats, error)
	Close() error
}

// Stats 聚合了交易状态的统计信息。
type Stats struct {
	Total           int       `json:"total"`
	Pending         int       `json:"pending"`
	Success         int       `json:"success"`
	Failed          int       `json:"failed"`
	Stalled         int       `json:"stalled"`
	OldestUpdatedAt time.Time `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt time.Time `json:"newest_updated_at,omitempty"`
}

func validateNew(tx *Transaction) error {
	if tx == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "transaction 不能为空")
	}
	if blank(tx.LocalID) {
		return xerrors.New(xerrors.CodeInvalidArgument, "LocalID 不能为空")
	}
	if !tx.Kind.Valid() || !IsValidStatus(tx.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易类型或状态非法")
	}
	return nil
}

func validateOutcome(outcome Outcome) error {
	if !outcome.Status.Terminal() {
		return xerrors.New(xerrors.CodeInvalidArgument, "终态只能是 success 或 failed")
	}
	return nil
}

// applyTerminal 在内存对象上执行终态迁移，供各存储实现复用。
func applyTerminal(tx *Transaction, outcome Outcome, now time.Time) error {
	if tx.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	tx.Status = outcome.Status
	if outcome.BlockHeight > 0 {
		tx.BlockHeight = outcome.BlockHeight
	}
	if outcome.Confirmations > 0 {
		tx.Confirmations = outcome.Confirmations
	}
	tx.Error = outcome.Error
	tx.Diagnostic = DiagnosticNone
	tx.UpdatedAt = now
	return nil
}

func applyProgress(tx *Transaction, res StatusResult, now time.Time) error {
	if tx.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if res.BlockHeight > 0 {
		tx.BlockHeight = res.BlockHeight
	}
	if res.Confirmations > tx.Confirmations {
		tx.Confirmations = res.Confirmations
	}
	tx.UpdatedAt = now
	return nil
}

func applyDiagnostic(tx *Transaction, d Diagnostic, now time.Time) error {
	if tx.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	tx.Diagnostic = d
	tx.UpdatedAt = now
	return nil
}

func applyChainID(tx *Transaction, chainID string, now time.Time) error {
	if tx.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if tx.ID != "" && tx.ID != chainID {
		return ErrConflict
	}
	tx.ID = chainID
	tx.UpdatedAt = now
	return nil
}
