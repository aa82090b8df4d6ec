package txn

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/events"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/observability/metrics"
	"BlueCarbon-Chain/pkg/logger"
)

// 轮询默认值。
const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 20
)

// Orchestrator 绑定在某一个网络上：写入通过 Submitter 发出，状态通过
// StatusReader 读取。切换网络时应新建 Orchestrator，旧实例上的轮询由
// 调用方通过 context 取消。
//
// 同一 tokenId 上的并发写入不会在本地串行化，由链上合约裁决。
type Orchestrator struct {
	network   network.Config
	submitter Submitter
	reader    StatusReader
	store     Store
	sink      events.Sink
	metrics   *metrics.Collectors
	logger    *slog.Logger
	audit     *slog.Logger
	now       func() time.Time
}

// Option 定义 Orchestrator 的可选配置。
type Option func(*Orchestrator)

// WithEventSink 设置生命周期事件的接收方。
func WithEventSink(sink events.Sink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithMetrics 设置指标收集器。
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger 覆盖默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
			o.audit = l
		}
	}
}

// WithClock 覆盖时间来源，便于测试。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator 创建绑定到 cfg 网络的 Orchestrator。store 为空时使用内存账本。
func NewOrchestrator(cfg network.Config, submitter Submitter, reader StatusReader, store Store, opts ...Option) *Orchestrator {
	if store == nil {
		store = NewMemoryStore()
	}
	o := &Orchestrator{
		network:   cfg,
		submitter: submitter,
		reader:    reader,
		store:     store,
		logger:    logger.Named("txn"),
		audit:     logger.Audit(),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Network 返回 Orchestrator 绑定的网络。
func (o *Orchestrator) Network() network.Network {
	return o.network.Network
}

// Submit 构造并提交一笔交易。参数不合法时返回 INVALID_PAYLOAD 错误；
// 提交本身的失败（包括合约未部署、用户拒绝签名）以 failed 交易返回，error 为 nil。
func (o *Orchestrator) Submit(ctx context.Context, kind Kind, payload Payload) (*Transaction, error) {
	payload, err := normalizePayload(kind, payload)
	if err != nil {
		return nil, err
	}

	now := o.now()
	if mint, ok := payload.(MintPayload); ok && blank(mint.TokenID) {
		mint.TokenID = MintTokenID(mint.ProjectID, now)
		payload = mint
	}

	tx := &Transaction{
		LocalID:   "local-" + uuid.NewString(),
		Kind:      kind,
		Status:    StatusPending,
		Network:   o.network.Network,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload.apply(tx)
	if tx.Record != nil {
		tx.Record.ID = uuid.NewString()
	}

	if err := o.store.Create(ctx, tx); err != nil {
		return nil, err
	}
	o.metrics.TransactionRecorded(string(kind), string(StatusPending))

	contractID, deployed := o.network.Contract(network.ContractRegistry)
	if !deployed {
		return o.fail(ctx, tx, fmt.Sprintf("contract %s is not deployed on %s", network.ContractRegistry, o.network.Network))
	}
	if o.submitter == nil {
		return o.fail(ctx, tx, "no signer available for submission")
	}

	call := payload.call(contractID)
	call.Network = o.network.Network
	txID, err := o.submitter.SignAndSubmit(ctx, call)
	if err != nil {
		o.logger.Warn("提交交易失败",
			slog.String("local_id", tx.LocalID),
			slog.String("kind", string(kind)),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		return o.fail(ctx, tx, err.Error())
	}
	txID = strings.TrimSpace(txID)
	if txID == "" {
		return o.fail(ctx, tx, "backend returned an empty transaction id")
	}

	// 链上写入已发生，记录结果不受调用方取消影响。
	if err := o.store.AssignChainID(context.WithoutCancel(ctx), tx.LocalID, txID); err != nil {
		return nil, err
	}
	tx.ID = txID
	tx.UpdatedAt = o.now()

	o.audit.Info("transaction submitted",
		slog.String("local_id", tx.LocalID),
		slog.String("tx_id", txID),
		slog.String("kind", string(kind)),
		slog.String("network", string(tx.Network)),
		slog.String("amount", AmountString(tx.Amount)),
	)
	o.publish(ctx, events.TypeSubmitted, tx)
	return tx.Clone(), nil
}

func (o *Orchestrator) fail(ctx context.Context, tx *Transaction, reason string) (*Transaction, error) {
	if err := o.store.MarkTerminal(context.WithoutCancel(ctx), tx.LocalID, Outcome{Status: StatusFailed, Error: reason}); err != nil {
		return nil, err
	}
	tx.Status = StatusFailed
	tx.Error = reason
	tx.UpdatedAt = o.now()
	o.metrics.TransactionRecorded(string(tx.Kind), string(StatusFailed))
	o.audit.Warn("transaction failed",
		slog.String("local_id", tx.LocalID),
		slog.String("kind", string(tx.Kind)),
		slog.String("reason", reason),
	)
	o.publish(ctx, events.TypeFailed, tx)
	return tx.Clone(), nil
}

// PollUntilTerminal 按 interval 轮询交易状态，最多 maxAttempts 次。
//
//   - 进入终态：记录并返回交易，error 为 nil；
//   - 次数耗尽：交易仍为 pending，Diagnostic 为 poll_timeout，返回 POLL_TIMEOUT；
//   - ctx 被取消：交易保持 pending，若原因是 NETWORK_CHANGED 则标记 network_changed，
//     否则标记 abandoned，返回取消原因。
//
// 已处于终态的交易直接返回，不再访问链。读取失败计入尝试次数。
func (o *Orchestrator) PollUntilTerminal(ctx context.Context, id string, interval time.Duration, maxAttempts int) (*Transaction, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	tx, err := o.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status.Terminal() {
		return tx, nil
	}
	if tx.ID == "" {
		return tx, xerrors.New(xerrors.CodeInvalidArgument, "transaction has no chain id yet", xerrors.WithMetadata("local_id", tx.LocalID))
	}
	if o.reader == nil {
		return tx, xerrors.New(xerrors.CodeInvalidArgument, "no status reader configured")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		res, err := o.reader.GetTransactionStatus(ctx, tx.ID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return o.abandon(ctx, tx)
			}
			o.logger.Debug("读取交易状态失败",
				slog.String("tx_id", tx.ID),
				slog.Int("attempt", attempt),
				slog.Any("error", err),
			)
		case res.Status.Terminal():
			return o.finish(ctx, tx, res)
		default:
			if res.BlockHeight > 0 || res.Confirmations > 0 {
				if err := o.store.UpdateProgress(ctx, tx.LocalID, res); err == nil {
					tx.BlockHeight, tx.Confirmations = max(tx.BlockHeight, res.BlockHeight), max(tx.Confirmations, res.Confirmations)
				}
			}
		}

		if attempt >= maxAttempts {
			return o.timeout(ctx, tx, attempt)
		}
		select {
		case <-ctx.Done():
			return o.abandon(ctx, tx)
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, tx *Transaction, res StatusResult) (*Transaction, error) {
	outcome := Outcome{Status: res.Status, BlockHeight: res.BlockHeight, Confirmations: res.Confirmations}
	if res.Status == StatusFailed {
		outcome.Error = failureReason(res)
	}
	err := o.store.MarkTerminal(context.WithoutCancel(ctx), tx.LocalID, outcome)
	if stdErrors.Is(err, ErrAlreadyTerminal) {
		// 另一个轮询者先写入了终态。
		return o.store.Get(context.WithoutCancel(ctx), tx.LocalID)
	}
	if err != nil {
		return nil, err
	}
	updated, err := o.store.Get(context.WithoutCancel(ctx), tx.LocalID)
	if err != nil {
		return nil, err
	}

	o.metrics.TransactionRecorded(string(updated.Kind), string(updated.Status))
	o.metrics.PollFinished("terminal")
	eventType := events.TypeConfirmed
	if updated.Status == StatusFailed {
		eventType = events.TypeFailed
	}
	o.audit.Info("transaction "+string(updated.Status),
		slog.String("local_id", updated.LocalID),
		slog.String("tx_id", updated.ID),
		slog.Uint64("block_height", updated.BlockHeight),
	)
	o.publish(ctx, eventType, updated)
	return updated, nil
}

// failureReason 描述 failed 结果的来源。
func failureReason(res StatusResult) string {
	if r := strings.TrimSpace(res.Reason); r != "" {
		return r
	}
	return "chain reported status failed"
}

func (o *Orchestrator) timeout(ctx context.Context, tx *Transaction, attempts int) (*Transaction, error) {
	updated, err := o.markStalled(ctx, tx, DiagnosticPollTimeout)
	if err != nil || updated.Status.Terminal() {
		return updated, err
	}
	o.metrics.PollFinished("timeout")
	o.publish(ctx, events.TypePollTimeout, updated)
	return updated, xerrors.New(CodePollTimeout, "",
		xerrors.WithMetadata("tx_id", updated.ID),
		xerrors.WithMetadata("attempts", fmt.Sprint(attempts)),
	)
}

func (o *Orchestrator) abandon(ctx context.Context, tx *Transaction) (*Transaction, error) {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = ctx.Err()
	}
	diagnostic := DiagnosticAbandoned
	if xerrors.IsCode(cause, CodeNetworkChanged) {
		diagnostic = DiagnosticNetworkChanged
	}
	updated, err := o.markStalled(ctx, tx, diagnostic)
	if err != nil {
		return updated, err
	}
	if updated.Status.Terminal() {
		return updated, nil
	}
	o.metrics.PollFinished("abandoned")
	o.publish(context.WithoutCancel(ctx), events.TypeAbandoned, updated)
	return updated, cause
}

// markStalled 记录停止轮询的原因。并发轮询可能已写入终态，此时返回终态交易。
func (o *Orchestrator) markStalled(ctx context.Context, tx *Transaction, d Diagnostic) (*Transaction, error) {
	bg := context.WithoutCancel(ctx)
	err := o.store.SetDiagnostic(bg, tx.LocalID, d)
	if err != nil && !stdErrors.Is(err, ErrAlreadyTerminal) {
		return nil, err
	}
	return o.store.Get(bg, tx.LocalID)
}

func (o *Orchestrator) publish(ctx context.Context, t events.Type, tx *Transaction) {
	if o.sink == nil {
		return
	}
	event := events.Event{
		Type:       t,
		Network:    string(tx.Network),
		LocalID:    tx.LocalID,
		TxID:       tx.ID,
		Kind:       string(tx.Kind),
		Status:     string(tx.Status),
		Amount:     AmountString(tx.Amount),
		TokenID:    tx.TokenID,
		Error:      tx.Error,
		Diagnostic: string(tx.Diagnostic),
	}.Stamp(o.now())
	if err := o.sink.Publish(ctx, event); err != nil {
		o.logger.Warn("发布交易事件失败", slog.String("event", string(t)), slog.Any("error", err))
	}
}

// Get 返回账本中的交易，id 可以是 LocalID 或链上 ID。
func (o *Orchestrator) Get(ctx context.Context, id string) (*Transaction, error) {
	return o.store.Get(ctx, id)
}

// List 返回账本中符合条件的交易。
func (o *Orchestrator) List(ctx context.Context, opts ...ListOption) ([]*Transaction, error) {
	return o.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回账本统计。
func (o *Orchestrator) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	return o.store.Stats(ctx, BuildListOptions(opts...))
}
