package txn

import (
	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
)

const (
	CodeInvalidPayload   xerrors.Code = "INVALID_PAYLOAD"
	CodeNotFound         xerrors.Code = "TX_NOT_FOUND"
	CodeAlreadyTerminal  xerrors.Code = "TX_ALREADY_TERMINAL"
	CodeConflict         xerrors.Code = "TX_CONFLICT"
	CodePollTimeout      xerrors.Code = "POLL_TIMEOUT"
	CodeNetworkChanged   xerrors.Code = "NETWORK_CHANGED"
	CodeSubmissionFailed xerrors.Code = "SUBMISSION_FAILED"
)

var (
	// ErrNotFound 表示账本中不存在该交易。
	ErrNotFound = xerrors.New(CodeNotFound, "transaction not found")
	// ErrAlreadyTerminal 表示交易已进入终态，不再接受修改。
	ErrAlreadyTerminal = xerrors.New(CodeAlreadyTerminal, "transaction already terminal")
	// ErrConflict 表示 LocalID 或链上 ID 重复。
	ErrConflict = xerrors.New(CodeConflict, "transaction already exists")
)

func init() {
	xerrors.Register(CodeInvalidPayload, xerrors.Attributes{
		Message:  "invalid transaction payload",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotFound, xerrors.Attributes{
		Message:  "transaction not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeAlreadyTerminal, xerrors.Attributes{
		Message:  "transaction already terminal",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeConflict, xerrors.Attributes{
		Message:  "transaction already exists",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodePollTimeout, xerrors.Attributes{
		Message:   "transaction still pending after polling",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeNetworkChanged, xerrors.Attributes{
		Message:  "network changed while polling",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeSubmissionFailed, xerrors.Attributes{
		Message:  "transaction submission failed",
		Severity: xerrors.SeverityWarning,
	})
}

// NewNetworkChanged 构造轮询被网络切换打断时使用的取消原因。
func NewNetworkChanged(from, to network.Network) error {
	return xerrors.New(CodeNetworkChanged, "",
		xerrors.WithMetadata("from", string(from)),
		xerrors.WithMetadata("to", string(to)),
	)
}

func invalidPayload(msg string) error {
	return xerrors.New(CodeInvalidPayload, msg)
}
