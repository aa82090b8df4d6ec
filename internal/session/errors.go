package session

import xerrors "BlueCarbon-Chain/internal/errors"

// 会话层错误码。
const (
	CodeOperationInProgress xerrors.Code = "OPERATION_IN_PROGRESS"
	CodeSessionReset        xerrors.Code = "SESSION_RESET"
	CodeNotConnected        xerrors.Code = "NOT_CONNECTED"
	CodeStoreClosed         xerrors.Code = "SESSION_STORE_CLOSED"
)

func init() {
	xerrors.Register(CodeOperationInProgress, xerrors.Attributes{
		Message:   "another session operation is in progress",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
	})
	xerrors.Register(CodeSessionReset, xerrors.Attributes{
		Message:  "session was reset while the operation was in flight",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:  "no wallet connected",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeStoreClosed, xerrors.Attributes{
		Message:  "session store closed",
		Severity: xerrors.SeverityWarning,
	})
}

func errInProgress(op string) error {
	return xerrors.New(CodeOperationInProgress, "", xerrors.WithMetadata("operation", op))
}
