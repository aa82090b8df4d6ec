// Package wallet detects wallet providers, authorizes an account through the
// chosen provider and exposes it as the signer for contract calls.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/txn"
)

// 连接层错误码。
const (
	CodeProviderUnavailable xerrors.Code = "PROVIDER_UNAVAILABLE"
	CodeUserRejected        xerrors.Code = "USER_REJECTED"
	CodeProviderError       xerrors.Code = "PROVIDER_ERROR"
	CodeFaucetUnavailable   xerrors.Code = "FAUCET_UNAVAILABLE"
)

func init() {
	xerrors.Register(CodeProviderUnavailable, xerrors.Attributes{Message: "wallet provider not detected", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeUserRejected, xerrors.Attributes{Message: "request rejected by the user", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeProviderError, xerrors.Attributes{Message: "wallet provider error", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeFaucetUnavailable, xerrors.Attributes{Message: "faucet is only available on testnet", Severity: xerrors.SeverityInfo})
}

// ErrUserRejected 由 Provider 在用户拒绝授权或签名时返回。
var ErrUserRejected = xerrors.New(CodeUserRejected, "")

// ProviderKind 标识钱包扩展类型。
type ProviderKind string

const (
	ProviderLeather ProviderKind = "leather"
	ProviderXverse  ProviderKind = "xverse"
)

// ProviderKinds 返回支持的钱包类型。
func ProviderKinds() []ProviderKind {
	return []ProviderKind{ProviderLeather, ProviderXverse}
}

// ParseProviderKind 解析用户输入的钱包类型。
func ParseProviderKind(raw string) (ProviderKind, error) {
	kind := ProviderKind(strings.ToLower(strings.TrimSpace(raw)))
	for _, k := range ProviderKinds() {
		if k == kind {
			return kind, nil
		}
	}
	return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown wallet provider %q", raw))
}

// Provider 是浏览器注入的钱包扩展。实现只需暴露这几个入口，内部细节不透明。
type Provider interface {
	Kind() ProviderKind
	IsAvailable() bool
	RequestAccounts(ctx context.Context) ([]string, error)
	SignAndSubmit(ctx context.Context, call txn.ContractCall) (string, error)
}

// Disconnecter 由支持显式断开的 Provider 实现。
type Disconnecter interface {
	Disconnect() error
}

// Session 是一次成功授权的结果。
type Session struct {
	Provider    ProviderKind `json:"provider"`
	Account     string       `json:"account"`
	Accounts    []string     `json:"accounts,omitempty"`
	ConnectedAt time.Time    `json:"connected_at"`
}

// classify 将 Provider 返回的错误归类为连接层错误码。
func classify(kind ProviderKind, err error, action string) error {
	if xerrors.IsCode(err, CodeUserRejected) || xerrors.IsCode(err, CodeProviderUnavailable) {
		return err
	}
	return xerrors.Wrap(CodeProviderError, err, action, xerrors.WithMetadata("provider", string(kind)))
}
