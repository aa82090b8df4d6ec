// Package chainapi reads balances, history, transaction status and contract
// deployment from a remote chain-indexing API. Reads are fail-soft: they
// degrade to safe defaults and report the reason through a diagnostic hook
// instead of failing the caller. Status reads are the exception and return
// a retryable CHAIN_UNAVAILABLE error when no response was received.
package chainapi

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/txn"
)

// CodeChainUnavailable 表示链索引服务没有给出可用的响应。
const CodeChainUnavailable xerrors.Code = "CHAIN_UNAVAILABLE"

func init() {
	xerrors.Register(CodeChainUnavailable, xerrors.Attributes{
		Message:   "chain index api unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// Source 标识余额数据的来源。
type Source string

const (
	SourceConfirmed Source = "confirmed"
	SourceFallback  Source = "fallback"
)

// Balance 是某一时刻查询到的账户余额，单位为最小计量单位。
// 余额不会自动过期，由调用方决定何时刷新。
type Balance struct {
	Amount string    `json:"amount"`
	AsOf   time.Time `json:"as_of"`
	Source Source    `json:"source"`
	Err    string    `json:"error,omitempty"`
}

// Fallback reports whether the balance is a substitute for a failed read.
func (b Balance) Fallback() bool {
	return b.Source == SourceFallback
}

// Deployment 汇总合约部署探测结果。Names 已排序。
type Deployment struct {
	Deployed bool     `json:"deployed"`
	Names    []string `json:"contracts"`
}

func newDeployment(found []network.ContractName) Deployment {
	names := make([]string, 0, len(found))
	for _, n := range found {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return Deployment{Deployed: len(names) > 0, Names: names}
}

// Client 是链索引服务的读取接口。
type Client interface {
	GetBalance(ctx context.Context, address string) Balance
	GetTransactions(ctx context.Context, address string) []*txn.Transaction
	GetTransactionStatus(ctx context.Context, id string) (txn.StatusResult, error)
	CheckContractDeployment(ctx context.Context, contracts map[network.ContractName]string) Deployment
}

// DiagnosticFunc 接收降级读取的原因。operation 为读取名称，例如 balance。
type DiagnosticFunc func(operation string, err error)

// NormalizeTxID 将 32 字节的十六进制交易 ID 规范为小写 0x 前缀形式，
// 其它格式原样返回（去除首尾空白）。
func NormalizeTxID(id string) string {
	id = strings.TrimSpace(id)
	candidate := id
	if !strings.HasPrefix(candidate, "0x") && !strings.HasPrefix(candidate, "0X") {
		candidate = "0x" + candidate
	} else {
		candidate = "0x" + candidate[2:]
	}
	raw, err := hexutil.Decode(candidate)
	if err != nil || len(raw) != 32 {
		return id
	}
	return hexutil.Encode(raw)
}

// MapStatus 将远端 tx_status 映射为本地状态。只有 success 与 pending
// 被识别，其它取值（包括缺失）一律视为 failed。
func MapStatus(remote string) txn.Status {
	switch strings.TrimSpace(remote) {
	case "success":
		return txn.StatusSuccess
	case "pending":
		return txn.StatusPending
	default:
		return txn.StatusFailed
	}
}

// ClassifyFunction 根据合约函数名推断交易类型。
func ClassifyFunction(function string) txn.Kind {
	function = strings.TrimSpace(function)
	switch {
	case strings.HasPrefix(function, "mint-"):
		return txn.KindMint
	case strings.HasPrefix(function, "retire-"):
		return txn.KindRetire
	default:
		return txn.KindTransfer
	}
}
