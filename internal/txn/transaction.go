// Package txn 负责碳信用交易的生命周期：构造合约调用、提交、轮询确认，
// 以及在账本存储中记录每笔交易的状态。
package txn

import (
	"context"
	"strings"
	"time"

	"cosmossdk.io/math"

	"BlueCarbon-Chain/internal/network"
)

// Kind 表示交易类型。
type Kind string

const (
	KindMint     Kind = "mint"
	KindTransfer Kind = "transfer"
	KindRetire   Kind = "retire"
)

// Valid 判断交易类型是否受支持。
func (k Kind) Valid() bool {
	switch k {
	case KindMint, KindTransfer, KindRetire:
		return true
	default:
		return false
	}
}

// Status 表示交易在链上的状态。
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(s Status) bool {
	return s == StatusPending || s.Terminal()
}

// Diagnostic 解释一笔仍处于 pending 的交易为何停止了轮询。
type Diagnostic string

const (
	DiagnosticNone           Diagnostic = ""
	DiagnosticPollTimeout    Diagnostic = "poll_timeout"
	DiagnosticNetworkChanged Diagnostic = "network_changed"
	DiagnosticAbandoned      Diagnostic = "abandoned"
)

// StatusResult 是一次链上状态查询的结果。BlockHeight 为 0 表示尚未打包。
// Reason 说明 failed 的来源，例如链上返回的 tx_status。
type StatusResult struct {
	Status        Status
	BlockHeight   uint64
	Confirmations uint64
	Reason        string
}

// RecordStatus 是碳信用记录的业务状态。
type RecordStatus string

const (
	RecordMinted      RecordStatus = "minted"
	RecordTransferred RecordStatus = "transferred"
	RecordRetired     RecordStatus = "retired"
)

// CreditMetadata 描述碳信用所属项目。
type CreditMetadata struct {
	ProjectName        string `json:"project_name,omitempty"`
	ProjectType        string `json:"project_type,omitempty"`
	Location           string `json:"location,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
}

// CarbonCreditRecord 是交易所承载的碳信用记录。
type CarbonCreditRecord struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id,omitempty"`
	Amount    math.Int       `json:"amount"`
	Owner     string         `json:"owner"`
	MintedAt  time.Time      `json:"minted_at,omitempty"`
	Status    RecordStatus   `json:"status"`
	TokenID   string         `json:"token_id"`
	Metadata  CreditMetadata `json:"metadata"`
}

// Transaction 描述一笔碳信用交易。LocalID 在创建时生成，ID 为链上交易哈希，
// 在提交返回后才写入。
type Transaction struct {
	LocalID       string              `json:"local_id"`
	ID            string              `json:"id,omitempty"`
	Kind          Kind                `json:"kind"`
	Status        Status              `json:"status"`
	Amount        math.Int            `json:"amount"`
	From          string              `json:"from,omitempty"`
	To            string              `json:"to,omitempty"`
	TokenID       string              `json:"token_id,omitempty"`
	ProjectID     string              `json:"project_id,omitempty"`
	Network       network.Network     `json:"network"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
	BlockHeight   uint64              `json:"block_height,omitempty"`
	Confirmations uint64              `json:"confirmations,omitempty"`
	Error         string              `json:"error,omitempty"`
	Diagnostic    Diagnostic          `json:"diagnostic,omitempty"`
	Record        *CarbonCreditRecord `json:"record,omitempty"`
}

// Clone 返回深拷贝。
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	out := *t
	if t.Record != nil {
		record := *t.Record
		out.Record = &record
	}
	return &out
}

// Ref 返回用于展示的标识：优先链上 ID。
func (t *Transaction) Ref() string {
	if t.ID != "" {
		return t.ID
	}
	return t.LocalID
}

// AmountString 返回金额的十进制表示，未设置时为 "0"。
func AmountString(a math.Int) string {
	if a.IsNil() {
		return "0"
	}
	return a.String()
}

// ClarityArg 是一个已编码为 Clarity 字面量的合约参数，例如 u100 或 'ST1...。
type ClarityArg struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// ContractCall 是交给钱包签名并广播的合约调用。
type ContractCall struct {
	Network    network.Network `json:"network"`
	ContractID string          `json:"contract_id"`
	Function   string          `json:"function"`
	Args       []ClarityArg    `json:"args"`
	Sender     string          `json:"sender"`
}

// Contract 拆分 ContractID 为部署地址与合约名。
func (c ContractCall) Contract() (address, name string) {
	address, name, _ = strings.Cut(c.ContractID, ".")
	return address, name
}

// Arg 按名称查找参数。
func (c ContractCall) Arg(name string) (string, bool) {
	for _, a := range c.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Submitter 负责签名并广播合约调用，返回链上交易 ID。
type Submitter interface {
	SignAndSubmit(ctx context.Context, call ContractCall) (string, error)
}

// StatusReader 读取链上交易状态。
type StatusReader interface {
	GetTransactionStatus(ctx context.Context, id string) (StatusResult, error)
}
