package txn

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"cosmossdk.io/math"
)

// 注册表合约上的写入函数。
const (
	FunctionMint     = "mint-credits"
	FunctionTransfer = "transfer-credits"
	FunctionRetire   = "retire-credits"
)

// Payload 是某一类交易的业务参数。
type Payload interface {
	Kind() Kind
	Validate() error
	call(contractID string) ContractCall
	apply(tx *Transaction)
}

// MintPayload 为项目铸造新的碳信用。TokenID 为空时按 BCR-<project>-<unix ms> 生成。
type MintPayload struct {
	ProjectID   string
	ProjectName string
	ProjectType string
	Location    string
	Amount      math.Int
	Owner       string
	TokenID     string
}

// TransferPayload 在两个账户间转移碳信用。
type TransferPayload struct {
	TokenID string
	From    string
	To      string
	Amount  math.Int
}

// RetirePayload 注销碳信用，用于抵消排放。
type RetirePayload struct {
	TokenID string
	Owner   string
	Amount  math.Int
	Reason  string
}

// MintTokenID 生成铸造时使用的 token ID。
func MintTokenID(projectID string, now time.Time) string {
	return fmt.Sprintf("BCR-%s-%d", projectID, now.UnixMilli())
}

func (MintPayload) Kind() Kind     { return KindMint }
func (TransferPayload) Kind() Kind { return KindTransfer }
func (RetirePayload) Kind() Kind   { return KindRetire }

// Validate 检查必填字段与金额。
func (p MintPayload) Validate() error {
	if blank(p.ProjectID) {
		return invalidPayload("mint: project id is required")
	}
	if blank(p.Owner) {
		return invalidPayload("mint: owner is required")
	}
	return validateAmount("mint", p.Amount)
}

// Validate 检查必填字段与金额。
func (p TransferPayload) Validate() error {
	switch {
	case blank(p.TokenID):
		return invalidPayload("transfer: token id is required")
	case blank(p.From) || blank(p.To):
		return invalidPayload("transfer: sender and recipient are required")
	case strings.TrimSpace(p.From) == strings.TrimSpace(p.To):
		return invalidPayload("transfer: sender and recipient must differ")
	}
	return validateAmount("transfer", p.Amount)
}

// Validate 检查必填字段与金额。
func (p RetirePayload) Validate() error {
	switch {
	case blank(p.TokenID):
		return invalidPayload("retire: token id is required")
	case blank(p.Owner):
		return invalidPayload("retire: owner is required")
	case blank(p.Reason):
		return invalidPayload("retire: reason is required")
	}
	return validateAmount("retire", p.Amount)
}

func (p MintPayload) call(contractID string) ContractCall {
	return ContractCall{
		ContractID: contractID,
		Function:   FunctionMint,
		Sender:     p.Owner,
		Args: []ClarityArg{
			{Name: "token-id", Value: clarityString(p.TokenID)},
			{Name: "project-id", Value: clarityString(p.ProjectID)},
			{Name: "project-name", Value: clarityString(p.ProjectName)},
			{Name: "amount", Value: clarityUint(p.Amount)},
			{Name: "recipient", Value: clarityPrincipal(p.Owner)},
		},
	}
}

func (p TransferPayload) call(contractID string) ContractCall {
	return ContractCall{
		ContractID: contractID,
		Function:   FunctionTransfer,
		Sender:     p.From,
		Args: []ClarityArg{
			{Name: "token-id", Value: clarityString(p.TokenID)},
			{Name: "amount", Value: clarityUint(p.Amount)},
			{Name: "sender", Value: clarityPrincipal(p.From)},
			{Name: "recipient", Value: clarityPrincipal(p.To)},
		},
	}
}

func (p RetirePayload) call(contractID string) ContractCall {
	return ContractCall{
		ContractID: contractID,
		Function:   FunctionRetire,
		Sender:     p.Owner,
		Args: []ClarityArg{
			{Name: "token-id", Value: clarityString(p.TokenID)},
			{Name: "amount", Value: clarityUint(p.Amount)},
			{Name: "reason", Value: clarityString(p.Reason)},
		},
	}
}

func (p MintPayload) apply(tx *Transaction) {
	tx.Amount = p.Amount
	tx.To = p.Owner
	tx.TokenID = p.TokenID
	tx.ProjectID = p.ProjectID
	tx.Record = &CarbonCreditRecord{
		ProjectID: p.ProjectID,
		Amount:    p.Amount,
		Owner:     p.Owner,
		MintedAt:  tx.CreatedAt,
		Status:    RecordMinted,
		TokenID:   p.TokenID,
		Metadata: CreditMetadata{
			ProjectName:        p.ProjectName,
			ProjectType:        p.ProjectType,
			Location:           p.Location,
			VerificationStatus: "pending",
		},
	}
}

func (p TransferPayload) apply(tx *Transaction) {
	tx.Amount = p.Amount
	tx.From = p.From
	tx.To = p.To
	tx.TokenID = p.TokenID
	tx.Record = &CarbonCreditRecord{
		Amount:  p.Amount,
		Owner:   p.To,
		Status:  RecordTransferred,
		TokenID: p.TokenID,
	}
}

func (p RetirePayload) apply(tx *Transaction) {
	tx.Amount = p.Amount
	tx.From = p.Owner
	tx.TokenID = p.TokenID
	tx.Record = &CarbonCreditRecord{
		Amount:  p.Amount,
		Owner:   p.Owner,
		Status:  RecordRetired,
		TokenID: p.TokenID,
	}
}

// normalizePayload 解引用指针形式的 payload，并校验其与 kind 一致。
func normalizePayload(kind Kind, payload Payload) (Payload, error) {
	switch p := payload.(type) {
	case *MintPayload:
		if p == nil {
			return nil, invalidPayload("payload is nil")
		}
		payload = *p
	case *TransferPayload:
		if p == nil {
			return nil, invalidPayload("payload is nil")
		}
		payload = *p
	case *RetirePayload:
		if p == nil {
			return nil, invalidPayload("payload is nil")
		}
		payload = *p
	case nil:
		return nil, invalidPayload("payload is nil")
	}
	if !kind.Valid() {
		return nil, invalidPayload(fmt.Sprintf("unknown transaction kind %q", kind))
	}
	if payload.Kind() != kind {
		return nil, invalidPayload(fmt.Sprintf("payload of kind %s does not match %s", payload.Kind(), kind))
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	return payload, nil
}

func validateAmount(op string, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return invalidPayload(op + ": amount must be a positive integer")
	}
	return nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func clarityUint(a math.Int) string {
	return "u" + AmountString(a)
}

func clarityString(s string) string {
	return strconv.Quote(s)
}

func clarityPrincipal(addr string) string {
	return "'" + strings.TrimSpace(addr)
}

// ParseClarityUint 解析 u<digits> 形式的 Clarity 无符号整数。
func ParseClarityUint(raw string) (math.Int, bool) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "u") {
		return math.Int{}, false
	}
	return ParseAmount(raw[1:])
}

// ParseAmount 解析非负的十进制整数金额。
func ParseAmount(raw string) (math.Int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.TrimLeft(raw, "0123456789") != "" {
		return math.Int{}, false
	}
	v, ok := math.NewIntFromString(raw)
	if !ok || v.IsNegative() {
		return math.Int{}, false
	}
	return v, true
}
