package chainapi

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/txn"
)

// SimOption 定义 SimulatedChain 的可选配置。
type SimOption func(*SimulatedChain)

// WithConfirmationDelay 使提交的交易在 d 之后自动变为 success。
// d 为 0 时交易保持 pending，直到调用 Mine。
func WithConfirmationDelay(d time.Duration) SimOption {
	return func(s *SimulatedChain) { s.confirmAfter = d }
}

// WithSimClock 覆盖时间来源。
func WithSimClock(now func() time.Time) SimOption {
	return func(s *SimulatedChain) {
		if now != nil {
			s.now = now
		}
	}
}

type simTx struct {
	tx        *txn.Transaction
	submitted time.Time
	mined     bool
}

// SimulatedChain 是内存中的链，既实现 Client 读取接口，也实现
// txn.Submitter 写入接口，供模拟钱包与测试使用。状态读取不改变链状态。
type SimulatedChain struct {
	mu           sync.Mutex
	network      network.Network
	balances     map[string]string
	deployed     map[string]bool
	projects     map[string]string
	txs          map[string]*simTx
	order        []string
	nonce        uint64
	height       uint64
	unavailable  bool
	rejectNext   error
	confirmAfter time.Duration
	now          func() time.Time
}

// NewSimulatedChain 创建空的模拟链。
func NewSimulatedChain(n network.Network, opts ...SimOption) *SimulatedChain {
	s := &SimulatedChain{
		network:  n,
		balances: make(map[string]string),
		deployed: make(map[string]bool),
		projects: make(map[string]string),
		txs:      make(map[string]*simTx),
		height:   1,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// NewSimulatedChainFor 创建模拟链，并将 cfg 中已配置地址的合约视为已部署。
func NewSimulatedChainFor(cfg network.Config, opts ...SimOption) *SimulatedChain {
	s := NewSimulatedChain(cfg.Network, opts...)
	for _, addr := range cfg.DeployedContracts() {
		s.deployed[addr] = true
	}
	return s
}

// SetBalance 设置账户余额。amount 原样返回，便于模拟异常数据。
func (s *SimulatedChain) SetBalance(address, amount string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[strings.TrimSpace(address)] = amount
}

// SetDeployed 标记合约地址是否已部署。
func (s *SimulatedChain) SetDeployed(address string, deployed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deployed {
		s.deployed[address] = true
		return
	}
	delete(s.deployed, address)
}

// SetUnavailable 模拟链索引服务不可用。
func (s *SimulatedChain) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

// RejectNext 使下一次提交返回 err。
func (s *SimulatedChain) RejectNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = err
}

// SignAndSubmit 接受合约调用并返回交易哈希。
func (s *SimulatedChain) SignAndSubmit(_ context.Context, call txn.ContractCall) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rejectNext; err != nil {
		s.rejectNext = nil
		return "", err
	}
	if s.unavailable {
		return "", xerrors.New(CodeChainUnavailable, "simulated chain is down")
	}
	if !s.deployed[call.ContractID] {
		return "", xerrors.New(txn.CodeSubmissionFailed, "contract not deployed",
			xerrors.WithMetadata("contract", call.ContractID))
	}

	var projectID string
	if call.Function == txn.FunctionRegisterProject {
		raw, _ := call.Arg("project-id")
		projectID, _ = strconv.Unquote(raw)
		if projectID == "" {
			return "", xerrors.New(txn.CodeSubmissionFailed, "register-project requires a project-id")
		}
		if _, dup := s.projects[projectID]; dup {
			return "", xerrors.New(txn.CodeSubmissionFailed, "project already registered",
				xerrors.WithMetadata("project_id", projectID))
		}
	}

	s.nonce++
	encoded, err := json.Marshal(call)
	if err != nil {
		return "", xerrors.Wrap(txn.CodeSubmissionFailed, err, "encode contract call")
	}
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], s.nonce)
	id := crypto.Keccak256Hash(encoded, nonce[:]).Hex()

	now := s.now()
	tx := &txn.Transaction{
		ID:        id,
		Kind:      ClassifyFunction(call.Function),
		Status:    txn.StatusPending,
		From:      call.Sender,
		Network:   s.network,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if raw, ok := call.Arg("amount"); ok {
		if v, ok := txn.ParseClarityUint(raw); ok {
			tx.Amount = v
		}
	}
	if raw, ok := call.Arg("recipient"); ok {
		tx.To = strings.TrimPrefix(raw, "'")
	}
	if projectID != "" {
		s.projects[projectID] = call.Sender
	}
	s.txs[id] = &simTx{tx: tx, submitted: now}
	s.order = append(s.order, id)
	return id, nil
}

// Projects 返回已登记的项目及其所有者。
func (s *SimulatedChain) Projects() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.projects))
	for id, owner := range s.projects {
		out[id] = owner
	}
	return out
}

// Mine 将 pending 交易写为终态。已是终态的交易不受影响。
func (s *SimulatedChain) Mine(id string, status txn.Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.txs[NormalizeTxID(id)]
	if !ok || entry.mined || !status.Terminal() {
		return false
	}
	s.mineLocked(entry, status)
	return true
}

func (s *SimulatedChain) mineLocked(entry *simTx, status txn.Status) {
	s.height++
	entry.mined = true
	entry.tx.Status = status
	entry.tx.BlockHeight = s.height
	entry.tx.UpdatedAt = s.now()
}

// settleLocked 在读取前处理已到期的自动确认。
func (s *SimulatedChain) settleLocked() {
	if s.confirmAfter <= 0 {
		return
	}
	now := s.now()
	for _, id := range s.order {
		entry := s.txs[id]
		if !entry.mined && now.Sub(entry.submitted) >= s.confirmAfter {
			s.mineLocked(entry, txn.StatusSuccess)
		}
	}
}

// GetBalance 返回设置的余额，未设置的账户为 "0"。
func (s *SimulatedChain) GetBalance(_ context.Context, address string) Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.unavailable {
		return Balance{Amount: "0", AsOf: now, Source: SourceFallback, Err: "simulated chain is down"}
	}
	raw, ok := s.balances[strings.TrimSpace(address)]
	if !ok {
		return Balance{Amount: "0", AsOf: now, Source: SourceConfirmed}
	}
	amount, valid := txn.ParseAmount(raw)
	if !valid {
		return Balance{Amount: "0", AsOf: now, Source: SourceFallback, Err: "malformed balance " + raw}
	}
	return Balance{Amount: amount.String(), AsOf: now, Source: SourceConfirmed}
}

// GetTransactions 返回与地址相关的交易，最新的在前。
func (s *SimulatedChain) GetTransactions(_ context.Context, address string) []*txn.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*txn.Transaction{}
	if s.unavailable {
		return out
	}
	s.settleLocked()
	address = strings.TrimSpace(address)
	for i := len(s.order) - 1; i >= 0; i-- {
		tx := s.txs[s.order[i]].tx
		if tx.From == address || tx.To == address {
			out = append(out, tx.Clone())
		}
	}
	return out
}

// GetTransactionStatus 返回交易状态，未知交易视为 failed。
func (s *SimulatedChain) GetTransactionStatus(_ context.Context, id string) (txn.StatusResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return txn.StatusResult{}, xerrors.New(CodeChainUnavailable, "simulated chain is down")
	}
	s.settleLocked()
	entry, ok := s.txs[NormalizeTxID(id)]
	if !ok {
		return txn.StatusResult{Status: txn.StatusFailed, Reason: "unknown transaction " + id}, nil
	}
	res := txn.StatusResult{Status: entry.tx.Status, BlockHeight: entry.tx.BlockHeight}
	if res.Status == txn.StatusFailed {
		res.Reason = "rejected by the simulated chain"
	}
	if entry.mined {
		res.Confirmations = s.height - entry.tx.BlockHeight + 1
	}
	return res, nil
}

// CheckContractDeployment 按已部署地址集合报告结果。
func (s *SimulatedChain) CheckContractDeployment(_ context.Context, contracts map[network.ContractName]string) Deployment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []network.ContractName
	if !s.unavailable {
		for name, addr := range contracts {
			if addr != "" && s.deployed[addr] {
				found = append(found, name)
			}
		}
	}
	return newDeployment(found)
}

// SimulatedNetworks 为每个网络维护一条模拟链，写入按 ContractCall.Network 路由。
type SimulatedNetworks struct {
	chains map[network.Network]*SimulatedChain
}

// NewSimulatedNetworks 为 resolver 中的每个网络创建模拟链，已配置地址的合约视为已部署。
func NewSimulatedNetworks(resolver *network.Resolver, opts ...SimOption) *SimulatedNetworks {
	chains := make(map[network.Network]*SimulatedChain, len(network.All()))
	for _, n := range network.All() {
		chains[n] = NewSimulatedChainFor(resolver.Resolve(n), opts...)
	}
	return &SimulatedNetworks{chains: chains}
}

// Chain 返回某个网络的模拟链。
func (s *SimulatedNetworks) Chain(n network.Network) *SimulatedChain {
	return s.chains[n]
}

// Client 返回 cfg 所在网络的读取接口，签名与会话层的 ClientFactory 一致。
func (s *SimulatedNetworks) Client(cfg network.Config) (Client, error) {
	chain, ok := s.chains[cfg.Network]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "no simulated chain for network "+string(cfg.Network))
	}
	return chain, nil
}

// SignAndSubmit 将调用交给 call.Network 对应的模拟链。
func (s *SimulatedNetworks) SignAndSubmit(ctx context.Context, call txn.ContractCall) (string, error) {
	chain, ok := s.chains[call.Network]
	if !ok {
		return "", xerrors.New(txn.CodeSubmissionFailed, "no simulated chain for network "+string(call.Network))
	}
	return chain.SignAndSubmit(ctx, call)
}

var (
	_ txn.Submitter = (*SimulatedNetworks)(nil)
	_ Client        = (*HTTPClient)(nil)
	_ Client        = (*SimulatedChain)(nil)
	_ txn.Submitter = (*SimulatedChain)(nil)
)
