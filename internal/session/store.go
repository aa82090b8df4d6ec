// Package session holds the wallet session state machine. It is the only
// component exposed to presentation code: callers read Snapshots, subscribe
// to transitions and invoke operations, and every mutation flows through the
// Store.
//
// States:
//
//	disconnected -> connecting -> connected -> disconnected
//	connected -> switching_network -> connected
package session

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"BlueCarbon-Chain/internal/chainapi"
	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/events"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/observability/metrics"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/internal/wallet"
	"BlueCarbon-Chain/pkg/logger"
)

// Status 是会话连接状态。
type Status string

const (
	StatusDisconnected     Status = "disconnected"
	StatusConnecting       Status = "connecting"
	StatusConnected        Status = "connected"
	StatusSwitchingNetwork Status = "switching_network"
)

// Snapshot 是某次状态转换后的只读视图。
type Snapshot struct {
	Seq          uint64              `json:"seq"`
	Status       Status              `json:"status"`
	Account      string              `json:"account,omitempty"`
	Provider     wallet.ProviderKind `json:"provider,omitempty"`
	Network      network.Network     `json:"network"`
	Balance      *chainapi.Balance   `json:"balance,omitempty"`
	Error        string              `json:"error,omitempty"`
	ErrorCode    xerrors.Code        `json:"error_code,omitempty"`
	Transactions []*txn.Transaction  `json:"transactions"`
}

// Transaction 按 LocalID 或链上 ID 查找快照中的交易。
func (s Snapshot) Transaction(id string) (*txn.Transaction, bool) {
	for _, tx := range s.Transactions {
		if tx.LocalID == id || (tx.ID != "" && tx.ID == id) {
			return tx, true
		}
	}
	return nil, false
}

// Observer 在每次状态转换后被调用，按转换顺序逐个投递。
// Observer 内不能同步调用 Store 的变更操作。
type Observer func(Snapshot)

// ClientFactory 为网络配置创建链读取客户端。
type ClientFactory func(cfg network.Config) (chainapi.Client, error)

// Config 描述 Store 的依赖。
type Config struct {
	Resolver       *network.Resolver
	Connector      *wallet.Connector
	Clients        ClientFactory
	Ledger         txn.Store
	InitialNetwork network.Network
	PollInterval   time.Duration
	MaxAttempts    int
	Sink           events.Sink
	Metrics        *metrics.Collectors
	Logger         *slog.Logger
}

type notification struct {
	seq       uint64
	snapshot  Snapshot
	observers []Observer
}

// Store 是钱包会话的聚合状态机。
//
// 同一时间只允许一个 Connect、SwitchNetwork 或 RefreshBalance 在执行，
// 其余调用立即返回 OPERATION_IN_PROGRESS。交易提交不受此限制，互不相关
// 的交易可以并发轮询。
type Store struct {
	resolver  *network.Resolver
	connector *wallet.Connector
	clients   ClientFactory
	ledger    txn.Store
	interval  time.Duration
	attempts  int
	sink      events.Sink
	metrics   *metrics.Collectors
	logger    *slog.Logger
	audit     *slog.Logger

	mu            sync.Mutex
	closed        bool
	busy          bool
	status        Status
	account       string
	provider      wallet.ProviderKind
	balance       *chainapi.Balance
	lastErr       error
	sessionEpoch  uint64
	connectCancel context.CancelCauseFunc

	netEpoch  uint64
	netCfg    network.Config
	client    chainapi.Client
	orch      *txn.Orchestrator
	netCtx    context.Context
	netCancel context.CancelCauseFunc

	txs   map[string]*txn.Transaction
	order []string

	observers  map[uint64]Observer
	nextObsID  uint64
	seq        uint64
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64

	polls sync.WaitGroup
}

// NewStore 创建处于 disconnected 状态的 Store。
func NewStore(cfg Config) (*Store, error) {
	if cfg.Connector == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "session store requires a wallet connector")
	}
	if cfg.Resolver == nil {
		cfg.Resolver = network.DefaultResolver()
	}
	if cfg.InitialNetwork == "" {
		cfg.InitialNetwork = network.Testnet
	}
	if !cfg.InitialNetwork.Valid() {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown network "+string(cfg.InitialNetwork))
	}
	if cfg.Ledger == nil {
		cfg.Ledger = txn.NewMemoryStore()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("session")
	}
	if cfg.Clients == nil {
		base := chainapi.HTTPConfig{Metrics: cfg.Metrics}
		cfg.Clients = func(nc network.Config) (chainapi.Client, error) {
			return chainapi.ForNetwork(nc, base)
		}
	}

	s := &Store{
		resolver:  cfg.Resolver,
		connector: cfg.Connector,
		clients:   cfg.Clients,
		ledger:    cfg.Ledger,
		interval:  cfg.PollInterval,
		attempts:  cfg.MaxAttempts,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    log,
		audit:     logger.Audit(),
		status:    StatusDisconnected,
		txs:       make(map[string]*txn.Transaction),
		observers: make(map[uint64]Observer),
	}
	s.notifyCond = sync.NewCond(&s.notifyMu)

	netCfg := s.resolver.Resolve(cfg.InitialNetwork)
	client, orch, err := s.bind(netCfg)
	if err != nil {
		return nil, err
	}
	s.netCfg, s.client, s.orch = netCfg, client, orch
	s.netCtx, s.netCancel = context.WithCancelCause(context.Background())
	return s, nil
}

func (s *Store) bind(cfg network.Config) (chainapi.Client, *txn.Orchestrator, error) {
	client, err := s.clients(cfg)
	if err != nil {
		return nil, nil, xerrors.Wrap(chainapi.CodeChainUnavailable, err, "build chain client",
			xerrors.WithMetadata("network", string(cfg.Network)))
	}
	orch := txn.NewOrchestrator(cfg, s.connector.Signer(), client, s.ledger,
		txn.WithEventSink(s.sink),
		txn.WithMetrics(s.metrics),
	)
	return client, orch, nil
}

// Subscribe 注册观察者，返回取消订阅函数。
func (s *Store) Subscribe(fn Observer) func() {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

// Snapshot 返回当前状态。
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// NetworkConfig 返回当前网络的配置。
func (s *Store) NetworkConfig() network.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netCfg
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Seq:          s.seq,
		Status:       s.status,
		Account:      s.account,
		Provider:     s.provider,
		Network:      s.netCfg.Network,
		Transactions: make([]*txn.Transaction, 0, len(s.order)),
	}
	if s.balance != nil {
		b := *s.balance
		snap.Balance = &b
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
		snap.ErrorCode = xerrors.CodeOf(s.lastErr)
	}
	for _, id := range s.order {
		snap.Transactions = append(snap.Transactions, s.txs[id].Clone())
	}
	return snap
}

// commitLocked 记录一次状态转换，返回的通知须在释放锁后交给 deliver。
func (s *Store) commitLocked() notification {
	s.seq++
	observers := make([]Observer, 0, len(s.observers))
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		observers = append(observers, s.observers[id])
	}
	s.metrics.SessionTransition(string(s.status))
	return notification{seq: s.seq, snapshot: s.snapshotLocked(), observers: observers}
}

// deliver 按 seq 顺序投递通知。
func (s *Store) deliver(n notification) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	for s.delivered+1 != n.seq {
		s.notifyCond.Wait()
	}
	// observer panic 时同样推进 delivered。
	defer func() {
		s.delivered = n.seq
		s.notifyCond.Broadcast()
	}()
	for _, fn := range n.observers {
		fn(n.snapshot)
	}
}

func (s *Store) setStatusLocked(status Status) {
	if s.status != status {
		s.audit.Info("session transition",
			slog.String("from", string(s.status)),
			slog.String("to", string(status)),
			slog.String("network", string(s.netCfg.Network)),
			slog.String("account", s.account),
		)
	}
	s.status = status
}

// Connect 通过指定钱包授权账户。连接层失败记录在 Snapshot.Error 中，
// 不作为错误返回。连接过程中调用 Disconnect 会使本次结果被丢弃并返回
// SESSION_RESET。
func (s *Store) Connect(ctx context.Context, kind wallet.ProviderKind) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return xerrors.New(CodeStoreClosed, "")
	}
	if s.busy {
		s.mu.Unlock()
		return errInProgress("connect")
	}
	if s.status == StatusConnected && s.provider == kind {
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	s.sessionEpoch++
	epoch := s.sessionEpoch
	connectCtx, cancel := context.WithCancelCause(ctx)
	s.connectCancel = cancel
	s.setStatusLocked(StatusConnecting)
	s.account, s.provider, s.balance = "", "", nil
	s.lastErr = nil
	n := s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)

	session, err := s.connector.Connect(connectCtx, kind)
	cancel(nil)

	s.mu.Lock()
	if s.sessionEpoch != epoch {
		s.busy = false
		s.mu.Unlock()
		if err == nil {
			s.connector.Disconnect()
		}
		s.logger.Info("连接结果已丢弃", slog.String("provider", string(kind)))
		return xerrors.New(CodeSessionReset, "", xerrors.WithMetadata("provider", string(kind)))
	}
	s.connectCancel = nil
	if err != nil {
		s.busy = false
		s.setStatusLocked(StatusDisconnected)
		s.lastErr = err
		n = s.commitLocked()
		s.mu.Unlock()
		s.deliver(n)
		s.logger.Warn("钱包连接失败",
			slog.String("provider", string(kind)),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
		return nil
	}

	s.account = session.Account
	s.provider = session.Provider
	s.balance = nil
	s.setStatusLocked(StatusConnected)
	n = s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)

	s.fetchBalance(ctx)
	s.release()
	return nil
}

// Disconnect 清除会话。它总是成功，并会中断进行中的 Connect。
// 正在轮询的交易不受影响。
func (s *Store) Disconnect() {
	s.mu.Lock()
	s.sessionEpoch++
	if s.connectCancel != nil {
		s.connectCancel(xerrors.New(CodeSessionReset, ""))
		s.connectCancel = nil
	}
	s.setStatusLocked(StatusDisconnected)
	s.account = ""
	s.provider = ""
	s.balance = nil
	s.lastErr = nil
	n := s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)

	s.connector.Disconnect()
}

// SwitchNetwork 切换到网络 target：重新解析配置、重建链客户端、以
// NETWORK_CHANGED 取消旧网络上的轮询，已连接时重新读取余额。
func (s *Store) SwitchNetwork(ctx context.Context, target network.Network) error {
	if !target.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, "unknown network "+string(target))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return xerrors.New(CodeStoreClosed, "")
	}
	if s.busy {
		s.mu.Unlock()
		return errInProgress("switch_network")
	}
	from := s.netCfg.Network
	if from == target {
		s.mu.Unlock()
		return nil
	}
	s.busy = true
	if s.status == StatusConnected {
		s.setStatusLocked(StatusSwitchingNetwork)
		n := s.commitLocked()
		s.mu.Unlock()
		s.deliver(n)
	} else {
		s.mu.Unlock()
	}
	defer s.release()

	cfg := s.resolver.Resolve(target)
	client, orch, err := s.bind(cfg)

	s.mu.Lock()
	if err != nil {
		if s.status == StatusSwitchingNetwork {
			s.setStatusLocked(StatusConnected)
		}
		s.lastErr = err
		n := s.commitLocked()
		s.mu.Unlock()
		s.deliver(n)
		return err
	}
	s.netCancel(txn.NewNetworkChanged(from, target))
	s.netCtx, s.netCancel = context.WithCancelCause(context.Background())
	s.netEpoch++
	s.netCfg, s.client, s.orch = cfg, client, orch
	s.balance = nil
	s.lastErr = nil
	if s.status == StatusSwitchingNetwork {
		s.setStatusLocked(StatusConnected)
	}
	connected := s.status == StatusConnected
	n := s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)

	s.logger.Info("网络已切换", slog.String("from", string(from)), slog.String("to", string(target)))
	if connected {
		s.fetchBalance(ctx)
	}
	return nil
}

// RefreshBalance 重新读取当前账户余额。读取失败时余额为 fallback 的 "0"。
func (s *Store) RefreshBalance(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return xerrors.New(CodeStoreClosed, "")
	}
	if s.busy {
		s.mu.Unlock()
		return errInProgress("refresh_balance")
	}
	if s.status != StatusConnected {
		s.mu.Unlock()
		return xerrors.New(CodeNotConnected, "")
	}
	s.busy = true
	s.mu.Unlock()
	defer s.release()

	s.fetchBalance(ctx)
	return nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// fetchBalance 读取余额，仅当会话与网络在读取期间未变化时写入。
func (s *Store) fetchBalance(ctx context.Context) {
	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	account, client := s.account, s.client
	sessionEpoch, netEpoch := s.sessionEpoch, s.netEpoch
	s.mu.Unlock()

	balance := client.GetBalance(ctx, account)

	s.mu.Lock()
	if s.sessionEpoch != sessionEpoch || s.netEpoch != netEpoch || s.status != StatusConnected {
		s.mu.Unlock()
		return
	}
	s.balance = &balance
	n := s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)
}

// SubmitTransaction 提交一笔交易并在后台轮询至终态。轮询绑定在当前网络上，
// 切换网络时以 NETWORK_CHANGED 停止。只有参数不合法会返回错误，提交失败
// 以 failed 交易返回。
func (s *Store) SubmitTransaction(ctx context.Context, kind txn.Kind, payload txn.Payload) (*txn.Transaction, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, xerrors.New(CodeStoreClosed, "")
	}
	if s.status != StatusConnected {
		s.mu.Unlock()
		return nil, xerrors.New(CodeNotConnected, "")
	}
	orch, pollCtx := s.orch, s.netCtx
	s.mu.Unlock()

	tx, err := orch.Submit(ctx, kind, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.upsertLocked(tx)
	n := s.commitLocked()
	poll := tx.Status == txn.StatusPending && !s.closed
	if poll {
		s.polls.Add(1)
	}
	s.mu.Unlock()
	s.deliver(n)

	if poll {
		go s.watch(pollCtx, orch, tx.LocalID)
	}
	return tx, nil
}

func (s *Store) watch(ctx context.Context, orch *txn.Orchestrator, localID string) {
	defer s.polls.Done()
	final, err := orch.PollUntilTerminal(ctx, localID, s.interval, s.attempts)
	if err != nil {
		s.logger.Info("停止轮询交易",
			slog.String("local_id", localID),
			slog.String("code", string(xerrors.CodeOf(err))),
			slog.Any("error", err),
		)
	}
	if final == nil {
		return
	}
	s.mu.Lock()
	s.upsertLocked(final)
	n := s.commitLocked()
	s.mu.Unlock()
	s.deliver(n)
}

func (s *Store) upsertLocked(tx *txn.Transaction) {
	if _, exists := s.txs[tx.LocalID]; !exists {
		s.order = append([]string{tx.LocalID}, s.order...)
	}
	s.txs[tx.LocalID] = tx.Clone()
}

// RegisterProject 以当前账户为所有者登记项目。登记不进入会话的交易列表。
func (s *Store) RegisterProject(ctx context.Context, reg txn.ProjectRegistration) (txn.ProjectReceipt, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return txn.ProjectReceipt{}, xerrors.New(CodeStoreClosed, "")
	}
	if s.status != StatusConnected {
		s.mu.Unlock()
		return txn.ProjectReceipt{}, xerrors.New(CodeNotConnected, "")
	}
	orch, account := s.orch, s.account
	s.mu.Unlock()

	if reg.Owner == "" {
		reg.Owner = account
	}
	return orch.RegisterProject(ctx, reg)
}

// RequestFaucet 为当前账户打开测试网水龙头。
func (s *Store) RequestFaucet(ctx context.Context) (network.FaucetInfo, error) {
	s.mu.Lock()
	if s.status != StatusConnected {
		s.mu.Unlock()
		return network.FaucetInfo{}, xerrors.New(CodeNotConnected, "")
	}
	cfg, account := s.netCfg, s.account
	s.mu.Unlock()
	return s.connector.RequestNetworkFaucet(ctx, cfg, account)
}

// CheckDeployment 探测当前网络上配置的合约是否已部署。
func (s *Store) CheckDeployment(ctx context.Context) chainapi.Deployment {
	s.mu.Lock()
	client, contracts := s.client, s.netCfg.Contracts
	s.mu.Unlock()
	return client.CheckContractDeployment(ctx, contracts)
}

// History 返回当前账户在链上的交易记录，未连接时为空。
func (s *Store) History(ctx context.Context) []*txn.Transaction {
	s.mu.Lock()
	client, account := s.client, s.account
	connected := s.status == StatusConnected
	s.mu.Unlock()
	if !connected || strings.TrimSpace(account) == "" {
		return []*txn.Transaction{}
	}
	return client.GetTransactions(ctx, account)
}

// Close 停止所有轮询并等待其退出。
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.netCancel(nil)
	s.mu.Unlock()

	s.polls.Wait()
	return nil
}
