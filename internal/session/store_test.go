package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cosmossdk.io/math"

	"BlueCarbon-Chain/internal/chainapi"
	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/internal/wallet"
)

// gatedProvider 在 release 关闭前阻塞授权，并忽略 ctx。
type gatedProvider struct {
	once        sync.Once
	entered     chan struct{}
	release     chan struct{}
	disconnects atomic.Int32
}

func newGatedProvider() *gatedProvider {
	return &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedProvider) Kind() wallet.ProviderKind { return wallet.ProviderXverse }
func (g *gatedProvider) IsAvailable() bool         { return true }
func (g *gatedProvider) RequestAccounts(context.Context) ([]string, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return []string{"ST1GATED"}, nil
}
func (g *gatedProvider) SignAndSubmit(context.Context, txn.ContractCall) (string, error) {
	return "", errors.New("not used")
}
func (g *gatedProvider) Disconnect() error {
	g.disconnects.Add(1)
	return nil
}

func newTestStore(t *testing.T, providers ...wallet.Provider) (*Store, *chainapi.SimulatedNetworks) {
	t.Helper()
	resolver := network.DefaultResolver()
	nets := chainapi.NewSimulatedNetworks(resolver)
	providers = append(providers, wallet.NewSimulatedProvider(wallet.ProviderLeather, nets, "ST1ABC"))
	nav := wallet.NavigatorFunc(func(context.Context, string) error { return nil })

	store, err := NewStore(Config{
		Resolver:     resolver,
		Connector:    wallet.NewConnector(nav, providers...),
		Clients:      nets.Client,
		PollInterval: 5 * time.Millisecond,
		MaxAttempts:  400,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, nets
}

func waitFor(t *testing.T, s *Store, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		snap := s.Snapshot()
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last snapshot %+v", what, snap)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func mint(owner string) txn.MintPayload {
	return txn.MintPayload{ProjectID: "p1", ProjectName: "Seagrass", Amount: math.NewInt(10), Owner: owner}
}

func TestConnectFetchesBalanceAndNotifies(t *testing.T) {
	store, nets := newTestStore(t)
	nets.Chain(network.Testnet).SetBalance("ST1ABC", "5000")

	var (
		mu       sync.Mutex
		statuses []Status
		seqs     []uint64
	)
	store.Subscribe(func(s Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		statuses = append(statuses, s.Status)
		seqs = append(seqs, s.Seq)
	})

	if err := store.Connect(context.Background(), wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusConnected || snap.Account != "ST1ABC" || snap.Provider != wallet.ProviderLeather {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Balance == nil || snap.Balance.Amount != "5000" || snap.Balance.Source != chainapi.SourceConfirmed {
		t.Fatalf("unexpected balance %+v", snap.Balance)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusConnecting, StatusConnected, StatusConnected}
	if len(statuses) != len(want) {
		t.Fatalf("statuses = %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] || seqs[i] != uint64(i+1) {
			t.Fatalf("transition %d: got %s/%d, want %s/%d", i, statuses[i], seqs[i], want[i], i+1)
		}
	}
}

func TestConnectFailuresAreRecorded(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Connect(ctx, wallet.ProviderXverse); err != nil {
		t.Fatalf("connection failures must not be returned: %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusDisconnected || snap.ErrorCode != wallet.CodeProviderUnavailable || snap.Error == "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if snap := store.Snapshot(); snap.Error != "" || snap.Status != StatusConnected {
		t.Fatalf("successful connect should clear the error: %+v", snap)
	}
}

func TestUserRejectionIsRecorded(t *testing.T) {
	resolver := network.DefaultResolver()
	nets := chainapi.NewSimulatedNetworks(resolver)
	provider := wallet.NewSimulatedProvider(wallet.ProviderLeather, nets, "ST1ABC")
	provider.RejectAuthorization(true)
	store, err := NewStore(Config{Resolver: resolver, Connector: wallet.NewConnector(nil, provider), Clients: nets.Client})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	if err := store.Connect(context.Background(), wallet.ProviderLeather); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
	if snap := store.Snapshot(); snap.ErrorCode != wallet.CodeUserRejected || snap.Account != "" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestGuardRejectsConcurrentOperations(t *testing.T) {
	gated := newGatedProvider()
	store, _ := newTestStore(t, gated)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- store.Connect(ctx, wallet.ProviderXverse) }()
	<-gated.entered

	if err := store.SwitchNetwork(ctx, network.Mainnet); !xerrors.IsCode(err, CodeOperationInProgress) {
		t.Fatalf("expected OPERATION_IN_PROGRESS from switch, got %v", err)
	}
	if err := store.Connect(ctx, wallet.ProviderLeather); !xerrors.IsCode(err, CodeOperationInProgress) {
		t.Fatalf("expected OPERATION_IN_PROGRESS from connect, got %v", err)
	}
	if err := store.RefreshBalance(ctx); !xerrors.IsCode(err, CodeOperationInProgress) {
		t.Fatalf("expected OPERATION_IN_PROGRESS from refresh, got %v", err)
	}

	close(gated.release)
	if err := <-done; err != nil {
		t.Fatalf("original connect must complete: %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusConnected || snap.Account != "ST1GATED" || snap.Network != network.Testnet {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := store.SwitchNetwork(ctx, network.Mainnet); err != nil {
		t.Fatalf("switch after connect: %v", err)
	}
}

func TestDisconnectDuringConnectResetsSession(t *testing.T) {
	gated := newGatedProvider()
	store, _ := newTestStore(t, gated)

	done := make(chan error, 1)
	go func() { done <- store.Connect(context.Background(), wallet.ProviderXverse) }()
	<-gated.entered

	store.Disconnect()
	close(gated.release)

	if err := <-done; !xerrors.IsCode(err, CodeSessionReset) {
		t.Fatalf("expected SESSION_RESET, got %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusDisconnected || snap.Account != "" {
		t.Fatalf("late connect must be discarded: %+v", snap)
	}
	if gated.disconnects.Load() != 1 {
		t.Fatalf("late provider session should be closed once, got %d", gated.disconnects.Load())
	}
	if err := store.Connect(context.Background(), wallet.ProviderLeather); err != nil {
		t.Fatalf("store must accept a new connect: %v", err)
	}
}

func TestDisconnectInterruptsCancellableConnect(t *testing.T) {
	resolver := network.DefaultResolver()
	nets := chainapi.NewSimulatedNetworks(resolver)
	provider := wallet.NewSimulatedProvider(wallet.ProviderLeather, nets, "ST1ABC")
	provider.SetAuthorizationDelay(time.Minute)
	store, err := NewStore(Config{Resolver: resolver, Connector: wallet.NewConnector(nil, provider), Clients: nets.Client})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()

	done := make(chan error, 1)
	go func() { done <- store.Connect(context.Background(), wallet.ProviderLeather) }()
	waitFor(t, store, "connecting", func(s Snapshot) bool { return s.Status == StatusConnecting })

	store.Disconnect()
	select {
	case err := <-done:
		if !xerrors.IsCode(err, CodeSessionReset) {
			t.Fatalf("expected SESSION_RESET, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect should cancel the pending authorization")
	}
}

func TestSubmitTransactionLifecycle(t *testing.T) {
	store, nets := newTestStore(t)
	ctx := context.Background()

	if _, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC")); !xerrors.IsCode(err, CodeNotConnected) {
		t.Fatalf("expected NOT_CONNECTED, got %v", err)
	}
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := store.SubmitTransaction(ctx, txn.KindMint, txn.MintPayload{Owner: "ST1ABC"}); !xerrors.IsCode(err, txn.CodeInvalidPayload) {
		t.Fatalf("expected INVALID_PAYLOAD, got %v", err)
	}

	tx, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if tx.Status != txn.StatusPending || tx.ID == "" || tx.LocalID == "" {
		t.Fatalf("unexpected submitted tx %+v", tx)
	}
	if snapTx, ok := store.Snapshot().Transaction(tx.LocalID); !ok || snapTx.Status != txn.StatusPending {
		t.Fatalf("submitted tx should be visible: %+v", snapTx)
	}

	nets.Chain(network.Testnet).Mine(tx.ID, txn.StatusSuccess)
	snap := waitFor(t, store, "confirmation", func(s Snapshot) bool {
		got, ok := s.Transaction(tx.ID)
		return ok && got.Status == txn.StatusSuccess
	})
	got, _ := snap.Transaction(tx.LocalID)
	if got.BlockHeight == 0 {
		t.Fatalf("confirmed tx should carry a block height: %+v", got)
	}
}

func TestSubmitFailureIsAFailedTransaction(t *testing.T) {
	store, nets := newTestStore(t)
	ctx := context.Background()
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	nets.Chain(network.Testnet).RejectNext(errors.New("mempool full"))

	tx, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC"))
	if err != nil {
		t.Fatalf("submission failure must not be an error: %v", err)
	}
	if tx.Status != txn.StatusFailed || tx.Error == "" {
		t.Fatalf("expected failed tx, got %+v", tx)
	}
}

func TestSwitchNetworkAbandonsPolls(t *testing.T) {
	store, nets := newTestStore(t)
	ctx := context.Background()
	nets.Chain(network.Mainnet).SetBalance("ST1ABC", "42")
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tx, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC"))
	if err != nil || tx.Status != txn.StatusPending {
		t.Fatalf("submit: %+v %v", tx, err)
	}

	if err := store.SwitchNetwork(ctx, network.Mainnet); err != nil {
		t.Fatalf("switch: %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusConnected || snap.Network != network.Mainnet || snap.Account != "ST1ABC" {
		t.Fatalf("connection state must survive the switch: %+v", snap)
	}
	if snap.Balance == nil || snap.Balance.Amount != "42" {
		t.Fatalf("balance should be re-fetched on the new network: %+v", snap.Balance)
	}

	snap = waitFor(t, store, "network_changed diagnostic", func(s Snapshot) bool {
		got, ok := s.Transaction(tx.LocalID)
		return ok && got.Diagnostic == txn.DiagnosticNetworkChanged
	})
	got, _ := snap.Transaction(tx.LocalID)
	if got.Status != txn.StatusPending || got.Network != network.Testnet {
		t.Fatalf("abandoned tx must stay pending on its own network: %+v", got)
	}

	deployment := store.CheckDeployment(ctx)
	if deployment.Deployed || len(deployment.Names) != 0 {
		t.Fatalf("mainnet contracts are not deployed: %+v", deployment)
	}
}

func TestSwitchNetworkWhileDisconnected(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.SwitchNetwork(context.Background(), network.Mainnet); err != nil {
		t.Fatalf("switch: %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusDisconnected || snap.Network != network.Mainnet || snap.Balance != nil {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if err := store.SwitchNetwork(context.Background(), network.Network("devnet")); !xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
}

func TestRequestFaucetFollowsNetwork(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.RequestFaucet(ctx); !xerrors.IsCode(err, CodeNotConnected) {
		t.Fatalf("expected NOT_CONNECTED, got %v", err)
	}
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if info, err := store.RequestFaucet(ctx); err != nil || info.URL == "" {
		t.Fatalf("testnet faucet: %+v %v", info, err)
	}
	if err := store.SwitchNetwork(ctx, network.Mainnet); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if _, err := store.RequestFaucet(ctx); !xerrors.IsCode(err, wallet.CodeFaucetUnavailable) {
		t.Fatalf("expected FAUCET_UNAVAILABLE, got %v", err)
	}
}

func TestObserversSeeTransitionsInOrder(t *testing.T) {
	store, nets := newTestStore(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seqs []uint64
	)
	store.Subscribe(func(s Snapshot) {
		mu.Lock()
		seqs = append(seqs, s.Seq)
		mu.Unlock()
	})
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC"))
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			ids <- tx.ID
		}()
	}
	wg.Wait()
	close(ids)
	for id := range ids {
		nets.Chain(network.Testnet).Mine(id, txn.StatusSuccess)
	}
	waitFor(t, store, "all confirmations", func(s Snapshot) bool {
		if len(s.Transactions) != 8 {
			return false
		}
		for _, tx := range s.Transactions {
			if tx.Status != txn.StatusSuccess {
				return false
			}
		}
		return true
	})

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("notification %d carried seq %d; deliveries out of order: %v", i, seq, seqs)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	store, _ := newTestStore(t)
	var calls atomic.Int32
	unsubscribe := store.Subscribe(func(Snapshot) { calls.Add(1) })
	store.Disconnect()
	unsubscribe()
	store.Disconnect()
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", calls.Load())
	}
}

func TestHistoryUsesActiveAccount(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	if got := store.History(ctx); len(got) != 0 {
		t.Fatalf("disconnected history should be empty, got %d", len(got))
	}
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if _, err := store.SubmitTransaction(ctx, txn.KindMint, mint("ST1ABC")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	history := store.History(ctx)
	if len(history) != 1 || history[0].Kind != txn.KindMint {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestRegisterProjectUsesConnectedAccount(t *testing.T) {
	store, nets := newTestStore(t)
	ctx := context.Background()
	reg := txn.ProjectRegistration{Name: "Eelgrass Meadow", ProjectType: "seagrass"}
	if _, err := store.RegisterProject(ctx, reg); !xerrors.IsCode(err, CodeNotConnected) {
		t.Fatalf("expected NOT_CONNECTED, got %v", err)
	}
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}

	receipt, err := store.RegisterProject(ctx, reg)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if receipt.Owner != "ST1ABC" || receipt.TxID == "" || receipt.Network != network.Testnet {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if owner := nets.Chain(network.Testnet).Projects()[receipt.ProjectID]; owner != "ST1ABC" {
		t.Fatalf("chain did not record %s, owner %q", receipt.ProjectID, owner)
	}
	if snap := store.Snapshot(); len(snap.Transactions) != 0 {
		t.Fatalf("registration should not appear as a credit transaction: %+v", snap.Transactions)
	}
}

func TestSuccessfulSwitchClearsPreviousError(t *testing.T) {
	resolver := network.DefaultResolver()
	nets := chainapi.NewSimulatedNetworks(resolver)
	provider := wallet.NewSimulatedProvider(wallet.ProviderLeather, nets, "ST1ABC")
	var failures atomic.Int32
	failures.Store(1)
	clients := func(cfg network.Config) (chainapi.Client, error) {
		if cfg.Network == network.Mainnet && failures.Add(-1) >= 0 {
			return nil, errors.New("dial mainnet api: connection refused")
		}
		return nets.Client(cfg)
	}
	store, err := NewStore(Config{Resolver: resolver, Connector: wallet.NewConnector(nil, provider), Clients: clients})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()
	if err := store.Connect(ctx, wallet.ProviderLeather); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := store.SwitchNetwork(ctx, network.Mainnet); !xerrors.IsCode(err, chainapi.CodeChainUnavailable) {
		t.Fatalf("expected CHAIN_UNAVAILABLE, got %v", err)
	}
	snap := store.Snapshot()
	if snap.Status != StatusConnected || snap.Network != network.Testnet || snap.ErrorCode != chainapi.CodeChainUnavailable {
		t.Fatalf("failed switch should keep testnet and record the error: %+v", snap)
	}

	if err := store.SwitchNetwork(ctx, network.Mainnet); err != nil {
		t.Fatalf("second switch: %v", err)
	}
	snap = store.Snapshot()
	if snap.Network != network.Mainnet || snap.Error != "" || snap.ErrorCode != "" {
		t.Fatalf("successful switch should clear the stale error: %+v", snap)
	}
}

func TestObserverPanicDoesNotStallDelivery(t *testing.T) {
	store, _ := newTestStore(t)
	var (
		panicked atomic.Bool
		seen     atomic.Int32
	)
	store.Subscribe(func(Snapshot) {
		if panicked.CompareAndSwap(false, true) {
			panic("observer failure")
		}
		seen.Add(1)
	})

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected the observer panic to reach the caller")
			}
		}()
		store.Disconnect()
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		store.Disconnect()
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery stalled after an observer panic")
	}
	if seen.Load() != 1 {
		t.Fatalf("expected the next transition to be delivered, got %d", seen.Load())
	}
}
