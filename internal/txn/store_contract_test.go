package txn

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"cosmossdk.io/math"

	"BlueCarbon-Chain/internal/network"
)

// runStoreContract 校验所有 Store 实现共同遵守的约束。
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	newTx := func(localID string, kind Kind, offset time.Duration, to string) *Transaction {
		return &Transaction{
			LocalID:   localID,
			Kind:      kind,
			Status:    StatusPending,
			Amount:    math.NewInt(100),
			To:        to,
			TokenID:   "BCR-p1-1",
			Network:   network.Testnet,
			CreatedAt: base.Add(offset),
		}
	}

	first := newTx("local-a", KindMint, 0, "ST1OWNER")
	first.Record = &CarbonCreditRecord{ID: "rec-1", Amount: math.NewInt(100), Owner: "ST1OWNER", Status: RecordMinted, TokenID: "BCR-p1-1"}
	if err := store.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, newTx("local-a", KindMint, 0, "")); !stdErrors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := store.Create(ctx, newTx("local-b", KindTransfer, time.Second, "ST2OTHER")); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := store.Create(ctx, newTx("local-c", KindRetire, 2*time.Second, "")); err != nil {
		t.Fatalf("create third: %v", err)
	}

	if err := store.AssignChainID(ctx, "local-a", "0xaaa"); err != nil {
		t.Fatalf("assign chain id: %v", err)
	}
	if err := store.AssignChainID(ctx, "local-b", "0xaaa"); !stdErrors.Is(err, ErrConflict) {
		t.Fatalf("expected chain id conflict, got %v", err)
	}
	byChain, err := store.Get(ctx, "0xaaa")
	if err != nil {
		t.Fatalf("get by chain id: %v", err)
	}
	if byChain.LocalID != "local-a" || byChain.Record == nil || byChain.Record.ID != "rec-1" {
		t.Fatalf("unexpected transaction: %+v", byChain)
	}
	if !byChain.Amount.Equal(math.NewInt(100)) {
		t.Fatalf("amount lost: %s", byChain.Amount)
	}

	if err := store.UpdateProgress(ctx, "local-a", StatusResult{Status: StatusPending, BlockHeight: 10}); err != nil {
		t.Fatalf("update progress: %v", err)
	}
	if err := store.SetDiagnostic(ctx, "local-a", DiagnosticPollTimeout); err != nil {
		t.Fatalf("set diagnostic: %v", err)
	}
	if err := store.MarkTerminal(ctx, "local-a", Outcome{Status: StatusPending}); err == nil {
		t.Fatal("pending is not a terminal outcome")
	}
	if err := store.MarkTerminal(ctx, "local-a", Outcome{Status: StatusSuccess, BlockHeight: 12, Confirmations: 1}); err != nil {
		t.Fatalf("mark terminal: %v", err)
	}

	// 终态之后任何修改都被拒绝。
	if err := store.MarkTerminal(ctx, "local-a", Outcome{Status: StatusFailed}); !stdErrors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal, got %v", err)
	}
	if err := store.SetDiagnostic(ctx, "local-a", DiagnosticNetworkChanged); !stdErrors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal for diagnostic, got %v", err)
	}
	if err := store.UpdateProgress(ctx, "local-a", StatusResult{BlockHeight: 99}); !stdErrors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected already terminal for progress, got %v", err)
	}
	done, err := store.Get(ctx, "local-a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if done.Status != StatusSuccess || done.BlockHeight != 12 || done.Diagnostic != DiagnosticNone {
		t.Fatalf("unexpected terminal state: %+v", done)
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.MarkTerminal(ctx, "missing", Outcome{Status: StatusFailed}); !stdErrors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}

	list, err := store.List(ctx, BuildListOptions())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].LocalID != "local-c" || list[2].LocalID != "local-a" {
		t.Fatalf("expected newest first, got %v", localIDs(list))
	}
	pending, err := store.List(ctx, BuildListOptions(WithStatuses(StatusPending), WithSortOrder(SortByCreatedAsc)))
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if ids := localIDs(pending); len(ids) != 2 || ids[0] != "local-b" || ids[1] != "local-c" {
		t.Fatalf("unexpected pending list: %v", ids)
	}
	paged, err := store.List(ctx, BuildListOptions(WithLimit(1), WithOffset(1)))
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if ids := localIDs(paged); len(ids) != 1 || ids[0] != "local-b" {
		t.Fatalf("unexpected page: %v", ids)
	}
	byAddress, err := store.List(ctx, BuildListOptions(WithAddress("ST2OTHER")))
	if err != nil {
		t.Fatalf("list by address: %v", err)
	}
	if ids := localIDs(byAddress); len(ids) != 1 || ids[0] != "local-b" {
		t.Fatalf("unexpected address filter result: %v", ids)
	}

	stats, err := store.Stats(ctx, BuildListOptions())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 2 || stats.Success != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func localIDs(list []*Transaction) []string {
	ids := make([]string, 0, len(list))
	for _, tx := range list {
		ids = append(ids, tx.LocalID)
	}
	return ids
}
