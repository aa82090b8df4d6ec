package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"cosmossdk.io/math"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStoreTerminalIsWrittenOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.Create(ctx, &Transaction{LocalID: "local-x", Kind: KindMint, Status: StatusPending, Amount: math.NewInt(1)}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusSuccess
			if i%2 == 1 {
				status = StatusFailed
			}
			if err := store.MarkTerminal(ctx, "local-x", Outcome{Status: status}); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one terminal write, got %d", wins.Load())
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	tx := &Transaction{LocalID: "local-y", Kind: KindRetire, Status: StatusPending, Record: &CarbonCreditRecord{TokenID: "t"}}
	if err := store.Create(ctx, tx); err != nil {
		t.Fatalf("create: %v", err)
	}
	tx.Record.TokenID = "mutated"

	got, _ := store.Get(ctx, "local-y")
	got.Status = StatusSuccess
	again, _ := store.Get(ctx, "local-y")
	if again.Status != StatusPending || again.Record.TokenID != "t" {
		t.Fatalf("store leaked internal state: %+v", again)
	}
}
