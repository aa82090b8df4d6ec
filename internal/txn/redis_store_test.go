package txn

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	store := newRedisStore(client, "test:ledger")
	t.Cleanup(func() { _ = store.Close() })
	return store, server
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newTestRedisStore(t)
	runStoreContract(t, store)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	store, server := newTestRedisStore(t)
	ctx := context.Background()
	if err := store.Create(ctx, &Transaction{LocalID: "local-1", Kind: KindMint, Status: StatusPending}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.AssignChainID(ctx, "local-1", "0xbeef"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if !server.Exists("test:ledger:tx:local-1") {
		t.Fatal("transaction key missing")
	}
	if got, err := server.Get("test:ledger:chain:0xbeef"); err != nil || got != "local-1" {
		t.Fatalf("chain mapping missing: %q %v", got, err)
	}
	members, err := server.ZMembers("test:ledger:index")
	if err != nil || len(members) != 1 || members[0] != "local-1" {
		t.Fatalf("index mismatch: %v %v", members, err)
	}
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for empty address")
	}
}
