package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"BlueCarbon-Chain/internal/events"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/txn"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bluecarbon.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const simulatedConfig = `{
  "chain_api": {"backend": "simulated"},
  "polling": {"interval_ms": 5, "max_attempts": 50},
  "events": {"driver": "none"},
  "logging": {"outputs": ["discard"]}
}`

func TestNewAppAppliesFlags(t *testing.T) {
	path := writeConfig(t, simulatedConfig)

	a, err := newApp(context.Background(), path, "mainnet", "")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.network != network.Mainnet {
		t.Fatalf("expected mainnet, got %s", a.network)
	}
	if a.simulated == nil {
		t.Fatalf("expected simulated chain")
	}
	if a.sink != nil {
		t.Fatalf("expected no sink for driver none")
	}

	client, cfg, err := a.client()
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	if cfg.Network != network.Mainnet {
		t.Fatalf("unexpected config network %s", cfg.Network)
	}
	if bal := client.GetBalance(context.Background(), "SP1"); bal.Amount != "0" {
		t.Fatalf("unexpected balance %+v", bal)
	}
}

func TestNewAppRejectsUnknownNetwork(t *testing.T) {
	path := writeConfig(t, simulatedConfig)
	if _, err := newApp(context.Background(), path, "devnet", ""); err == nil {
		t.Fatalf("expected error for unknown network")
	}
}

func TestNewAppAppliesNetworkOverrides(t *testing.T) {
	dir := t.TempDir()
	overrides := "networks:\n  mainnet:\n    contracts:\n      blueCarbonRegistry: SP000.blue-carbon-registry\n"
	if err := os.WriteFile(filepath.Join(dir, "networks.yaml"), []byte(overrides), 0o644); err != nil {
		t.Fatalf("write overrides: %v", err)
	}
	path := filepath.Join(dir, "bluecarbon.json")
	cfg := `{"network": {"overrides_file": "networks.yaml"}, "events": {"driver": "log"}, "logging": {"outputs": ["discard"]}}`
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	a, err := newApp(context.Background(), path, "", "")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	addr, ok := a.resolver.Resolve(network.Mainnet).Contract(network.ContractRegistry)
	if !ok || addr != "SP000.blue-carbon-registry" {
		t.Fatalf("override not applied: %q %v", addr, ok)
	}
	if _, ok := a.sink.(events.LogSink); !ok {
		t.Fatalf("expected log sink, got %T", a.sink)
	}
	if a.simulated != nil {
		t.Fatalf("http backend should not create a simulated chain")
	}
}

func TestOpenLedgerMemory(t *testing.T) {
	a, err := newApp(context.Background(), writeConfig(t, simulatedConfig), "", "")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	ledger, err := a.openLedger(context.Background())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	if _, ok := ledger.(*txn.MemoryStore); !ok {
		t.Fatalf("expected memory store, got %T", ledger)
	}
	if len(a.closers) != 1 {
		t.Fatalf("ledger close not registered")
	}
}

func TestRunDemoAgainstSimulatedChain(t *testing.T) {
	a, err := newApp(context.Background(), writeConfig(t, simulatedConfig), "", "")
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()
	current = a
	t.Cleanup(func() { current = nil })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = runDemo(ctx, demoOptions{
		account:  "ST1DEMO",
		project:  "P1",
		amount:   "25",
		interval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("demo: %v", err)
	}
}

func TestWriteStructured(t *testing.T) {
	var buf bytes.Buffer
	done, err := writeStructured(&buf, "table", map[string]string{"a": "b"})
	if done || err != nil || buf.Len() != 0 {
		t.Fatalf("table should be left to the caller")
	}

	done, err = writeStructured(&buf, "yaml", map[string]string{"amount": "100"})
	if !done || err != nil {
		t.Fatalf("yaml: done=%v err=%v", done, err)
	}
	if !strings.Contains(buf.String(), "amount: \"100\"") {
		t.Fatalf("unexpected yaml: %s", buf.String())
	}

	buf.Reset()
	if _, err := writeStructured(&buf, "json", []string{"x"}); err != nil || !strings.Contains(buf.String(), `"x"`) {
		t.Fatalf("unexpected json: %s %v", buf.String(), err)
	}

	if done, err := writeStructured(&buf, "xml", nil); !done || err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestShortID(t *testing.T) {
	id := "0x" + strings.Repeat("ab", 32)
	if got := shortID(id); got != "0xabababab...ababab" {
		t.Fatalf("unexpected short id %q", got)
	}
	if got := shortID("local-1"); got != "local-1" {
		t.Fatalf("short ids must be kept, got %q", got)
	}
}
