package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bluecarbon.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"network":{"overrides_file":"networks.yaml"},"logging":{"audit":{"enabled":true}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Network.Default != "testnet" || cfg.Network.OverridesFile != filepath.Join(dir, "networks.yaml") {
		t.Fatalf("unexpected network section %+v", cfg.Network)
	}
	if cfg.Polling.Interval() != 3*time.Second || cfg.Polling.MaxAttempts != 20 {
		t.Fatalf("unexpected polling defaults %+v", cfg.Polling)
	}
	if cfg.ChainAPI.Backend != "http" || cfg.ChainAPI.Timeout() != 10*time.Second {
		t.Fatalf("unexpected chain api defaults %+v", cfg.ChainAPI)
	}
	if cfg.Ledger.Driver != "memory" || cfg.Events.Driver != "log" {
		t.Fatalf("unexpected backend defaults: ledger=%s events=%s", cfg.Ledger.Driver, cfg.Events.Driver)
	}
	if cfg.Logging.Audit.Path != filepath.Join(dir, "logs", "audit.log") {
		t.Fatalf("unexpected audit path %s", cfg.Logging.Audit.Path)
	}
	if lc := cfg.Logging.Logger(); !lc.Audit.Enabled || len(lc.OutputPaths) != 1 {
		t.Fatalf("unexpected logger config %+v", lc)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"network":        `{"network":{"default":"devnet"}}`,
		"ledger driver":  `{"ledger":{"driver":"sqlite"}}`,
		"mysql dsn":      `{"ledger":{"driver":"mysql"}}`,
		"redis address":  `{"ledger":{"driver":"redis"}}`,
		"rabbitmq url":   `{"events":{"driver":"rabbitmq"}}`,
		"chain backend":  `{"chain_api":{"backend":"grpc"}}`,
		"malformed json": `{"network":`,
	}
	for name, content := range cases {
		if _, err := Load(writeConfig(t, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOrDefaultWithoutFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.Default != "testnet" || cfg.Polling.IntervalMillis != 3000 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvPath, "/etc/bluecarbon.json")
	if got := PathFromEnv(); got != "/etc/bluecarbon.json" {
		t.Fatalf("unexpected path %s", got)
	}
	t.Setenv(EnvPath, "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Fatalf("unexpected default path %s", got)
	}
}
