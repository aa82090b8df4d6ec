package network

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Overrides 对应可选的 networks.yaml。
//
//	networks:
//	  mainnet:
//	    contracts:
//	      blueCarbonRegistry: SP000....blue-carbon-registry
type Overrides struct {
	Networks map[string]Override `yaml:"networks"`
}

// Override 覆盖内置网络的单个字段。空字段保留内置值，合约地址可设为 ""
// 表示未部署。
type Override struct {
	Name        string             `yaml:"name"`
	APIBaseURL  string             `yaml:"api_base_url"`
	ExplorerURL string             `yaml:"explorer_url"`
	FaucetURL   string             `yaml:"faucet_url"`
	Contracts   map[string]*string `yaml:"contracts"`
}

func (o Override) apply(cfg *Config) error {
	if v := strings.TrimSpace(o.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(o.APIBaseURL); v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(o.ExplorerURL); v != "" {
		cfg.ExplorerURL = v
	}
	if v := strings.TrimSpace(o.FaucetURL); v != "" {
		if cfg.Network != Testnet {
			return fmt.Errorf("faucet_url is only supported on %s", Testnet)
		}
		cfg.FaucetURL = v
	}
	if len(o.Contracts) == 0 {
		return nil
	}
	contracts := make(map[ContractName]string, len(cfg.Contracts))
	for k, v := range cfg.Contracts {
		contracts[k] = v
	}
	for key, addr := range o.Contracts {
		name := ContractName(key)
		if !knownContract(name) {
			return fmt.Errorf("unknown contract %q", key)
		}
		if addr == nil {
			continue
		}
		contracts[name] = strings.TrimSpace(*addr)
	}
	cfg.Contracts = contracts
	return nil
}

// LoadOverrides 解析 YAML 覆盖文件，路径为空时不做覆盖。
func LoadOverrides(path string) (Overrides, error) {
	if strings.TrimSpace(path) == "" {
		return Overrides{}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("read network overrides: %w", err)
	}
	var out Overrides
	if err := yaml.Unmarshal(content, &out); err != nil {
		return Overrides{}, fmt.Errorf("parse network overrides: %w", err)
	}
	return out, nil
}
