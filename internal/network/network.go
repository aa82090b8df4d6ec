// Package network 将网络标识解析为钱包层使用的 API 端点与合约地址。
// 解析只是查表，表在启动时构建一次。
package network

import (
	"fmt"
	"sort"
	"strings"
)

// Network 标识链环境。
type Network string

const (
	Testnet Network = "testnet"
	Mainnet Network = "mainnet"
)

// All 按固定顺序返回支持的网络。
func All() []Network {
	return []Network{Testnet, Mainnet}
}

// Valid 判断 n 是否为受支持的网络。
func (n Network) Valid() bool {
	return n == Testnet || n == Mainnet
}

func (n Network) String() string {
	return string(n)
}

// Parse 将用户输入转换为 Network。
func Parse(raw string) (Network, error) {
	n := Network(strings.ToLower(strings.TrimSpace(raw)))
	if !n.Valid() {
		return "", fmt.Errorf("unknown network %q (want testnet or mainnet)", raw)
	}
	return n, nil
}

// ContractName 是 Config.Contracts 的键。
type ContractName string

const (
	ContractRegistry    ContractName = "blueCarbonRegistry"
	ContractMarketplace ContractName = "blueCarbonMarketplace"
	ContractSensor      ContractName = "sensorVerification"
)

// ContractNames 返回每个 Config 都带有的合约键。
func ContractNames() []ContractName {
	return []ContractName{ContractRegistry, ContractMarketplace, ContractSensor}
}

func knownContract(name ContractName) bool {
	for _, c := range ContractNames() {
		if c == name {
			return true
		}
	}
	return false
}

// Config 是单个网络解析后的配置。
type Config struct {
	Network     Network
	Name        string
	APIBaseURL  string
	ChainID     string
	ExplorerURL string
	FaucetURL   string
	Contracts   map[ContractName]string
}

// Contract 返回合约地址。地址为空表示该网络上未部署，ok 为 false。
func (c Config) Contract(name ContractName) (string, bool) {
	addr := strings.TrimSpace(c.Contracts[name])
	return addr, addr != ""
}

// DeployedContracts 返回地址非空的合约。
func (c Config) DeployedContracts() map[ContractName]string {
	out := make(map[ContractName]string, len(c.Contracts))
	for name, addr := range c.Contracts {
		if strings.TrimSpace(addr) != "" {
			out[name] = addr
		}
	}
	return out
}

// ExplorerTxURL 返回区块浏览器中的交易链接。
func (c Config) ExplorerTxURL(txID string) string {
	base := strings.TrimRight(c.ExplorerURL, "/")
	if i := strings.Index(base, "?"); i >= 0 {
		return strings.TrimRight(base[:i], "/") + "/txid/" + txID + base[i:]
	}
	return base + "/txid/" + txID
}

// FaucetInfo 描述展示给用户的测试网水龙头。
type FaucetInfo struct {
	URL          string
	Description  string
	Requirements []string
}

// Faucet 返回水龙头信息，没有水龙头的网络 ok 为 false。
func (c Config) Faucet() (FaucetInfo, bool) {
	if c.FaucetURL == "" {
		return FaucetInfo{}, false
	}
	return FaucetInfo{
		URL:          c.FaucetURL,
		Description:  "Get free testnet STX tokens for development and testing",
		Requirements: []string{"GitHub account", "Wallet address", "Wallet extension connection"},
	}, true
}

func (c Config) clone() Config {
	out := c
	out.Contracts = make(map[ContractName]string, len(c.Contracts))
	for k, v := range c.Contracts {
		out.Contracts[k] = v
	}
	return out
}

func builtin() map[Network]Config {
	const deployer = "ST1PQHQKV0RJXZFY1DGX8MNSNYVE3VGZJSRTPGZGM"
	return map[Network]Config{
		Testnet: {
			Network:     Testnet,
			Name:        "Stacks Testnet",
			APIBaseURL:  "https://api.testnet.hiro.so",
			ChainID:     "2147483648",
			ExplorerURL: "https://explorer.hiro.so/?chain=testnet",
			FaucetURL:   "https://faucet.learnweb3.io/",
			Contracts: map[ContractName]string{
				ContractRegistry:    deployer + ".blue-carbon-registry",
				ContractMarketplace: deployer + ".blue-carbon-marketplace",
				ContractSensor:      deployer + ".sensor-verification",
			},
		},
		Mainnet: {
			Network:     Mainnet,
			Name:        "Stacks Mainnet",
			APIBaseURL:  "https://api.hiro.so",
			ChainID:     "1",
			ExplorerURL: "https://explorer.hiro.so/",
			Contracts: map[ContractName]string{
				ContractRegistry:    "",
				ContractMarketplace: "",
				ContractSensor:      "",
			},
		},
	}
}

// Resolver 将 Network 映射到 Config。构建后不可变，可并发使用。
type Resolver struct {
	table map[Network]Config
}

// DefaultResolver 返回基于内置网络表的 Resolver。
func DefaultResolver() *Resolver {
	return &Resolver{table: builtin()}
}

// NewResolver 在内置表之上应用覆盖配置。
func NewResolver(overrides Overrides) (*Resolver, error) {
	table := builtin()
	networks := make([]string, 0, len(overrides.Networks))
	for name := range overrides.Networks {
		networks = append(networks, name)
	}
	sort.Strings(networks)

	for _, name := range networks {
		n, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("network override: %w", err)
		}
		cfg := table[n]
		if err := overrides.Networks[name].apply(&cfg); err != nil {
			return nil, fmt.Errorf("network override %s: %w", n, err)
		}
		table[n] = cfg
	}
	return &Resolver{table: table}, nil
}

// Resolve 返回 n 的配置。n 不在支持范围内属于编程错误，直接 panic。
func (r *Resolver) Resolve(n Network) Config {
	cfg, ok := r.table[n]
	if !ok {
		panic(fmt.Sprintf("network: resolve called with unsupported network %q", string(n)))
	}
	return cfg.clone()
}
