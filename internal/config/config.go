package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "BLUECARBON_CONFIG"

// DefaultPath 是未设置 EnvPath 时使用的配置文件。
var DefaultPath = filepath.Join("configs", "bluecarbon.json")

// Config 描述了钱包层在启动阶段需要加载的配置。
type Config struct {
	Network  NetworkConfig  `json:"network"`
	ChainAPI ChainAPIConfig `json:"chain_api"`
	Polling  PollingConfig  `json:"polling"`
	Ledger   LedgerConfig   `json:"ledger"`
	Events   EventsConfig   `json:"events"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
}

// NetworkConfig 控制默认网络与网络覆盖文件。
type NetworkConfig struct {
	Default       string `json:"default"`
	OverridesFile string `json:"overrides_file"`
}

// ChainAPIConfig 控制链索引 HTTP 客户端。
type ChainAPIConfig struct {
	Backend           string  `json:"backend"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// Timeout 返回请求超时时间。
func (c ChainAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollingConfig 控制交易状态轮询。
type PollingConfig struct {
	IntervalMillis int `json:"interval_ms"`
	MaxAttempts    int `json:"max_attempts"`
}

// Interval 返回轮询间隔。
func (c PollingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMillis) * time.Millisecond
}

// LedgerConfig 选择交易账本的存储后端。
type LedgerConfig struct {
	Driver                 string      `json:"driver"`
	DSN                    string      `json:"dsn"`
	MaxOpenConns           int         `json:"max_open_conns"`
	MaxIdleConns           int         `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int         `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int         `json:"conn_max_idle_time_seconds"`
	Redis                  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 账本的连接信息。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// EventsConfig 选择交易生命周期事件的发布方式。
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述事件交换机。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Exchange   string `json:"exchange"`
	RoutingKey string `json:"routing_key"`
	Durable    bool   `json:"durable"`
}

// MetricsConfig 控制 Prometheus 指标端点，Address 为空时不启动。
type MetricsConfig struct {
	Address string `json:"address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level"`
	Format  string      `json:"format"`
	Outputs []string    `json:"outputs"`
	Audit   AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志文件。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Logger 转换为 logger.Config。
func (c LoggingConfig) Logger() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		OutputPaths: c.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    c.Audit.Enabled,
			Path:       c.Audit.Path,
			MaxSizeMB:  c.Audit.MaxSizeMB,
			MaxBackups: c.Audit.MaxBackups,
			MaxAgeDays: c.Audit.MaxAgeDays,
		},
	}
}

// Default 返回全部使用默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// PathFromEnv 返回配置文件路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在文件不存在时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Network.Default == "" {
		c.Network.Default = string(network.Testnet)
	}
	if c.Network.OverridesFile != "" && !filepath.IsAbs(c.Network.OverridesFile) {
		c.Network.OverridesFile = filepath.Join(baseDir, c.Network.OverridesFile)
	}

	if c.ChainAPI.Backend == "" {
		c.ChainAPI.Backend = "http"
	}
	if c.ChainAPI.TimeoutSeconds <= 0 {
		c.ChainAPI.TimeoutSeconds = 10
	}
	if c.ChainAPI.RequestsPerSecond <= 0 {
		c.ChainAPI.RequestsPerSecond = 5
	}
	if c.ChainAPI.Burst <= 0 {
		c.ChainAPI.Burst = 10
	}

	if c.Polling.IntervalMillis <= 0 {
		c.Polling.IntervalMillis = 3000
	}
	if c.Polling.MaxAttempts <= 0 {
		c.Polling.MaxAttempts = 20
	}

	if c.Ledger.Driver == "" {
		c.Ledger.Driver = "memory"
	}
	if c.Ledger.Redis.Prefix == "" {
		c.Ledger.Redis.Prefix = "bluecarbon:ledger"
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}
	if c.Events.RabbitMQ.Exchange == "" {
		c.Events.RabbitMQ.Exchange = "bluecarbon.events"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if len(c.Logging.Outputs) == 0 {
		c.Logging.Outputs = []string{"stderr"}
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else if !filepath.IsAbs(c.Logging.Audit.Path) {
			c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
		}
	}
}

// Validate 检查枚举取值。
func (c *Config) Validate() error {
	if _, err := network.Parse(c.Network.Default); err != nil {
		return fmt.Errorf("network.default: %w", err)
	}
	switch c.ChainAPI.Backend {
	case "http", "simulated":
	default:
		return fmt.Errorf("未知的链 API 后端: %s", c.ChainAPI.Backend)
	}
	switch c.Ledger.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Ledger.DSN) == "" {
			return errors.New("mysql 账本需要配置 ledger.dsn")
		}
	case "redis":
		if strings.TrimSpace(c.Ledger.Redis.Address) == "" {
			return errors.New("redis 账本需要配置 ledger.redis.address")
		}
	default:
		return fmt.Errorf("未知的账本驱动: %s", c.Ledger.Driver)
	}
	switch c.Events.Driver {
	case "none", "log":
	case "rabbitmq":
		if strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
			return errors.New("rabbitmq 事件需要配置 events.rabbitmq.url")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}
	return nil
}
