package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"BlueCarbon-Chain/internal/chainapi"
	"BlueCarbon-Chain/internal/config"
	"BlueCarbon-Chain/internal/events"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/observability/metrics"
	"BlueCarbon-Chain/internal/session"
	storage "BlueCarbon-Chain/internal/storage/mysql"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/pkg/logger"
)

// app 汇总一次命令执行所需的全部依赖。
type app struct {
	cfg       *config.Config
	resolver  *network.Resolver
	network   network.Network
	registry  *prometheus.Registry
	metrics   *metrics.Collectors
	sink      events.Sink
	simulated *chainapi.SimulatedNetworks
	logger    *slog.Logger

	closers []func() error
}

// newApp 加载配置并初始化日志、网络表、指标和事件发布。
func newApp(ctx context.Context, configPath, networkFlag, backendFlag string) (*app, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if backendFlag != "" {
		cfg.ChainAPI.Backend = backendFlag
	}
	if networkFlag != "" {
		cfg.Network.Default = networkFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	a := &app{cfg: cfg, logger: logger.Named("cli")}

	a.resolver = network.DefaultResolver()
	if cfg.Network.OverridesFile != "" {
		overrides, err := network.LoadOverrides(cfg.Network.OverridesFile)
		if err != nil {
			return nil, err
		}
		if a.resolver, err = network.NewResolver(overrides); err != nil {
			return nil, err
		}
	}
	if a.network, err = network.Parse(cfg.Network.Default); err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return nil, err
	}
	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address, a.registry); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warn("metrics server stopped", "addr", cfg.Metrics.Address, "error", err)
			}
		}()
	}

	if a.sink, err = a.buildSink(); err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.ChainAPI.Backend == "simulated" {
		a.simulated = chainapi.NewSimulatedNetworks(a.resolver, chainapi.WithConfirmationDelay(2*cfg.Polling.Interval()))
	}
	return a, nil
}

func (a *app) buildSink() (events.Sink, error) {
	switch a.cfg.Events.Driver {
	case "none":
		return nil, nil
	case "log":
		return events.LogSink{Logger: logger.Audit()}, nil
	case "rabbitmq":
		rc := a.cfg.Events.RabbitMQ
		sink, err := events.NewRabbitMQSink(events.RabbitMQConfig{
			URL:        rc.URL,
			Exchange:   rc.Exchange,
			RoutingKey: rc.RoutingKey,
			Durable:    rc.Durable,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		return events.NewFanout(events.LogSink{Logger: logger.Audit()}, sink), nil
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", a.cfg.Events.Driver)
	}
}

// openLedger 按配置打开交易账本。
func (a *app) openLedger(ctx context.Context) (txn.Store, error) {
	lc := a.cfg.Ledger
	var (
		store txn.Store
		err   error
	)
	switch lc.Driver {
	case "memory":
		store = txn.NewMemoryStore()
	case "mysql":
		store, err = txn.NewMySQLStore(ctx, storage.Config{
			DSN:             lc.DSN,
			MaxOpenConns:    lc.MaxOpenConns,
			MaxIdleConns:    lc.MaxIdleConns,
			ConnMaxLifetime: time.Duration(lc.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(lc.ConnMaxIdleTimeSeconds) * time.Second,
		})
	case "redis":
		store, err = txn.NewRedisStore(ctx, txn.RedisConfig{
			Address:  lc.Redis.Address,
			Password: lc.Redis.Password,
			DB:       lc.Redis.DB,
			Prefix:   lc.Redis.Prefix,
		})
	default:
		err = fmt.Errorf("未知的账本驱动: %s", lc.Driver)
	}
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	return store, nil
}

// clients 返回与链 API 后端对应的客户端工厂。
func (a *app) clients() session.ClientFactory {
	if a.simulated != nil {
		return a.simulated.Client
	}
	base := chainapi.HTTPConfig{
		Timeout:           a.cfg.ChainAPI.Timeout(),
		RequestsPerSecond: a.cfg.ChainAPI.RequestsPerSecond,
		Burst:             a.cfg.ChainAPI.Burst,
		Metrics:           a.metrics,
		Logger:            logger.Named("chainapi"),
	}
	return func(cfg network.Config) (chainapi.Client, error) {
		return chainapi.ForNetwork(cfg, base)
	}
}

// client 为当前网络创建链读取客户端。
func (a *app) client() (chainapi.Client, network.Config, error) {
	cfg := a.resolver.Resolve(a.network)
	c, err := a.clients()(cfg)
	return c, cfg, err
}

// Close 释放账本和事件连接，并刷新日志文件。
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(err, logger.Sync())
}
