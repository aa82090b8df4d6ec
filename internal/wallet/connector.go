package wallet

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/pkg/logger"
)

// Connector 管理已注册的 Provider 与当前授权会话。
type Connector struct {
	mu        sync.Mutex
	providers map[ProviderKind]Provider
	order     []ProviderKind
	navigator Navigator
	active    Provider
	session   *Session
	logger    *slog.Logger
	now       func() time.Time
}

// NewConnector 创建 Connector。navigator 为空时只记录跳转日志。
func NewConnector(navigator Navigator, providers ...Provider) *Connector {
	if navigator == nil {
		navigator = LogNavigator{}
	}
	c := &Connector{
		providers: make(map[ProviderKind]Provider),
		navigator: navigator,
		logger:    logger.Named("wallet"),
		now:       time.Now,
	}
	for _, p := range providers {
		c.Register(p)
	}
	return c
}

// Register 注册或替换某一类型的 Provider。
func (c *Connector) Register(p Provider) {
	if p == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kind := p.Kind()
	if _, exists := c.providers[kind]; !exists {
		c.order = append(c.order, kind)
	}
	c.providers[kind] = p
}

// ListAvailableProviders 返回当前检测到的 Provider，只做检测，不访问网络。
func (c *Connector) ListAvailableProviders() []ProviderKind {
	c.mu.Lock()
	candidates := make([]Provider, 0, len(c.order))
	for _, kind := range c.order {
		candidates = append(candidates, c.providers[kind])
	}
	c.mu.Unlock()

	out := make([]ProviderKind, 0, len(candidates))
	for _, p := range candidates {
		if p.IsAvailable() {
			out = append(out, p.Kind())
		}
	}
	return out
}

// Connect 通过指定 Provider 请求账户授权。
func (c *Connector) Connect(ctx context.Context, kind ProviderKind) (Session, error) {
	c.mu.Lock()
	p, ok := c.providers[kind]
	c.mu.Unlock()
	if !ok || !p.IsAvailable() {
		return Session{}, xerrors.New(CodeProviderUnavailable, "", xerrors.WithMetadata("provider", string(kind)))
	}

	accounts, err := p.RequestAccounts(ctx)
	if err != nil {
		return Session{}, classify(kind, err, "request accounts")
	}
	if len(accounts) == 0 || strings.TrimSpace(accounts[0]) == "" {
		return Session{}, xerrors.New(CodeProviderError, "provider returned no account", xerrors.WithMetadata("provider", string(kind)))
	}

	session := Session{
		Provider:    kind,
		Account:     strings.TrimSpace(accounts[0]),
		Accounts:    append([]string(nil), accounts...),
		ConnectedAt: c.now(),
	}
	c.mu.Lock()
	prev := c.active
	c.active = p
	c.session = &session
	c.mu.Unlock()

	// 换用另一类钱包时断开原来的 Provider。
	if prev != nil && prev.Kind() != kind {
		c.disconnect(prev)
	}
	c.logger.Info("钱包已连接", slog.String("provider", string(kind)), slog.String("account", session.Account))
	return session, nil
}

// Disconnect 清除本地会话。Provider 支持显式断开时一并调用，其错误只记录日志。
func (c *Connector) Disconnect() {
	c.mu.Lock()
	p := c.active
	c.active = nil
	c.session = nil
	c.mu.Unlock()
	c.disconnect(p)
}

func (c *Connector) disconnect(p Provider) {
	if d, ok := p.(Disconnecter); ok {
		if err := d.Disconnect(); err != nil {
			c.logger.Warn("钱包断开失败", slog.String("provider", string(p.Kind())), slog.Any("error", err))
		}
	}
}

// Active 返回当前会话。
func (c *Connector) Active() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Signer 返回通过当前 Provider 签名的 txn.Submitter。
// 调用时没有活动会话会返回 PROVIDER_UNAVAILABLE。
func (c *Connector) Signer() txn.Submitter {
	return signer{c: c}
}

type signer struct {
	c *Connector
}

func (s signer) SignAndSubmit(ctx context.Context, call txn.ContractCall) (string, error) {
	s.c.mu.Lock()
	p := s.c.active
	s.c.mu.Unlock()
	if p == nil {
		return "", xerrors.New(CodeProviderUnavailable, "no wallet connected")
	}
	id, err := p.SignAndSubmit(ctx, call)
	if err != nil {
		return "", classify(p.Kind(), err, "sign and submit")
	}
	return id, nil
}

// RequestNetworkFaucet 打开测试网水龙头页面。只在测试网可用，其它网络
// 直接返回 FAUCET_UNAVAILABLE。
func (c *Connector) RequestNetworkFaucet(ctx context.Context, cfg network.Config, address string) (network.FaucetInfo, error) {
	if cfg.Network != network.Testnet {
		return network.FaucetInfo{}, xerrors.New(CodeFaucetUnavailable, "", xerrors.WithMetadata("network", string(cfg.Network)))
	}
	info, ok := cfg.Faucet()
	if !ok {
		return network.FaucetInfo{}, xerrors.New(CodeFaucetUnavailable, "no faucet configured", xerrors.WithMetadata("network", string(cfg.Network)))
	}
	if strings.TrimSpace(address) == "" {
		return network.FaucetInfo{}, xerrors.New(xerrors.CodeInvalidArgument, "faucet requires a wallet address")
	}
	if err := c.navigator.Open(ctx, info.URL); err != nil {
		return network.FaucetInfo{}, xerrors.Wrap(CodeFaucetUnavailable, err, "open faucet")
	}
	c.logger.Info("已跳转到水龙头", slog.String("url", info.URL), slog.String("address", address))
	return info, nil
}
