package wallet

import (
	"context"
	"sync"
	"time"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/txn"
)

// SimulatedProvider 模拟浏览器钱包扩展，签名后将调用交给后端 Submitter，
// 通常是 chainapi.SimulatedChain。
type SimulatedProvider struct {
	kind    ProviderKind
	backend txn.Submitter

	mu            sync.Mutex
	available     bool
	accounts      []string
	rejectAuth    bool
	rejectSigning bool
	authDelay     time.Duration
	disconnects   int
}

// NewSimulatedProvider 创建一个已检测到的模拟钱包。
func NewSimulatedProvider(kind ProviderKind, backend txn.Submitter, accounts ...string) *SimulatedProvider {
	return &SimulatedProvider{
		kind:      kind,
		backend:   backend,
		available: true,
		accounts:  append([]string(nil), accounts...),
	}
}

func (p *SimulatedProvider) Kind() ProviderKind { return p.kind }

func (p *SimulatedProvider) IsAvailable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.available
}

// SetAvailable 控制扩展是否可被检测到。
func (p *SimulatedProvider) SetAvailable(available bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = available
}

// SetAccounts 替换授权返回的账户列表。
func (p *SimulatedProvider) SetAccounts(accounts ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accounts = append([]string(nil), accounts...)
}

// RejectAuthorization 使之后的授权请求被用户拒绝。
func (p *SimulatedProvider) RejectAuthorization(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectAuth = reject
}

// RejectSigning 使之后的签名请求被用户拒绝。
func (p *SimulatedProvider) RejectSigning(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectSigning = reject
}

// SetAuthorizationDelay 模拟用户在扩展弹窗中确认所需的时间。
func (p *SimulatedProvider) SetAuthorizationDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authDelay = d
}

// RequestAccounts 返回账户列表。
func (p *SimulatedProvider) RequestAccounts(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	delay, reject := p.authDelay, p.rejectAuth
	accounts := append([]string(nil), p.accounts...)
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if reject {
		return nil, ErrUserRejected
	}
	return accounts, nil
}

// SignAndSubmit 将调用交给后端广播。
func (p *SimulatedProvider) SignAndSubmit(ctx context.Context, call txn.ContractCall) (string, error) {
	p.mu.Lock()
	reject := p.rejectSigning
	p.mu.Unlock()
	if reject {
		return "", ErrUserRejected
	}
	if p.backend == nil {
		return "", xerrors.New(CodeProviderError, "no signing backend configured")
	}
	return p.backend.SignAndSubmit(ctx, call)
}

// Disconnect 记录断开次数。
func (p *SimulatedProvider) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnects++
	return nil
}

// Disconnects 返回 Disconnect 被调用的次数。
func (p *SimulatedProvider) Disconnects() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}
