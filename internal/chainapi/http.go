package chainapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	"BlueCarbon-Chain/internal/observability/metrics"
	"BlueCarbon-Chain/internal/txn"
	"BlueCarbon-Chain/pkg/logger"
)

const (
	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 5
	defaultBurst             = 10
	maxErrorBody             = 2048
)

// HTTPConfig 描述访问链索引 HTTP API 所需的参数。
type HTTPConfig struct {
	BaseURL           string
	Network           network.Network
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Metrics           *metrics.Collectors
	OnDiagnostic      DiagnosticFunc
	Logger            *slog.Logger
	Now               func() time.Time
}

// HTTPClient 通过 HTTP 访问链索引服务。
type HTTPClient struct {
	baseURL      string
	network      network.Network
	httpClient   *http.Client
	limiter      *rate.Limiter
	metrics      *metrics.Collectors
	onDiagnostic DiagnosticFunc
	logger       *slog.Logger
	now          func() time.Time
}

// NewHTTPClient 根据配置创建客户端。
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "chain api base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "invalid chain api base url")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Named("chainapi")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &HTTPClient{
		baseURL:      baseURL,
		network:      cfg.Network,
		httpClient:   httpClient,
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		metrics:      cfg.Metrics,
		onDiagnostic: cfg.OnDiagnostic,
		logger:       log,
		now:          now,
	}, nil
}

// ForNetwork 创建指向 cfg.APIBaseURL 的客户端，其余参数取自 base。
func ForNetwork(cfg network.Config, base HTTPConfig) (*HTTPClient, error) {
	base.BaseURL = cfg.APIBaseURL
	base.Network = cfg.Network
	return NewHTTPClient(base)
}

// errUnexpectedStatus 标记收到了响应但状态码不是 2xx。
type errUnexpectedStatus struct {
	code int
	body string
}

func (e *errUnexpectedStatus) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

// getJSON 发送 GET 请求并将响应解码到 out。
func (c *HTTPClient) getJSON(ctx context.Context, endpoint, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return xerrors.Wrap(CodeChainUnavailable, err, "rate limiter wait")
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		c.metrics.ObserveChainRequest(endpoint, outcome, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		outcome = "error"
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "build chain api request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport"
		return xerrors.Wrap(CodeChainUnavailable, err, "request "+endpoint,
			xerrors.WithMetadata("endpoint", endpoint))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		outcome = strconv.Itoa(resp.StatusCode)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &errUnexpectedStatus{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		outcome = "malformed"
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}

func (c *HTTPClient) degrade(operation string, err error) {
	c.metrics.DegradedRead(operation)
	c.logger.Warn("链索引读取降级",
		slog.String("operation", operation),
		slog.String("network", string(c.network)),
		slog.Any("error", err),
	)
	if c.onDiagnostic != nil {
		c.onDiagnostic(operation, err)
	}
}

// GetBalance 查询账户余额。任何失败都返回 "0" 并标记为 fallback。
func (c *HTTPClient) GetBalance(ctx context.Context, address string) Balance {
	address = strings.TrimSpace(address)
	fallback := func(err error) Balance {
		c.degrade("balance", err)
		return Balance{Amount: "0", AsOf: c.now(), Source: SourceFallback, Err: err.Error()}
	}
	if address == "" {
		return fallback(errors.New("address is required"))
	}

	var body struct {
		STX *struct {
			Balance *string `json:"balance"`
		} `json:"stx"`
	}
	if err := c.getJSON(ctx, "balance", "/extended/v1/address/"+url.PathEscape(address)+"/balances", &body); err != nil {
		return fallback(err)
	}
	if body.STX == nil || body.STX.Balance == nil {
		return fallback(errors.New("balance field missing from response"))
	}
	amount, ok := txn.ParseAmount(*body.STX.Balance)
	if !ok {
		return fallback(fmt.Errorf("malformed balance %q", *body.STX.Balance))
	}
	return Balance{Amount: amount.String(), AsOf: c.now(), Source: SourceConfirmed}
}

type functionArg struct {
	Name string `json:"name"`
	Repr string `json:"repr"`
}

type historyEntry struct {
	TxID             string  `json:"tx_id"`
	TxStatus         string  `json:"tx_status"`
	SenderAddress    string  `json:"sender_address"`
	RecipientAddress string  `json:"recipient_address"`
	BurnBlockTime    int64   `json:"burn_block_time"`
	BlockHeight      *uint64 `json:"block_height"`
	TokenTransfer    *struct {
		RecipientAddress string `json:"recipient_address"`
		Amount           string `json:"amount"`
	} `json:"token_transfer"`
	ContractCall *struct {
		ContractID   string        `json:"contract_id"`
		FunctionName string        `json:"function_name"`
		FunctionArgs []functionArg `json:"function_args"`
	} `json:"contract_call"`
}

func (e historyEntry) toTransaction(n network.Network) *txn.Transaction {
	tx := &txn.Transaction{
		ID:      NormalizeTxID(e.TxID),
		Status:  MapStatus(e.TxStatus),
		Kind:    txn.KindTransfer,
		From:    e.SenderAddress,
		To:      e.RecipientAddress,
		Network: n,
	}
	if e.BurnBlockTime > 0 {
		tx.CreatedAt = time.Unix(e.BurnBlockTime, 0).UTC()
		tx.UpdatedAt = tx.CreatedAt
	}
	if e.BlockHeight != nil {
		tx.BlockHeight = *e.BlockHeight
	}

	var amount string
	if tt := e.TokenTransfer; tt != nil {
		if tt.RecipientAddress != "" {
			tx.To = tt.RecipientAddress
		}
		amount = tt.Amount
	}
	if cc := e.ContractCall; cc != nil {
		tx.Kind = ClassifyFunction(cc.FunctionName)
		for _, arg := range cc.FunctionArgs {
			if arg.Name == "amount" {
				amount = arg.Repr
			}
		}
	}
	if v, ok := txn.ParseAmount(amount); ok {
		tx.Amount = v
	} else if v, ok := txn.ParseClarityUint(amount); ok {
		tx.Amount = v
	}
	return tx
}

// GetTransactions 返回账户最近的交易，最新的在前。失败时返回空切片。
func (c *HTTPClient) GetTransactions(ctx context.Context, address string) []*txn.Transaction {
	address = strings.TrimSpace(address)
	if address == "" {
		c.degrade("transactions", errors.New("address is required"))
		return []*txn.Transaction{}
	}

	var body struct {
		Results *[]historyEntry `json:"results"`
	}
	if err := c.getJSON(ctx, "transactions", "/extended/v1/address/"+url.PathEscape(address)+"/transactions", &body); err != nil {
		c.degrade("transactions", err)
		return []*txn.Transaction{}
	}
	if body.Results == nil {
		c.degrade("transactions", errors.New("results field missing from response"))
		return []*txn.Transaction{}
	}

	out := make([]*txn.Transaction, 0, len(*body.Results))
	for _, entry := range *body.Results {
		out = append(out, entry.toTransaction(c.network))
	}
	return out
}

// GetTransactionStatus 读取交易状态。读取是幂等的。
//
// 没有收到响应、限流（429）或服务端错误（5xx）时返回可重试的
// CHAIN_UNAVAILABLE。404 表示索引服务尚未收录该交易，按 pending 处理，
// 由轮询次数限制等待时间。其它响应按 tx_status 映射，字段缺失或
// 响应无法解析均视为 failed，Reason 记录原因。
func (c *HTTPClient) GetTransactionStatus(ctx context.Context, id string) (txn.StatusResult, error) {
	id = NormalizeTxID(id)
	if id == "" {
		return txn.StatusResult{}, xerrors.New(xerrors.CodeInvalidArgument, "transaction id is required")
	}

	var body struct {
		TxStatus      string  `json:"tx_status"`
		BlockHeight   *uint64 `json:"block_height"`
		Confirmations *uint64 `json:"confirmations"`
	}
	err := c.getJSON(ctx, "tx_status", "/extended/v1/tx/"+url.PathEscape(id), &body)
	var statusErr *errUnexpectedStatus
	switch {
	case err == nil:
	case errors.As(err, &statusErr):
		switch {
		case statusErr.code == http.StatusNotFound:
			return txn.StatusResult{Status: txn.StatusPending}, nil
		case statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500:
			return txn.StatusResult{}, xerrors.Wrap(CodeChainUnavailable, err, "read transaction status",
				xerrors.WithMetadata("tx_id", id))
		}
		c.degrade("tx_status", err)
		return txn.StatusResult{
			Status: txn.StatusFailed,
			Reason: fmt.Sprintf("indexer answered HTTP %d for the transaction", statusErr.code),
		}, nil
	case xerrors.IsCode(err, CodeChainUnavailable):
		return txn.StatusResult{}, err
	default:
		c.degrade("tx_status", err)
		return txn.StatusResult{Status: txn.StatusFailed, Reason: "malformed transaction status response"}, nil
	}

	res := txn.StatusResult{Status: MapStatus(body.TxStatus)}
	if res.Status == txn.StatusFailed {
		if body.TxStatus == "" {
			res.Reason = "transaction status response has no tx_status"
		} else {
			res.Reason = "chain reported tx_status " + body.TxStatus
		}
	}
	if body.BlockHeight != nil {
		res.BlockHeight = *body.BlockHeight
	}
	if body.Confirmations != nil {
		res.Confirmations = *body.Confirmations
	}
	return res, nil
}

// CheckContractDeployment 并发探测每个非空地址，单个探测失败互不影响。
func (c *HTTPClient) CheckContractDeployment(ctx context.Context, contracts map[network.ContractName]string) Deployment {
	var (
		mu    sync.Mutex
		found []network.ContractName
		wg    sync.WaitGroup
	)
	for name, addr := range contracts {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		wg.Add(1)
		go func(name network.ContractName, addr string) {
			defer wg.Done()
			if err := c.getJSON(ctx, "contract", "/v2/contracts/"+url.PathEscape(addr), nil); err != nil {
				c.logger.Debug("合约探测失败",
					slog.String("contract", string(name)),
					slog.String("address", addr),
					slog.Any("error", err),
				)
				return
			}
			mu.Lock()
			found = append(found, name)
			mu.Unlock()
		}(name, addr)
	}
	wg.Wait()
	return newDeployment(found)
}
