package txn

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "BlueCarbon-Chain/internal/errors"
)

// RedisConfig 描述 Redis 账本的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

const maxWatchRetries = 8

// RedisStore 将交易以 JSON 保存在 Redis 中：
//
//	<prefix>:tx:<local id>    交易 JSON
//	<prefix>:chain:<tx id>    链上 ID 到 LocalID 的映射
//	<prefix>:index            按创建时间排序的 LocalID
//
// 状态迁移使用 WATCH/MULTI 乐观锁保证终态只写入一次。
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore 创建 Redis 账本实例。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return newRedisStore(client, cfg.Prefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "bluecarbon:ledger"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) txKey(localID string) string   { return s.prefix + ":tx:" + localID }
func (s *RedisStore) chainKey(chainID string) string { return s.prefix + ":chain:" + chainID }
func (s *RedisStore) indexKey() string               { return s.prefix + ":index" }

// Create 写入新交易。
func (s *RedisStore) Create(ctx context.Context, tx *Transaction) error {
	if err := validateNew(tx); err != nil {
		return err
	}
	now := s.now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	if tx.UpdatedAt.IsZero() {
		tx.UpdatedAt = tx.CreatedAt
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码交易失败")
	}

	created, err := s.client.SetNX(ctx, s.txKey(tx.LocalID), data, 0).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易失败")
	}
	if !created {
		return ErrConflict
	}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(tx.CreatedAt.UnixMilli()), Member: tx.LocalID})
	if tx.ID != "" {
		pipe.Set(ctx, s.chainKey(tx.ID), tx.LocalID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入交易索引失败")
	}
	return nil
}

// Get 查询交易，id 可以是 LocalID 或链上 ID。
func (s *RedisStore) Get(ctx context.Context, id string) (*Transaction, error) {
	tx, err := s.load(ctx, s.client, id)
	if err == nil || !stdErrors.Is(err, ErrNotFound) {
		return tx, err
	}
	localID, err := s.client.Get(ctx, s.chainKey(id)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询链上 ID 映射失败")
	}
	return s.load(ctx, s.client, localID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, localID string) (*Transaction, error) {
	data, err := c.Get(ctx, s.txKey(localID)).Bytes()
	if stdErrors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交易失败")
	}
	return decodeTransaction(data)
}

func decodeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易失败")
	}
	return &tx, nil
}

// AssignChainID 记录链上交易 ID。
func (s *RedisStore) AssignChainID(ctx context.Context, localID, chainID string) error {
	if blank(chainID) {
		return xerrors.New(xerrors.CodeInvalidArgument, "链上交易 ID 不能为空")
	}
	ok, err := s.client.SetNX(ctx, s.chainKey(chainID), localID, 0).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入链上 ID 映射失败")
	}
	if !ok {
		owner, err := s.client.Get(ctx, s.chainKey(chainID)).Result()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询链上 ID 映射失败")
		}
		if owner != localID {
			return ErrConflict
		}
	}
	err = s.mutate(ctx, localID, func(tx *Transaction, now time.Time) error {
		return applyChainID(tx, chainID, now)
	})
	if err != nil && ok {
		_ = s.client.Del(ctx, s.chainKey(chainID)).Err()
	}
	return err
}

// UpdateProgress 更新 pending 交易的区块高度与确认数。
func (s *RedisStore) UpdateProgress(ctx context.Context, localID string, res StatusResult) error {
	return s.mutate(ctx, localID, func(tx *Transaction, now time.Time) error {
		return applyProgress(tx, res, now)
	})
}

// MarkTerminal 记录终态，只能成功一次。
func (s *RedisStore) MarkTerminal(ctx context.Context, localID string, outcome Outcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	return s.mutate(ctx, localID, func(tx *Transaction, now time.Time) error {
		return applyTerminal(tx, outcome, now)
	})
}

// SetDiagnostic 标记 pending 交易停止轮询的原因。
func (s *RedisStore) SetDiagnostic(ctx context.Context, localID string, diagnostic Diagnostic) error {
	return s.mutate(ctx, localID, func(tx *Transaction, now time.Time) error {
		return applyDiagnostic(tx, diagnostic, now)
	})
}

// mutate 在 WATCH 保护下读取、修改并写回交易，冲突时重试。
func (s *RedisStore) mutate(ctx context.Context, localID string, fn func(*Transaction, time.Time) error) error {
	key := s.txKey(localID)
	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			tx, err := s.load(ctx, rtx, localID)
			if err != nil {
				return err
			}
			if err := fn(tx, s.now()); err != nil {
				return err
			}
			data, err := json.Marshal(tx)
			if err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码交易失败")
			}
			_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			return err
		}, key)
		if stdErrors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if _, ok := xerrors.From(err); ok {
				return err
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易失败")
		}
		return nil
	}
	return xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("交易 %s 并发修改冲突", localID))
}

// List 返回符合条件的交易。
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Transaction, error) {
	opts.applyDefaults()
	all, err := s.loadAll(ctx, opts.Order)
	if err != nil {
		return nil, err
	}
	results := make([]*Transaction, 0, opts.Limit)
	skipped := 0
	for _, tx := range all {
		if !opts.matches(tx) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		results = append(results, tx)
		if len(results) == opts.Limit {
			break
		}
	}
	return results, nil
}

// Stats 返回符合过滤条件的交易聚合信息。
func (s *RedisStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	all, err := s.loadAll(ctx, opts.Order)
	if err != nil {
		return Stats{}, err
	}
	var stats Stats
	for _, tx := range all {
		if opts.matches(tx) {
			stats.add(tx)
		}
	}
	return stats, nil
}

func (s *RedisStore) loadAll(ctx context.Context, order SortOrder) ([]*Transaction, error) {
	var ids []string
	var err error
	if order == SortByCreatedAsc {
		ids, err = s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	} else {
		ids, err = s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交易索引失败")
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.txKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "批量读取交易失败")
	}
	txs := make([]*Transaction, 0, len(values))
	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		tx, err := decodeTransaction([]byte(raw))
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	// 同一毫秒创建的交易按 LocalID 排序，保证分页稳定。
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.CreatedAt.UnixMilli() != b.CreatedAt.UnixMilli() {
			if order == SortByCreatedAsc {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if order == SortByCreatedAsc {
			return a.LocalID < b.LocalID
		}
		return a.LocalID > b.LocalID
	})
	return txs, nil
}

// Close 关闭 Redis 连接。
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
