package txn

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"

	xerrors "BlueCarbon-Chain/internal/errors"
	"BlueCarbon-Chain/internal/network"
	storage "BlueCarbon-Chain/internal/storage/mysql"
)

const txColumns = `local_id, tx_id, kind, status, amount, from_address, to_address, token_id, project_id, network,
        block_height, confirmations, error, diagnostic, record, created_at, updated_at`

const (
	insertTxSQL = `INSERT INTO credit_transactions (` + txColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	getTxSQL         = `SELECT ` + txColumns + ` FROM credit_transactions WHERE local_id = ? OR tx_id = ? LIMIT 1`
	assignChainIDSQL = `UPDATE credit_transactions SET tx_id = ?, updated_at = ?
        WHERE local_id = ? AND status = 'pending' AND (tx_id IS NULL OR tx_id = ?)`
	updateProgressSQL = `UPDATE credit_transactions SET block_height = GREATEST(block_height, ?), confirmations = GREATEST(confirmations, ?), updated_at = ?
        WHERE local_id = ? AND status = 'pending'`
	markTerminalSQL = `UPDATE credit_transactions SET status = ?, block_height = GREATEST(block_height, ?), confirmations = GREATEST(confirmations, ?),
        error = ?, diagnostic = '', updated_at = ? WHERE local_id = ? AND status = 'pending'`
	setDiagnosticSQL = `UPDATE credit_transactions SET diagnostic = ?, updated_at = ? WHERE local_id = ? AND status = 'pending'`
)

// MySQLStore 使用 MySQL 记录交易账本。终态约束由 status = 'pending' 条件更新保证。
type MySQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewMySQLStore 连接 MySQL 并执行内置迁移。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化账本表失败")
	}
	return newMySQLStore(db), nil
}

func newMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{db: db, now: time.Now}
}

// Create 插入新的交易记录。
func (s *MySQLStore) Create(ctx context.Context, tx *Transaction) error {
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
	record, err := marshalRecord(tx.Record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码碳信用记录失败")
	}

	_, err = s.db.ExecContext(ctx, insertTxSQL,
		tx.LocalID,
		nullString(tx.ID),
		string(tx.Kind),
		string(tx.Status),
		AmountString(tx.Amount),
		tx.From,
		tx.To,
		tx.TokenID,
		tx.ProjectID,
		string(tx.Network),
		tx.BlockHeight,
		tx.Confirmations,
		tx.Error,
		string(tx.Diagnostic),
		record,
		tx.CreatedAt.UnixMilli(),
		tx.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易失败")
	}
	return nil
}

// Get 查询指定交易，id 可以是 LocalID 或链上 ID。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Transaction, error) {
	rows, err := s.db.QueryContext(ctx, getTxSQL, id, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易失败")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易失败")
		}
		return nil, ErrNotFound
	}
	return scanTransaction(rows)
}

// AssignChainID 记录链上交易 ID。
func (s *MySQLStore) AssignChainID(ctx context.Context, localID, chainID string) error {
	if blank(chainID) {
		return xerrors.New(xerrors.CodeInvalidArgument, "链上交易 ID 不能为空")
	}
	res, err := s.db.ExecContext(ctx, assignChainIDSQL, chainID, s.now().UnixMilli(), localID, chainID)
	if err != nil {
		if isDuplicate(err) {
			return ErrConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入链上交易 ID 失败")
	}
	return s.checkPendingUpdate(ctx, res, localID, func(tx *Transaction) error {
		if tx.ID != chainID {
			return ErrConflict
		}
		return nil
	})
}

// UpdateProgress 更新 pending 交易的区块高度与确认数。
func (s *MySQLStore) UpdateProgress(ctx context.Context, localID string, result StatusResult) error {
	res, err := s.db.ExecContext(ctx, updateProgressSQL, result.BlockHeight, result.Confirmations, s.now().UnixMilli(), localID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易进度失败")
	}
	return s.checkPendingUpdate(ctx, res, localID, nil)
}

// MarkTerminal 记录终态，只能成功一次。
func (s *MySQLStore) MarkTerminal(ctx context.Context, localID string, outcome Outcome) error {
	if err := validateOutcome(outcome); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, markTerminalSQL,
		string(outcome.Status),
		outcome.BlockHeight,
		outcome.Confirmations,
		outcome.Error,
		s.now().UnixMilli(),
		localID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录交易终态失败")
	}
	return s.checkPendingUpdate(ctx, res, localID, nil)
}

// SetDiagnostic 标记 pending 交易停止轮询的原因。
func (s *MySQLStore) SetDiagnostic(ctx context.Context, localID string, diagnostic Diagnostic) error {
	res, err := s.db.ExecContext(ctx, setDiagnosticSQL, string(diagnostic), s.now().UnixMilli(), localID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录交易诊断失败")
	}
	return s.checkPendingUpdate(ctx, res, localID, nil)
}

// checkPendingUpdate 在条件更新未命中时区分"不存在"与"已终态"。
// MySQL 在值未变化时同样返回 0 行，此时交易仍为 pending 视为成功。
func (s *MySQLStore) checkPendingUpdate(ctx context.Context, res sql.Result, localID string, verify func(*Transaction) error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected > 0 {
		return nil
	}
	tx, err := s.Get(ctx, localID)
	if err != nil {
		return err
	}
	if tx.LocalID != localID {
		return ErrNotFound
	}
	if tx.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	if verify != nil {
		return verify(tx)
	}
	return nil
}

// List 返回符合条件的交易。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Transaction, error) {
	opts.applyDefaults()

	query := `SELECT ` + txColumns + ` FROM credit_transactions`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByCreatedAsc {
		query += " ORDER BY created_at ASC, local_id ASC"
	} else {
		query += " ORDER BY created_at DESC, local_id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易列表失败")
	}
	defer rows.Close()

	txs := make([]*Transaction, 0, opts.Limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易失败")
	}
	return txs, nil
}

// Stats 返回符合过滤条件的交易聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
        COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0) AS success,
        COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
        COALESCE(SUM(CASE WHEN status = 'pending' AND diagnostic <> '' THEN 1 ELSE 0 END), 0) AS stalled,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM credit_transactions`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	var (
		stats          Stats
		oldest, newest int64
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Success,
		&stats.Failed,
		&stats.Stalled,
		&oldest,
		&newest,
	); err != nil {
		return Stats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易统计失败")
	}
	if stats.Total > 0 {
		stats.OldestUpdatedAt = time.UnixMilli(oldest)
		stats.NewestUpdatedAt = time.UnixMilli(newest)
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		tx                   Transaction
		chainID, errText     sql.NullString
		record               sql.NullString
		kind, status, amount string
		netName, diagnostic  string
		created, updated     int64
	)
	if err := row.Scan(
		&tx.LocalID,
		&chainID,
		&kind,
		&status,
		&amount,
		&tx.From,
		&tx.To,
		&tx.TokenID,
		&tx.ProjectID,
		&netName,
		&tx.BlockHeight,
		&tx.Confirmations,
		&errText,
		&diagnostic,
		&record,
		&created,
		&updated,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易记录失败")
	}
	tx.ID = chainID.String
	tx.Kind = Kind(kind)
	tx.Status = Status(status)
	tx.Network = network.Network(netName)
	tx.Error = errText.String
	tx.Diagnostic = Diagnostic(diagnostic)
	tx.CreatedAt = time.UnixMilli(created)
	tx.UpdatedAt = time.UnixMilli(updated)

	value, ok := ParseAmount(amount)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("交易 %s 金额非法: %q", tx.LocalID, amount))
	}
	tx.Amount = value

	if record.Valid && strings.TrimSpace(record.String) != "" {
		var rec CarbonCreditRecord
		if err := json.Unmarshal([]byte(record.String), &rec); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析碳信用记录失败")
		}
		tx.Record = &rec
	}
	return &tx, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		conditions = append(conditions, "status IN ("+placeholders(len(opts.Statuses))+")")
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, "kind IN ("+placeholders(len(opts.Kinds))+")")
		for _, kind := range opts.Kinds {
			args = append(args, string(kind))
		}
	}
	if opts.Network != "" {
		conditions = append(conditions, "network = ?")
		args = append(args, string(opts.Network))
	}
	if opts.Address != "" {
		conditions = append(conditions, "(from_address = ? OR to_address = ?)")
		args = append(args, opts.Address, opts.Address)
	}
	if opts.TokenID != "" {
		conditions = append(conditions, "token_id = ?")
		args = append(args, opts.TokenID)
	}
	if !opts.CreatedSince.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, opts.CreatedSince.UnixMilli())
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func marshalRecord(rec *CarbonCreditRecord) (sql.NullString, error) {
	if rec == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isDuplicate(err error) bool {
	var mysqlErr *mysqldrv.MySQLError
	return stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

var _ Store = (*MySQLStore)(nil)
