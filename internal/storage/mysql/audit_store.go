package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"PolicyGate-Chain/deploy/migrations"
)

// AuditRecord 表示审计记录的落库结构，决策与执行字段被展平成列，
// 便于按运行、市场或结果维度查询。
type AuditRecord struct {
	EntryID         string
	RunID           string
	MarketID        string
	MarketTitle     string
	Chain           string
	RequiredUsdc    float64
	Confidence      float64
	PolicyID        string
	Approved        bool
	RuleViolated    string
	RulesChecked    string
	Outcome         string
	BurnTxRef       string
	MintTxRef       string
	BetTxRef        string
	FailedStep      string
	FailureCause    string
	EvaluatedAtUnix int64
	LoggedAtUnix    int64
}

// ErrRecordNotFound 表示查询的审计记录不存在。
var ErrRecordNotFound = errors.New("审计记录不存在")

// ErrDuplicateRecord 表示同一运行中该市场已有记录。
var ErrDuplicateRecord = errors.New("审计记录已存在")

// AuditStore 使用 MySQL 持久化审计记录。表只允许插入与查询，
// 唯一索引保证同一运行中每个市场至多一条记录。
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore 创建连接池并应用内嵌的迁移脚本。
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store := &AuditStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// migrate 顺序执行 deploy/migrations 下的脚本。脚本均为幂等语句，
// 重复执行不会破坏已有数据。
func (s *AuditStore) migrate(ctx context.Context) error {
	scripts, err := migrations.Scripts()
	if err != nil {
		return fmt.Errorf("读取迁移脚本失败: %w", err)
	}
	for _, script := range scripts {
		stmt := strings.TrimSuffix(strings.TrimSpace(script), ";")
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("执行迁移脚本失败: %w", err)
		}
	}
	return nil
}

// Insert 写入一条审计记录。违反唯一索引时返回 ErrDuplicateRecord。
func (s *AuditStore) Insert(ctx context.Context, record AuditRecord) error {
	const stmt = `INSERT INTO audit_entries
        (entry_id, run_id, market_id, market_title, chain, required_usdc, confidence,
         policy_id, approved, rule_violated, rules_checked, outcome,
         burn_tx_ref, mint_tx_ref, bet_tx_ref, failed_step, failure_cause,
         evaluated_at, logged_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := s.db.ExecContext(ctx, stmt,
		record.EntryID,
		record.RunID,
		record.MarketID,
		record.MarketTitle,
		record.Chain,
		record.RequiredUsdc,
		record.Confidence,
		record.PolicyID,
		record.Approved,
		record.RuleViolated,
		record.RulesChecked,
		record.Outcome,
		record.BurnTxRef,
		record.MintTxRef,
		record.BetTxRef,
		record.FailedStep,
		record.FailureCause,
		record.EvaluatedAtUnix,
		record.LoggedAtUnix,
	); err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateRecord
		}
		return fmt.Errorf("写入审计记录失败: %w", err)
	}
	return nil
}

// GetByID 按记录 ID 查询。
func (s *AuditStore) GetByID(ctx context.Context, entryID string) (*AuditRecord, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM audit_entries WHERE entry_id = ?`, entryID)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	return record, nil
}

// ListLatest 按提交时间倒序返回最近的若干条记录。
func (s *AuditStore) ListLatest(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` FROM audit_entries ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	defer rows.Close()

	var records []AuditRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("解析审计记录失败: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历审计记录失败: %w", err)
	}
	return records, nil
}

// Close 关闭底层数据库连接。
func (s *AuditStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `SELECT entry_id, run_id, market_id, market_title, chain, required_usdc, confidence,
        policy_id, approved, rule_violated, rules_checked, outcome,
        burn_tx_ref, mint_tx_ref, bet_tx_ref, failed_step, failure_cause,
        evaluated_at, logged_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*AuditRecord, error) {
	var record AuditRecord
	if err := row.Scan(
		&record.EntryID,
		&record.RunID,
		&record.MarketID,
		&record.MarketTitle,
		&record.Chain,
		&record.RequiredUsdc,
		&record.Confidence,
		&record.PolicyID,
		&record.Approved,
		&record.RuleViolated,
		&record.RulesChecked,
		&record.Outcome,
		&record.BurnTxRef,
		&record.MintTxRef,
		&record.BetTxRef,
		&record.FailedStep,
		&record.FailureCause,
		&record.EvaluatedAtUnix,
		&record.LoggedAtUnix,
	); err != nil {
		return nil, err
	}
	return &record, nil
}

// isDuplicateKey 识别 MySQL 1062 唯一键冲突。
func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
