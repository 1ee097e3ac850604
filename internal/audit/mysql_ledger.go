package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"PolicyGate-Chain/internal/decision"
	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/storage/mysql"
)

// MySQLLedger 将审计记录写入 MySQL，记录不可变且按运行与市场去重。
type MySQLLedger struct {
	store *mysql.AuditStore
}

// NewMySQLLedger 包装一个已初始化的审计存储。
func NewMySQLLedger(store *mysql.AuditStore) *MySQLLedger {
	return &MySQLLedger{store: store}
}

// Commit 实现 Ledger 接口。
func (l *MySQLLedger) Commit(ctx context.Context, entry *Entry) (string, error) {
	if err := entry.Validate(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "审计记录校验失败")
	}

	record := toRecord(entry)
	if err := l.store.Insert(ctx, record); err != nil {
		if errors.Is(err, mysql.ErrDuplicateRecord) {
			return "", xerrors.Wrap(xerrors.CodeConflict, err,
				fmt.Sprintf("运行 %s 中市场 %s 已存在审计记录", entry.RunID, entry.Decision.Market.MarketID))
		}
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "审计记录落库失败")
	}
	return fmt.Sprintf("mysql:%s", entry.ID), nil
}

// ListLatest 实现 Reader 接口。
func (l *MySQLLedger) ListLatest(ctx context.Context, limit int) ([]Entry, error) {
	records, err := l.store.ListLatest(ctx, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审计记录失败")
	}
	entries := make([]Entry, 0, len(records))
	for i := range records {
		entries = append(entries, fromRecord(records[i]))
	}
	return entries, nil
}

// GetByID 实现 Reader 接口。
func (l *MySQLLedger) GetByID(ctx context.Context, id string) (*Entry, error) {
	record, err := l.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, mysql.ErrRecordNotFound) {
			return nil, xerrors.Wrap(xerrors.CodeNotFound, err, fmt.Sprintf("审计记录 %s 不存在", id))
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询审计记录失败")
	}
	entry := fromRecord(*record)
	return &entry, nil
}

// Close 实现 Ledger 接口。
func (l *MySQLLedger) Close() error {
	return l.store.Close()
}

func toRecord(entry *Entry) mysql.AuditRecord {
	record := mysql.AuditRecord{
		EntryID:         entry.ID,
		RunID:           entry.RunID,
		MarketID:        entry.Decision.Market.MarketID,
		MarketTitle:     entry.Decision.Market.Title,
		Chain:           entry.Decision.Market.Chain,
		RequiredUsdc:    entry.Decision.Market.RequiredUsdc,
		Confidence:      entry.Decision.Market.Confidence,
		PolicyID:        entry.Decision.PolicyID,
		Approved:        entry.Decision.Approved,
		RuleViolated:    string(entry.Decision.RuleViolated),
		RulesChecked:    strings.Join(entry.Decision.RulesChecked, ","),
		Outcome:         string(entry.Outcome),
		FailedStep:      entry.FailedStep,
		FailureCause:    entry.FailureCause,
		EvaluatedAtUnix: entry.Decision.EvaluatedAt.Unix(),
		LoggedAtUnix:    entry.LoggedAt.Unix(),
	}
	if entry.Execution != nil {
		record.BurnTxRef = entry.Execution.BurnTxRef
		record.MintTxRef = entry.Execution.MintTxRef
		record.BetTxRef = entry.Execution.BetTxRef
	}
	return record
}

func fromRecord(record mysql.AuditRecord) Entry {
	entry := Entry{
		ID:              record.EntryID,
		RunID:           record.RunID,
		Decision:        decisionFromRecord(record),
		Outcome:         Outcome(record.Outcome),
		FailedStep:      record.FailedStep,
		FailureCause:    record.FailureCause,
		ConfirmationRef: fmt.Sprintf("mysql:%s", record.EntryID),
		LoggedAt:        time.Unix(record.LoggedAtUnix, 0).UTC(),
	}
	if record.BurnTxRef != "" || record.MintTxRef != "" || record.BetTxRef != "" {
		entry.Execution = &execution.Record{
			BurnTxRef: record.BurnTxRef,
			MintTxRef: record.MintTxRef,
			BetTxRef:  record.BetTxRef,
		}
	}
	return entry
}

func decisionFromRecord(record mysql.AuditRecord) decision.Decision {
	var rulesChecked []string
	if record.RulesChecked != "" {
		rulesChecked = strings.Split(record.RulesChecked, ",")
	}
	return decision.Decision{
		Market: market.Opportunity{
			MarketID:     record.MarketID,
			Title:        record.MarketTitle,
			Confidence:   record.Confidence,
			RequiredUsdc: record.RequiredUsdc,
			Chain:        record.Chain,
		},
		PolicyID:     record.PolicyID,
		Approved:     record.Approved,
		RuleViolated: decision.Violation(record.RuleViolated),
		RulesChecked: rulesChecked,
		EvaluatedAt:  time.Unix(record.EvaluatedAtUnix, 0).UTC(),
	}
}

var (
	_ Ledger = (*MySQLLedger)(nil)
	_ Reader = (*MySQLLedger)(nil)
)
