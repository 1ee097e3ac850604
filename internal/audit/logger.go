package audit

import (
	"context"
	"fmt"
	"time"

	"PolicyGate-Chain/internal/decision"
	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/pkg/logger"

	"github.com/google/uuid"
)

// CodeAuditCommit 表示审计记录在耗尽重试后仍未落库。
const CodeAuditCommit xerrors.Code = "AUDIT_COMMIT_FAILED"

func init() {
	xerrors.Register(CodeAuditCommit, xerrors.Attributes{
		Message:   "audit commit failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Logger 负责为每个机会生成并提交恰好一条审计记录。提交失败时按
// 有界退避重试；重试耗尽后返回 CodeAuditCommit 级别的错误，由上层
// 将整次运行标记为失败，绝不静默吞掉。
type Logger struct {
	ledger      Ledger
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

// LoggerOption 定义可选配置。
type LoggerOption func(*Logger)

// WithMaxAttempts 覆盖默认的提交尝试次数上限。
func WithMaxAttempts(attempts int) LoggerOption {
	return func(l *Logger) {
		if attempts > 0 {
			l.maxAttempts = attempts
		}
	}
}

// WithBackoff 覆盖首次重试前的退避时长，之后逐次翻倍。
func WithBackoff(backoff time.Duration) LoggerOption {
	return func(l *Logger) {
		if backoff > 0 {
			l.backoff = backoff
		}
	}
}

// WithClock 注入时间源，测试用。
func WithClock(now func() time.Time) LoggerOption {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger 构造审计记录器。
func NewLogger(ledger Ledger, opts ...LoggerOption) *Logger {
	l := &Logger{
		ledger:      ledger,
		maxAttempts: 3,
		backoff:     200 * time.Millisecond,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// LogRefusal 为被拒绝的机会写入审计记录。
func (l *Logger) LogRefusal(ctx context.Context, runID string, dec decision.Decision) (*Entry, error) {
	entry := &Entry{
		ID:       uuid.NewString(),
		RunID:    runID,
		Decision: dec,
		Outcome:  OutcomeRefused,
		LoggedAt: l.now().UTC(),
	}
	return l.commit(ctx, entry)
}

// LogExecution 为执行成功的机会写入审计记录，携带全部三个交易引用。
func (l *Logger) LogExecution(ctx context.Context, runID string, dec decision.Decision, record *execution.Record) (*Entry, error) {
	entry := &Entry{
		ID:        uuid.NewString(),
		RunID:     runID,
		Decision:  dec,
		Outcome:   OutcomeExecuted,
		Execution: record,
		LoggedAt:  l.now().UTC(),
	}
	return l.commit(ctx, entry)
}

// LogExecutionFailure 为执行中途失败的机会写入审计记录，保留失败步骤
// 与失败前已取得的部分交易引用。
func (l *Logger) LogExecutionFailure(ctx context.Context, runID string, dec decision.Decision, stepErr *execution.StepError) (*Entry, error) {
	entry := &Entry{
		ID:           uuid.NewString(),
		RunID:        runID,
		Decision:     dec,
		Outcome:      OutcomeExecutionFailed,
		FailedStep:   string(stepErr.Step),
		FailureCause: stepErr.Error(),
		LoggedAt:     l.now().UTC(),
	}
	if stepErr.BurnTxRef != "" || stepErr.MintTxRef != "" {
		entry.Execution = &execution.Record{
			BurnTxRef: stepErr.BurnTxRef,
			MintTxRef: stepErr.MintTxRef,
		}
	}
	return l.commit(ctx, entry)
}

// commit 提交记录，失败时按有界退避重试。
func (l *Logger) commit(ctx context.Context, entry *Entry) (*Entry, error) {
	if l.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "审计账本未初始化")
	}

	var lastErr error
	backoff := l.backoff
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		ref, err := l.ledger.Commit(ctx, entry)
		if err == nil {
			entry.ConfirmationRef = ref
			logger.Audit().Info("审计记录已提交",
				"entry_id", entry.ID,
				"run_id", entry.RunID,
				"market_id", entry.Decision.Market.MarketID,
				"outcome", string(entry.Outcome),
				"confirmation_ref", ref,
			)
			return entry, nil
		}
		lastErr = err

		if e, ok := xerrors.From(err); ok && !e.Retryable() {
			break
		}
		logger.L().Warn("审计记录提交失败，准备重试",
			"entry_id", entry.ID,
			"market_id", entry.Decision.Market.MarketID,
			"attempt", attempt,
			"error", err,
		)
		if attempt == l.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(CodeAuditCommit, ctx.Err(),
				fmt.Sprintf("审计记录 %s 提交被中断", entry.ID))
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, xerrors.Wrap(CodeAuditCommit, lastErr,
		fmt.Sprintf("审计记录 %s 在 %d 次尝试后仍未落库", entry.ID, l.maxAttempts),
		xerrors.WithMetadata("market_id", entry.Decision.Market.MarketID),
		xerrors.WithMetadata("run_id", entry.RunID),
	)
}
