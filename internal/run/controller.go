package run

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"PolicyGate-Chain/internal/audit"
	"PolicyGate-Chain/internal/decision"
	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/observability/alerting"
	"PolicyGate-Chain/internal/observability/metrics"
	"PolicyGate-Chain/internal/policy"
	"PolicyGate-Chain/pkg/logger"

	"github.com/google/uuid"
)

// CodeRunAborted 表示运行因审计落库失败而被判定为失败。
const CodeRunAborted xerrors.Code = "RUN_ABORTED"

func init() {
	xerrors.Register(CodeRunAborted, xerrors.Attributes{
		Message:   "run aborted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Executor 定义控制器所需的执行能力。
type Executor interface {
	Execute(ctx context.Context, opp market.Opportunity) (*execution.Record, error)
}

// Auditor 定义控制器所需的审计能力。
type Auditor interface {
	LogRefusal(ctx context.Context, runID string, dec decision.Decision) (*audit.Entry, error)
	LogExecution(ctx context.Context, runID string, dec decision.Decision, record *execution.Record) (*audit.Entry, error)
	LogExecutionFailure(ctx context.Context, runID string, dec decision.Decision, stepErr *execution.StepError) (*audit.Entry, error)
}

// Controller 驱动一次完整运行：加载策略，对每个机会独立评估，
// 批准则执行，所有路径都以一条审计记录收尾。拒绝是一等结果，
// 执行失败被记录而非重试，审计落库失败会使整次运行失败。
type Controller struct {
	policies policy.Source
	engine   decision.Engine
	executor Executor
	auditor  Auditor
	workers  int
	alerter  alerting.Dispatcher
	now      func() time.Time
}

// ControllerOption 定义可选配置。
type ControllerOption func(*Controller)

// WithWorkers 设置并发处理机会的协程数量。
func WithWorkers(workers int) ControllerOption {
	return func(c *Controller) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ControllerOption {
	return func(c *Controller) {
		c.alerter = dispatcher
	}
}

// WithClock 注入时间源，测试用。
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController 构造运行控制器。
func NewController(policies policy.Source, engine decision.Engine, executor Executor, auditor Auditor, opts ...ControllerOption) *Controller {
	c := &Controller{
		policies: policies,
		engine:   engine,
		executor: executor,
		auditor:  auditor,
		workers:  4,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Run 处理一批机会并返回运行结果。ctx 取消后不再领取新的机会，
// 已在途的机会会继续走完审计写入；已产生的审计记录不受影响。
// 只要有任何一条审计记录最终未能落库，Run 返回 CodeRunAborted 错误，
// 同时仍返回已完成部分的结果供调用方核对。
func (c *Controller) Run(ctx context.Context, policyRef string, opps []market.Opportunity) (*Result, error) {
	if c.policies == nil || c.engine == nil || c.executor == nil || c.auditor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "运行控制器未初始化")
	}

	runID := uuid.NewString()
	startedAt := c.now().UTC()
	log := logger.Named("run").With(slog.String("run_id", runID))

	pol, err := c.policies.Load(ctx, policyRef)
	if err != nil {
		return nil, err
	}
	if err := pol.Validate(); err != nil {
		return nil, err
	}
	log.Info("运行开始",
		slog.String("policy_id", pol.PolicyID),
		slog.Int("opportunities", len(opps)),
		slog.Int("workers", c.workers),
	)

	jobs := make(chan market.Opportunity)
	outcomes := make(chan outcome)

	var workers sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			for opp := range jobs {
				outcomes <- c.process(ctx, runID, pol, opp)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, opp := range opps {
			select {
			case <-ctx.Done():
				return
			case jobs <- opp:
			}
		}
	}()

	go func() {
		workers.Wait()
		close(outcomes)
	}()

	// 汇总只由当前协程写入。
	result := &Result{
		RunID:     runID,
		PolicyID:  pol.PolicyID,
		Refusals:  make(RefusalBreakdown),
		StartedAt: startedAt,
	}
	var auditErrs []error
	for out := range outcomes {
		result.Summary.Evaluated++
		if out.approved {
			result.Summary.Approved++
			if out.executionFailed {
				result.Summary.ExecutionFailures++
			}
		} else {
			result.Summary.Refused++
			result.Refusals[out.violation]++
		}
		if out.confirmationRef != "" {
			result.ConfirmationRefs = append(result.ConfirmationRefs, out.confirmationRef)
		}
		if out.auditErr != nil {
			auditErrs = append(auditErrs, out.auditErr)
		}
	}
	result.FinishedAt = c.now().UTC()
	metrics.ObserveRun(result.FinishedAt.Sub(startedAt))

	log.Info("运行结束",
		slog.Int("evaluated", result.Summary.Evaluated),
		slog.Int("approved", result.Summary.Approved),
		slog.Int("refused", result.Summary.Refused),
		slog.Int("execution_failures", result.Summary.ExecutionFailures),
	)

	if len(auditErrs) > 0 {
		return result, xerrors.Wrap(CodeRunAborted, stdErrors.Join(auditErrs...),
			"运行中存在未落库的审计记录",
			xerrors.WithMetadata("run_id", runID))
	}
	return result, nil
}

// process 驱动单个机会的状态机：评估、可能的执行、必然的审计写入。
func (c *Controller) process(ctx context.Context, runID string, pol policy.Policy, opp market.Opportunity) outcome {
	log := logger.Named("run").With(
		slog.String("run_id", runID),
		slog.String("market_id", opp.MarketID),
	)

	dec := c.engine.Evaluate(opp, pol, c.now().UTC())
	metrics.ObserveDecision(dec.Approved, string(dec.RuleViolated))

	// 审计写入使用剥离取消信号的 context：在途机会必须走到落库。
	auditCtx := context.WithoutCancel(ctx)

	if dec.Refused() {
		log.Info("机会被拒绝",
			slog.String("rule_violated", string(dec.RuleViolated)),
			slog.Any("rules_checked", dec.RulesChecked),
		)
		entry, err := c.auditor.LogRefusal(auditCtx, runID, dec)
		return c.finish(ctx, runID, dec, entry, err, false, log)
	}

	log.Info("机会通过全部规则，进入执行",
		slog.Float64("required_usdc", opp.RequiredUsdc),
		slog.String("chain", opp.Chain),
	)

	record, execErr := c.executor.Execute(ctx, opp)
	if execErr != nil {
		var stepErr *execution.StepError
		if !stdErrors.As(execErr, &stepErr) {
			// 非类型化的失败（例如流水线未初始化）归入首个步骤，
			// 原始错误保留为审计可见的失败原因。
			stepErr = execution.NewStepError(execution.StepBurn, execErr)
		}
		metrics.ObserveStepFailure(string(stepErr.Step))
		log.Warn("执行失败",
			slog.String("failed_step", string(stepErr.Step)),
			slog.String("error", execErr.Error()),
		)
		c.emitAlert(ctx, runID, opp, xerrors.CodeOf(execErr), execErr)
		entry, err := c.auditor.LogExecutionFailure(auditCtx, runID, dec, stepErr)
		return c.finish(ctx, runID, dec, entry, err, true, log)
	}

	log.Info("执行成功",
		slog.String("burn_tx_ref", record.BurnTxRef),
		slog.String("mint_tx_ref", record.MintTxRef),
		slog.String("bet_tx_ref", record.BetTxRef),
	)
	entry, err := c.auditor.LogExecution(auditCtx, runID, dec, record)
	return c.finish(ctx, runID, dec, entry, err, false, log)
}

// finish 统一收尾：审计落库失败要告警并上抛，绝不静默。
func (c *Controller) finish(ctx context.Context, runID string, dec decision.Decision, entry *audit.Entry, auditErr error, executionFailed bool, log *slog.Logger) outcome {
	out := outcome{
		approved:        dec.Approved,
		violation:       dec.RuleViolated,
		executionFailed: executionFailed,
	}
	if auditErr != nil {
		metrics.ObserveAuditCommit(false)
		log.Error("审计记录未能落库", slog.String("error", auditErr.Error()))
		c.emitAlert(ctx, runID, dec.Market, audit.CodeAuditCommit, auditErr)
		out.auditErr = auditErr
		return out
	}
	metrics.ObserveAuditCommit(true)
	out.confirmationRef = entry.ConfirmationRef
	return out
}

func (c *Controller) emitAlert(ctx context.Context, runID string, opp market.Opportunity, code xerrors.Code, cause error) {
	if c == nil || c.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		RunID:      runID,
		MarketID:   opp.MarketID,
		Chain:      opp.Chain,
		OccurredAt: time.Now(),
	}
	if err := c.alerter.Notify(context.WithoutCancel(ctx), event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("market_id", opp.MarketID),
		)
	}
}
