package run

import (
	"context"
	stdErrors "errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PolicyGate-Chain/internal/audit"
	"PolicyGate-Chain/internal/decision"
	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/policy"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testPolicies() policy.Source {
	return policy.NewStaticSource(map[string]policy.Policy{
		"treasury-weekly-v3": {
			PolicyID:      "treasury-weekly-v3",
			Authority:     "treasury-ops",
			MaxSpendUsdc:  50,
			MinConfidence: 70,
			AllowedChains: []string{"eth-sepolia"},
			ExpiresAt:     testNow.Add(24 * time.Hour),
		},
	})
}

type scriptedExecutor struct {
	mu       sync.Mutex
	fail     map[string]*execution.StepError
	executed []string
	block    chan struct{}
}

func (s *scriptedExecutor) Execute(_ context.Context, opp market.Opportunity) (*execution.Record, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	s.executed = append(s.executed, opp.MarketID)
	stepErr := s.fail[opp.MarketID]
	s.mu.Unlock()
	if stepErr != nil {
		return nil, stepErr
	}
	return &execution.Record{BurnTxRef: "0xburn", MintTxRef: "0xmint", BetTxRef: "0xbet"}, nil
}

type failingLedger struct {
	failFor map[string]bool
	inner   *audit.MemoryLedger
}

func (f *failingLedger) Commit(ctx context.Context, entry *audit.Entry) (string, error) {
	if f.failFor[entry.Decision.Market.MarketID] {
		return "", xerrors.New(xerrors.CodeStorageFailure, "ledger unavailable")
	}
	return f.inner.Commit(ctx, entry)
}

func (f *failingLedger) Close() error { return nil }

func opp(id string, confidence, usdc float64, chain string) market.Opportunity {
	return market.Opportunity{
		MarketID:     id,
		Title:        "market " + id,
		Confidence:   confidence,
		RequiredUsdc: usdc,
		Chain:        chain,
	}
}

func newTestController(executor Executor, ledger audit.Ledger, opts ...ControllerOption) *Controller {
	auditor := audit.NewLogger(ledger, audit.WithMaxAttempts(2), audit.WithBackoff(time.Millisecond))
	base := []ControllerOption{WithClock(func() time.Time { return testNow })}
	return NewController(testPolicies(), decision.DefaultRuleSet(), executor, auditor, append(base, opts...)...)
}

func TestRunMixedBatchSummary(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	executor := &scriptedExecutor{}
	controller := newTestController(executor, ledger, WithWorkers(3))

	batch := []market.Opportunity{
		opp("mkt-approve", 95, 40, "eth-sepolia"),
		opp("mkt-low-conf", 50, 40, "eth-sepolia"),
		opp("mkt-wrong-chain", 95, 40, "polygon-mainnet"),
		opp("mkt-over-spend", 95, 5000, "eth-sepolia"),
	}

	result, err := controller.Run(context.Background(), "treasury-weekly-v3", batch)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.Summary.Evaluated != 4 {
		t.Fatalf("expected 4 evaluated, got %d", result.Summary.Evaluated)
	}
	if result.Summary.Approved != 1 || result.Summary.Refused != 3 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if result.Summary.ExecutionFailures != 0 {
		t.Fatalf("expected no execution failures, got %d", result.Summary.ExecutionFailures)
	}
	if result.Refusals[decision.ViolationConfidenceTooLow] != 1 ||
		result.Refusals[decision.ViolationChainNotAllowed] != 1 ||
		result.Refusals[decision.ViolationMaxSpendExceeded] != 1 {
		t.Fatalf("unexpected refusal breakdown: %+v", result.Refusals)
	}
	if len(result.ConfirmationRefs) != 4 {
		t.Fatalf("every opportunity needs a confirmation ref, got %d", len(result.ConfirmationRefs))
	}

	entries, err := ledger.ListLatest(context.Background(), 10)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected exactly one audit entry per opportunity, got %d", len(entries))
	}
	if len(executor.executed) != 1 || executor.executed[0] != "mkt-approve" {
		t.Fatalf("only the approved opportunity may execute, got %v", executor.executed)
	}
}

func TestRunRefusalsProduceNoExecution(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	executor := &scriptedExecutor{}
	controller := newTestController(executor, ledger)

	batch := []market.Opportunity{
		opp("mkt-1", 10, 40, "eth-sepolia"),
		opp("mkt-2", 20, 40, "eth-sepolia"),
	}
	result, err := controller.Run(context.Background(), "treasury-weekly-v3", batch)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary.Refused != 2 || result.Summary.Approved != 0 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}
	if len(executor.executed) != 0 {
		t.Fatalf("refused opportunities must never execute, got %v", executor.executed)
	}
}

func TestRunRecordsPartialExecutionFailure(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	executor := &scriptedExecutor{
		fail: map[string]*execution.StepError{
			"mkt-fail": {Step: execution.StepMint, BurnTxRef: "0xburn"},
		},
	}
	controller := newTestController(executor, ledger)

	result, err := controller.Run(context.Background(), "treasury-weekly-v3", []market.Opportunity{
		opp("mkt-fail", 95, 40, "eth-sepolia"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary.Approved != 1 || result.Summary.ExecutionFailures != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}

	entries, _ := ledger.ListLatest(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("partial failure still produces exactly one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Outcome != audit.OutcomeExecutionFailed {
		t.Fatalf("expected outcome %s, got %s", audit.OutcomeExecutionFailed, entry.Outcome)
	}
	if entry.FailedStep != string(execution.StepMint) {
		t.Fatalf("expected failed step mint, got %s", entry.FailedStep)
	}
	if entry.Execution == nil || entry.Execution.BurnTxRef != "0xburn" {
		t.Fatalf("entry must keep the partial burn ref: %+v", entry.Execution)
	}
}

type erroringExecutor struct{ err error }

func (e *erroringExecutor) Execute(context.Context, market.Opportunity) (*execution.Record, error) {
	return nil, e.err
}

func TestRunKeepsUntypedExecutionErrorInAudit(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	executor := &erroringExecutor{err: stdErrors.New("rpc endpoint unreachable")}
	controller := newTestController(executor, ledger)

	result, err := controller.Run(context.Background(), "treasury-weekly-v3", []market.Opportunity{
		opp("mkt-1", 95, 40, "eth-sepolia"),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Summary.ExecutionFailures != 1 {
		t.Fatalf("unexpected summary: %+v", result.Summary)
	}

	entries, _ := ledger.ListLatest(context.Background(), 10)
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.FailedStep != string(execution.StepBurn) {
		t.Fatalf("untyped failure should be attributed to the first step, got %s", entry.FailedStep)
	}
	// 底层原因不能在包装中丢失。
	if !strings.Contains(entry.FailureCause, "rpc endpoint unreachable") {
		t.Fatalf("audit entry must keep the underlying cause, got %q", entry.FailureCause)
	}
}

func TestRunRejectsMissingExecutor(t *testing.T) {
	auditor := audit.NewLogger(audit.NewMemoryLedger())
	controller := NewController(testPolicies(), decision.DefaultRuleSet(), nil, auditor)

	_, err := controller.Run(context.Background(), "treasury-weekly-v3", []market.Opportunity{
		opp("mkt-1", 95, 40, "eth-sepolia"),
	})
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestRunFailsWhenAuditCommitUltimatelyFails(t *testing.T) {
	ledger := &failingLedger{
		failFor: map[string]bool{"mkt-bad": true},
		inner:   audit.NewMemoryLedger(),
	}
	controller := newTestController(&scriptedExecutor{}, ledger)

	result, err := controller.Run(context.Background(), "treasury-weekly-v3", []market.Opportunity{
		opp("mkt-bad", 10, 40, "eth-sepolia"),
		opp("mkt-good", 20, 40, "eth-sepolia"),
	})
	if err == nil {
		t.Fatal("run must fail loudly when an audit entry cannot be committed")
	}
	if xerrors.CodeOf(err) != CodeRunAborted {
		t.Fatalf("expected code %s, got %s", CodeRunAborted, xerrors.CodeOf(err))
	}
	if result == nil {
		t.Fatal("partial result must still be returned for reconciliation")
	}
	if len(result.ConfirmationRefs) != 1 {
		t.Fatalf("only the committed entry has a confirmation ref, got %v", result.ConfirmationRefs)
	}
}

func TestRunUnknownPolicyRef(t *testing.T) {
	controller := newTestController(&scriptedExecutor{}, audit.NewMemoryLedger())

	_, err := controller.Run(context.Background(), "no-such-policy", []market.Opportunity{
		opp("mkt-1", 95, 40, "eth-sepolia"),
	})
	if err == nil {
		t.Fatal("expected unknown policy ref to fail the run upfront")
	}
}

func TestRunCancellationLetsInFlightFinishAudit(t *testing.T) {
	ledger := audit.NewMemoryLedger()
	block := make(chan struct{})
	executor := &scriptedExecutor{block: block}
	controller := newTestController(executor, ledger, WithWorkers(1))

	batch := []market.Opportunity{
		opp("mkt-1", 95, 40, "eth-sepolia"),
		opp("mkt-2", 95, 40, "eth-sepolia"),
		opp("mkt-3", 95, 40, "eth-sepolia"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	resultCh := make(chan *Result, 1)
	go func() {
		result, _ := controller.Run(ctx, "treasury-weekly-v3", batch)
		done.Store(true)
		resultCh <- result
	}()

	// 等第一个机会进入执行，然后取消运行。
	time.Sleep(50 * time.Millisecond)
	cancel()
	close(block)

	result := <-resultCh
	if !done.Load() {
		t.Fatal("run must terminate after cancellation")
	}
	if result == nil {
		t.Fatal("cancelled run still returns the partial result")
	}
	if result.Summary.Evaluated == 0 {
		t.Fatal("the in-flight opportunity must still be counted")
	}
	if result.Summary.Evaluated >= len(batch) {
		t.Fatalf("cancellation should stop new opportunities, evaluated %d", result.Summary.Evaluated)
	}

	entries, _ := ledger.ListLatest(context.Background(), 10)
	if len(entries) != result.Summary.Evaluated {
		t.Fatalf("every evaluated opportunity needs its audit entry: %d entries for %d evaluated",
			len(entries), result.Summary.Evaluated)
	}
}
