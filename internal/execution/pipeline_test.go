package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"PolicyGate-Chain/internal/market"
)

type fakeBridge struct {
	burnErr  error
	mintErr  error
	burnRef  string
	mintRef  string
	burnWait time.Duration

	burnChain string
	mintChain string
}

func (f *fakeBridge) Burn(ctx context.Context, _ float64, sourceChain string) (string, error) {
	f.burnChain = sourceChain
	if f.burnWait > 0 {
		select {
		case <-time.After(f.burnWait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.burnErr != nil {
		return "", f.burnErr
	}
	return f.burnRef, nil
}

func (f *fakeBridge) AwaitAttestationAndMint(_ context.Context, _ string, destChain string) (string, error) {
	f.mintChain = destChain
	if f.mintErr != nil {
		return "", f.mintErr
	}
	return f.mintRef, nil
}

type fakeBets struct {
	err    error
	betRef string
}

func (f *fakeBets) PlaceBet(context.Context, string, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.betRef, nil
}

func testOpportunity() market.Opportunity {
	return market.Opportunity{
		MarketID:     "mkt-eth-5k",
		Title:        "ETH above 5k by Friday",
		Confidence:   92,
		RequiredUsdc: 40,
		Chain:        "eth-sepolia",
	}
}

func TestPipelineExecutesAllStepsInOrder(t *testing.T) {
	bridge := &fakeBridge{burnRef: "0xburn", mintRef: "0xmint"}
	bets := &fakeBets{betRef: "0xbet"}
	pipeline := NewPipeline(bridge, bets, WithSourceChain("base-sepolia"))

	record, err := pipeline.Execute(context.Background(), testOpportunity())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if record.BurnTxRef != "0xburn" || record.MintTxRef != "0xmint" || record.BetTxRef != "0xbet" {
		t.Fatalf("unexpected record: %+v", record)
	}
	if bridge.burnChain != "base-sepolia" {
		t.Fatalf("burn should happen on the configured source chain, got %s", bridge.burnChain)
	}
	if bridge.mintChain != "eth-sepolia" {
		t.Fatalf("mint should target the opportunity chain, got %s", bridge.mintChain)
	}
}

func TestPipelineBurnFailure(t *testing.T) {
	bridge := &fakeBridge{burnErr: errors.New("insufficient funds")}
	pipeline := NewPipeline(bridge, &fakeBets{})

	_, err := pipeline.Execute(context.Background(), testOpportunity())
	if err == nil {
		t.Fatal("expected burn failure")
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T", err)
	}
	if stepErr.Step != StepBurn {
		t.Fatalf("expected step %s, got %s", StepBurn, stepErr.Step)
	}
	if stepErr.BurnTxRef != "" || stepErr.MintTxRef != "" {
		t.Fatalf("burn failure must not carry partial refs: %+v", stepErr)
	}
}

func TestPipelineMintFailureKeepsBurnRef(t *testing.T) {
	bridge := &fakeBridge{burnRef: "0xburn", mintErr: errors.New("attestation timeout")}
	pipeline := NewPipeline(bridge, &fakeBets{})

	_, err := pipeline.Execute(context.Background(), testOpportunity())
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != StepMint {
		t.Fatalf("expected step %s, got %s", StepMint, stepErr.Step)
	}
	if stepErr.BurnTxRef != "0xburn" {
		t.Fatalf("mint failure must keep the burn ref, got %q", stepErr.BurnTxRef)
	}
	if stepErr.MintTxRef != "" {
		t.Fatalf("mint failure must not carry a mint ref, got %q", stepErr.MintTxRef)
	}
}

func TestPipelineBetFailureKeepsBridgeRefs(t *testing.T) {
	bridge := &fakeBridge{burnRef: "0xburn", mintRef: "0xmint"}
	bets := &fakeBets{err: errors.New("market closed")}
	pipeline := NewPipeline(bridge, bets)

	_, err := pipeline.Execute(context.Background(), testOpportunity())
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != StepBet {
		t.Fatalf("expected step %s, got %s", StepBet, stepErr.Step)
	}
	if stepErr.BurnTxRef != "0xburn" || stepErr.MintTxRef != "0xmint" {
		t.Fatalf("bet failure must keep both bridge refs: %+v", stepErr)
	}
	if stepErr.Unwrap() == nil {
		t.Fatal("unwrap must expose the cause")
	}
}

func TestPipelineStepTimeout(t *testing.T) {
	bridge := &fakeBridge{burnRef: "0xburn", burnWait: 200 * time.Millisecond}
	pipeline := NewPipeline(bridge, &fakeBets{betRef: "0xbet"},
		WithStepTimeouts(20*time.Millisecond, time.Minute, time.Minute))

	_, err := pipeline.Execute(context.Background(), testOpportunity())
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != StepBurn {
		t.Fatalf("timeout should surface as a burn step failure, got %s", stepErr.Step)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded in the chain, got %v", err)
	}
}

func TestPipelineDefaultsSourceToOpportunityChain(t *testing.T) {
	bridge := &fakeBridge{burnRef: "0xburn", mintRef: "0xmint"}
	pipeline := NewPipeline(bridge, &fakeBets{betRef: "0xbet"})

	if _, err := pipeline.Execute(context.Background(), testOpportunity()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if bridge.burnChain != "eth-sepolia" {
		t.Fatalf("without a configured source the opportunity chain is used, got %s", bridge.burnChain)
	}
}
