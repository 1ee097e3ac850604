package decision

import (
	"testing"
	"time"

	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/policy"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testPolicy() policy.Policy {
	return policy.Policy{
		PolicyID:      "treasury-weekly-v3",
		Authority:     "treasury-ops",
		MaxSpendUsdc:  50,
		MinConfidence: 70,
		AllowedChains: []string{"eth-sepolia", "base-sepolia"},
		ExpiresAt:     testNow.Add(24 * time.Hour),
	}
}

func testOpportunity() market.Opportunity {
	return market.Opportunity{
		MarketID:     "mkt-eth-5k",
		Title:        "ETH above 5k by Friday",
		Confidence:   85,
		RequiredUsdc: 40,
		Chain:        "eth-sepolia",
	}
}

func TestEvaluateApprovesWhenAllRulesPass(t *testing.T) {
	dec := DefaultRuleSet().Evaluate(testOpportunity(), testPolicy(), testNow)

	if !dec.Approved {
		t.Fatalf("expected approval, got violation %q", dec.RuleViolated)
	}
	if dec.RuleViolated != "" {
		t.Fatalf("approved decision must not carry a violation, got %q", dec.RuleViolated)
	}
	want := []string{RuleExpiry, RuleChain, RuleConfidence, RuleSpend}
	if len(dec.RulesChecked) != len(want) {
		t.Fatalf("expected %d rules checked, got %v", len(want), dec.RulesChecked)
	}
	for i, name := range want {
		if dec.RulesChecked[i] != name {
			t.Fatalf("rule order mismatch at %d: want %s, got %s", i, name, dec.RulesChecked[i])
		}
	}
}

func TestEvaluateRefusesExpiredPolicy(t *testing.T) {
	pol := testPolicy()
	pol.ExpiresAt = testNow.Add(-time.Minute)

	dec := DefaultRuleSet().Evaluate(testOpportunity(), pol, testNow)

	if dec.Approved {
		t.Fatal("expected refusal for expired policy")
	}
	if dec.RuleViolated != ViolationPolicyExpired {
		t.Fatalf("expected %s, got %s", ViolationPolicyExpired, dec.RuleViolated)
	}
	if len(dec.RulesChecked) != 0 {
		t.Fatalf("expiry fails first, no rules should have passed: %v", dec.RulesChecked)
	}
}

func TestEvaluateShortCircuitsOnFirstViolation(t *testing.T) {
	// 机会同时违反链、置信度和金额，但只应报告链违规。
	pol := testPolicy()
	opp := testOpportunity()
	opp.Chain = "polygon-mainnet"
	opp.Confidence = 10
	opp.RequiredUsdc = 10000

	dec := DefaultRuleSet().Evaluate(opp, pol, testNow)

	if dec.RuleViolated != ViolationChainNotAllowed {
		t.Fatalf("expected %s, got %s", ViolationChainNotAllowed, dec.RuleViolated)
	}
	if len(dec.RulesChecked) != 1 || dec.RulesChecked[0] != RuleExpiry {
		t.Fatalf("only expiry should have passed, got %v", dec.RulesChecked)
	}
}

func TestEvaluateRefusesLowConfidence(t *testing.T) {
	opp := testOpportunity()
	opp.Confidence = 65

	dec := DefaultRuleSet().Evaluate(opp, testPolicy(), testNow)

	if dec.RuleViolated != ViolationConfidenceTooLow {
		t.Fatalf("expected %s, got %s", ViolationConfidenceTooLow, dec.RuleViolated)
	}
	want := []string{RuleExpiry, RuleChain}
	if len(dec.RulesChecked) != len(want) {
		t.Fatalf("expected rules checked %v, got %v", want, dec.RulesChecked)
	}
}

func TestEvaluateRefusesOverSpend(t *testing.T) {
	opp := testOpportunity()
	opp.RequiredUsdc = 75

	dec := DefaultRuleSet().Evaluate(opp, testPolicy(), testNow)

	if dec.RuleViolated != ViolationMaxSpendExceeded {
		t.Fatalf("expected %s, got %s", ViolationMaxSpendExceeded, dec.RuleViolated)
	}
	if dec.Refused() != true {
		t.Fatal("decision should report itself as refused")
	}
}

func TestEvaluateBoundariesPass(t *testing.T) {
	pol := testPolicy()
	opp := testOpportunity()

	// 相等通过：金额等于上限、置信度等于下限、时间恰为到期时刻。
	opp.RequiredUsdc = pol.MaxSpendUsdc
	opp.Confidence = pol.MinConfidence
	dec := DefaultRuleSet().Evaluate(opp, pol, pol.ExpiresAt)

	if !dec.Approved {
		t.Fatalf("boundary values must pass, got violation %q", dec.RuleViolated)
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	pol := testPolicy()
	opp := testOpportunity()
	first := DefaultRuleSet().Evaluate(opp, pol, testNow)
	for i := 0; i < 10; i++ {
		again := DefaultRuleSet().Evaluate(opp, pol, testNow)
		if again.Approved != first.Approved || again.RuleViolated != first.RuleViolated {
			t.Fatalf("evaluation is not deterministic: %+v vs %+v", first, again)
		}
	}
}

func TestEvaluateEachOpportunityIndependently(t *testing.T) {
	pol := testPolicy()
	engine := DefaultRuleSet()

	over := testOpportunity()
	over.MarketID = "mkt-over"
	over.RequiredUsdc = 500

	ok := testOpportunity()
	ok.MarketID = "mkt-ok"

	if dec := engine.Evaluate(over, pol, testNow); dec.Approved {
		t.Fatal("over-budget opportunity should be refused")
	}
	// 一次拒绝不会影响后续机会的评估。
	if dec := engine.Evaluate(ok, pol, testNow); !dec.Approved {
		t.Fatalf("independent opportunity should be approved, got %q", dec.RuleViolated)
	}
}
