package decision

import (
	"time"

	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/policy"
)

// 规则名称，与 RulesChecked 中出现的值一致。
const (
	RuleExpiry     = "expiry"
	RuleChain      = "chain"
	RuleConfidence = "confidence"
	RuleSpend      = "spend"
)

// Rule 表示一条策略规则。Check 返回空 Violation 表示通过。
type Rule interface {
	Name() string
	Check(opp market.Opportunity, pol policy.Policy, now time.Time) Violation
}

// Engine 抽象了决策引擎，使规则的重排或扩展不需要触及控制器。
type Engine interface {
	// Evaluate 将机会与策略比对并产生决策。纯函数：无 I/O、无副作用，
	// 给定相同输入（含 now）时结果完全确定，且永不失败。
	Evaluate(opp market.Opportunity, pol policy.Policy, now time.Time) Decision
}

// RuleSet 按声明顺序评估规则，第一条失败的规则终止评估。
// 顺序是刻意设计：时间与链这类全局检查先于机会自身的检查，
// 因此多条规则同时失败时报告的违规原因是稳定的。
type RuleSet struct {
	rules []Rule
}

// NewRuleSet 以给定顺序构造规则集。
func NewRuleSet(rules ...Rule) RuleSet {
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	return RuleSet{rules: ordered}
}

// DefaultRuleSet 返回固定的四规则顺序：expiry → chain → confidence → spend。
func DefaultRuleSet() RuleSet {
	return NewRuleSet(expiryRule{}, chainRule{}, confidenceRule{}, spendRule{})
}

// Evaluate 实现 Engine 接口。
func (rs RuleSet) Evaluate(opp market.Opportunity, pol policy.Policy, now time.Time) Decision {
	checked := make([]string, 0, len(rs.rules))
	for _, rule := range rs.rules {
		if violation := rule.Check(opp, pol, now); violation != "" {
			return Decision{
				Market:       opp,
				PolicyID:     pol.PolicyID,
				Approved:     false,
				RuleViolated: violation,
				RulesChecked: checked,
				EvaluatedAt:  now,
			}
		}
		checked = append(checked, rule.Name())
	}
	return Decision{
		Market:       opp,
		PolicyID:     pol.PolicyID,
		Approved:     true,
		RulesChecked: checked,
		EvaluatedAt:  now,
	}
}

// expiryRule 要求当前时刻不晚于策略到期时间。到期当刻仍然通过。
type expiryRule struct{}

func (expiryRule) Name() string { return RuleExpiry }

func (expiryRule) Check(_ market.Opportunity, pol policy.Policy, now time.Time) Violation {
	if pol.Expired(now) {
		return ViolationPolicyExpired
	}
	return ""
}

// chainRule 要求机会所在链位于策略允许集合内。
type chainRule struct{}

func (chainRule) Name() string { return RuleChain }

func (chainRule) Check(opp market.Opportunity, pol policy.Policy, _ time.Time) Violation {
	if !pol.AllowsChain(opp.Chain) {
		return ViolationChainNotAllowed
	}
	return ""
}

// confidenceRule 要求置信度不低于策略下限。相等通过。
type confidenceRule struct{}

func (confidenceRule) Name() string { return RuleConfidence }

func (confidenceRule) Check(opp market.Opportunity, pol policy.Policy, _ time.Time) Violation {
	if opp.Confidence < pol.MinConfidence {
		return ViolationConfidenceTooLow
	}
	return ""
}

// spendRule 要求所需金额不超过策略上限。相等通过。
type spendRule struct{}

func (spendRule) Name() string { return RuleSpend }

func (spendRule) Check(opp market.Opportunity, pol policy.Policy, _ time.Time) Violation {
	if opp.RequiredUsdc > pol.MaxSpendUsdc {
		return ViolationMaxSpendExceeded
	}
	return ""
}
