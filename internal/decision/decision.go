package decision

import (
	"time"

	"PolicyGate-Chain/internal/market"
)

// Violation 标识导致拒绝的规则。
type Violation string

const (
	ViolationPolicyExpired    Violation = "policy_expired"
	ViolationChainNotAllowed  Violation = "chain_not_allowed"
	ViolationConfidenceTooLow Violation = "confidence_too_low"
	ViolationMaxSpendExceeded Violation = "max_spend_exceeded"
)

// Decision 是针对单个机会的确定性评估结果。评估一旦完成即不可变。
// RuleViolated 当且仅当 Approved 为 false 时存在；RulesChecked 按固定顺序
// 记录在终止规则之前通过的所有规则，绝不包含被违反的规则或其后的规则。
type Decision struct {
	Market       market.Opportunity `json:"market"`
	PolicyID     string             `json:"policy_id"`
	Approved     bool               `json:"approved"`
	RuleViolated Violation          `json:"rule_violated,omitempty"`
	RulesChecked []string           `json:"rules_checked"`
	EvaluatedAt  time.Time          `json:"evaluated_at"`
}

// Refused 返回是否拒绝执行。拒绝是一等结果而非错误。
func (d Decision) Refused() bool {
	return !d.Approved
}
