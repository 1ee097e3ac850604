package run

import (
	"time"

	"PolicyGate-Chain/internal/decision"
)

// Summary 汇总一次运行的处理结果。Evaluated 恒等于
// Approved 与 Refused 之和；ExecutionFailures 是 Approved 的子集。
type Summary struct {
	Evaluated         int `json:"evaluated"`
	Approved          int `json:"approved"`
	Refused           int `json:"refused"`
	ExecutionFailures int `json:"execution_failures"`
}

// RefusalBreakdown 按违反的规则统计拒绝数量。
type RefusalBreakdown map[decision.Violation]int

// Result 是一次运行的完整产出：摘要、每条审计记录的确认引用
// 以及运行窗口。ConfirmationRefs 的数量等于 Evaluated。
type Result struct {
	RunID            string           `json:"run_id"`
	PolicyID         string           `json:"policy_id"`
	Summary          Summary          `json:"summary"`
	Refusals         RefusalBreakdown `json:"refusals,omitempty"`
	ConfirmationRefs []string         `json:"confirmation_refs"`
	StartedAt        time.Time        `json:"started_at"`
	FinishedAt       time.Time        `json:"finished_at"`
}

// outcome 是单个机会处理完成后汇报给汇总协程的结果。
type outcome struct {
	approved        bool
	violation       decision.Violation
	executionFailed bool
	confirmationRef string
	auditErr        error
}
