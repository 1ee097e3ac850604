package audit

import (
	"fmt"
	"strings"
	"time"

	"PolicyGate-Chain/internal/decision"
	"PolicyGate-Chain/internal/execution"
)

// Outcome 标识一条审计记录对应的最终处理结果。
type Outcome string

const (
	// OutcomeRefused 表示机会在评估阶段被拒绝，没有触发任何链上操作。
	OutcomeRefused Outcome = "refused"
	// OutcomeExecuted 表示三步执行全部成功。
	OutcomeExecuted Outcome = "executed"
	// OutcomeExecutionFailed 表示批准后某个执行步骤失败，留下部分痕迹。
	OutcomeExecutionFailed Outcome = "execution_failed"
)

// Entry 是针对单个机会的不可变审计记录。每个机会在一次运行中
// 恰好产生一条记录，无论被拒绝、执行成功还是执行中途失败。
type Entry struct {
	ID              string            `json:"id"`
	RunID           string            `json:"run_id"`
	Decision        decision.Decision `json:"decision"`
	Outcome         Outcome           `json:"outcome"`
	Execution       *execution.Record `json:"execution,omitempty"`
	FailedStep      string            `json:"failed_step,omitempty"`
	FailureCause    string            `json:"failure_cause,omitempty"`
	ConfirmationRef string            `json:"confirmation_ref,omitempty"`
	LoggedAt        time.Time         `json:"logged_at"`
}

// Validate 校验记录内部的一致性，提交前调用。
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("审计记录不能为空")
	}
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("审计记录缺少 ID")
	}
	if strings.TrimSpace(e.RunID) == "" {
		return fmt.Errorf("审计记录缺少运行 ID")
	}
	if strings.TrimSpace(e.Decision.Market.MarketID) == "" {
		return fmt.Errorf("审计记录缺少市场标识")
	}

	switch e.Outcome {
	case OutcomeRefused:
		if e.Decision.Approved {
			return fmt.Errorf("拒绝记录不能对应已批准的决策")
		}
		if e.Execution != nil || e.FailedStep != "" {
			return fmt.Errorf("拒绝记录不应携带执行信息")
		}
	case OutcomeExecuted:
		if !e.Decision.Approved {
			return fmt.Errorf("执行记录必须对应已批准的决策")
		}
		if e.Execution == nil {
			return fmt.Errorf("执行记录缺少交易引用")
		}
	case OutcomeExecutionFailed:
		if !e.Decision.Approved {
			return fmt.Errorf("执行失败记录必须对应已批准的决策")
		}
		if strings.TrimSpace(e.FailedStep) == "" {
			return fmt.Errorf("执行失败记录缺少失败步骤")
		}
	default:
		return fmt.Errorf("未知的审计结果 %q", e.Outcome)
	}
	return nil
}
