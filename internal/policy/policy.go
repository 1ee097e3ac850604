package policy

import (
	"context"
	"strings"
	"time"

	xerrors "PolicyGate-Chain/internal/errors"
)

// Policy 描述了一次运行中智能体被允许执行的边界。策略在加载后不可变，
// 所有字段在构造时确定，有效期截止到 ExpiresAt（含当刻）。
// MinConfidence 采用 0-100 的百分制。
type Policy struct {
	PolicyID      string    `json:"policy_id" yaml:"policy_id"`
	Authority     string    `json:"authority" yaml:"authority"`
	MaxSpendUsdc  float64   `json:"max_spend_usdc" yaml:"max_spend_usdc"`
	MinConfidence float64   `json:"min_confidence" yaml:"min_confidence"`
	AllowedChains []string  `json:"allowed_chains" yaml:"allowed_chains"`
	ExpiresAt     time.Time `json:"expires_at" yaml:"expires_at"`
}

// Source 抽象了策略的外部来源。
type Source interface {
	// Load 根据引用加载策略快照。策略不存在时返回 ErrPolicyNotFound，
	// 无法读取或解析时返回 ErrPolicyUnreadable。
	Load(ctx context.Context, ref string) (Policy, error)
}

var (
	// ErrPolicyNotFound 表示指定引用的策略不存在。
	ErrPolicyNotFound = xerrors.New(CodePolicyNotFound, "policy not found")
	// ErrPolicyUnreadable 表示策略存在但无法读取或解析。
	ErrPolicyUnreadable = xerrors.New(CodePolicyUnreadable, "policy unreadable")
)

const (
	CodePolicyNotFound   xerrors.Code = "POLICY_NOT_FOUND"
	CodePolicyUnreadable xerrors.Code = "POLICY_UNREADABLE"
	CodePolicyInvalid    xerrors.Code = "POLICY_INVALID"
)

func init() {
	xerrors.Register(CodePolicyNotFound, xerrors.Attributes{
		Message:   "policy not found",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodePolicyUnreadable, xerrors.Attributes{
		Message:   "policy unreadable",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodePolicyInvalid, xerrors.Attributes{
		Message:   "policy failed validation",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// Validate 检查策略字段是否构成一个可执行的约束集合。
// 策略错误对整个运行是致命的，没有合法策略就无法评估任何机会。
func (p Policy) Validate() error {
	if strings.TrimSpace(p.PolicyID) == "" {
		return xerrors.New(CodePolicyInvalid, "策略缺少 policy_id")
	}
	if p.MaxSpendUsdc < 0 {
		return xerrors.New(CodePolicyInvalid, "max_spend_usdc 不能为负数")
	}
	if p.MinConfidence < 0 || p.MinConfidence > 100 {
		return xerrors.New(CodePolicyInvalid, "min_confidence 必须位于 0-100 区间")
	}
	if len(p.AllowedChains) == 0 {
		return xerrors.New(CodePolicyInvalid, "allowed_chains 不能为空")
	}
	for _, chain := range p.AllowedChains {
		if strings.TrimSpace(chain) == "" {
			return xerrors.New(CodePolicyInvalid, "allowed_chains 含有空链标识")
		}
	}
	if p.ExpiresAt.IsZero() {
		return xerrors.New(CodePolicyInvalid, "策略缺少 expires_at")
	}
	return nil
}

// AllowsChain 判断给定链是否在允许集合内。
func (p Policy) AllowsChain(chain string) bool {
	for _, allowed := range p.AllowedChains {
		if allowed == chain {
			return true
		}
	}
	return false
}

// Expired 判断策略在给定时刻是否已过期。到期当刻仍视为有效。
func (p Policy) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// StaticSource 以内存映射提供策略，主要用于测试与单机运行。
type StaticSource struct {
	policies map[string]Policy
}

// NewStaticSource 构造 StaticSource。
func NewStaticSource(policies map[string]Policy) *StaticSource {
	cloned := make(map[string]Policy, len(policies))
	for ref, pol := range policies {
		cloned[ref] = pol
	}
	return &StaticSource{policies: cloned}
}

// Load 实现 Source 接口。
func (s *StaticSource) Load(_ context.Context, ref string) (Policy, error) {
	pol, ok := s.policies[ref]
	if !ok {
		return Policy{}, ErrPolicyNotFound
	}
	return pol, nil
}
