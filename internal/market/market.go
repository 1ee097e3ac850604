package market

import (
	"context"
	"strings"

	xerrors "PolicyGate-Chain/internal/errors"
)

// Opportunity 描述一次候选动作：在某条链上花费一定 USDC、带有置信度的市场机会。
// 由机会源创建后不可变，每次运行中恰好被决策引擎消费一次。
// Confidence 采用 0-100 的百分制。
type Opportunity struct {
	MarketID     string  `json:"market_id"`
	Title        string  `json:"title"`
	Confidence   float64 `json:"confidence"`
	RequiredUsdc float64 `json:"required_usdc"`
	Chain        string  `json:"chain"`
}

// Validate 检查机会的基本字段。标题仅作描述，不参与校验。
func (o Opportunity) Validate() error {
	if strings.TrimSpace(o.MarketID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会缺少 market_id")
	}
	if o.Confidence < 0 || o.Confidence > 100 {
		return xerrors.New(xerrors.CodeInvalidArgument, "confidence 必须位于 0-100 区间")
	}
	if o.RequiredUsdc < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "required_usdc 不能为负数")
	}
	if strings.TrimSpace(o.Chain) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "机会缺少 chain")
	}
	return nil
}

// Source 抽象了有限、可重放的机会批次来源。决策引擎不假定任何顺序。
type Source interface {
	Opportunities(ctx context.Context) ([]Opportunity, error)
}

// StaticSource 以固定切片提供机会批次，可重复读取。
type StaticSource struct {
	batch []Opportunity
}

// NewStaticSource 构造 StaticSource。
func NewStaticSource(batch []Opportunity) *StaticSource {
	cloned := make([]Opportunity, len(batch))
	copy(cloned, batch)
	return &StaticSource{batch: cloned}
}

// Opportunities 实现 Source 接口。
func (s *StaticSource) Opportunities(_ context.Context) ([]Opportunity, error) {
	batch := make([]Opportunity, len(s.batch))
	copy(batch, s.batch)
	return batch, nil
}
