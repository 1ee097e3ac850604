package execution

import (
	"context"
	"fmt"
	"time"

	xerrors "PolicyGate-Chain/internal/errors"
	"PolicyGate-Chain/internal/market"
)

// Step 标识执行流水线中的一个外部步骤。
type Step string

const (
	StepBurn Step = "burn"
	StepMint Step = "mint"
	StepBet  Step = "bet"
)

const (
	CodeBridgeBurn   xerrors.Code = "BRIDGE_BURN_FAILED"
	CodeBridgeMint   xerrors.Code = "BRIDGE_MINT_FAILED"
	CodeBetPlacement xerrors.Code = "BET_PLACEMENT_FAILED"
)

func init() {
	xerrors.Register(CodeBridgeBurn, xerrors.Attributes{
		Message:   "bridge burn failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeBridgeMint, xerrors.Attributes{
		Message:   "bridge mint failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeBetPlacement, xerrors.Attributes{
		Message:   "bet placement failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
}

// Record 汇总一次完整执行的三个交易引用。只有三步全部成功才会产生。
type Record struct {
	BurnTxRef string `json:"burn_tx_ref"`
	MintTxRef string `json:"mint_tx_ref"`
	BetTxRef  string `json:"bet_tx_ref"`
}

// StepError 是类型化的执行失败：标识失败的步骤、失败前已取得的部分引用
// 以及底层原因。任何一步失败都终止该机会的流水线，不做静默降级。
type StepError struct {
	Step      Step
	BurnTxRef string
	MintTxRef string
	cause     error
}

// NewStepError 将未类型化的执行失败包装为指定步骤的 StepError。
func NewStepError(step Step, cause error) *StepError {
	return &StepError{Step: step, cause: cause}
}

// Error 实现 error 接口。
func (e *StepError) Error() string {
	return fmt.Sprintf("执行步骤 %s 失败: %v", e.Step, e.cause)
}

// Unwrap 返回底层原因。
func (e *StepError) Unwrap() error {
	return e.cause
}

// BridgeService 抽象跨链桥：源链销毁 USDC，等待跨链证明后在目标链铸造。
// 重试策略（如有）由桥服务自身承担，流水线不做盲目重发。
type BridgeService interface {
	Burn(ctx context.Context, amountUsdc float64, sourceChain string) (string, error)
	AwaitAttestationAndMint(ctx context.Context, burnRef, destChain string) (string, error)
}

// BetService 抽象下注服务。
type BetService interface {
	PlaceBet(ctx context.Context, marketID, mintRef string) (string, error)
}

// Pipeline 对已批准的决策按固定顺序驱动 burn → mint → bet 三个外部步骤。
// 每一步都受显式超时约束，超时视为该步骤失败而非无限阻塞。
type Pipeline struct {
	bridge      BridgeService
	bets        BetService
	sourceChain string
	burnTimeout time.Duration
	mintTimeout time.Duration
	betTimeout  time.Duration
}

// PipelineOption 定义可选配置。
type PipelineOption func(*Pipeline)

// WithSourceChain 指定资金所在的源链。默认使用机会自身声明的链。
func WithSourceChain(chain string) PipelineOption {
	return func(p *Pipeline) {
		p.sourceChain = chain
	}
}

// WithStepTimeouts 覆盖三个步骤的默认超时。非正值保持默认。
func WithStepTimeouts(burn, mint, bet time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if burn > 0 {
			p.burnTimeout = burn
		}
		if mint > 0 {
			p.mintTimeout = mint
		}
		if bet > 0 {
			p.betTimeout = bet
		}
	}
}

// NewPipeline 构造执行流水线。
func NewPipeline(bridge BridgeService, bets BetService, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		bridge:      bridge,
		bets:        bets,
		burnTimeout: 60 * time.Second,
		mintTimeout: 5 * time.Minute,
		betTimeout:  60 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Execute 针对已批准的机会执行三步流水线。任何一步失败返回 *StepError，
// 携带失败步骤与此前取得的部分引用；成功则返回完整 Record。
func (p *Pipeline) Execute(ctx context.Context, opp market.Opportunity) (*Record, error) {
	if p.bridge == nil || p.bets == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "执行流水线未初始化")
	}

	source := p.sourceChain
	if source == "" {
		source = opp.Chain
	}

	burnCtx, cancelBurn := context.WithTimeout(ctx, p.burnTimeout)
	burnRef, err := p.bridge.Burn(burnCtx, opp.RequiredUsdc, source)
	cancelBurn()
	if err != nil {
		return nil, &StepError{
			Step:  StepBurn,
			cause: xerrors.Wrap(CodeBridgeBurn, err, fmt.Sprintf("源链 %s 销毁 %.2f USDC 失败", source, opp.RequiredUsdc)),
		}
	}

	mintCtx, cancelMint := context.WithTimeout(ctx, p.mintTimeout)
	mintRef, err := p.bridge.AwaitAttestationAndMint(mintCtx, burnRef, opp.Chain)
	cancelMint()
	if err != nil {
		return nil, &StepError{
			Step:      StepMint,
			BurnTxRef: burnRef,
			cause:     xerrors.Wrap(CodeBridgeMint, err, fmt.Sprintf("目标链 %s 铸造失败", opp.Chain)),
		}
	}

	betCtx, cancelBet := context.WithTimeout(ctx, p.betTimeout)
	betRef, err := p.bets.PlaceBet(betCtx, opp.MarketID, mintRef)
	cancelBet()
	if err != nil {
		return nil, &StepError{
			Step:      StepBet,
			BurnTxRef: burnRef,
			MintTxRef: mintRef,
			cause:     xerrors.Wrap(CodeBetPlacement, err, fmt.Sprintf("市场 %s 下注失败", opp.MarketID)),
		}
	}

	return &Record{BurnTxRef: burnRef, MintTxRef: mintRef, BetTxRef: betRef}, nil
}
