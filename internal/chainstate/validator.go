// Package chainstate confirms that a ranked quote is still executable
// against live chain state: balance, allowance and block-time expiry.
package chainstate

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
	"swappilot/internal/web3"
)

// AllowancePolicy 决定授权不足时的处理方式。
type AllowancePolicy string

const (
	// PolicyReject 授权不足时拒绝请求。
	PolicyReject AllowancePolicy = "reject"
	// PolicyFlag 授权不足时仍然确认，并标记需要先授权。
	PolicyFlag AllowancePolicy = "flag"
)

// ParsePolicy 解析配置中的授权策略，未知值按 reject 处理。
func ParsePolicy(value string) AllowancePolicy {
	if strings.EqualFold(strings.TrimSpace(value), string(PolicyFlag)) {
		return PolicyFlag
	}
	return PolicyReject
}

// Result 是校验通过后的结果。
type Result struct {
	Quote            swap.QuoteCandidate
	Snapshot         swap.ChainSnapshot
	ApprovalRequired bool
}

// Validator 读取链上状态并校验候选报价。
type Validator struct {
	policy AllowancePolicy
	now    func() time.Time
}

// Option 定义校验器可选配置。
type Option func(*Validator)

// WithClock 替换快照读取时间的来源。
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewValidator 创建链上状态校验器。
func NewValidator(policy AllowancePolicy, opts ...Option) *Validator {
	if policy == "" {
		policy = PolicyReject
	}
	v := &Validator{policy: policy, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Validate 并发读取余额、授权额度和最新区块，依次校验余额、授权与报价有效期。
func (v *Validator) Validate(ctx context.Context, chain web3.Chain, intent swap.Intent, candidates []swap.QuoteCandidate) (Result, error) {
	if chain.Reader == nil {
		return Result{}, xerrors.New(swap.CodeChainUnavailable, "链读取器未配置")
	}

	var (
		balance   *big.Int
		allowance *big.Int
		block     web3.Block
	)
	native := intent.Source.Native
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = chain.Reader.Balance(gctx, intent.Wallet, intent.Source)
		return err
	})
	if !native {
		g.Go(func() error {
			var err error
			allowance, err = chain.Reader.Allowance(gctx, intent.Wallet, chain.Spender, intent.Source)
			return err
		})
	}
	g.Go(func() error {
		var err error
		block, err = chain.Reader.LatestBlock(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, xerrors.Wrap(swap.CodeChainUnavailable, err, "读取链上状态失败")
	}

	snapshot := swap.ChainSnapshot{
		ChainID:       chain.ID,
		BlockNumber:   block.Number,
		BlockTime:     block.Timestamp,
		Balance:       intent.Source.FromBaseUnits(balance),
		AllowanceFree: native,
		FetchedAt:     v.now(),
	}
	if !native {
		snapshot.Allowance = intent.Source.FromBaseUnits(allowance)
	}
	if block.GasPrice != nil {
		snapshot.GasPriceWei = decimal.NewFromBigInt(block.GasPrice, 0)
	}

	if snapshot.Balance.LessThan(intent.Amount) {
		return Result{Snapshot: snapshot}, shortfall(swap.CodeInsufficientBalance, "余额不足", intent, snapshot.Balance)
	}

	approvalRequired := false
	if !native && snapshot.Allowance.LessThan(intent.Amount) {
		if v.policy != PolicyFlag {
			return Result{Snapshot: snapshot}, shortfall(swap.CodeInsufficientAllowance, "授权额度不足", intent, snapshot.Allowance)
		}
		approvalRequired = true
	}

	// 区块时间总是落后于当前时间，过期判断取两者中较晚的一个。
	checkAt := block.Timestamp
	if snapshot.FetchedAt.After(checkAt) {
		checkAt = snapshot.FetchedAt
	}
	for _, candidate := range candidates {
		if candidate.ExpiredAt(checkAt) {
			continue
		}
		return Result{Quote: candidate, Snapshot: snapshot, ApprovalRequired: approvalRequired}, nil
	}
	return Result{Snapshot: snapshot}, xerrors.New(swap.CodeQuoteExpired, "报价在校验时已过期")
}

func shortfall(code xerrors.Code, message string, intent swap.Intent, available decimal.Decimal) error {
	return xerrors.New(code, message,
		xerrors.WithMetadata(swap.MetaSymbol, intent.Source.Symbol),
		xerrors.WithMetadata(swap.MetaRequired, intent.Amount.String()),
		xerrors.WithMetadata(swap.MetaAvailable, available.String()),
	)
}
