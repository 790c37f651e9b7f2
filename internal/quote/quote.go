package quote

import (
	"context"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/ratelimit"
	"swappilot/internal/swap"
	"swappilot/internal/web3"
)

// DefaultTTL 是报价未声明有效期时使用的有效时长。
const DefaultTTL = 30 * time.Second

// Query 描述一次报价请求。
type Query struct {
	ChainID      string
	Source       swap.Token
	Destination  swap.Token
	Amount       decimal.Decimal
	PreferredDEX string
	Gas          GasPricer
}

// Route 是报价源返回的原始路由，数量使用目标代币最小单位。
type Route struct {
	ID           string
	Protocol     string
	ToAmount     *big.Int
	EstimatedGas uint64
	PriceImpact  decimal.Decimal
	ExpiresAt    time.Time
}

// Source 定义报价源接口。
type Source interface {
	Routes(ctx context.Context, q Query) ([]Route, error)
}

// GasPricer 提供当前 gas 价格（wei）。
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, error)
}

// ReaderGasPricer 从链读取最新区块的 gas 价格，Limiter 非空时先获取许可。
type ReaderGasPricer struct {
	Reader  web3.Reader
	Limiter ratelimit.Limiter
}

// GasPrice 实现 GasPricer 接口。
func (r ReaderGasPricer) GasPrice(ctx context.Context) (*big.Int, error) {
	if r.Reader == nil {
		return nil, xerrors.New(swap.CodeChainUnavailable, "链未配置读取器")
	}
	if r.Limiter != nil {
		if err := r.Limiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}
	block, err := r.Reader.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	return block.GasPrice, nil
}

// Aggregator 将报价源结果转换为排序后的候选报价。
type Aggregator struct {
	source Source
	ttl    time.Duration
	now    func() time.Time
}

// Option 定义聚合器可选配置。
type Option func(*Aggregator)

// WithTTL 设置报价有效时长。
func WithTTL(ttl time.Duration) Option {
	return func(a *Aggregator) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator 创建报价聚合器。
func NewAggregator(source Source, opts ...Option) *Aggregator {
	a := &Aggregator{source: source, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Quote 返回按净输出排序、剔除已过期项的候选报价。
func (a *Aggregator) Quote(ctx context.Context, q Query) ([]swap.QuoteCandidate, error) {
	if a == nil || a.source == nil {
		return nil, xerrors.New(swap.CodeQuoteServiceUnavailable, "未配置报价源")
	}

	routes, err := a.source.Routes(ctx, q)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if xerrors.HasCode(err, swap.CodeNoRouteFound, swap.CodeQuoteServiceUnavailable) {
			return nil, err
		}
		return nil, xerrors.Wrap(swap.CodeQuoteServiceUnavailable, err, "获取报价失败")
	}

	var gasPrice *big.Int
	if q.Gas != nil {
		// 读取失败时按零 gas 成本排序。
		if price, err := q.Gas.GasPrice(ctx); err == nil {
			gasPrice = price
		}
	}

	fetchedAt := a.now()
	candidates := make([]swap.QuoteCandidate, 0, len(routes))
	for _, route := range routes {
		if route.ToAmount == nil || route.ToAmount.Sign() <= 0 {
			continue
		}
		output := q.Destination.FromBaseUnits(route.ToAmount)
		expiresAt := route.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = fetchedAt.Add(a.ttl)
		}
		candidates = append(candidates, swap.QuoteCandidate{
			RouteID:        route.ID,
			Protocol:       route.Protocol,
			ExpectedOutput: output,
			GasCost:        gasCost(route.EstimatedGas, gasPrice, q, output),
			EstimatedGas:   route.EstimatedGas,
			PriceImpact:    route.PriceImpact,
			ExpiresAt:      expiresAt,
		})
	}

	return Select(Rank(candidates), a.now())
}
