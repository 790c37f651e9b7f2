package quote

import (
	"math/big"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

// nativeDecimals 是 EVM 原生币的精度。
const nativeDecimals = 18

// Rank 按净输出降序、价格影响升序、路由 ID 升序排序，返回新切片。
func Rank(candidates []swap.QuoteCandidate) []swap.QuoteCandidate {
	ranked := make([]swap.QuoteCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if cmp := a.NetOutput().Cmp(b.NetOutput()); cmp != 0 {
			return cmp > 0
		}
		if cmp := a.PriceImpact.Cmp(b.PriceImpact); cmp != 0 {
			return cmp < 0
		}
		return a.RouteID < b.RouteID
	})
	return ranked
}

// Select 剔除在 now 时刻已过期的候选，保持原有顺序。
func Select(ranked []swap.QuoteCandidate, now time.Time) ([]swap.QuoteCandidate, error) {
	live := make([]swap.QuoteCandidate, 0, len(ranked))
	for _, candidate := range ranked {
		if candidate.ExpiredAt(now) {
			continue
		}
		live = append(live, candidate)
	}
	if len(live) == 0 {
		return nil, xerrors.New(swap.CodeNoRouteFound, "没有可用的换币路由")
	}
	return live, nil
}

// gasCost 将 gas 成本换算为目标代币数量。
func gasCost(estimatedGas uint64, gasPrice *big.Int, q Query, output decimal.Decimal) decimal.Decimal {
	if gasPrice == nil || gasPrice.Sign() <= 0 || estimatedGas == 0 {
		return decimal.Zero
	}
	wei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(estimatedGas))
	native := decimal.NewFromBigInt(wei, -nativeDecimals)

	var cost decimal.Decimal
	switch {
	case q.Destination.Native || q.Destination.WrappedNative:
		cost = native
	case (q.Source.Native || q.Source.WrappedNative) && q.Amount.IsPositive():
		cost = native.Mul(output).Div(q.Amount)
	default:
		return decimal.Zero
	}
	return cost.Truncate(q.Destination.Decimals)
}
