package swap

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Request 是一次换币请求的入站载荷，创建后不可修改。
type Request struct {
	ID      string `json:"id,omitempty"`
	Text    string `json:"text"`
	Wallet  string `json:"wallet"`
	ChainID string `json:"chain_id,omitempty"`
}

// Token 描述注册表中的一个代币。
type Token struct {
	Symbol        string `json:"symbol" yaml:"symbol"`
	Address       string `json:"address" yaml:"address"`
	Decimals      int32  `json:"decimals" yaml:"decimals"`
	Native        bool   `json:"native,omitempty" yaml:"native"`
	WrappedNative bool   `json:"wrapped_native,omitempty" yaml:"wrapped_native"`
}

// SameAs 按地址判断两个代币是否相同。
func (t Token) SameAs(other Token) bool {
	return strings.EqualFold(t.Address, other.Address)
}

// ToBaseUnits 将十进制数量转换为链上最小单位。
func (t Token) ToBaseUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromBaseUnits 将链上最小单位转换为十进制数量。
func (t Token) FromBaseUnits(value *big.Int) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, -t.Decimals)
}

// ContextSnippet 是检索得到的一段参考资料。
type ContextSnippet struct {
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// Intent 是从自然语言中解析并校验过的换币意图。
type Intent struct {
	Source       Token           `json:"source"`
	Destination  Token           `json:"destination"`
	Amount       decimal.Decimal `json:"amount"`
	Wallet       string          `json:"wallet"`
	MaxSlippage  decimal.Decimal `json:"max_slippage_pct"`
	PreferredDEX string          `json:"preferred_dex,omitempty"`
}

// QuoteCandidate 是聚合器返回的一条可执行路由。
type QuoteCandidate struct {
	RouteID        string          `json:"route_id"`
	Protocol       string          `json:"protocol,omitempty"`
	ExpectedOutput decimal.Decimal `json:"expected_output"`
	GasCost        decimal.Decimal `json:"gas_cost"`
	EstimatedGas   uint64          `json:"estimated_gas"`
	PriceImpact    decimal.Decimal `json:"price_impact_pct"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// NetOutput 返回扣除 gas 成本后的预期输出。
func (q QuoteCandidate) NetOutput() decimal.Decimal {
	return q.ExpectedOutput.Sub(q.GasCost)
}

// ExpiredAt 判断报价在给定时刻是否已经过期。
func (q QuoteCandidate) ExpiredAt(t time.Time) bool {
	return !t.Before(q.ExpiresAt)
}

// ChainSnapshot 是校验报价时读取的链上状态。
type ChainSnapshot struct {
	ChainID       string          `json:"chain_id"`
	BlockNumber   uint64          `json:"block_number"`
	BlockTime     time.Time       `json:"block_time"`
	Balance       decimal.Decimal `json:"balance"`
	Allowance     decimal.Decimal `json:"allowance"`
	AllowanceFree bool            `json:"allowance_free,omitempty"`
	GasPriceWei   decimal.Decimal `json:"gas_price_wei"`
	FetchedAt     time.Time       `json:"fetched_at"`
}
