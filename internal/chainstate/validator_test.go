package chainstate

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
	"swappilot/internal/web3"
)

var (
	usdc      = swap.Token{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6}
	eth       = swap.Token{Symbol: "ETH", Address: "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE", Decimals: 18, Native: true}
	blockTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

type stubReader struct {
	balance        *big.Int
	allowance      *big.Int
	err            error
	allowanceCalls atomic.Int32
}

func (s *stubReader) Balance(context.Context, string, swap.Token) (*big.Int, error) {
	return s.balance, s.err
}

func (s *stubReader) Allowance(context.Context, string, string, swap.Token) (*big.Int, error) {
	s.allowanceCalls.Add(1)
	return s.allowance, nil
}

func (s *stubReader) LatestBlock(context.Context) (web3.Block, error) {
	return web3.Block{Number: 100, GasPrice: big.NewInt(15_000_000_000), Timestamp: blockTime}, nil
}

func usdcUnits(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000))
}

func intentFor(source swap.Token, amount int64) swap.Intent {
	return swap.Intent{
		Source:      source,
		Destination: eth,
		Amount:      decimal.NewFromInt(amount),
		Wallet:      "0x00000000000000000000000000000000000000aa",
	}
}

func candidates(expiries ...time.Time) []swap.QuoteCandidate {
	out := make([]swap.QuoteCandidate, 0, len(expiries))
	for i, exp := range expiries {
		out = append(out, swap.QuoteCandidate{
			RouteID:        string(rune('a' + i)),
			ExpectedOutput: decimal.RequireFromString("0.041"),
			ExpiresAt:      exp,
		})
	}
	return out
}

func chainWith(reader web3.Reader) web3.Chain {
	return web3.Chain{Name: "mainnet", ID: "1", Spender: web3.DefaultSpender, Reader: reader}
}

// newValidator 使用与区块时间一致的时钟。
func newValidator(policy AllowancePolicy) *Validator {
	return NewValidator(policy, WithClock(func() time.Time { return blockTime }))
}

func TestValidateConfirmsFirstLiveCandidate(t *testing.T) {
	reader := &stubReader{balance: usdcUnits(500), allowance: usdcUnits(1000)}
	result, err := newValidator(PolicyReject).Validate(context.Background(), chainWith(reader), intentFor(usdc, 100),
		candidates(blockTime.Add(-time.Second), blockTime.Add(30*time.Second)))
	require.NoError(t, err)
	assert.Equal(t, "b", result.Quote.RouteID)
	assert.False(t, result.ApprovalRequired)
	assert.Equal(t, uint64(100), result.Snapshot.BlockNumber)
	assert.Equal(t, "500", result.Snapshot.Balance.String())
	assert.Equal(t, "1000", result.Snapshot.Allowance.String())
	assert.Equal(t, "15000000000", result.Snapshot.GasPriceWei.String())
}

func TestValidateFailureOrder(t *testing.T) {
	future := blockTime.Add(time.Minute)
	cases := []struct {
		name   string
		reader *stubReader
		quotes []swap.QuoteCandidate
		code   xerrors.Code
	}{
		{
			name:   "balance checked before allowance and expiry",
			reader: &stubReader{balance: usdcUnits(50), allowance: usdcUnits(0)},
			quotes: candidates(blockTime),
			code:   swap.CodeInsufficientBalance,
		},
		{
			name:   "allowance checked before expiry",
			reader: &stubReader{balance: usdcUnits(500), allowance: usdcUnits(10)},
			quotes: candidates(blockTime),
			code:   swap.CodeInsufficientAllowance,
		},
		{
			name:   "expired at block time",
			reader: &stubReader{balance: usdcUnits(500), allowance: usdcUnits(1000)},
			quotes: candidates(blockTime),
			code:   swap.CodeQuoteExpired,
		},
		{
			name:   "rpc failure",
			reader: &stubReader{err: errors.New("connection refused")},
			quotes: candidates(future),
			code:   swap.CodeChainUnavailable,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newValidator(PolicyReject).Validate(context.Background(), chainWith(tc.reader), intentFor(usdc, 100), tc.quotes)
			require.Error(t, err)
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
		})
	}
}

func TestValidateShortfallMetadata(t *testing.T) {
	reader := &stubReader{balance: usdcUnits(50), allowance: usdcUnits(1000)}
	_, err := newValidator(PolicyReject).Validate(context.Background(), chainWith(reader), intentFor(usdc, 100), candidates(blockTime.Add(time.Minute)))

	xerr, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"symbol": "USDC", "required": "100", "available": "50"}, xerr.Metadata())
	assert.False(t, xerr.Retryable())
}

func TestValidateFlagPolicy(t *testing.T) {
	reader := &stubReader{balance: usdcUnits(500), allowance: usdcUnits(10)}
	result, err := newValidator(ParsePolicy("FLAG")).Validate(context.Background(), chainWith(reader), intentFor(usdc, 100), candidates(blockTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, result.ApprovalRequired)
}

func TestValidateNativeSkipsAllowance(t *testing.T) {
	reader := &stubReader{balance: new(big.Int).Mul(big.NewInt(2), big.NewInt(1_000_000_000_000_000_000))}
	result, err := newValidator(PolicyReject).Validate(context.Background(), chainWith(reader), intentFor(eth, 1), candidates(blockTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.True(t, result.Snapshot.AllowanceFree)
	assert.Zero(t, reader.allowanceCalls.Load())
}

func TestValidateExpiryUsesLaterOfBlockAndClock(t *testing.T) {
	reader := &stubReader{balance: usdcUnits(500), allowance: usdcUnits(1000)}
	// 区块时间仍早于有效期，但本地时钟已越过有效期。
	expiry := blockTime.Add(2 * time.Second)
	late := NewValidator(PolicyReject, WithClock(func() time.Time { return blockTime.Add(12 * time.Second) }))

	result, err := late.Validate(context.Background(), chainWith(reader), intentFor(usdc, 100), candidates(expiry))
	require.Error(t, err)
	assert.Equal(t, swap.CodeQuoteExpired, xerrors.CodeOf(err))
	assert.Equal(t, blockTime.Add(12*time.Second), result.Snapshot.FetchedAt)

	result, err = late.Validate(context.Background(), chainWith(reader), intentFor(usdc, 100),
		candidates(expiry, blockTime.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, "b", result.Quote.RouteID)
}

func TestValidateRejectsChainWithoutReader(t *testing.T) {
	_, err := newValidator(PolicyReject).Validate(context.Background(), web3.Chain{ID: "1"}, intentFor(usdc, 100), candidates(blockTime.Add(time.Minute)))
	assert.Equal(t, swap.CodeChainUnavailable, xerrors.CodeOf(err))
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyReject, ParsePolicy(""))
	assert.Equal(t, PolicyReject, ParsePolicy("bogus"))
	assert.Equal(t, PolicyFlag, ParsePolicy(" flag "))
}
