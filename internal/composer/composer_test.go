package composer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

func TestReasonForIsTotalOverFailureCodes(t *testing.T) {
	seen := make(map[swap.Reason]xerrors.Code)
	for _, code := range swap.FailureCodes() {
		reason := ReasonFor(code)
		require.NotEqual(t, swap.ReasonInternal, reason, "code %s", code)
		if prev, dup := seen[reason]; dup {
			t.Fatalf("reason %s used by %s and %s", reason, prev, code)
		}
		seen[reason] = code
	}
	assert.Equal(t, swap.ReasonInternal, ReasonFor(xerrors.CodeStorageFailure))
}

func TestConfirm(t *testing.T) {
	intent := swap.Intent{
		Source:      swap.Token{Symbol: "USDC", Decimals: 6},
		Destination: swap.Token{Symbol: "ETH", Decimals: 18, Native: true},
		Amount:      decimal.NewFromInt(100),
		MaxSlippage: decimal.RequireFromString("0.5"),
	}
	quote := swap.QuoteCandidate{RouteID: "1inch:UNISWAP_V3", ExpectedOutput: decimal.RequireFromString("0.041")}

	resp := Confirm(intent, quote, swap.ChainSnapshot{BlockNumber: 7}, false)
	require.True(t, resp.IsConfirmed())
	assert.Nil(t, resp.Rejected)
	assert.True(t, resp.Confirmed.Quote.ExpectedOutput.Equal(decimal.RequireFromString("0.041")))
	assert.Equal(t, "0.040795", resp.Confirmed.MinReceived.String())
	assert.Equal(t, "Swap 100 USDC for ~0.041 ETH via 1inch:UNISWAP_V3 (min received 0.040795 ETH at 0.5% slippage).", resp.Confirmed.Summary)

	flagged := Confirm(intent, quote, swap.ChainSnapshot{}, true)
	assert.True(t, flagged.Confirmed.ApprovalRequired)
	assert.True(t, strings.HasSuffix(flagged.Confirmed.Summary, "Approve USDC for the router before executing."))
}

func TestRejectHidesInternalDetail(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.7:8545: connection refused")
	resp := Reject(xerrors.Wrap(swap.CodeChainUnavailable, cause, "读取链上状态失败"))

	require.Equal(t, swap.OutcomeRejected, resp.Outcome)
	assert.Equal(t, swap.ReasonChainUnavailable, resp.Reason())
	assert.NotContains(t, resp.Rejected.Explanation, "10.0.0.7")
	assert.NotContains(t, resp.Rejected.Explanation, "读取")
}

func TestRejectShortfall(t *testing.T) {
	err := xerrors.New(swap.CodeInsufficientBalance, "余额不足",
		xerrors.WithMetadata(swap.MetaSymbol, "USDC"),
		xerrors.WithMetadata(swap.MetaRequired, "100"),
		xerrors.WithMetadata(swap.MetaAvailable, "50"),
		xerrors.WithMetadata("rpc", "https://eth-mainnet.example/v2/secret"),
	)
	resp := Reject(err)
	assert.Equal(t, swap.ReasonInsufficientBalance, resp.Reason())
	assert.Equal(t, "Insufficient balance: 100 USDC required, 50 USDC available.", resp.Rejected.Explanation)
}

func TestRejectUncodedIsInternal(t *testing.T) {
	resp := Reject(context.DeadlineExceeded)
	assert.Equal(t, swap.ReasonInternal, resp.Reason())
	assert.NotEmpty(t, resp.Rejected.Explanation)
}

func TestMinReceivedClampsSlippage(t *testing.T) {
	assert.True(t, MinReceived(decimal.NewFromInt(10), decimal.NewFromInt(150), 6).IsZero())
	assert.Equal(t, "9.9", MinReceived(decimal.NewFromInt(10), decimal.NewFromInt(1), 6).String())
}
