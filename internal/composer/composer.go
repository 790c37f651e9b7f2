// Package composer maps pipeline results onto the single terminal response.
// Every function here is pure: no I/O, no clocks, no randomness.
package composer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
)

var hundred = decimal.NewFromInt(100)

var reasons = map[xerrors.Code]swap.Reason{
	swap.CodeRetrievalUnavailable:    swap.ReasonRetrievalUnavailable,
	swap.CodeIntentUnparseable:       swap.ReasonIntentUnparseable,
	swap.CodeUnknownToken:            swap.ReasonUnknownToken,
	swap.CodeInferenceUnavailable:    swap.ReasonInferenceUnavailable,
	swap.CodeNoRouteFound:            swap.ReasonNoRouteFound,
	swap.CodeQuoteServiceUnavailable: swap.ReasonQuoteServiceUnavailable,
	swap.CodeInsufficientBalance:     swap.ReasonInsufficientBalance,
	swap.CodeInsufficientAllowance:   swap.ReasonInsufficientAllowance,
	swap.CodeQuoteExpired:            swap.ReasonQuoteExpired,
	swap.CodeChainUnavailable:        swap.ReasonChainUnavailable,
	xerrors.CodeInvalidArgument:      swap.ReasonInvalidRequest,
	xerrors.CodeCanceled:             swap.ReasonCanceled,
}

// ReasonFor 将错误码一对一映射为对外原因码，未知错误码映射为 Internal。
func ReasonFor(code xerrors.Code) swap.Reason {
	if reason, ok := reasons[code]; ok {
		return reason
	}
	return swap.ReasonInternal
}

// Confirm 组装成功响应。
func Confirm(intent swap.Intent, quote swap.QuoteCandidate, snapshot swap.ChainSnapshot, approvalRequired bool) swap.Response {
	minReceived := MinReceived(quote.ExpectedOutput, intent.MaxSlippage, intent.Destination.Decimals)
	return swap.Response{
		Outcome: swap.OutcomeConfirmed,
		Confirmed: &swap.Confirmation{
			Intent:           intent,
			Quote:            quote,
			Snapshot:         snapshot,
			MinReceived:      minReceived,
			ApprovalRequired: approvalRequired,
			Summary:          summary(intent, quote, minReceived, approvalRequired),
		},
	}
}

// Reject 将任意失败转换为拒绝响应，说明文字只使用白名单字段。
func Reject(err error) swap.Response {
	code := xerrors.CodeOf(err)
	reason := ReasonFor(code)
	return swap.Response{
		Outcome: swap.OutcomeRejected,
		Rejected: &swap.Rejection{
			Reason:      reason,
			Explanation: Explain(reason, publicMetadata(err)),
		},
	}
}

// MinReceived 计算滑点保护下的最少到账数量，按目标代币精度截断。
func MinReceived(output, slippagePct decimal.Decimal, decimals int32) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(slippagePct.Div(hundred))
	if factor.IsNegative() {
		factor = decimal.Zero
	}
	return output.Mul(factor).Truncate(decimals)
}

// Explain 生成面向用户的说明。
func Explain(reason swap.Reason, meta map[string]string) string {
	symbol := meta[swap.MetaSymbol]
	switch reason {
	case swap.ReasonRetrievalUnavailable:
		return "Reference data is temporarily unavailable."
	case swap.ReasonIntentUnparseable:
		return "Could not understand the swap request. Try a phrase like \"swap 100 USDC for ETH\"."
	case swap.ReasonUnknownToken:
		if symbol != "" {
			return fmt.Sprintf("Token %s is not supported on this chain.", symbol)
		}
		return "One of the requested tokens is not supported on this chain."
	case swap.ReasonInferenceUnavailable:
		return "The language model is temporarily unavailable. Please try again shortly."
	case swap.ReasonNoRouteFound:
		return "No swap route is currently available for this pair and amount."
	case swap.ReasonQuoteServiceUnavailable:
		return "The quote service is temporarily unavailable. Please try again shortly."
	case swap.ReasonInsufficientBalance:
		return shortfall("Insufficient balance", symbol, meta)
	case swap.ReasonInsufficientAllowance:
		return shortfall("Insufficient allowance", symbol, meta) + " Approve the router before swapping."
	case swap.ReasonQuoteExpired:
		return "Every available quote expired before it could be confirmed on chain."
	case swap.ReasonChainUnavailable:
		return "The blockchain node is temporarily unavailable. Please try again shortly."
	case swap.ReasonInvalidRequest:
		if detail := meta[swap.MetaDetail]; detail != "" {
			return "The request is invalid: " + detail + "."
		}
		return "The request is invalid."
	case swap.ReasonCanceled:
		return "The request was canceled before it completed."
	default:
		return "The request could not be completed."
	}
}

func shortfall(prefix, symbol string, meta map[string]string) string {
	required, available := meta[swap.MetaRequired], meta[swap.MetaAvailable]
	if symbol == "" || required == "" || available == "" {
		return prefix + "."
	}
	return fmt.Sprintf("%s: %s %s required, %s %s available.", prefix, required, symbol, available, symbol)
}

func summary(intent swap.Intent, quote swap.QuoteCandidate, minReceived decimal.Decimal, approvalRequired bool) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Swap %s %s for ~%s %s via %s (min received %s %s at %s%% slippage).",
		intent.Amount.String(), intent.Source.Symbol,
		quote.ExpectedOutput.String(), intent.Destination.Symbol,
		quote.RouteID,
		minReceived.String(), intent.Destination.Symbol,
		intent.MaxSlippage.String(),
	)
	if approvalRequired {
		fmt.Fprintf(&builder, " Approve %s for the router before executing.", intent.Source.Symbol)
	}
	return builder.String()
}

// publicMetadata 只保留可以对外展示的附加信息。
func publicMetadata(err error) map[string]string {
	meta := make(map[string]string, 4)
	for _, key := range []string{swap.MetaSymbol, swap.MetaRequired, swap.MetaAvailable, swap.MetaDetail} {
		if value, ok := xerrors.MetadataOf(err, key); ok {
			meta[key] = value
		}
	}
	return meta
}
