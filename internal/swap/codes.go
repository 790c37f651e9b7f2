package swap

import (
	xerrors "swappilot/internal/errors"
)

// 失败分类对应的统一错误码。
const (
	CodeRetrievalUnavailable    xerrors.Code = "RETRIEVAL_UNAVAILABLE"
	CodeIntentUnparseable       xerrors.Code = "INTENT_UNPARSEABLE"
	CodeUnknownToken            xerrors.Code = "UNKNOWN_TOKEN"
	CodeInferenceUnavailable    xerrors.Code = "INFERENCE_UNAVAILABLE"
	CodeNoRouteFound            xerrors.Code = "NO_ROUTE_FOUND"
	CodeQuoteServiceUnavailable xerrors.Code = "QUOTE_SERVICE_UNAVAILABLE"
	CodeInsufficientBalance     xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientAllowance   xerrors.Code = "INSUFFICIENT_ALLOWANCE"
	CodeQuoteExpired            xerrors.Code = "QUOTE_EXPIRED"
	CodeChainUnavailable        xerrors.Code = "CHAIN_UNAVAILABLE"
)

// 错误附加信息的键，仅包含可以对外展示的内容。
const (
	MetaSymbol    = "symbol"
	MetaRequired  = "required"
	MetaAvailable = "available"
	MetaDetail    = "detail"
)

var failureCodes = []xerrors.Code{
	CodeRetrievalUnavailable,
	CodeIntentUnparseable,
	CodeUnknownToken,
	CodeInferenceUnavailable,
	CodeNoRouteFound,
	CodeQuoteServiceUnavailable,
	CodeInsufficientBalance,
	CodeInsufficientAllowance,
	CodeQuoteExpired,
	CodeChainUnavailable,
	xerrors.CodeInvalidArgument,
	xerrors.CodeCanceled,
}

func init() {
	xerrors.Register(CodeRetrievalUnavailable, xerrors.Attributes{
		Message:   "context retrieval unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeIntentUnparseable, xerrors.Attributes{
		Message:   "swap intent could not be parsed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{
		Message:   "token is not in the registry",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInferenceUnavailable, xerrors.Attributes{
		Message:   "inference endpoint unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeNoRouteFound, xerrors.Attributes{
		Message:   "no viable swap route",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeQuoteServiceUnavailable, xerrors.Attributes{
		Message:   "quote service unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:   "insufficient balance",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientAllowance, xerrors.Attributes{
		Message:   "insufficient allowance",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeQuoteExpired, xerrors.Attributes{
		Message:   "quote expired",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeChainUnavailable, xerrors.Attributes{
		Message:   "chain rpc unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// FailureCodes 返回流水线可能产生的全部失败码。
func FailureCodes() []xerrors.Code {
	out := make([]xerrors.Code, len(failureCodes))
	copy(out, failureCodes)
	return out
}

// IsFailureCode 判断错误码是否属于失败分类。
func IsFailureCode(code xerrors.Code) bool {
	for _, c := range failureCodes {
		if c == code {
			return true
		}
	}
	return false
}
