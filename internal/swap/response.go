package swap

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outcome 标识响应的变体。
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
)

// Reason 是拒绝响应对外暴露的稳定原因码。
type Reason string

const (
	ReasonRetrievalUnavailable    Reason = "RetrievalUnavailable"
	ReasonIntentUnparseable       Reason = "IntentUnparseable"
	ReasonUnknownToken            Reason = "UnknownToken"
	ReasonInferenceUnavailable    Reason = "InferenceUnavailable"
	ReasonNoRouteFound            Reason = "NoRouteFound"
	ReasonQuoteServiceUnavailable Reason = "QuoteServiceUnavailable"
	ReasonInsufficientBalance     Reason = "InsufficientBalance"
	ReasonInsufficientAllowance   Reason = "InsufficientAllowance"
	ReasonQuoteExpired            Reason = "QuoteExpired"
	ReasonChainUnavailable        Reason = "ChainUnavailable"
	ReasonInvalidRequest          Reason = "InvalidRequest"
	ReasonCanceled                Reason = "Canceled"
	ReasonInternal                Reason = "Internal"
)

// Response 是每个请求唯一的终态结果。
type Response struct {
	Outcome   Outcome       `json:"outcome"`
	Confirmed *Confirmation `json:"confirmed,omitempty"`
	Rejected  *Rejection    `json:"rejected,omitempty"`
	Metadata  Metadata      `json:"metadata"`
}

// Confirmation 是成功变体。
type Confirmation struct {
	Intent           Intent          `json:"intent"`
	Quote            QuoteCandidate  `json:"quote"`
	Snapshot         ChainSnapshot   `json:"snapshot"`
	MinReceived      decimal.Decimal `json:"min_received"`
	ApprovalRequired bool            `json:"approval_required"`
	Summary          string          `json:"summary"`
}

// Rejection 是失败变体。
type Rejection struct {
	Reason      Reason `json:"reason"`
	Explanation string `json:"explanation"`
}

// Metadata 记录请求级别的诊断信息。
type Metadata struct {
	RequestID   string        `json:"request_id"`
	ChainID     string        `json:"chain_id,omitempty"`
	Degraded    bool          `json:"degraded"`
	FinalState  string        `json:"final_state"`
	FailedStage string        `json:"failed_stage,omitempty"`
	Stages      []StageReport `json:"stages,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// StageReport 记录单个阶段的执行情况。
type StageReport struct {
	Stage      string `json:"stage"`
	Attempts   int    `json:"attempts"`
	DurationMS int64  `json:"duration_ms"`
	Code       string `json:"code,omitempty"`
}

// IsConfirmed 判断是否为成功变体。
func (r *Response) IsConfirmed() bool {
	return r != nil && r.Outcome == OutcomeConfirmed && r.Confirmed != nil
}

// Reason 返回拒绝原因，成功响应返回空串。
func (r *Response) Reason() Reason {
	if r == nil || r.Rejected == nil {
		return ""
	}
	return r.Rejected.Reason
}
