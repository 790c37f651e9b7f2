package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"swappilot/internal/chainstate"
	"swappilot/internal/composer"
	xerrors "swappilot/internal/errors"
	"swappilot/internal/knowledge"
	"swappilot/internal/quote"
	"swappilot/internal/ratelimit"
	"swappilot/internal/swap"
	"swappilot/internal/web3"
	"swappilot/pkg/logger"
)

// Retriever 检索参考资料。
type Retriever interface {
	Retrieve(ctx context.Context, text string) (*knowledge.Snippets, error)
}

// IntentParser 生成换币意图。
type IntentParser interface {
	Parse(ctx context.Context, req swap.Request, snippets []swap.ContextSnippet) (swap.Intent, error)
}

// QuoteAggregator 获取排序后的候选报价。
type QuoteAggregator interface {
	Quote(ctx context.Context, q quote.Query) ([]swap.QuoteCandidate, error)
}

// StateValidator 校验链上状态。
type StateValidator interface {
	Validate(ctx context.Context, chain web3.Chain, intent swap.Intent, candidates []swap.QuoteCandidate) (chainstate.Result, error)
}

// Metrics 接收编排过程中的观测数据。
type Metrics interface {
	ObserveStage(stage string, code string, attempts int, elapsed time.Duration)
	ObserveOutcome(outcome string, reason string, degraded bool, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStage(string, string, int, time.Duration)    {}
func (noopMetrics) ObserveOutcome(string, string, bool, time.Duration) {}

// Dependencies 汇总编排器依赖的协作者。
type Dependencies struct {
	Retriever Retriever
	Parser    IntentParser
	Quotes    QuoteAggregator
	Validator StateValidator
	Chains    web3.ChainResolver
}

// Orchestrator 按固定顺序驱动各阶段，保证每个请求只产生一个终态响应。
type Orchestrator struct {
	deps     Dependencies
	settings Settings
	limiters map[Stage]ratelimit.Limiter
	metrics  Metrics
	now      func() time.Time
	log      *slog.Logger
	audit    *slog.Logger
}

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics 配置指标收集器。
func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLimiter 为某个阶段配置限流器。
func WithLimiter(stage Stage, limiter ratelimit.Limiter) Option {
	return func(o *Orchestrator) {
		if limiter != nil {
			o.limiters[stage] = limiter
		}
	}
}

// WithLogger 替换运行日志与审计日志。
func WithLogger(log, audit *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
		if audit != nil {
			o.audit = audit
		}
	}
}

// New 创建编排器。
func New(deps Dependencies, settings Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:     deps,
		settings: settings,
		limiters: make(map[Stage]ratelimit.Limiter),
		metrics:  noopMetrics{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.log == nil {
		o.log = logger.Named("agent")
	}
	if o.audit == nil {
		o.audit = logger.Audit()
	}
	return o
}

// Settings 返回编排器使用的配置。
func (o *Orchestrator) Settings() Settings {
	return o.settings
}

// run 保存单个请求在流水线中的状态。
type run struct {
	req      swap.Request
	chain    web3.Chain
	meta     swap.Metadata
	stage    Stage
	snippets []swap.ContextSnippet
	intent   swap.Intent
	quotes   []swap.QuoteCandidate
	checked  chainstate.Result
}

// Execute 执行完整流水线，任何失败都会被转换为拒绝响应。
func (o *Orchestrator) Execute(ctx context.Context, req swap.Request) swap.Response {
	r := &run{req: req}
	r.meta.StartedAt = o.now()

	// 校验请求与链。
	if err := o.prepare(r); err != nil {
		return o.reject(r, err)
	}

	// 检索失败时进入降级模式，继续后续阶段。
	err := o.runStage(ctx, r, StageRetrieving, func(sctx context.Context) error {
		snippets, err := o.deps.Retriever.Retrieve(sctx, r.req.Text)
		if err != nil {
			return err
		}
		r.snippets = snippets.Collect()
		return nil
	})
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeCanceled) {
			return o.reject(r, err)
		}
		o.log.Warn("知识检索失败，使用空上下文继续", slog.String("request_id", r.meta.RequestID), slog.Any("error", err))
		r.meta.Degraded = true
		r.snippets = knowledge.Empty().Collect()
	}

	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageParsing, func(sctx context.Context) error {
			intent, err := o.deps.Parser.Parse(sctx, r.req, r.snippets)
			r.intent = intent
			return err
		}},
		{StageQuoting, func(sctx context.Context) error {
			quotes, err := o.deps.Quotes.Quote(sctx, quote.Query{
				ChainID:      r.chain.ID,
				Source:       r.intent.Source,
				Destination:  r.intent.Destination,
				Amount:       r.intent.Amount,
				PreferredDEX: r.intent.PreferredDEX,
				Gas:          o.gasPricer(r.chain),
			})
			r.quotes = quotes
			return err
		}},
		{StageValidating, func(sctx context.Context) error {
			checked, err := o.deps.Validator.Validate(sctx, r.chain, r.intent, r.quotes)
			r.checked = checked
			return err
		}},
	}
	for _, step := range steps {
		if err := o.runStage(ctx, r, step.stage, step.fn); err != nil {
			return o.reject(r, err)
		}
	}

	// 组装响应为纯函数，不设超时与重试。
	o.enter(r, StageComposing)
	composeStart := o.now()
	resp := composer.Confirm(r.intent, r.checked.Quote, r.checked.Snapshot, r.checked.ApprovalRequired)
	o.record(r, StageComposing, 1, o.now().Sub(composeStart), nil)
	o.enter(r, StageDone)
	return o.finish(r, resp, nil)
}

// reject 在失败阶段之后进入 Composing 并构造拒绝响应。
func (o *Orchestrator) reject(r *run, err error) swap.Response {
	r.meta.FailedStage = string(r.stage)
	o.enter(r, StageComposing)
	return o.finish(r, composer.Reject(err), err)
}

func (o *Orchestrator) prepare(r *run) error {
	r.req.Text = strings.TrimSpace(r.req.Text)
	r.req.Wallet = strings.TrimSpace(r.req.Wallet)
	r.req.ChainID = strings.TrimSpace(r.req.ChainID)
	if r.req.ID == "" {
		r.req.ID = uuid.NewString()
	}
	r.meta.RequestID = r.req.ID

	if r.req.Text == "" {
		return invalid("request text is empty")
	}
	if o.settings.MaxTextRunes > 0 && utf8.RuneCountInString(r.req.Text) > o.settings.MaxTextRunes {
		return invalid("request text is too long")
	}
	if !common.IsHexAddress(r.req.Wallet) {
		return invalid("wallet address is not a valid hex address")
	}
	if o.deps.Retriever == nil || o.deps.Parser == nil || o.deps.Quotes == nil || o.deps.Validator == nil || o.deps.Chains == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "编排器依赖未配置完整")
	}
	if r.req.ChainID == "" {
		r.req.ChainID = o.settings.DefaultChain
	}
	chain, ok := o.deps.Chains.Chain(r.req.ChainID)
	if !ok {
		return invalid("chain " + r.req.ChainID + " is not supported")
	}
	r.chain = chain
	r.req.ChainID = chain.ID
	r.meta.ChainID = chain.ID
	return nil
}

func invalid(detail string) error {
	return xerrors.New(xerrors.CodeInvalidArgument, "请求参数非法", xerrors.WithMetadata(swap.MetaDetail, detail))
}

// runStage 在阶段配置的超时、重试与限流约束下执行 fn。
func (o *Orchestrator) runStage(ctx context.Context, r *run, stage Stage, fn func(context.Context) error) error {
	o.enter(r, stage)
	cfg := o.settings.stage(stage)
	started := o.now()

	attempts := 0
	var err error
	for retry := 0; retry <= cfg.Retries; retry++ {
		if retry > 0 {
			if waitErr := sleep(ctx, o.settings.Backoff.Delay(retry)); waitErr != nil {
				err = canceled(waitErr)
				break
			}
		}
		attempts++
		err = o.attempt(ctx, stage, cfg, fn)
		if err == nil || !xerrors.RetryableError(err) {
			break
		}
		o.log.Debug("阶段失败，准备重试",
			slog.String("request_id", r.meta.RequestID),
			slog.String("stage", string(stage)),
			slog.Int("attempt", attempts),
			slog.String("code", string(xerrors.CodeOf(err))),
		)
	}

	o.record(r, stage, attempts, o.now().Sub(started), err)
	return err
}

// gasPricer 读取 gas 价格时占用 Validating 阶段的链上调用许可；链未配置读取器时不估算 gas。
func (o *Orchestrator) gasPricer(chain web3.Chain) quote.GasPricer {
	if chain.Reader == nil {
		return nil
	}
	return quote.ReaderGasPricer{Reader: chain.Reader, Limiter: o.limiter(StageValidating)}
}

func (o *Orchestrator) limiter(stage Stage) ratelimit.Limiter {
	if limiter, ok := o.limiters[stage]; ok {
		return limiter
	}
	return ratelimit.Unlimited{}
}

// attempt 执行一次阶段调用，协作者 panic 时转换为该阶段的不可用错误。
func (o *Orchestrator) attempt(ctx context.Context, stage Stage, cfg StageSettings, fn func(context.Context) error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			o.log.Error("阶段执行发生 panic", slog.String("stage", string(stage)), slog.Any("panic", p))
			err = xerrors.Wrap(unavailableCode(stage), fmt.Errorf("panic: %v", p), "阶段执行异常")
		}
	}()

	if err := o.limiter(stage).Acquire(ctx); err != nil {
		return normalize(ctx, nil, stage, err)
	}

	sctx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return normalize(ctx, sctx, stage, fn(sctx))
}

// normalize 将阶段错误统一为失败分类中的错误码。
func normalize(ctx, sctx context.Context, stage Stage, err error) error {
	if err == nil {
		return nil
	}
	// 调用方取消或调用方自身的截止时间到期。
	if ctxErr := ctx.Err(); ctxErr != nil {
		return canceled(ctxErr)
	}
	unavailable := unavailableCode(stage)
	if stdErrors.Is(err, context.DeadlineExceeded) || (sctx != nil && sctx.Err() != nil) {
		return xerrors.Wrap(unavailable, err, "阶段执行超时", xerrors.WithMetadata("timeout", "true"))
	}
	if xerrors.HasCode(err, xerrors.CodeRateLimited) {
		return xerrors.Wrap(unavailable, err, "依赖调用被限流", xerrors.WithMetadata("rate_limited", "true"))
	}
	if swap.IsFailureCode(xerrors.CodeOf(err)) {
		return err
	}
	return xerrors.Wrap(unavailable, err, "依赖调用失败")
}

func canceled(err error) error {
	return xerrors.Wrap(xerrors.CodeCanceled, err, "请求已取消")
}

func unavailableCode(stage Stage) xerrors.Code {
	switch stage {
	case StageRetrieving:
		return swap.CodeRetrievalUnavailable
	case StageParsing:
		return swap.CodeInferenceUnavailable
	case StageQuoting:
		return swap.CodeQuoteServiceUnavailable
	default:
		return swap.CodeChainUnavailable
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) enter(r *run, stage Stage) {
	r.stage = stage
	o.log.Debug("进入阶段", slog.String("request_id", r.meta.RequestID), slog.String("stage", string(stage)))
}

func (o *Orchestrator) record(r *run, stage Stage, attempts int, elapsed time.Duration, err error) {
	report := swap.StageReport{Stage: string(stage), Attempts: attempts, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		report.Code = string(xerrors.CodeOf(err))
	}
	r.meta.Stages = append(r.meta.Stages, report)
	o.metrics.ObserveStage(string(stage), report.Code, attempts, elapsed)
}

func (o *Orchestrator) finish(r *run, resp swap.Response, cause error) swap.Response {
	r.meta.FinalState = string(r.stage)
	r.meta.CompletedAt = o.now()
	resp.Metadata = r.meta

	elapsed := r.meta.CompletedAt.Sub(r.meta.StartedAt)
	reason := string(resp.Reason())
	o.metrics.ObserveOutcome(string(resp.Outcome), reason, r.meta.Degraded, elapsed)

	attrs := []any{
		slog.String("request_id", r.meta.RequestID),
		slog.String("wallet", r.req.Wallet),
		slog.String("chain_id", r.meta.ChainID),
		slog.String("outcome", string(resp.Outcome)),
		slog.String("final_state", r.meta.FinalState),
		slog.String("failed_stage", r.meta.FailedStage),
		slog.Bool("degraded", r.meta.Degraded),
		slog.Int64("latency_ms", elapsed.Milliseconds()),
	}
	if cause != nil {
		attrs = append(attrs,
			slog.String("reason", reason),
			slog.String("code", string(xerrors.CodeOf(cause))),
			slog.String("error", cause.Error()),
		)
	}
	o.audit.Info("swap request completed", attrs...)
	return resp
}
