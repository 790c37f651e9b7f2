package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/observability/alerting"
	"swappilot/internal/swap"
	"swappilot/pkg/logger"
)

// Executor 定义了处理器所需的流水线能力。
type Executor interface {
	Execute(ctx context.Context, req swap.Request) swap.Response
}

// JobObserver 接收任务状态变化，通常由指标采集器实现。
type JobObserver interface {
	ObserveJob(status string)
}

// SwapRecorder 保存已确认的换币结果，例如写回向量索引。
type SwapRecorder interface {
	RecordSwap(ctx context.Context, req swap.Request, resp swap.Response) error
}

// 处理器上报的任务事件。
const (
	JobEventSucceeded = "succeeded"
	JobEventRequeued  = "requeued"
	JobEventFailed    = "failed"
)

var errRequeue = xerrors.New(CodeJobProcessing, "任务等待重新投递")

// Processor 负责从队列消费任务并交给流水线执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	audit       *slog.Logger
	alerter     alerting.Dispatcher
	observer    JobObserver
	recorder    SwapRecorder
	now         func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithJobObserver 配置任务指标上报。
func WithJobObserver(observer JobObserver) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// WithSwapRecorder 配置确认结果的历史写入。
func WithSwapRecorder(recorder SwapRecorder) ProcessorOption {
	return func(p *Processor) {
		p.recorder = recorder
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("task")
	}
	if p.audit == nil {
		p.audit = logger.Audit()
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 返回非空错误时由队列负责重新投递。
func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) ||
			stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("job_id", jobID))
		return err
	}

	resp := p.executor.Execute(ctx, job.Request)
	// 关闭过程中也要把结果写回。
	writeCtx := context.WithoutCancel(ctx)

	code, transient := transientFailure(resp)
	if !transient {
		if err := p.store.MarkSucceeded(writeCtx, job.ID, resp); err != nil {
			p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
			return err
		}
		p.observe(JobEventSucceeded)
		p.record(writeCtx, job, resp)
		p.audit.Info("swap job completed",
			slog.String("job_id", job.ID),
			slog.String("wallet", job.Request.Wallet),
			slog.String("outcome", string(resp.Outcome)),
			slog.String("reason", string(resp.Reason())),
			slog.Int("attempts", job.Attempts),
		)
		return nil
	}

	terminal := job.Attempts >= job.MaxAttempts
	explanation := ""
	if resp.Rejected != nil {
		explanation = resp.Rejected.Explanation
	}
	if err := p.store.MarkFailed(writeCtx, job.ID, code, explanation, &resp, terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("job_id", job.ID))
		return err
	}
	p.audit.Warn("swap job attempt failed",
		slog.String("job_id", job.ID),
		slog.String("wallet", job.Request.Wallet),
		slog.String("reason", string(resp.Reason())),
		slog.String("error_code", string(code)),
		slog.Bool("terminal", terminal),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", job.MaxAttempts),
	)

	if !terminal {
		p.observe(JobEventRequeued)
		return errRequeue
	}
	p.observe(JobEventFailed)
	p.emitAlert(writeCtx, job, code, explanation, resp.Reason())
	return nil
}

// transientFailure 判断响应是否来自可重试的暂时性失败。
func transientFailure(resp swap.Response) (xerrors.Code, bool) {
	if resp.IsConfirmed() || resp.Rejected == nil {
		return "", false
	}
	if resp.Reason() == swap.ReasonCanceled {
		return xerrors.CodeCanceled, true
	}
	var code xerrors.Code
	for i := len(resp.Metadata.Stages) - 1; i >= 0; i-- {
		report := resp.Metadata.Stages[i]
		if report.Code == "" {
			continue
		}
		code = xerrors.Code(report.Code)
		if report.Stage == resp.Metadata.FailedStage {
			break
		}
	}
	if code == "" {
		return "", false
	}
	return code, xerrors.AttributesOf(code).Retryable
}

func (p *Processor) observe(event string) {
	if p.observer != nil {
		p.observer.ObserveJob(event)
	}
}

// record 写入失败只记录日志，不影响任务状态。
func (p *Processor) record(ctx context.Context, job *Job, resp swap.Response) {
	if p.recorder == nil || !resp.IsConfirmed() {
		return
	}
	req := job.Request
	if req.ID == "" {
		req.ID = job.ID
	}
	if err := p.recorder.RecordSwap(ctx, req, resp); err != nil {
		p.logger.Warn("写入换币历史失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, message string, reason swap.Reason) {
	if p.alerter == nil {
		return
	}
	cause := xerrors.Wrap(CodeJobExhausted, xerrors.New(code, message), "任务重试耗尽",
		xerrors.WithMetadata("failure_code", string(code)))
	event := alerting.EventFromError(job.ID, cause, job.Attempts, job.MaxAttempts, p.now())
	event.Wallet = job.Request.Wallet
	event.Reason = string(reason)
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败", slog.Any("error", err), slog.String("job_id", job.ID))
	}
}
