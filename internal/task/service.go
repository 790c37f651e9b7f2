package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "swappilot/internal/errors"
	"swappilot/internal/swap"
	"swappilot/pkg/logger"
)

// DefaultMaxAttempts 是单个任务的默认最大执行次数。
const DefaultMaxAttempts = 3

// Service 负责任务的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	maxAttempts int
	logger      *slog.Logger
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxAttempts int) *Service {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Service{store: store, producer: producer, maxAttempts: maxAttempts, logger: logger.Named("task")}
}

// Submit 创建一个新的任务并推送到队列；携带已存在 ID 的请求直接返回原任务。
func (s *Service) Submit(ctx context.Context, req swap.Request) (*Job, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, xerrors.New(CodeJobValidation, "请求文本不能为空")
	}
	if !common.IsHexAddress(strings.TrimSpace(req.Wallet)) {
		return nil, xerrors.New(CodeJobValidation, "钱包地址格式非法")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID: jobID,
		Request: swap.Request{
			ID:      jobID,
			Text:    strings.TrimSpace(req.Text),
			Wallet:  strings.TrimSpace(req.Wallet),
			ChainID: strings.TrimSpace(req.ChainID),
		},
		Status:      StatusPending,
		MaxAttempts: s.maxAttempts,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			if existing, getErr := s.store.Get(ctx, jobID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		s.logger.Error("任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(context.WithoutCancel(ctx), jobID, CodeJobPublish, wrapped.Error(), nil, true)
		return nil, wrapped
	}
	logger.Audit().Info("swap job submitted",
		slog.String("job_id", jobID),
		slog.String("wallet", job.Request.Wallet),
		slog.String("chain_id", job.Request.ChainID),
		slog.Int("max_attempts", job.MaxAttempts),
	)
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, strings.TrimSpace(id))
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, buildListOptions(opts))
}

// History 返回钱包最近的换币任务，按更新时间倒序。
func (s *Service) History(ctx context.Context, wallet string, limit int) ([]*Job, error) {
	if !common.IsHexAddress(strings.TrimSpace(wallet)) {
		return nil, xerrors.New(CodeJobValidation, "钱包地址格式非法")
	}
	return s.List(ctx, WithWallet(wallet), WithLimit(limit))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询任务状态直到结束或 ctx 超时。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
