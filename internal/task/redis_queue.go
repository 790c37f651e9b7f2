package task

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "swappilot/internal/errors"
)

// DefaultRedisQueue 是 Redis list 的默认键名。
const DefaultRedisQueue = "swappilot:jobs"

// RedisQueueConfig 描述 Redis 队列参数。
type RedisQueueConfig struct {
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现任务队列。
//
// 取出的任务先移动到 <queue>:processing，处理完成后再删除；
// Consume 启动时会把遗留在 processing 中的任务放回待处理列表。
type RedisQueue struct {
	client     *goredis.Client
	pending    string
	processing string
	wait       time.Duration
}

// NewRedisQueue 基于已建立的客户端创建队列。
func NewRedisQueue(client *goredis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis 客户端不能为空")
	}
	name := cfg.Queue
	if name == "" {
		name = DefaultRedisQueue
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &RedisQueue{client: client, pending: name, processing: name + ":processing", wait: wait}, nil
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, jobID string) error {
	if err := q.client.LPush(ctx, q.pending, jobID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BLMOVE 取任务，handler 失败时把任务放回队列头部。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if err := q.recover(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for range max(workerCount, 1) {
		g.Go(func() error {
			for gctx.Err() == nil {
				jobID, err := q.client.BLMove(gctx, q.pending, q.processing, "RIGHT", "LEFT", q.wait).Result()
				switch {
				case errors.Is(err, goredis.Nil):
					continue
				case err != nil:
					if gctx.Err() != nil {
						break
					}
					return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
				default:
					q.settle(ctx, jobID, handler(ctx, jobID))
				}
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

// settle 将任务移出 processing，失败的任务重新放回待处理列表。
func (q *RedisQueue) settle(ctx context.Context, jobID string, handlerErr error) {
	ctx = context.WithoutCancel(ctx)
	_, _ = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, jobID)
		if handlerErr != nil {
			pipe.RPush(ctx, q.pending, jobID)
		}
		return nil
	})
}

func (q *RedisQueue) recover(ctx context.Context) error {
	for {
		_, err := q.client.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Result()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "恢复 Redis 遗留任务失败")
		}
	}
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}

var _ Queue = (*RedisQueue)(nil)
