package task

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	xerrors "swappilot/internal/errors"
)

const defaultMemoryQueueSize = 64

// MemoryQueue 使用 channel 承载任务 ID，适用于单进程部署与测试。
type MemoryQueue struct {
	jobs chan string

	mu     sync.RWMutex
	closed bool
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	return &MemoryQueue{jobs: make(chan string, size)}
}

// Publish 将任务投递到队列，队列满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume 启动指定数量的工作协程，处理失败的任务会重新入队。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	var g errgroup.Group
	for range max(workerCount, 1) {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case jobID, ok := <-q.jobs:
					if !ok {
						return nil
					}
					if handler(ctx, jobID) != nil {
						q.offer(jobID)
					}
				}
			}
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

// offer 非阻塞地放回任务；队列已满时丢弃，任务仍为 pending。
func (q *MemoryQueue) offer(jobID string) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- jobID:
	default:
	}
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
