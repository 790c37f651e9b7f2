package task

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	xerrors "swappilot/internal/errors"
)

// DefaultRabbitMQQueue 是默认的队列名称。
const DefaultRabbitMQQueue = "swappilot.jobs"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 发布与消费使用各自的 channel，消息体即任务 ID。
type RabbitMQQueue struct {
	cfg  RabbitMQConfig
	conn *amqp.Connection

	mu  sync.Mutex // amqp.Channel 不支持并发发布
	pub *amqp.Channel
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ URL 不能为空")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultRabbitMQQueue
	}
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Properties: amqp.Table{"connection_name": "swappilot"},
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{cfg: cfg, conn: conn}
	if q.pub, err = q.channel(0); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return q, nil
}

// channel 打开 channel 并幂等声明队列。
func (q *RabbitMQQueue) channel(prefetch int) (*amqp.Channel, error) {
	ch, err := q.conn.Channel()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QoS 失败")
		}
	}
	if _, err := ch.QueueDeclare(q.cfg.Queue, q.cfg.Durable, q.cfg.AutoDelete, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return ch, nil
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	mode := amqp.Transient
	if q.cfg.Durable {
		mode = amqp.Persistent
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	err := q.pub.PublishWithContext(ctx, "", q.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: mode,
		MessageId:    jobID,
		Body:         []byte(jobID),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 以手动确认模式消费，handler 失败的消息 Nack 后重新入队。
// 连接断开时返回 QUEUE_FAILURE 错误。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	workerCount = max(workerCount, 1)
	ch, err := q.channel(max(q.cfg.Prefetch, workerCount))
	if err != nil {
		return err
	}
	defer ch.Close()

	deliveries, err := ch.ConsumeWithContext(ctx, q.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	g, gctx := errgroup.WithContext(ctx)
	for range workerCount {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case msg, ok := <-deliveries:
					if !ok {
						if ctx.Err() != nil {
							return ctx.Err()
						}
						return xerrors.New(xerrors.CodeQueueFailure, "RabbitMQ 投递通道已关闭")
					}
					if err := handler(ctx, string(msg.Body)); err != nil {
						_ = msg.Nack(false, true)
						continue
					}
					_ = msg.Ack(false)
				}
			}
		})
	}
	return g.Wait()
}

// Close 关闭发布 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	q.mu.Lock()
	if q.pub != nil {
		_ = q.pub.Close()
	}
	q.mu.Unlock()
	return q.conn.Close()
}

var _ Queue = (*RabbitMQQueue)(nil)
