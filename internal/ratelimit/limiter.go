package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	xerrors "swappilot/internal/errors"
)

// Limiter 定义获取许可的接口，无可用许可时立即返回错误。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Unlimited 总是授予许可。
type Unlimited struct{}

// Acquire 实现 Limiter 接口。
func (Unlimited) Acquire(ctx context.Context) error {
	return ctx.Err()
}

// Local 是进程内令牌桶限流器。
type Local struct {
	name    string
	limiter *rate.Limiter
}

// NewLocal 创建每秒 rps 个许可、突发 burst 的限流器。
func NewLocal(name string, rps float64, burst int) *Local {
	if burst <= 0 {
		burst = 1
	}
	return &Local{name: name, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Acquire 实现 Limiter 接口。
func (l *Local) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !l.limiter.Allow() {
		return limited(l.name)
	}
	return nil
}

// Redis 是基于固定窗口计数的分布式限流器，多个实例共享配额。
type Redis struct {
	client goredis.Cmdable
	name   string
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// RedisConfig 描述分布式限流参数。
type RedisConfig struct {
	Name   string
	Prefix string
	Limit  int64
	Window time.Duration
}

// NewRedis 创建分布式限流器。
func NewRedis(client goredis.Cmdable, cfg RedisConfig) *Redis {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "swappilot:ratelimit"
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Second
	}
	return &Redis{
		client: client,
		name:   cfg.Name,
		prefix: prefix,
		limit:  cfg.Limit,
		window: window,
		now:    time.Now,
	}
}

// key 返回当前时间窗口对应的计数键。
func (r *Redis) key(now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", r.prefix, r.name, now.UnixNano()/int64(r.window))
}

// Acquire 通过 INCR + EXPIRE 在当前窗口内计数。
func (r *Redis) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := r.key(r.now())
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeRateLimited, err, "限流计数失败",
			xerrors.WithMetadata("limiter", r.name))
	}
	if incr.Val() > r.limit {
		return limited(r.name)
	}
	return nil
}

func limited(name string) error {
	return xerrors.New(xerrors.CodeRateLimited, "超出调用频率限制",
		xerrors.WithMetadata("limiter", name))
}

var (
	_ Limiter = Unlimited{}
	_ Limiter = (*Local)(nil)
	_ Limiter = (*Redis)(nil)
)
