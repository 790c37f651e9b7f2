package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"swappilot/internal/agent"
	"swappilot/internal/auth"
	"swappilot/internal/chainstate"
	"swappilot/internal/config"
	"swappilot/internal/intent"
	"swappilot/internal/knowledge"
	"swappilot/internal/llm"
	"swappilot/internal/llm/openai"
	"swappilot/internal/llm/pythonbridge"
	"swappilot/internal/observability/alerting"
	"swappilot/internal/observability/metrics"
	"swappilot/internal/quote"
	"swappilot/internal/ratelimit"
	storagemysql "swappilot/internal/storage/mysql"
	storageredis "swappilot/internal/storage/redis"
	"swappilot/internal/task"
	"swappilot/internal/web3/provider"
	"swappilot/pkg/logger"
)

// App 持有装配完成的组件及其生命周期。
type App struct {
	Config       *config.Config
	Orchestrator *agent.Orchestrator
	Chains       *provider.Registry
	Tokens       *intent.StaticRegistry
	Metrics      *metrics.Collector
	Auth         *auth.Service
	// History 仅在检索后端可写入时非空。
	History *knowledge.HistoryRecorder

	// 以下字段仅在 EnableJobs 之后可用。
	Jobs      *task.Service
	Processor *task.Processor

	redis   *goredis.Client
	closers []func() error
	log     *slog.Logger
}

// Build 根据配置装配同步流水线。
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	a := &App{Config: cfg, log: logger.Named("app")}
	if err := a.build(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config
	if cfg.Observability.MetricsEnabled {
		a.Metrics = metrics.New()
	}

	authCfg, err := cfg.AuthSettings()
	if err != nil {
		return err
	}
	if a.Auth, err = auth.NewService(authCfg); err != nil {
		return err
	}

	client, err := newLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	searcher, err := newSearcher(ctx, cfg.Knowledge)
	if err != nil {
		return err
	}
	if writer, ok := searcher.(knowledge.Writer); ok {
		a.History = knowledge.NewHistoryRecorder(writer)
	}
	a.Tokens, err = intent.LoadRegistry(cfg.Tokens.RegistryPath)
	if err != nil {
		return err
	}
	source, err := quote.NewOneInch(quote.OneInchConfig{
		BaseURL:   cfg.Quotes.OneInch.BaseURL,
		APIKey:    cfg.Quotes.OneInch.APIKey,
		Protocols: cfg.Quotes.OneInch.Protocols,
		Timeout:   time.Duration(cfg.Quotes.OneInch.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	a.Chains, err = provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error { a.Chains.Close(); return nil })
	if cfg.Tokens.VerifyDecimals {
		if err := a.verifyTokens(ctx); err != nil {
			return err
		}
	}

	defaultSlippage, maxSlippage, err := cfg.Pipeline.Slippage()
	if err != nil {
		return err
	}

	opts := []agent.Option{}
	if a.Metrics != nil {
		opts = append(opts, agent.WithMetrics(a.Metrics))
	}
	limiters, err := a.newLimiters(ctx)
	if err != nil {
		return err
	}
	for stage, limiter := range limiters {
		opts = append(opts, agent.WithLimiter(stage, limiter))
	}

	a.Orchestrator = agent.New(agent.Dependencies{
		Retriever: knowledge.NewRetriever(searcher, cfg.Pipeline.TopK),
		Parser: intent.NewParser(client, a.Tokens, intent.Options{
			DefaultSlippage: defaultSlippage,
			MaxSlippage:     maxSlippage,
		}),
		Quotes:    quote.NewAggregator(source, quote.WithTTL(cfg.Pipeline.QuoteTTL())),
		Validator: chainstate.NewValidator(chainstate.ParsePolicy(cfg.Pipeline.AllowancePolicy)),
		Chains:    a.Chains,
	}, cfg.Settings(), opts...)

	a.log.Info("流水线装配完成",
		slog.String("llm", cfg.LLM.Provider),
		slog.String("knowledge", cfg.Knowledge.Provider),
		slog.String("default_chain", a.Chains.DefaultChain()),
		slog.Int("limited_stages", len(limiters)),
		slog.Bool("auth", a.Auth.Enabled()),
	)
	return nil
}

// EnableJobs 装配任务存储、队列、服务与处理器。
func (a *App) EnableJobs(ctx context.Context) error {
	cfg := a.Config
	var (
		store task.Store
		err   error
	)
	switch cfg.Storage.TaskStore.Driver {
	case "mysql":
		store, err = task.NewMySQLStore(ctx, storagemysql.Config{
			DSN:             cfg.Storage.TaskStore.DSN,
			MaxOpenConns:    cfg.Storage.TaskStore.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.TaskStore.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.TaskStore.ConnMaxLifetime(),
		})
		if err != nil {
			return err
		}
	default:
		store = task.NewMemoryStore()
	}

	queue, err := a.newQueue(ctx)
	if err != nil {
		_ = store.Close()
		return err
	}

	a.Jobs = task.NewService(store, queue, cfg.Storage.TaskStore.MaxAttempts)
	a.closers = append(a.closers, a.Jobs.Close)

	procOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithAlertDispatcher(newAlerts(cfg.Observability.Alerting)),
	}
	if a.Metrics != nil {
		procOpts = append(procOpts, task.WithJobObserver(a.Metrics))
	}
	if a.History != nil {
		procOpts = append(procOpts, task.WithSwapRecorder(a.History))
	}
	a.Processor = task.NewProcessor(a.Orchestrator, store, queue, procOpts...)
	a.log.Info("异步任务已启用",
		slog.String("store", cfg.Storage.TaskStore.Driver),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Int("workers", cfg.TaskQueue.Workers),
	)
	return nil
}

// verifyTokens 对每条可读取合约的链核对代币精度。
func (a *App) verifyTokens(ctx context.Context) error {
	for _, id := range a.Chains.Chains() {
		chain, _ := a.Chains.Chain(id)
		reader, ok := chain.Reader.(intent.DecimalsReader)
		if !ok {
			continue
		}
		if err := a.Tokens.VerifyDecimals(ctx, id, reader); err != nil {
			return fmt.Errorf("链 %s 的代币注册表校验失败: %w", id, err)
		}
	}
	return nil
}

// Close 按装配的逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func (a *App) redisClient(ctx context.Context) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := storageredis.NewClient(ctx, storageredis.Config{
		Address:  a.Config.Storage.Redis.Address,
		Password: a.Config.Storage.Redis.Password,
		DB:       a.Config.Storage.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func (a *App) newQueue(ctx context.Context) (task.Queue, error) {
	cfg := a.Config.TaskQueue
	switch cfg.Driver {
	case "redis":
		// 队列独占连接，Close 时不影响限流器。
		client, err := storageredis.NewClient(ctx, storageredis.Config{
			Address:  a.Config.Storage.Redis.Address,
			Password: a.Config.Storage.Redis.Password,
			DB:       a.Config.Storage.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		return task.NewRedisQueue(client, task.RedisQueueConfig{
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	default:
		return nil, fmt.Errorf("未知的任务队列驱动: %s", cfg.Driver)
	}
}

var stageNames = map[string]agent.Stage{
	"retrieval":  agent.StageRetrieving,
	"parsing":    agent.StageParsing,
	"quoting":    agent.StageQuoting,
	"validating": agent.StageValidating,
}

func (a *App) newLimiters(ctx context.Context) (map[agent.Stage]ratelimit.Limiter, error) {
	cfg := a.Config.RateLimit
	limiters := make(map[agent.Stage]ratelimit.Limiter, len(cfg.Stages))
	window := time.Duration(cfg.WindowMS) * time.Millisecond
	if window <= 0 {
		window = time.Second
	}
	for name, limit := range cfg.Stages {
		stage, ok := stageNames[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("rate_limit.stages 中存在未知阶段: %s", name)
		}
		if limit.RPS <= 0 {
			continue
		}
		switch strings.ToLower(cfg.Backend) {
		case "redis":
			client, err := a.redisClient(ctx)
			if err != nil {
				return nil, err
			}
			perWindow := int64(limit.RPS * window.Seconds())
			if perWindow < 1 {
				perWindow = 1
			}
			limiters[stage] = ratelimit.NewRedis(client, ratelimit.RedisConfig{
				Name:   string(stage),
				Limit:  perWindow,
				Window: window,
			})
		case "", "local":
			limiters[stage] = ratelimit.NewLocal(string(stage), limit.RPS, limit.Burst)
		default:
			return nil, fmt.Errorf("未知的限流后端: %s", cfg.Backend)
		}
	}
	return limiters, nil
}

func newLLMClient(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "python", "pythonbridge":
		client, err := pythonbridge.NewClient(pythonbridge.Config{
			Executable: cfg.Python.PythonExecutable,
			Script:     cfg.Python.ScriptPath,
			WorkingDir: cfg.Python.WorkingDir,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "", "openai", "groq":
		client, err := openai.NewClient(openai.Config{
			Provider:    cfg.Provider,
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       cfg.OpenAI.Model,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("未知的 LLM provider: %s", cfg.Provider)
	}
}

// newSearcher 在未配置 Pinecone 索引时回退到本地知识库。
func newSearcher(ctx context.Context, cfg config.KnowledgeConfig) (knowledge.Searcher, error) {
	pc := cfg.Pinecone
	if cfg.Provider == "pinecone" && (strings.TrimSpace(pc.Host) != "" || strings.TrimSpace(pc.IndexName) != "") {
		index, err := knowledge.NewPineconeIndex(ctx, knowledge.PineconeConfig{
			APIKey:       pc.APIKey,
			IndexName:    pc.IndexName,
			Host:         pc.Host,
			ControlPlane: pc.ControlPlane,
			Namespace:    pc.Namespace,
			APIVersion:   pc.APIVersion,
		})
		if err != nil {
			return nil, err
		}
		return index, nil
	}
	if cfg.StaticPath == "" {
		return knowledge.NewStaticProvider(nil), nil
	}
	static, err := knowledge.LoadStaticProvider(cfg.StaticPath)
	if err != nil {
		return nil, err
	}
	return static, nil
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if cfg.WebhookURL != "" {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: timeout},
		})
	}
	return alerting.NewFanout(notifiers...)
}
