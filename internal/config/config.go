package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"swappilot/internal/agent"
	"swappilot/internal/auth"
)

// EnvPrefix 是覆盖配置项的环境变量前缀。
const EnvPrefix = "SWAPPILOT"

// Config 描述了 swappilot 在启动阶段需要加载的核心配置。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Storage       StorageConfig       `mapstructure:"storage"`
	TaskQueue     TaskQueueConfig     `mapstructure:"task_queue"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Knowledge     KnowledgeConfig     `mapstructure:"knowledge"`
	Quotes        QuotesConfig        `mapstructure:"quotes"`
	Tokens        TokensConfig        `mapstructure:"tokens"`
	Web3          Web3Config          `mapstructure:"web3"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// AuthConfig 控制 REST 接口的 API 密钥认证。
type AuthConfig struct {
	Mode string         `mapstructure:"mode"`
	Keys []APIKeyConfig `mapstructure:"keys"`
}

// APIKeyConfig 声明一个 API 密钥及其权限。
type APIKeyConfig struct {
	Name        string   `mapstructure:"name"`
	Key         string   `mapstructure:"key"`
	Permissions []string `mapstructure:"permissions"`
	Disabled    bool     `mapstructure:"disabled"`
}

// LoggingConfig 对应 pkg/logger 的初始化参数。
type LoggingConfig struct {
	Level       string      `mapstructure:"level"`
	Format      string      `mapstructure:"format"`
	OutputPaths []string    `mapstructure:"output_paths"`
	Audit       AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志的滚动策略。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// StorageConfig 统一描述 MySQL、Redis 等后端的连接信息。
type StorageConfig struct {
	TaskStore TaskStoreConfig `mapstructure:"task_store"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// TaskStoreConfig 选择任务存储实现，memory 或 mysql。
type TaskStoreConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	MaxAttempts            int    `mapstructure:"max_attempts"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (c TaskStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// RedisConfig 是队列与分布式限流共享的 Redis 连接。
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TaskQueueConfig 描述异步任务队列。
type TaskQueueConfig struct {
	Driver   string              `mapstructure:"driver"`
	Workers  int                 `mapstructure:"workers"`
	Buffer   int                 `mapstructure:"buffer"`
	Redis    RedisQueueConfig    `mapstructure:"redis"`
	RabbitMQ RabbitMQQueueConfig `mapstructure:"rabbitmq"`
}

// RedisQueueConfig 描述基于 Redis 列表的队列。
type RedisQueueConfig struct {
	Queue            string `mapstructure:"queue"`
	BlockWaitSeconds int    `mapstructure:"block_wait_seconds"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 队列参数。
type RabbitMQQueueConfig struct {
	URL        string `mapstructure:"url"`
	Queue      string `mapstructure:"queue"`
	Prefetch   int    `mapstructure:"prefetch"`
	Durable    bool   `mapstructure:"durable"`
	AutoDelete bool   `mapstructure:"auto_delete"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `mapstructure:"provider"`
	OpenAI   OpenAIConfig       `mapstructure:"openai"`
	Python   PythonBridgeConfig `mapstructure:"python_bridge"`
}

// OpenAIConfig 描述兼容 OpenAI 的 chat completions 服务。
type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Timeout 返回单次 HTTP 调用的超时时间。
func (c OpenAIConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `mapstructure:"python_executable"`
	ScriptPath       string `mapstructure:"script_path"`
	WorkingDir       string `mapstructure:"working_dir"`
}

// KnowledgeConfig 选择参考资料检索后端。
type KnowledgeConfig struct {
	Provider   string         `mapstructure:"provider"`
	StaticPath string         `mapstructure:"static_path"`
	Pinecone   PineconeConfig `mapstructure:"pinecone"`
}

// PineconeConfig 描述 Pinecone 索引。
type PineconeConfig struct {
	APIKey       string `mapstructure:"api_key"`
	IndexName    string `mapstructure:"index_name"`
	Host         string `mapstructure:"host"`
	ControlPlane string `mapstructure:"control_plane"`
	Namespace    string `mapstructure:"namespace"`
	APIVersion   string `mapstructure:"api_version"`
}

// QuotesConfig 描述报价源。
type QuotesConfig struct {
	OneInch OneInchConfig `mapstructure:"oneinch"`
}

// OneInchConfig 描述 1inch 聚合器接口。
type OneInchConfig struct {
	BaseURL   string   `mapstructure:"base_url"`
	APIKey    string   `mapstructure:"api_key"`
	Protocols []string `mapstructure:"protocols"`
	TimeoutMS int      `mapstructure:"timeout_ms"`
}

// TokensConfig 指定额外的代币注册表文件。
type TokensConfig struct {
	RegistryPath string `mapstructure:"registry_path"`
	// VerifyDecimals 启动时用链上 decimals 核对注册表。
	VerifyDecimals bool `mapstructure:"verify_decimals"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig   string `mapstructure:"chain_config"`
	RPCURL        string `mapstructure:"rpc_url"`
	DefaultChain  string `mapstructure:"default_chain"`
	Spender       string `mapstructure:"spender"`
	AlchemyAPIKey string `mapstructure:"alchemy_api_key"`
}

// StageConfig 是单个阶段的超时与重试次数。
type StageConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
	Retries   int `mapstructure:"retries"`
}

// StagesConfig 按阶段分组。
type StagesConfig struct {
	Retrieval  StageConfig `mapstructure:"retrieval"`
	Parsing    StageConfig `mapstructure:"parsing"`
	Quoting    StageConfig `mapstructure:"quoting"`
	Validating StageConfig `mapstructure:"validating"`
}

// BackoffConfig 描述重试退避。
type BackoffConfig struct {
	BaseMS     int     `mapstructure:"base_ms"`
	Multiplier float64 `mapstructure:"multiplier"`
	MaxMS      int     `mapstructure:"max_ms"`
}

// PipelineConfig 控制流水线行为。
type PipelineConfig struct {
	Stages          StagesConfig  `mapstructure:"stages"`
	Backoff         BackoffConfig `mapstructure:"backoff"`
	TopK            int           `mapstructure:"top_k"`
	DefaultSlippage string        `mapstructure:"default_slippage"`
	MaxSlippage     string        `mapstructure:"max_slippage"`
	QuoteTTLMS      int           `mapstructure:"quote_ttl_ms"`
	AllowancePolicy string        `mapstructure:"allowance_policy"`
	MaxTextRunes    int           `mapstructure:"max_text_runes"`
}

// QuoteTTL 返回报价有效时长。
func (p PipelineConfig) QuoteTTL() time.Duration {
	return time.Duration(p.QuoteTTLMS) * time.Millisecond
}

// Slippage 返回默认滑点与最大滑点（百分比）。
func (p PipelineConfig) Slippage() (decimal.Decimal, decimal.Decimal, error) {
	def, err := decimal.NewFromString(p.DefaultSlippage)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("default_slippage 非法: %w", err)
	}
	limit, err := decimal.NewFromString(p.MaxSlippage)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("max_slippage 非法: %w", err)
	}
	return def, limit, nil
}

// RateLimitConfig 描述各外部依赖的限流配置。
type RateLimitConfig struct {
	Backend  string                 `mapstructure:"backend"`
	WindowMS int                    `mapstructure:"window_ms"`
	Stages   map[string]LimitConfig `mapstructure:"stages"`
}

// LimitConfig 是单个依赖的速率，RPS 为零表示不限流。
type LimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ObservabilityConfig 描述指标与告警。
type ObservabilityConfig struct {
	MetricsEnabled bool           `mapstructure:"metrics_enabled"`
	MetricsAddress string         `mapstructure:"metrics_address"`
	Alerting       AlertingConfig `mapstructure:"alerting"`
}

// AlertingConfig 描述告警通道。
type AlertingConfig struct {
	WebhookURL     string `mapstructure:"webhook_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// credentialEnv 列出沿用原部署方式注入的凭据变量。
var credentialEnv = map[string][]string{
	"llm.openai.api_key":            {"GROQ_API_KEY", "OPENAI_API_KEY"},
	"quotes.oneinch.api_key":        {"ONE_INCH_API_KEY"},
	"knowledge.pinecone.api_key":    {"PINECONE_API_KEY"},
	"knowledge.pinecone.index_name": {"PINECONE_INDEX_NAME"},
	"knowledge.pinecone.host":       {"PINECONE_INDEX_HOST"},
	"web3.alchemy_api_key":          {"ALCHEMY_API_KEY"},
}

// Load 解析指定路径的配置文件，path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	baseDir := "."
	if path != "" {
		baseDir = filepath.Dir(path)
	}
	if err := loadDotEnv(baseDir); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range credentialEnv {
		args := append([]string{key, EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv 加载配置目录与工作目录下的 .env 文件，已存在的环境变量不会被覆盖。
func loadDotEnv(baseDir string) error {
	seen := make(map[string]bool)
	for _, candidate := range []string{filepath.Join(baseDir, ".env"), ".env"} {
		abs, err := filepath.Abs(candidate)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err != nil {
			continue
		}
		if err := godotenv.Load(abs); err != nil {
			return fmt.Errorf("加载 %s 失败: %w", abs, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("auth.mode", "disabled")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "logs/audit.log")
	v.SetDefault("logging.audit.max_size_mb", 100)
	v.SetDefault("logging.audit.max_backups", 7)
	v.SetDefault("logging.audit.max_age_days", 30)
	v.SetDefault("logging.audit.compress", false)

	v.SetDefault("storage.task_store.driver", "memory")
	v.SetDefault("storage.task_store.dsn", "")
	v.SetDefault("storage.task_store.max_open_conns", 10)
	v.SetDefault("storage.task_store.max_idle_conns", 5)
	v.SetDefault("storage.task_store.conn_max_lifetime_seconds", 300)
	v.SetDefault("storage.task_store.max_attempts", 3)
	v.SetDefault("storage.redis.address", "127.0.0.1:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)

	v.SetDefault("task_queue.driver", "memory")
	v.SetDefault("task_queue.workers", 4)
	v.SetDefault("task_queue.buffer", 1024)
	v.SetDefault("task_queue.redis.queue", "swappilot:jobs")
	v.SetDefault("task_queue.redis.block_wait_seconds", 5)
	v.SetDefault("task_queue.rabbitmq.url", "")
	v.SetDefault("task_queue.rabbitmq.queue", "swappilot.jobs")
	v.SetDefault("task_queue.rabbitmq.prefetch", 4)
	v.SetDefault("task_queue.rabbitmq.durable", true)

	v.SetDefault("llm.provider", "groq")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.model", "llama-3.3-70b-versatile")
	v.SetDefault("llm.openai.temperature", 0)
	v.SetDefault("llm.openai.timeout_seconds", 30)
	v.SetDefault("llm.python_bridge.python_executable", "python3")
	v.SetDefault("llm.python_bridge.script_path", "")
	v.SetDefault("llm.python_bridge.working_dir", "")

	v.SetDefault("knowledge.provider", "static")
	v.SetDefault("knowledge.static_path", "")
	v.SetDefault("knowledge.pinecone.index_name", "crypto-swaps")
	v.SetDefault("knowledge.pinecone.control_plane", "https://api.pinecone.io")
	v.SetDefault("knowledge.pinecone.namespace", "__default__")
	v.SetDefault("knowledge.pinecone.api_version", "2025-04")

	v.SetDefault("quotes.oneinch.base_url", "https://api.1inch.dev")
	v.SetDefault("quotes.oneinch.protocols", []string{})
	v.SetDefault("quotes.oneinch.timeout_ms", 4000)

	v.SetDefault("tokens.registry_path", "")

	v.SetDefault("web3.chain_config", "")
	v.SetDefault("web3.rpc_url", "")
	v.SetDefault("web3.default_chain", "1")
	v.SetDefault("web3.spender", "")

	defaults := agent.DefaultSettings()
	stages := map[string]agent.StageSettings{
		"retrieval":  defaults.Retrieval,
		"parsing":    defaults.Parsing,
		"quoting":    defaults.Quoting,
		"validating": defaults.Validating,
	}
	for name, stage := range stages {
		v.SetDefault("pipeline.stages."+name+".timeout_ms", int(stage.Timeout/time.Millisecond))
		v.SetDefault("pipeline.stages."+name+".retries", stage.Retries)
	}
	v.SetDefault("pipeline.backoff.base_ms", int(defaults.Backoff.Base/time.Millisecond))
	v.SetDefault("pipeline.backoff.multiplier", defaults.Backoff.Multiplier)
	v.SetDefault("pipeline.backoff.max_ms", int(defaults.Backoff.Max/time.Millisecond))
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.default_slippage", "0.5")
	v.SetDefault("pipeline.max_slippage", "5")
	v.SetDefault("pipeline.quote_ttl_ms", 30000)
	v.SetDefault("pipeline.allowance_policy", "reject")
	v.SetDefault("pipeline.max_text_runes", defaults.MaxTextRunes)

	v.SetDefault("rate_limit.backend", "local")
	v.SetDefault("rate_limit.window_ms", 1000)

	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.metrics_address", "")
	v.SetDefault("observability.alerting.webhook_url", "")
	v.SetDefault("observability.alerting.timeout_seconds", 5)
}

// applyDefaults 将相对路径解析到配置文件所在目录。
func (c *Config) applyDefaults(baseDir string) {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.Knowledge.Provider = strings.ToLower(strings.TrimSpace(c.Knowledge.Provider))
	c.Storage.TaskStore.Driver = strings.ToLower(strings.TrimSpace(c.Storage.TaskStore.Driver))
	c.TaskQueue.Driver = strings.ToLower(strings.TrimSpace(c.TaskQueue.Driver))
	c.Pipeline.AllowancePolicy = strings.ToLower(strings.TrimSpace(c.Pipeline.AllowancePolicy))

	if c.LLM.Python.WorkingDir == "" {
		c.LLM.Python.WorkingDir = baseDir
	}
	c.LLM.Python.WorkingDir = resolvePath(baseDir, c.LLM.Python.WorkingDir)
	c.Knowledge.StaticPath = resolvePath(baseDir, c.Knowledge.StaticPath)
	c.Tokens.RegistryPath = resolvePath(baseDir, c.Tokens.RegistryPath)
	c.Web3.ChainConfig = resolvePath(baseDir, c.Web3.ChainConfig)
	c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)

	for i := range c.Auth.Keys {
		c.Auth.Keys[i].Key = os.ExpandEnv(c.Auth.Keys[i].Key)
	}

	if c.Web3.RPCURL == "" && c.Web3.AlchemyAPIKey != "" {
		c.Web3.RPCURL = "https://eth-mainnet.g.alchemy.com/v2/" + c.Web3.AlchemyAPIKey
	}
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查取值范围。
func (c *Config) Validate() error {
	var errs []error
	stages := map[string]StageConfig{
		"retrieval":  c.Pipeline.Stages.Retrieval,
		"parsing":    c.Pipeline.Stages.Parsing,
		"quoting":    c.Pipeline.Stages.Quoting,
		"validating": c.Pipeline.Stages.Validating,
	}
	for name, stage := range stages {
		if stage.TimeoutMS < 0 || stage.Retries < 0 {
			errs = append(errs, fmt.Errorf("pipeline.stages.%s 的超时与重试次数不能为负数", name))
		}
	}
	if c.Pipeline.Backoff.Multiplier < 1 {
		errs = append(errs, errors.New("pipeline.backoff.multiplier 必须不小于 1"))
	}
	if c.Pipeline.TopK <= 0 {
		errs = append(errs, errors.New("pipeline.top_k 必须为正数"))
	}
	def, limit, err := c.Pipeline.Slippage()
	if err != nil {
		errs = append(errs, err)
	} else if !def.IsPositive() || def.GreaterThan(limit) {
		errs = append(errs, errors.New("pipeline.default_slippage 必须在 (0, max_slippage] 之间"))
	}
	switch c.Pipeline.AllowancePolicy {
	case "reject", "flag":
	default:
		errs = append(errs, fmt.Errorf("未知的 allowance_policy: %s", c.Pipeline.AllowancePolicy))
	}
	if _, err := auth.ParseMode(c.Auth.Mode); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.TaskStore.Driver {
	case "memory":
	case "mysql":
		if c.Storage.TaskStore.DSN == "" {
			errs = append(errs, errors.New("mysql 任务存储需要配置 dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("未知的任务存储驱动: %s", c.Storage.TaskStore.Driver))
	}
	return errors.Join(errs...)
}

// Settings 生成传给编排器的不可变配置。
func (c *Config) Settings() agent.Settings {
	stage := func(s StageConfig) agent.StageSettings {
		return agent.StageSettings{Timeout: time.Duration(s.TimeoutMS) * time.Millisecond, Retries: s.Retries}
	}
	p := c.Pipeline
	return agent.Settings{
		Retrieval:  stage(p.Stages.Retrieval),
		Parsing:    stage(p.Stages.Parsing),
		Quoting:    stage(p.Stages.Quoting),
		Validating: stage(p.Stages.Validating),
		Backoff: agent.Backoff{
			Base:       time.Duration(p.Backoff.BaseMS) * time.Millisecond,
			Multiplier: p.Backoff.Multiplier,
			Max:        time.Duration(p.Backoff.MaxMS) * time.Millisecond,
		},
		DefaultChain: c.Web3.DefaultChain,
		MaxTextRunes: p.MaxTextRunes,
	}
}

// AuthSettings 生成认证服务配置。
func (c *Config) AuthSettings() (auth.Config, error) {
	mode, err := auth.ParseMode(c.Auth.Mode)
	if err != nil {
		return auth.Config{}, err
	}
	out := auth.Config{Mode: mode, Keys: make([]auth.KeySpec, 0, len(c.Auth.Keys))}
	for _, key := range c.Auth.Keys {
		out.Keys = append(out.Keys, auth.KeySpec{
			Name:        key.Name,
			Key:         key.Key,
			Permissions: key.Permissions,
			Disabled:    key.Disabled,
		})
	}
	return out, nil
}
