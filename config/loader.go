// =============================================================================
// 📦 RenderFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("renderflow.yaml").
//	    WithEnvPrefix("RENDERFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 RenderFlow 的完整配置结构
type Config struct {
	// Render 渲染流程配置
	Render RenderConfig `yaml:"render" env:"RENDER"`

	// Structure 结构控制 Provider 配置
	Structure StructureConfig `yaml:"structure" env:"STRUCTURE"`

	// Queued 队列轮询 Provider 配置
	Queued QueuedConfig `yaml:"queued" env:"QUEUED"`

	// Edit 多参考图编辑 Provider 配置
	Edit EditConfig `yaml:"edit" env:"EDIT"`

	// Transfer 结果下载配置
	Transfer TransferConfig `yaml:"transfer" env:"TRANSFER"`

	// Network 网络代理配置
	Network NetworkConfig `yaml:"network" env:"NETWORK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// History 渲染历史配置
	History HistoryConfig `yaml:"history" env:"HISTORY"`

	// Guard 跨进程渲染互斥配置
	Guard GuardConfig `yaml:"guard" env:"GUARD"`
}

// RenderConfig 渲染流程配置
type RenderConfig struct {
	// 默认 Provider: structure, queued, edit
	Provider string `yaml:"provider" env:"PROVIDER"`
	// 默认提示词
	DefaultPrompt string `yaml:"default_prompt" env:"DEFAULT_PROMPT"`
	// 结果目录（每个 Provider 一个子目录）
	ResultsDir string `yaml:"results_dir" env:"RESULTS_DIR"`
	// 是否在提交前校正源图
	AutoCondition bool `yaml:"auto_condition" env:"AUTO_CONDITION"`
}

// ConstraintsConfig 源图几何约束
type ConstraintsConfig struct {
	// 最小宽高比
	MinAspect float64 `yaml:"min_aspect" env:"MIN_ASPECT"`
	// 最大宽高比
	MaxAspect float64 `yaml:"max_aspect" env:"MAX_ASPECT"`
	// 最大像素数
	MaxPixels int64 `yaml:"max_pixels" env:"MAX_PIXELS"`
}

// StructureConfig 结构控制 Provider 配置
type StructureConfig struct {
	APIKey          string            `yaml:"api_key" env:"API_KEY"`
	BaseURL         string            `yaml:"base_url" env:"BASE_URL"`
	Endpoint        string            `yaml:"endpoint" env:"ENDPOINT"`
	ControlStrength float64           `yaml:"control_strength" env:"CONTROL_STRENGTH"`
	NegativePrompt  string            `yaml:"negative_prompt" env:"NEGATIVE_PROMPT"`
	StylePreset     string            `yaml:"style_preset" env:"STYLE_PRESET"`
	OutputFormat    string            `yaml:"output_format" env:"OUTPUT_FORMAT"`
	Timeout         time.Duration     `yaml:"timeout" env:"TIMEOUT"`
	Constraints     ConstraintsConfig `yaml:"constraints" env:"CONSTRAINTS"`
}

// PollConfig 队列轮询策略
type PollConfig struct {
	// 首次等待
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	// 最大等待
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	// 最大轮询次数
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`
}

// QueuedConfig 队列轮询 Provider 配置
type QueuedConfig struct {
	APIKey              string        `yaml:"api_key" env:"API_KEY"`
	BaseURL             string        `yaml:"base_url" env:"BASE_URL"`
	Model               string        `yaml:"model" env:"MODEL"`
	Strength            float64       `yaml:"strength" env:"STRENGTH"`
	Steps               int           `yaml:"steps" env:"STEPS"`
	GuidanceScale       float64       `yaml:"guidance_scale" env:"GUIDANCE_SCALE"`
	ControlLoraStrength float64       `yaml:"control_lora_strength" env:"CONTROL_LORA_STRENGTH"`
	OutputFormat        string        `yaml:"output_format" env:"OUTPUT_FORMAT"`
	Timeout             time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Poll                PollConfig    `yaml:"poll" env:"POLL"`
	// 连通性检查地址
	CheckURL string `yaml:"check_url" env:"CHECK_URL"`
}

// EditConfig 多参考图编辑 Provider 配置
type EditConfig struct {
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// TransferConfig 结果下载配置
type TransferConfig struct {
	// 每个策略的最大尝试次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 初始退避
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// 退避上限
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// 退避倍数
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// 单次尝试超时
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT"`
	// 主 User-Agent
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
	// 兜底策略 User-Agent
	FallbackUserAgent string `yaml:"fallback_user_agent" env:"FALLBACK_USER_AGENT"`
	// 启用的策略（按顺序）: http, resty, direct
	Strategies []string `yaml:"strategies" env:"STRATEGIES"`
}

// NetworkConfig 网络代理配置
type NetworkConfig struct {
	// 使用系统代理（HTTP_PROXY / HTTPS_PROXY）
	UseSystemProxy bool `yaml:"use_system_proxy" env:"USE_SYSTEM_PROXY"`
	// 显式代理地址，优先于系统代理
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 详细日志：强制 debug 并额外写入 API 日志文件
	Verbose bool `yaml:"verbose" env:"VERBOSE"`
	// API 日志目录
	Dir string `yaml:"dir" env:"DIR"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 监听地址（为空则不暴露 /metrics）
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
}

// HistoryConfig 渲染历史配置
type HistoryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 连接串（sqlite 为文件路径）
	DSN string `yaml:"dsn" env:"DSN"`
	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// GuardConfig 基于 Redis 的跨进程渲染互斥配置
// 多个 RenderFlow 进程共享同一账号时，保证同一时刻只有一个渲染在途
type GuardConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 锁键名
	Key string `yaml:"key" env:"KEY"`
	// 锁过期时间，进程崩溃后自动释放
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 持有期间的续期间隔，0 表示 TTL/3
	RefreshInterval time.Duration `yaml:"refresh_interval" env:"REFRESH_INTERVAL"`
	// Redis 健康检查间隔，0 表示不检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RENDERFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Render.Provider {
	case "structure", "queued", "edit":
	default:
		errs = append(errs, fmt.Sprintf("unknown provider %q", c.Render.Provider))
	}
	if c.Render.ResultsDir == "" {
		errs = append(errs, "results_dir is required")
	}

	sc := c.Structure.Constraints
	if sc.MinAspect <= 0 || sc.MaxAspect <= 0 || sc.MinAspect > sc.MaxAspect {
		errs = append(errs, "structure aspect bounds must satisfy 0 < min_aspect <= max_aspect")
	}
	if sc.MaxPixels <= 0 {
		errs = append(errs, "structure max_pixels must be positive")
	}
	if c.Structure.ControlStrength < 0 || c.Structure.ControlStrength > 1 {
		errs = append(errs, "control_strength must be between 0 and 1")
	}

	for name, d := range map[string]time.Duration{
		"structure.timeout":        c.Structure.Timeout,
		"queued.timeout":           c.Queued.Timeout,
		"edit.timeout":             c.Edit.Timeout,
		"transfer.attempt_timeout": c.Transfer.AttemptTimeout,
		"queued.poll.initial":      c.Queued.Poll.InitialDelay,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.Queued.Poll.MaxDelay < c.Queued.Poll.InitialDelay {
		errs = append(errs, "queued.poll.max_delay must not be below initial_delay")
	}
	if c.Queued.Poll.MaxRounds <= 0 {
		errs = append(errs, "queued.poll.max_rounds must be positive")
	}

	if c.Transfer.MaxAttempts <= 0 {
		errs = append(errs, "transfer.max_attempts must be positive")
	}
	if c.Transfer.MaxBackoff < c.Transfer.InitialBackoff {
		errs = append(errs, "transfer.max_backoff must not be below initial_backoff")
	}
	if len(c.Transfer.Strategies) == 0 {
		errs = append(errs, "at least one transfer strategy is required")
	}
	for _, s := range c.Transfer.Strategies {
		switch s {
		case "http", "resty", "direct":
		default:
			errs = append(errs, fmt.Sprintf("unknown transfer strategy %q", s))
		}
	}

	if c.History.Enabled {
		switch c.History.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("unknown history driver %q", c.History.Driver))
		}
	}

	if c.Guard.Enabled {
		if c.Guard.Addr == "" || c.Guard.Key == "" {
			errs = append(errs, "guard.addr and guard.key are required when the guard is enabled")
		}
		if c.Guard.TTL <= 0 {
			errs = append(errs, "guard.ttl must be positive")
		}
		if c.Guard.RefreshInterval < 0 || (c.Guard.RefreshInterval > 0 && c.Guard.RefreshInterval >= c.Guard.TTL) {
			errs = append(errs, "guard.refresh_interval must be shorter than guard.ttl")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
