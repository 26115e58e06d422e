// =============================================================================
// 📦 RenderFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Render:    DefaultRenderConfig(),
		Structure: DefaultStructureConfig(),
		Queued:    DefaultQueuedConfig(),
		Edit:      DefaultEditConfig(),
		Transfer:  DefaultTransferConfig(),
		Network:   DefaultNetworkConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   DefaultMetricsConfig(),
		History:   DefaultHistoryConfig(),
		Guard:     DefaultGuardConfig(),
	}
}

// DataDir 返回本地数据根目录（用户缓存目录，失败时退回系统临时目录）
func DataDir() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "RenderFlow")
	}
	return filepath.Join(os.TempDir(), "RenderFlow")
}

// DefaultRenderConfig 返回默认渲染配置
func DefaultRenderConfig() RenderConfig {
	return RenderConfig{
		Provider:      "structure",
		DefaultPrompt: "photorealistic rendering, high quality, architectural visualization",
		ResultsDir:    filepath.Join(DataDir(), "Results"),
		AutoCondition: true,
	}
}

// DefaultStructureConfig 返回默认结构控制 Provider 配置
func DefaultStructureConfig() StructureConfig {
	return StructureConfig{
		BaseURL:         "https://api.stability.ai",
		Endpoint:        "/v2beta/stable-image/control/structure",
		ControlStrength: 0.7,
		OutputFormat:    "webp",
		Timeout:         300 * time.Second,
		Constraints: ConstraintsConfig{
			MinAspect: 0.4,
			MaxAspect: 2.5,
			MaxPixels: 9437184,
		},
	}
}

// DefaultQueuedConfig 返回默认队列 Provider 配置
func DefaultQueuedConfig() QueuedConfig {
	return QueuedConfig{
		BaseURL:             "https://queue.fal.run",
		Model:               "fal-ai/flux-control-lora-canny",
		Strength:            0.85,
		Steps:               28,
		GuidanceScale:       3.5,
		ControlLoraStrength: 1.0,
		OutputFormat:        "jpeg",
		Timeout:             300 * time.Second,
		Poll: PollConfig{
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			MaxRounds:    20,
		},
		CheckURL: "https://api.fal.ai/storage",
	}
}

// DefaultEditConfig 返回默认编辑 Provider 配置
func DefaultEditConfig() EditConfig {
	return EditConfig{
		BaseURL: "https://api.openai.com",
		Model:   "gpt-image-1",
		Timeout: 300 * time.Second,
	}
}

// DefaultTransferConfig 返回默认下载配置
func DefaultTransferConfig() TransferConfig {
	return TransferConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		Multiplier:        2.0,
		AttemptTimeout:    30 * time.Second,
		UserAgent:         "RenderFlow/1.0",
		FallbackUserAgent: "Mozilla/5.0",
		Strategies:        []string{"http", "resty", "direct"},
	}
}

// DefaultNetworkConfig 返回默认网络配置
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		UseSystemProxy: true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
		Dir:         filepath.Join(DataDir(), "Logs"),
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "renderflow",
		SampleRate:   0.1,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "renderflow",
	}
}

// DefaultHistoryConfig 返回默认历史配置
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		Enabled:         true,
		Driver:          "sqlite",
		DSN:             filepath.Join(DataDir(), "history.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultGuardConfig 返回默认跨进程互斥配置（默认关闭，仅使用进程内互斥）
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		Key:     "renderflow:render:lock",
		TTL:     2 * time.Minute,

		HealthCheckInterval: 30 * time.Second,
	}
}
