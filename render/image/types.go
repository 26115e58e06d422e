package image

import (
	"context"
	"time"

	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/types"
)

// Kind 是 Provider 的封闭枚举
type Kind string

const (
	KindStructure Kind = "structure"
	KindQueued    Kind = "queued"
	KindEdit      Kind = "edit"
)

// Kinds 返回全部已知 Provider 类型
func Kinds() []Kind {
	return []Kind{KindStructure, KindQueued, KindEdit}
}

// ParseKind 将配置中的名称解析为 Kind
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", types.NewError(types.ErrUnsupportedProvider, "unknown provider "+s)
}

// Result 是一次生成的本地结果
type Result struct {
	Path         string    `json:"path"`
	Provider     string    `json:"provider"`
	Seed         string    `json:"seed,omitempty"`
	FinishReason string    `json:"finish_reason,omitempty"`
	JobID        string    `json:"job_id,omitempty"`
	SourceURL    string    `json:"source_url,omitempty"`
	Bytes        int64     `json:"bytes"`
	CreatedAt    time.Time `json:"created_at"`
}

// Provider 定义图生图提供者接口
type Provider interface {
	// Name 返回 Provider 名称，同时作为结果子目录名
	Name() string

	// Kind 返回 Provider 类型
	Kind() Kind

	// Constraints 返回上传前源图需满足的几何约束，零值表示无约束
	Constraints() condition.Constraints

	// Generate 执行一次生成并返回本地结果
	Generate(ctx context.Context, req *types.GenerationRequest) (*Result, error)
}

// Checker 是可选的连通性检查能力
type Checker interface {
	CheckConnectivity(ctx context.Context) error
}

// Recorder 接收 Provider 调用的观测数据
type Recorder interface {
	RecordProviderRequest(provider string, stage types.Stage, status int, duration time.Duration)
	RecordPollQuery(provider, status string)
}
