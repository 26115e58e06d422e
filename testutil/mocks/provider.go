// MockProvider 的图生图提供者测试模拟实现。
//
// 支持固定结果、按调用次序的错误注入、阻塞与调用记录。
package mocks

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/renderflow/render/condition"
	"github.com/BaSui01/renderflow/render/image"
	"github.com/BaSui01/renderflow/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 image.Provider 的模拟实现
type MockProvider struct {
	mu sync.RWMutex

	name        string
	kind        image.Kind
	constraints condition.Constraints

	// 结果配置
	resultPath string
	resultsDir string
	seed       string
	err        error
	errs       []error

	// 行为控制
	block   chan struct{}
	started chan struct{}
	delay   time.Duration

	calls     []MockProviderCall
	callCount int
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request *types.GenerationRequest
	Result  *image.Result
	Error   error
}

// --- 构造函数和 Builder 方法 ---

// NewMockProvider 创建新的 MockProvider
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:       name,
		kind:       image.KindStructure,
		resultPath: filepath.Join(name, "result.png"),
		started:    make(chan struct{}, 16),
	}
}

// WithConstraints 设置源图约束
func (m *MockProvider) WithConstraints(c condition.Constraints) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.constraints = c
	return m
}

// WithResultsDir 使每次成功调用在 dir/<name>/ 下写入真实结果文件
func (m *MockProvider) WithResultsDir(dir string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resultsDir = dir
	return m
}

// WithSeed 设置结果中的种子
func (m *MockProvider) WithSeed(seed string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = seed
	return m
}

// WithError 设置每次调用都返回的错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithErrorSequence 按调用次序返回错误，nil 表示该次成功，用尽后成功
func (m *MockProvider) WithErrorSequence(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	return m
}

// WithBlock 使 Generate 阻塞直到 ch 关闭或上下文结束
func (m *MockProvider) WithBlock(ch chan struct{}) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.block = ch
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string { return m.name }

// Kind 返回 Provider 类型
func (m *MockProvider) Kind() image.Kind {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.kind
}

// Constraints 返回源图约束
func (m *MockProvider) Constraints() condition.Constraints {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.constraints
}

// Generate 记录调用并返回预设结果
func (m *MockProvider) Generate(ctx context.Context, req *types.GenerationRequest) (*image.Result, error) {
	m.mu.Lock()
	m.callCount++
	n := m.callCount
	block, delay := m.block, m.delay
	m.mu.Unlock()

	select {
	case m.started <- struct{}{}:
	default:
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return m.finish(req, nil, types.NewError(types.ErrTimeout, "cancelled").WithCause(ctx.Err()))
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return m.finish(req, nil, types.NewError(types.ErrTimeout, "cancelled").WithCause(ctx.Err()))
		}
	}

	m.mu.RLock()
	err := m.err
	if n <= len(m.errs) {
		err = m.errs[n-1]
	}
	m.mu.RUnlock()
	if err != nil {
		return m.finish(req, nil, err)
	}

	res, err := m.result(n)
	return m.finish(req, res, err)
}

func (m *MockProvider) result(n int) (*image.Result, error) {
	m.mu.RLock()
	dir, path, seed := m.resultsDir, m.resultPath, m.seed
	m.mu.RUnlock()

	res := &image.Result{
		Path:         path,
		Provider:     m.name,
		Seed:         seed,
		FinishReason: "SUCCESS",
		CreatedAt:    time.Now(),
	}
	if dir == "" {
		return res, nil
	}

	out := filepath.Join(dir, m.name)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, types.NewError(types.ErrImageIO, "create results directory").WithCause(err)
	}
	res.Path = filepath.Join(out, image.ResultName(res.CreatedAt)+"_"+strconv.Itoa(n)+".png")
	data := []byte("\x89PNG\r\n\x1a\nmock")
	if err := os.WriteFile(res.Path, data, 0o644); err != nil {
		return nil, types.NewError(types.ErrImageIO, "write result").WithCause(err)
	}
	res.Bytes = int64(len(data))
	return res, nil
}

func (m *MockProvider) finish(req *types.GenerationRequest, res *image.Result, err error) (*image.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cp *types.GenerationRequest
	if req != nil {
		cp = req.WithSource(req.SourceImagePath)
	}
	m.calls = append(m.calls, MockProviderCall{Request: cp, Result: res, Error: err})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// --- 查询方法 ---

// Started 在每次 Generate 进入时收到一个信号
func (m *MockProvider) Started() <-chan struct{} { return m.started }

// GetCalls 获取所有调用记录
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall{}, m.calls...)
}

// GetCallCount 获取调用次数
func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

// GetLastCall 获取最后一次调用
func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset 重置所有状态
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = []MockProviderCall{}
	m.callCount = 0
	m.err = nil
	m.errs = nil
}

// --- 预设 Provider 工厂 ---

// NewErrorProvider 创建总是失败的 Provider
func NewErrorProvider(name string, err error) *MockProvider {
	return NewMockProvider(name).WithError(err)
}

// NewConstrainedProvider 创建带宽高比与像素约束的 Provider
func NewConstrainedProvider(name string, minAspect, maxAspect float64, maxPixels int64) *MockProvider {
	return NewMockProvider(name).WithConstraints(condition.Constraints{
		MinAspect: minAspect,
		MaxAspect: maxAspect,
		MaxPixels: maxPixels,
	})
}
