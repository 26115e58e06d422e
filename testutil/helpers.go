// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 上下文、错误码与结果文件断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	e := testutil.AssertErrorCode(t, err, types.ErrCodeTimeout)
// =============================================================================
package testutil

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/renderflow/types"
)

// TestContext 返回 30 秒超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// AssertErrorCode 断言错误链中携带指定错误码，并返回该错误供后续检查
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) *types.Error {
	t.Helper()

	if err == nil {
		t.Fatalf("expected %s error but got nil", code)
	}
	e, ok := types.AsError(err)
	if !ok {
		t.Fatalf("expected *types.Error with code %s, got %T: %v", code, err, err)
	}
	if e.Code != code {
		t.Fatalf("error code mismatch: expected %s, got %s (%v)", code, e.Code, err)
	}
	return e
}

// AssertFileNotEmpty 断言结果文件已落盘且非空
func AssertFileNotEmpty(t *testing.T, path string) {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected file %s: %v", path, err)
	}
	if info.Size() == 0 {
		t.Fatalf("expected %s to be non-empty", path)
	}
}

// AssertNotContains 断言日志等输出中不出现敏感子串
func AssertNotContains(t *testing.T, s, substr string) {
	t.Helper()
	if strings.Contains(s, substr) {
		t.Errorf("expected output to not contain %q", substr)
	}
}

// WaitForChannel 等待通道接收值或超时
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}
