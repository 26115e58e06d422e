// =============================================================================
// 📦 测试数据工厂 - 渲染请求与 Provider 响应体
// =============================================================================
// 提供预定义的 GenerationRequest 与各 Provider 的响应体样例，用于测试
// =============================================================================
package fixtures

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/renderflow/types"
)

// =============================================================================
// 🎯 GenerationRequest 工厂
// =============================================================================

// SimpleRequest 返回只含源图与提示词的请求
func SimpleRequest(source string) *types.GenerationRequest {
	return &types.GenerationRequest{
		SourceImagePath: source,
		Prompt:          "photorealistic architectural rendering, natural daylight",
	}
}

// RequestWithParams 返回带生成参数的请求
func RequestWithParams(source string, params map[string]float64) *types.GenerationRequest {
	req := SimpleRequest(source)
	req.Params = params
	return req
}

// StructureRequest 返回结构控制 Provider 常用的完整请求
func StructureRequest(source string) *types.GenerationRequest {
	return &types.GenerationRequest{
		SourceImagePath: source,
		Prompt:          "modern villa at dusk, warm interior lights",
		NegativePrompt:  "blurry, distorted geometry",
		Params:          map[string]float64{types.ParamControlStrength: 0.7},
		OutputFormat:    types.OutputWebP,
		StylePreset:     "photographic",
	}
}

// EditRequest 返回带参考图的编辑请求
func EditRequest(source string, refs ...string) *types.GenerationRequest {
	return &types.GenerationRequest{
		SourceImagePath:     source,
		ReferenceImagePaths: refs,
		Prompt:              "apply the materials of the reference images",
		Model:               "gpt-image-1",
	}
}

// =============================================================================
// 🌐 队列轮询 Provider 响应体
// =============================================================================

// QueuedSubmitResponse 返回提交成功、待轮询的响应体
func QueuedSubmitResponse(requestID string) string {
	return mustJSON(map[string]any{
		"request_id":   requestID,
		"status_url":   fmt.Sprintf("https://queue.example/requests/%s/status", requestID),
		"response_url": fmt.Sprintf("https://queue.example/requests/%s", requestID),
	})
}

// QueuedStatusResponse 返回状态查询响应体
func QueuedStatusResponse(status string) string {
	return mustJSON(map[string]any{"status": status})
}

// QueuedFailedResponse 返回失败状态响应体
func QueuedFailedResponse(msg string) string {
	return mustJSON(map[string]any{"status": "FAILED", "error": msg})
}

// QueuedResultResponse 返回带图片定位符的结果响应体
func QueuedResultResponse(url string, seed int64) string {
	return mustJSON(map[string]any{
		"images": []map[string]any{{"url": url, "content_type": "image/png", "width": 1024, "height": 576}},
		"seed":   seed,
	})
}

// =============================================================================
// 🖼️ 编辑 Provider 响应体
// =============================================================================

// EditResponse 返回 base64 编码图片的响应体
func EditResponse(img []byte) string {
	return mustJSON(map[string]any{
		"created": 1700000000,
		"data":    []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(img)}},
	})
}

// EditErrorResponse 返回错误信封响应体
func EditErrorResponse(msg string) string {
	return mustJSON(map[string]any{
		"error": map[string]any{"message": msg, "type": "invalid_request_error", "code": nil},
	})
}

// =============================================================================
// ⚠️ 错误工厂
// =============================================================================

// ConstraintViolation 返回带几何约束详情的错误
func ConstraintViolation(provider string, w, h int) *types.Error {
	return types.NewError(types.ErrConstraintViolation, "provider rejected image geometry").
		WithProvider(provider).
		WithHTTPStatus(400).
		WithConstraint(types.ConstraintDetail{
			Width:     w,
			Height:    h,
			MinAspect: 1.0 / 2.5,
			MaxAspect: 2.5,
		})
}

// ProviderError 返回 Provider 拒绝请求的错误
func ProviderError(provider string, status int, payload string) *types.Error {
	return types.NewError(types.ErrProvider, fmt.Sprintf("request rejected with status %d", status)).
		WithProvider(provider).
		WithHTTPStatus(status).
		WithPayload(payload)
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
