// Copyright 2026 RenderFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 RenderFlow 测试的共享工具和辅助函数。

# 概述

testutil 包为各包的单元测试与属性测试提供统一的辅助能力，
避免重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext，自动注册 Cleanup 防止泄漏
  - 断言工具: AssertErrorCode / AssertFileNotEmpty / AssertNotContains
  - 异步等待: WaitForChannel
  - 图像夹具: GradientImage / WriteImage / EncodeImage / ImageSize，
    在临时目录中生成 PNG、JPEG、BMP 源图

# 子包

  - testutil/mocks: MockProvider（渲染 Provider），支持固定结果、
    错误注入、阻塞与调用记录
  - testutil/fixtures: 预置 GenerationRequest 与 Provider 响应体样例

# 使用示例

	ctx := testutil.TestContext(t)
	src := testutil.WriteImage(t, t.TempDir(), "view.png", 1920, 1080)
	provider := mocks.NewConstrainedProvider("structure", 0.4, 2.5, 9437184).WithResultsDir(t.TempDir())
*/
package testutil
