// Copyright (c) RenderFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 RenderFlow 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 render、config、cmd
等上层模块提供统一的类型契约。

# 核心类型

  - GenerationRequest：一次渲染请求（源图、参考图、提示词、数值参数）
  - OutputFormat：输出格式枚举（jpeg / png / webp）
  - Credential：Provider 密钥，打印时仅保留前缀
  - Error / ErrorCode：结构化错误体系，含 Stage、Payload、约束详情

# 错误码

IMAGE_IO、PROTOCOL、CONSTRAINT_VIOLATION、PROVIDER、ASSET_UNAVAILABLE、
TIMEOUT、NETWORK 对应渲染链路上的各类失败；BUSY 表示已有渲染在进行中。
*/
package types
