// Copyright 2026 RenderFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package render 编排一次完整的图生图渲染。

# 概述

Session 绑定一个 image.Provider，保证同一时刻最多一个渲染在途：
第二个调用立即以 BUSY 失败，而不是排队。可选的 Guard（Redis）
将该互斥扩展到多个进程。

# 流程

 1. 抢占进程内信号量，再抢占跨进程锁（若配置）
 2. 提示词为空时使用配置的默认提示词
 3. 自动校正开启且 Provider 有几何约束时，先校正源图；
    校正失败只记录日志，仍提交原图
 4. 调用 Provider.Generate
 5. Provider 返回带约束详情的 CONSTRAINT_VIOLATION 时，
    按返回的边界重新校正，结果有变化则重试一次
 6. 写入 Prometheus 指标、OpenTelemetry span 与渲染历史

# 子包

  - render/condition: 源图宽高比裁剪与像素缩放
  - render/image: structure、queued、edit 三类 Provider
  - render/transfer: 多策略结果下载
  - render/retry: 指数退避
  - render/factory: 按配置构建 Provider
*/
package render
