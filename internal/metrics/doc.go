// 版权所有 2024 RenderFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的渲染链路指标采集能力，覆盖
渲染、Provider 调用、结果下载与源图预处理四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
注册到调用方提供的 Registerer（默认为全局注册表）。所有指标按 namespace
隔离，Collector 为 nil 时所有记录方法均为空操作。

# 主要能力

  - 渲染指标：按 provider/status 计数、端到端耗时、进行中数量、并发拒绝次数。
  - Provider 指标：按 provider/stage 记录 HTTP 调用次数与耗时，
    状态码归类为 2xx/3xx/4xx/5xx，未收到响应记为 none；轮询状态查询计数。
  - 下载指标：按 strategy 记录尝试次数、耗时与写入字节数。
  - 预处理指标：unchanged / corrected / failed 计数。
*/
package metrics
