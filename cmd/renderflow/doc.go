// Copyright (c) RenderFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 RenderFlow 命令行程序入口。

# 概述

cmd/renderflow 加载 YAML 配置与 RENDERFLOW_ 环境变量，按配置或
--provider 选择 Provider，完成一次图生图渲染并打印结果文件路径。
错误以 [CODE] provider (stage) message 的形式原样输出。

# 子命令

  - generate：渲染一张图片，可重复 --ref 传入参考图
  - check：对一个或全部 Provider 做连通性检查
  - history：列出最近的渲染记录（需启用 history）
  - version：显示构建注入的版本信息

# 运行时组件

  - 日志：zap，--verbose 强制 debug 并额外写入 renderflow_api.log
  - 指标：配置 metrics.listen_addr 时暴露 /metrics 与 /healthz
  - 追踪：telemetry.enabled 时通过 OTLP 导出 span
  - 跨进程互斥：guard.enabled 时通过 Redis 保证单一在途渲染
*/
package main
