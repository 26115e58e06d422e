// 版权所有 2024 RenderFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供观测端点的 HTTP 服务器生命周期管理。

# 概述

渲染流程本身不对外提供 HTTP 接口；本包只在配置了
metrics.listen_addr 时启动，暴露 Prometheus 指标与健康检查，
供长时间运行的批量渲染进程被抓取。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown 等生命周期方法。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。
  - NewHandler：/metrics（promhttp）与 /healthz（按名称排序执行
    Check，任一失败返回 503）。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空与连接释放。
  - 错误传播：Errors() 返回异步错误通道，供调用方监控服务异常。
*/
package server
