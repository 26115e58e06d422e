// 版权所有 2024 RenderFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 guard 提供基于 Redis 的跨进程渲染互斥。

# 概述

进程内的单渲染约束由 render.Session 的信号量保证；当多个 RenderFlow
进程共享同一 Provider 账号时，RedisGuard 通过 SET NX PX 在 Redis 中
持有一把带过期时间的锁，保证同一时刻全局只有一个渲染在途。

# 核心类型

  - RedisGuard：锁管理器，持有 go-redis 客户端，提供 TryAcquire、
    Holder、Ping、Close 等方法。
  - Release：释放函数，仅当锁仍由本进程持有时才删除（Lua 比较删除）。

# 主要能力

  - 非阻塞获取：锁被占用时立即返回 false，由调用方转换为 BUSY 错误。
  - 崩溃安全：锁带 TTL，持有进程异常退出后自动过期。
  - 持有期续期：获取成功后后台按 refresh_interval（默认 TTL/3）以同一令牌
    比较并 PEXPIRE，释放或 Close 时停止；发现锁已易主则停止续期。
  - 健康检查：后台定时 Ping，异常时输出 zap 日志。
*/
package guard
