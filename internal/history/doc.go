// 版权所有 2024 RenderFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 history 提供基于 GORM 的渲染历史存储。

# 概述

每次渲染结束（成功或失败）都会写入一条 Entry，记录请求 ID、Provider、
提示词、源图与结果路径、seed、结束原因、错误码与耗时。
`renderflow history` 命令按时间倒序列出最近的记录，`--id` 查看单条详情。

# 核心类型

  - Store：持有 GORM DB 与底层 sql.DB，提供 Record、List、Get、
    Ping、Close 等方法。
  - Entry：渲染历史表 render_history 的模型。

# 支持的驱动

  - sqlite：默认，纯 Go 实现（glebarez/sqlite），DSN 为文件路径或 :memory:
  - postgres：gorm.io/driver/postgres
  - mysql：gorm.io/driver/mysql

# 主要能力

  - 自动建表：Migrate 通过 AutoMigrate 创建或升级表结构。
  - 事务重试：死锁、序列化失败、连接中断等错误按指数退避重试。
*/
package history
