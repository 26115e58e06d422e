// Package config 提供 RenderFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（RENDERFLOW_ 前缀）的顺序加载，
// 覆盖 Provider 凭据与参数、下载重试策略、代理、日志、遥测、指标与渲染历史。
// 核心层只消费加载后的纯值，不关心配置的持久化格式。
package config
