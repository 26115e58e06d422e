// Package factory 按 Kind 创建图生图 Provider，
// 集中处理配置默认值、凭证校验与传输引擎装配。
package factory
