// Package nettransport 提供集中式 HTTP 传输配置，
// 为所有 Provider 客户端与下载策略统一 TLS 加固（TLS 1.2+，仅 AEAD 密码套件）与代理选择。
package nettransport
