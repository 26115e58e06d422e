// Package nettransport provides centralized transport construction for every
// outbound HTTP client in renderflow.
// 安全加固：TLS 1.2+，仅 AEAD 密码套件；代理：显式地址优先，其次系统环境变量。
package nettransport

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BaSui01/renderflow/config"
)

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ProxyFunc resolves the proxy selection for a network config.
// An explicit proxy_url wins; otherwise HTTP_PROXY/HTTPS_PROXY/NO_PROXY apply
// when use_system_proxy is set; otherwise connections are direct.
func ProxyFunc(cfg config.NetworkConfig) (func(*http.Request) (*url.URL, error), error) {
	if raw := strings.TrimSpace(cfg.ProxyURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid proxy url %q", raw)
		}
		return http.ProxyURL(u), nil
	}
	if cfg.UseSystemProxy {
		return http.ProxyFromEnvironment, nil
	}
	return nil, nil
}

// SecureTransport returns an http.Transport with TLS hardening and the
// configured proxy.
func SecureTransport(cfg config.NetworkConfig) (*http.Transport, error) {
	proxy, err := ProxyFunc(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Transport{
		Proxy:           proxy,
		TLSClientConfig: DefaultTLSConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}, nil
}

// IsolatedTransport is a one-shot transport with keep-alives and HTTP/2
// disabled, used by the last-resort download strategy.
func IsolatedTransport(cfg config.NetworkConfig) (*http.Transport, error) {
	t, err := SecureTransport(cfg)
	if err != nil {
		return nil, err
	}
	t.DisableKeepAlives = true
	t.ForceAttemptHTTP2 = false
	t.MaxIdleConns = 0
	return t, nil
}

// SecureHTTPClient returns an http.Client with TLS hardening.
// Drop-in replacement for &http.Client{Timeout: timeout}.
func SecureHTTPClient(cfg config.NetworkConfig, timeout time.Duration) (*http.Client, error) {
	t, err := SecureTransport(cfg)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t,
	}, nil
}
