// Package http builds pre-configured *http.Client instances for the
// engine's outbound collaborators: the remote tool gateway and the
// Prometheus scrape endpoint. Retry/backoff is left to callers (the
// ToolExecutor's at-most-one-retry-with-fallback semantics live above this
// layer); this package only shapes transport-level timeouts and pooling.
package http

import (
	"crypto/tls"
	"net/http"
	"time"
)

// ClientConfig shapes the transport behind a *http.Client.
type ClientConfig struct {
	Timeout                time.Duration
	MaxRetries             int
	DisableSSLVerification bool
	MaxIdleConns           int
	IdleConnTimeout        time.Duration
	TLSHandshakeTimeout    time.Duration
	ResponseHeaderTimeout  time.Duration
}

// DefaultClientConfig returns sane defaults for a general-purpose outbound client.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:                30 * time.Second,
		MaxRetries:             3,
		DisableSSLVerification: false,
		MaxIdleConns:           10,
		IdleConnTimeout:        90 * time.Second,
		TLSHandshakeTimeout:    10 * time.Second,
		ResponseHeaderTimeout:  10 * time.Second,
	}
}

// NewClient builds an *http.Client from the given config.
func NewClient(cfg ClientConfig) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
	}
	if cfg.DisableSSLVerification {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
}

// NewClientWithTimeout builds a client with the default config but a
// caller-supplied timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	return NewClient(cfg)
}

// NewDefaultClient builds a client from DefaultClientConfig.
func NewDefaultClient() *http.Client {
	return NewClient(DefaultClientConfig())
}

// RemoteGatewayClientConfig tunes the client used by the ToolExecutor's
// remote-dispatch path (the optional sandbox/gateway host tool calls can be
// routed to). Gateways are expected to respond quickly; the response-header
// timeout is tight so a hung gateway fails fast enough for the executor's
// fallback-to-local path to still fit inside the tool's own deadline.
func RemoteGatewayClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = 10 * time.Second
	cfg.MaxRetries = 2
	cfg.ResponseHeaderTimeout = 5 * time.Second
	return cfg
}

// PrometheusClientConfig tunes the client used to scrape/push metrics,
// where the response header should arrive well within half the overall
// deadline.
func PrometheusClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 2
	return cfg
}

// LLMClientConfig tunes the client used by the LLM HTTP collaborator, whose
// response headers (the start of a streamed completion) may lag the full
// request timeout considerably.
func LLMClientConfig(timeout time.Duration) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.Timeout = timeout
	cfg.ResponseHeaderTimeout = timeout / 3
	return cfg
}
