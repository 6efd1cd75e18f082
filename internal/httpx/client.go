// Package httpx provides the pooled HTTP client shared by every provider
// backend (ASR, TTS, LLM vendors, intent action shims).
package httpx

import (
	"net/http"
	"time"
)

// NewPooledClient creates an http.Client with connection pooling and tuned transport.
func NewPooledClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
