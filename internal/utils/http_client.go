package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client for talking to the local download server.
// A zero timeout leaves deadlines to the transport defaults.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
