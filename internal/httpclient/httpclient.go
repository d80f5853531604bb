// Package httpclient builds outbound HTTP clients with an optional explicit proxy.
package httpclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
)

// New returns a client whose transport routes through proxy when it is set. A bare
// host:port proxy is treated as http. With no proxy, the transport makes direct connections and ignores the process environment.
func New(proxy string, timeout time.Duration) (*http.Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil

	proxy = strings.TrimSpace(proxy)
	if proxy != "" {
		if !strings.Contains(proxy, "://") {
			proxy = "http://" + proxy
		}
		if _, err := url.Parse(proxy); err != nil {
			return nil, fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
		fn := (&httpproxy.Config{HTTPProxy: proxy, HTTPSProxy: proxy}).ProxyFunc()
		transport.Proxy = func(req *http.Request) (*url.URL, error) {
			return fn(req.URL)
		}
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}
