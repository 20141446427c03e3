package sources

import (
	"net/http"
	"net/url"

	"golang.org/x/net/http/httpproxy"
)

// NewProxyFunc returns an http.Transport proxy function. Configured values
// override the HTTP_PROXY, HTTPS_PROXY and NO_PROXY environment variables;
// unset values fall back to the environment.
func NewProxyFunc(httpProxy, httpsProxy, noProxy string) func(*http.Request) (*url.URL, error) {
	cfg := httpproxy.FromEnvironment()
	if httpProxy != "" {
		cfg.HTTPProxy = httpProxy
	}
	if httpsProxy != "" {
		cfg.HTTPSProxy = httpsProxy
	}
	if noProxy != "" {
		cfg.NoProxy = noProxy
	}

	proxy := cfg.ProxyFunc()
	return func(req *http.Request) (*url.URL, error) {
		return proxy(req.URL)
	}
}
