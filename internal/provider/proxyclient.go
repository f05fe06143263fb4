// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ChatRelay Contributors

package provider

import (
	"net/http"
	"net/url"
	"sync"

	relayerr "github.com/chatrelay/chatrelay/pkg/errors"
)

var (
	proxyClientMu sync.Mutex
	proxyClients  = map[string]*http.Client{}
)

// ProxyHTTPClient returns an HTTP client whose transport routes through
// proxyURL (http, https, or socks5). Clients are cached per URL so
// repeated attempts through the same proxy share a connection pool.
func ProxyHTTPClient(proxyURL string) (*http.Client, error) {
	proxyClientMu.Lock()
	defer proxyClientMu.Unlock()

	if c, ok := proxyClients[proxyURL]; ok {
		return c, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, relayerr.Wrapf(err, relayerr.CodeConfigValidateInvalidValue,
			"unparsable proxy url: %s", proxyURL)
	}
	c := &http.Client{Transport: &http.Transport{Proxy: http.ProxyURL(parsed)}}
	proxyClients[proxyURL] = c
	return c, nil
}
