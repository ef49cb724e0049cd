// Package transport builds outbound HTTP clients for pushkins. NewClient can
// route a non-HTTP/2 client through a forward proxy. Only the APNs pushkin
// builds its client here, as an HTTP/2 client without a proxy; the FCM and
// WebPush pushkins build their own clients, and the configured gateway-wide
// proxy is not passed to any client.
package transport

import (
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/net/http2"
)

// Options configures one outbound client.
type Options struct {
	// ProxyURL, if set, routes all requests through this forward proxy
	// (http(s):// or socks5://), matching sygnal's HTTP_PROXY/HTTPS_PROXY
	// support.
	ProxyURL string
	// HTTP2 enables an HTTP/2-only transport, required by APNs.
	HTTP2 bool
}

// NewClient builds a new *http.Client per Options, so clients built for
// different pushkins share no transport.
func NewClient(opts Options) (*http.Client, error) {
	if opts.HTTP2 {
		t := &http2.Transport{}
		if opts.ProxyURL != "" {
			return nil, fmt.Errorf("transport: proxying HTTP/2 connections is not supported")
		}
		return &http.Client{Transport: t}, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("transport: parsing proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &http.Client{Transport: transport}, nil
}
