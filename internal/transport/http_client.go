// Package transport performs the actual GET for the fetch engine: a shared,
// tuned net/http client with optional forward proxy and redirect following.
// Request params become headers or query parameters; non-2xx responses are
// reported as *fetch.StatusError so the retry policy can classify them.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/any-hub/fetchcache/internal/fetch"
	"github.com/any-hub/fetchcache/internal/hashaddr"
	"github.com/any-hub/fetchcache/internal/version"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 10
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// Options 控制上游客户端行为，零值字段使用默认值。
type Options struct {
	Proxy        string
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
}

// Client 实现 fetch.Transport。
type Client struct {
	http      *http.Client
	userAgent string
}

var _ fetch.Transport = (*Client)(nil)

// New 返回共享 http.Client 包装，配置了 Proxy 时所有请求都经由该代理转发。
func New(opts Options) (*Client, error) {
	timeout := defaultTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	maxRedirects := defaultMaxRedirects
	if opts.MaxRedirects > 0 {
		maxRedirects = opts.MaxRedirects
	}
	userAgent := version.UserAgent()
	if strings.TrimSpace(opts.UserAgent) != "" {
		userAgent = opts.UserAgent
	}

	transport := defaultTransport.Clone()
	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		if proxyURL.Scheme == "" || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy address: %s", opts.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: userAgent,
	}, nil
}

// Fetch 发起 GET 并读取完整正文。
func (c *Client) Fetch(ctx context.Context, req hashaddr.Request) ([]byte, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &fetch.StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", req.URL, err)
	}
	return body, nil
}

func (c *Client) buildRequest(ctx context.Context, req hashaddr.Request) (*http.Request, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, errors.New("only http/https urls are supported")
	}

	query := target.Query()
	hasQuery := false
	for _, param := range req.Params {
		if name, ok := param.IsQuery(); ok {
			query.Add(name, param.Value)
			hasQuery = true
		}
	}
	if hasQuery {
		target.RawQuery = query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", c.userAgent)
	for _, param := range req.Params {
		if _, ok := param.IsQuery(); ok {
			continue
		}
		name := param.HeaderName()
		if name == "" || isHopByHopHeader(name) {
			continue
		}
		httpReq.Header.Add(name, param.Value)
	}
	return httpReq, nil
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

func isHopByHopHeader(key string) bool {
	canonical := textproto.CanonicalMIMEHeaderKey(key)
	_, ok := hopByHopHeaders[canonical]
	return ok
}
