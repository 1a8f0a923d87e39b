package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedKeyPolicies = map[string]struct{}{
	"url":        {},
	"descriptor": {},
}

var supportedRetryPolicies = map[string]struct{}{
	"all":       {},
	"transient": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if strings.TrimSpace(g.StoragePath) == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.ListenPort < 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 0-65535（0 表示不启动状态服务）")
	}
	if g.LogMaxSize < 0 {
		return newFieldError("Global.LogMaxSize", "不能为负数")
	}
	if g.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "不能为负数")
	}

	f := c.Fetch
	if f.MaxAttempts <= 0 {
		return newFieldError("Fetch.MaxAttempts", "必须大于 0")
	}
	if f.RetryDelay.DurationValue() < 0 {
		return newFieldError("Fetch.RetryDelay", "不能为负数")
	}
	if f.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Fetch.UpstreamTimeout", "必须大于 0")
	}
	if _, ok := supportedKeyPolicies[strings.ToLower(f.KeyPolicy)]; !ok {
		return newFieldError("Fetch.KeyPolicy", "仅支持 url/descriptor")
	}
	if _, ok := supportedRetryPolicies[strings.ToLower(f.RetryPolicy)]; !ok {
		return newFieldError("Fetch.RetryPolicy", "仅支持 all/transient")
	}
	if f.Proxy != "" {
		if err := validateProxy(f.Proxy); err != nil {
			return fmt.Errorf("%s: %w", "Fetch.Proxy", err)
		}
	}

	return nil
}

func validateProxy(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无效的代理地址: %w", err)
	}
	switch parsed.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return errors.New("仅支持 http/https/socks5 代理")
	}
	if parsed.Host == "" {
		return errors.New("缺少代理主机")
	}
	return nil
}
