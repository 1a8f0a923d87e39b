package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "3s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：存储根目录、日志与状态服务端口。
type GlobalConfig struct {
	StoragePath   string `mapstructure:"StoragePath"`
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// FetchConfig 决定回源、重试与索引提交策略。
type FetchConfig struct {
	Proxy           string   `mapstructure:"Proxy"`
	UserAgent       string   `mapstructure:"UserAgent"`
	MaxAttempts     int      `mapstructure:"MaxAttempts"`
	RetryDelay      Duration `mapstructure:"RetryDelay"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	KeyPolicy       string   `mapstructure:"KeyPolicy"`
	RetryPolicy     string   `mapstructure:"RetryPolicy"`
	CommitOnWrite   bool     `mapstructure:"CommitOnWrite"`
}

// Config 是 TOML 文件映射的整体结构，两组字段都位于顶层。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Fetch  FetchConfig  `mapstructure:",squash"`
}

// BlobPath 返回 blob 目录。
func (c *Config) BlobPath() string {
	return joinStorage(c.Global.StoragePath, "blob")
}

// IndexPath 返回索引目录。
func (c *Config) IndexPath() string {
	return joinStorage(c.Global.StoragePath, "cacher")
}

// ProxyMode 输出 `proxied` 或 `direct`，供日志字段使用。
func (f FetchConfig) ProxyMode() string {
	if strings.TrimSpace(f.Proxy) != "" {
		return "proxied"
	}
	return "direct"
}
