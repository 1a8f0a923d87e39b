package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 FETCHCACHE_PROXY。
const EnvPrefix = "FETCHCACHE"

// DefaultStoragePath 返回系统临时目录下的默认缓存根目录。
func DefaultStoragePath() string {
	return filepath.Join(os.TempDir(), "crawlerutils")
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyFetchDefaults(&cfg.Fetch)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

// Default 返回不读取任何文件的默认配置。
func Default() *Config {
	cfg := &Config{}
	applyGlobalDefaults(&cfg.Global)
	applyFetchDefaults(&cfg.Fetch)
	cfg.Global.LogLevel = "info"
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("StoragePath", DefaultStoragePath())
	v.SetDefault("ListenPort", 0)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("Proxy", "")
	v.SetDefault("UserAgent", "")
	v.SetDefault("MaxAttempts", 5)
	v.SetDefault("RetryDelay", "3s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("KeyPolicy", "url")
	v.SetDefault("RetryPolicy", "all")
	v.SetDefault("CommitOnWrite", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if strings.TrimSpace(g.StoragePath) == "" {
		g.StoragePath = DefaultStoragePath()
	}
	if g.LogMaxSize == 0 {
		g.LogMaxSize = 100
	}
	if g.LogMaxBackups == 0 {
		g.LogMaxBackups = 10
	}
}

func applyFetchDefaults(f *FetchConfig) {
	if f.MaxAttempts == 0 {
		f.MaxAttempts = 5
	}
	if f.RetryDelay.DurationValue() == 0 {
		f.RetryDelay = Duration(3 * time.Second)
	}
	if f.UpstreamTimeout.DurationValue() == 0 {
		f.UpstreamTimeout = Duration(30 * time.Second)
	}
	f.KeyPolicy = strings.ToLower(strings.TrimSpace(f.KeyPolicy))
	if f.KeyPolicy == "" {
		f.KeyPolicy = "url"
	}
	f.RetryPolicy = strings.ToLower(strings.TrimSpace(f.RetryPolicy))
	if f.RetryPolicy == "" {
		f.RetryPolicy = "all"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

func joinStorage(root, sub string) string {
	if root == "" {
		root = DefaultStoragePath()
	}
	return filepath.Join(root, sub)
}
