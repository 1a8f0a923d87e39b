package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(fixturePath("does-not-exist.toml")); err == nil {
		t.Fatalf("显式指定的配置文件不存在时应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
RetryDelay = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsFractionalSeconds(t *testing.T) {
	cfg := `
StoragePath = "./data"
RetryDelay = "0.5"
`
	path := writeTempConfig(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Fetch.RetryDelay.DurationValue().Milliseconds() != 500 {
		t.Fatalf("0.5 应被解析为 500ms，得到 %s", loaded.Fetch.RetryDelay.DurationValue())
	}
}

func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}

// writeTempConfig 写出 TOML 内容并返回路径，文件随 t.TempDir 一起清理。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadAppliesEnvOverOnFile(t *testing.T) {
	t.Setenv("FETCHCACHE_MAXATTEMPTS", "2")
	path := writeTempConfig(t, `
StoragePath = "./data"
MaxAttempts = 7
CommitOnWrite = true
`)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if loaded.Fetch.MaxAttempts != 2 {
		t.Fatalf("环境变量应覆盖文件中的 MaxAttempts，得到 %d", loaded.Fetch.MaxAttempts)
	}
	if !loaded.Fetch.CommitOnWrite {
		t.Fatalf("CommitOnWrite 应从文件读取")
	}
}
