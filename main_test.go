package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("FETCHCACHE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestParseCLIFlagsRequiresGetForOutput(t *testing.T) {
	if _, err := parseCLIFlags([]string{"-o", "/tmp/out"}); err == nil {
		t.Fatalf("-o 缺少 -get 时应报错")
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d", code)
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
}

func TestRunCheckConfigRejectsInvalidPolicy(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: configFixture(t, "invalid.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("非法 KeyPolicy 应返回非零退出码")
	}
}

func TestRunVersionOutput(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "fetchcache") {
		t.Fatalf("version 输出应包含 fetchcache 标识")
	}
}

func TestRunWithoutActionFails(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: cacheConfig(t, t.TempDir())})
	if code != 2 {
		t.Fatalf("未指定操作应返回 2，得到 %d", code)
	}
}

func TestRunGetWritesBodyAndCaches(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte("hello"))
	}))
	defer upstream.Close()

	storage := t.TempDir()
	configPath := cacheConfig(t, storage)

	useBufferWriters(t)
	code := run(cliOptions{configPath: configPath, getURL: upstream.URL + "/a"})
	if code != 0 {
		t.Fatalf("get 应成功，得到 %d (stderr=%s)", code, stdErrBuffer().String())
	}
	if got := stdOutBuffer().String(); got != "hello" {
		t.Fatalf("stdout 应为 hello，得到 %q", got)
	}
	if _, err := os.Stat(filepath.Join(storage, "cacher", "mapping.yaml")); err != nil {
		t.Fatalf("退出时应提交索引: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "a.txt")
	code = run(cliOptions{configPath: configPath, getURL: upstream.URL + "/a", outputPath: dest})
	if code != 0 {
		t.Fatalf("download 应成功，得到 %d", code)
	}
	body, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("读取下载文件失败: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("下载内容不符: %q", string(body))
	}
	if hits != 1 {
		t.Fatalf("第二次运行应命中缓存，上游调用次数 %d", hits)
	}
}

func TestRunGetReportsUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer upstream.Close()

	useBufferWriters(t)
	code := run(cliOptions{configPath: cacheConfig(t, t.TempDir()), getURL: upstream.URL + "/down"})
	if code != 1 {
		t.Fatalf("上游失败应返回 1，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "502") {
		t.Fatalf("stderr 应包含状态码，得到 %s", stdErrBuffer().String())
	}
}

func TestRunVerifyOnEmptyCache(t *testing.T) {
	useBufferWriters(t)
	code := run(cliOptions{configPath: cacheConfig(t, t.TempDir()), verify: true})
	if code != 0 {
		t.Fatalf("verify 应成功，得到 %d", code)
	}
	if !strings.Contains(stdOutBuffer().String(), "scanned 0 blobs, removed 0") {
		t.Fatalf("unexpected verify output: %s", stdOutBuffer().String())
	}
}

// cacheConfig 写出一份指向 storage 的最小配置，重试只做一次避免测试等待。
func cacheConfig(t *testing.T, storage string) string {
	t.Helper()
	return writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
LogLevel = "error"
MaxAttempts = 1
RetryDelay = "10ms"
`, storage))
}
