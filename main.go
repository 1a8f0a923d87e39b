package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/fetchcache/cacher"
	"github.com/any-hub/fetchcache/internal/config"
	"github.com/any-hub/fetchcache/internal/logging"
	"github.com/any-hub/fetchcache/internal/server"
	"github.com/any-hub/fetchcache/internal/server/routes"
	"github.com/any-hub/fetchcache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	verify      bool
	getURL      string
	outputPath  string
	serve       bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage"] = cfg.Global.StoragePath
		fields["proxy"] = cfg.Fetch.ProxyMode()
		fields["key_policy"] = cfg.Fetch.KeyPolicy
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if !opts.verify && opts.getURL == "" && !opts.serve {
		fmt.Fprintln(stdErr, "未指定操作: 需要 -get、-verify 或 -serve 之一")
		return 2
	}

	// CLI 启动遵循“配置 → 日志 → 缓存实例 → 操作”顺序，退出时统一提交索引。
	cacheOpts, err := cacher.FromConfig(cfg)
	if err != nil {
		fmt.Fprintf(stdErr, "解析缓存配置失败: %v\n", err)
		return 1
	}
	c, err := cacher.New(append(cacheOpts, cacher.WithLogger(logger))...)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.WithError(err).Error("索引提交失败")
		}
	}()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["storage"] = c.Root()
	fields["proxy"] = cfg.Fetch.ProxyMode()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.verify {
		report, err := c.VerifyAndRepair(ctx)
		if err != nil {
			fmt.Fprintf(stdErr, "校验 blob 失败: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdOut, "scanned %d blobs, removed %d\n", report.Scanned, len(report.Removed))
	}

	if opts.getURL != "" {
		if err := fetchOne(ctx, c, opts); err != nil {
			fmt.Fprintf(stdErr, "获取 %s 失败: %v\n", opts.getURL, err)
			return 1
		}
	}

	if opts.serve {
		if err := startHTTPServer(ctx, cfg, c, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
	}
	return 0
}

func fetchOne(ctx context.Context, c *cacher.Cacher, opts cliOptions) error {
	if opts.outputPath != "" {
		return c.Download(ctx, opts.getURL, opts.outputPath)
	}
	data, err := c.Get(ctx, opts.getURL)
	if err != nil {
		return err
	}
	_, err = stdOut.Write(data)
	return err
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("fetchcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	var configFlag string

	fs.StringVar(&configFlag, "config", "", "配置文件路径（可被 FETCHCACHE_CONFIG 覆盖，留空时只使用默认值与环境变量）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.verify, "verify", false, "重新计算 blob 哈希并删除不一致的文件")
	fs.StringVar(&opts.getURL, "get", "", "通过缓存获取 URL，内容写到标准输出")
	fs.StringVar(&opts.outputPath, "o", "", "与 -get 搭配，把内容落到指定路径")
	fs.BoolVar(&opts.serve, "serve", false, "启动 /-/ 状态服务")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if opts.outputPath != "" && opts.getURL == "" {
		return cliOptions{}, errors.New("-o 需要与 -get 一起使用")
	}

	opts.configPath = os.Getenv("FETCHCACHE_CONFIG")
	if configFlag != "" {
		opts.configPath = configFlag
	}
	return opts, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, c *cacher.Cacher, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Source:     c,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, c)
	server.RegisterFallback(app, logger)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
