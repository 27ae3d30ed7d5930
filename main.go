package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/dnscache"
	"github.com/sirupsen/logrus"

	"github.com/octopus-digest/octopus-cache/internal/cache"
	"github.com/octopus-digest/octopus-cache/internal/config"
	"github.com/octopus-digest/octopus-cache/internal/fetch"
	"github.com/octopus-digest/octopus-cache/internal/lifecycle"
	"github.com/octopus-digest/octopus-cache/internal/logging"
	"github.com/octopus-digest/octopus-cache/internal/proxy"
	"github.com/octopus-digest/octopus-cache/internal/routing"
	"github.com/octopus-digest/octopus-cache/internal/server"
	"github.com/octopus-digest/octopus-cache/internal/server/routes"
	"github.com/octopus-digest/octopus-cache/internal/telemetry"
	"github.com/octopus-digest/octopus-cache/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
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
		fields["upstream"] = cfg.Origin.Upstream
		fields["generation"] = cfg.Origin.Generation
		fields["store_driver"] = cfg.Global.StoreDriver
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 启动顺序：配置 → 日志 → 缓存存储 → 世代安装/激活 → Fiber server，
	// 保证开始接收请求前 current 世代已经确定。
	rt, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "启动失败: %v\n", err)
		return 1
	}
	defer rt.close()

	go fetch.RefreshDNS(ctx, rt.resolver, cfg.Global.DNSRefreshInterval.DurationValue())

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["upstream"] = cfg.Origin.Upstream
	fields["generation"] = cfg.Origin.Generation
	fields["store_driver"] = cfg.Global.StoreDriver
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, rt.app, cfg.Global.ListenPort, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 聚合一次启动构建出的全部组件。
type service struct {
	app         *fiber.App
	store       cache.Store
	manager     *lifecycle.Manager
	interceptor *proxy.Interceptor
	resolver    *dnscache.Resolver
	registry    *prometheus.Registry
}

// close 等待 write-behind 写入结束后关闭存储。
func (rt *service) close() {
	rt.interceptor.Wait()
	_ = rt.store.Close()
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	upstream, err := url.Parse(cfg.Origin.Upstream)
	if err != nil {
		return nil, fmt.Errorf("解析上游地址失败: %w", err)
	}
	manifest, err := lifecycle.BuildManifest(cfg.Origin)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewStore(cache.Options{
		Driver:        cfg.Global.StoreDriver,
		Path:          cfg.Global.StoragePath,
		MaxEntrySize:  cfg.Global.MaxEntrySize,
		MemoryEntries: cfg.Global.MemoryCacheEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(registry)

	resolver := &dnscache.Resolver{}
	fetcher := fetch.NewClientFetcher(fetch.NewUpstreamClient(cfg, resolver))

	manager, err := lifecycle.NewManager(lifecycle.Options{
		Store:               store,
		Fetcher:             fetcher,
		Target:              cache.Generation(cfg.Origin.Generation),
		Prefix:              cfg.Origin.GenerationPrefix,
		Manifest:            manifest,
		PrecacheConcurrency: cfg.Global.PrecacheConcurrency,
		Logger:              logger,
		Observer:            metrics,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	if err := manager.Start(ctx); err != nil {
		if !errors.Is(err, lifecycle.ErrPrecacheFailed) {
			_ = store.Close()
			return nil, fmt.Errorf("缓存世代初始化失败: %w", err)
		}
		current, _ := manager.Current()
		logger.WithFields(logging.LifecycleFields(string(manager.State().Phase), current.String(), cfg.Origin.Generation)).
			WithError(err).
			Warn("install_failed_serving_previous")
	}

	interceptor, err := proxy.NewInterceptor(proxy.Options{
		Fetcher:          fetcher,
		Policy:           routing.NewPolicy(cfg.Origin.DynamicSegment),
		Generations:      manager,
		WriteConcurrency: cfg.Global.WriteConcurrency,
		Logger:           logger,
		OnWriteFailure:   metrics.WriteFailed,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(interceptor, upstream, logger, metrics),
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	routes.RegisterStatusRoutes(app, manager, store, cfg.Origin.DynamicSegment)
	routes.RegisterMetricsRoute(app, registry)

	return &service{
		app:         app,
		store:       store,
		manager:     manager,
		interceptor: interceptor,
		resolver:    resolver,
		registry:    registry,
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("octopus-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OCTOPUS_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	return cliOptions{
		configPath:  config.ResolvePath(configFlag),
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func startHTTPServer(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	err := app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{
		DisableStartupMessage: true,
		GracefulContext:       ctx,
	})

	logger.WithFields(logrus.Fields{
		"action": "shutdown",
		"port":   port,
	}).Info("Fiber 服务已停止")
	return err
}
