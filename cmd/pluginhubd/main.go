package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"PluginHub/internal/api"
	"PluginHub/internal/auth"
	"PluginHub/internal/config"
	"PluginHub/internal/journal"
	"PluginHub/internal/observability/metrics"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// main 是 PluginHub 守护进程的入口。
func main() {
	configPath := flag.String("config", "", "配置文件路径，默认读取 $"+config.EnvConfigPath)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, config.ResolvePath(*configPath)); err != nil {
		log.Fatalf("pluginhubd 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("pluginhubd")

	sink, reader, err := journal.Open(ctx, cfg.Journal)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			lg.Warn("关闭事件日志失败", slog.Any("error", err))
		}
	}()

	collector := metrics.New()
	manager, err := plugin.NewManager(cfg.Plugins,
		plugin.WithObserver(journal.NewRecorder(sink, cfg.Journal.Timeout)),
		plugin.WithObserver(collector),
	)
	if err != nil {
		return err
	}

	if _, err := manager.Activate(ctx); err != nil {
		return err
	}
	if ok, _ := manager.Init(ctx, cfg.ManagerInitConfigs()...); !ok {
		lg.Warn("插件初始化未全部成功，管理 API 仍将启动以便排查")
	}
	if !manager.ActivateConfigured(ctx) {
		lg.Warn("部分插件自动激活失败")
	}
	lg.Info("插件协调器已就绪",
		slog.String("coordinator", manager.Name()),
		slog.Int("plugins", manager.Len()),
		slog.String("journal", sink.Name()),
	)

	defer func() {
		// 根上下文此时已取消，停用阶段使用独立的超时上下文。
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if !manager.DeactivateAll(shutdownCtx) {
			lg.Warn("部分插件停用失败")
		}
	}()

	server := api.NewServer(cfg.Server.Address, manager,
		api.WithEventReader(reader),
		api.WithMetrics(collector),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		api.WithAuth(auth.NewGuard(cfg.Server.Auth)),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error { return server.Start(gctx) })
	if cfg.Metrics.Enabled {
		group.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address, collector.Handler()) })
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	lg.Info("pluginhubd 已退出", slog.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))
	return nil
}

