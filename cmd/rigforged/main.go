package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"RigForge/internal/api"
	"RigForge/internal/auth"
	"RigForge/internal/config"
	"RigForge/internal/host"
	"RigForge/internal/host/mayaport"
	"RigForge/internal/invoke"
	"RigForge/internal/library"
	"RigForge/internal/observability/alerting"
	"RigForge/internal/presets"
	"RigForge/internal/rigging"
	"RigForge/internal/storage/mysql"
	"RigForge/pkg/extension"
	"RigForge/pkg/logger"
	"RigForge/pkg/schema"
)

// main 是 RigForge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("rigforged 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("RIGFORGE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "rigforge.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
		},
	}); err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	types := schema.DefaultTypes()

	// 加载动作定义库。
	lib := library.New(types, cfg.Library.Dir)
	if err := lib.Load(); err != nil {
		return err
	}
	if cfg.Library.Watch {
		go func() {
			if err := lib.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("动作库热加载退出", slog.Any("error", err))
			}
		}()
	}

	store, err := createStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = store.Close()
	}()

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = queue.Close()
	}()

	session, err := createSession(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = session.Close()
	}()

	var presetProvider presets.Provider
	if cfg.Presets.Path != "" {
		provider, err := presets.LoadStaticProvider(cfg.Presets.Path)
		if err != nil {
			return err
		}
		presetProvider = provider
	}

	executors, err := createExecutors(cfg)
	if err != nil {
		return err
	}

	// 通过扩展机制加载第三方执行器。
	extensions, err := createExtensions(cfg, executors, session)
	if err != nil {
		return err
	}
	if extensions != nil {
		if err := extensions.StartAll(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := extensions.StopAll(stopCtx); err != nil {
				logger.L().Error("停止扩展失败", slog.Any("error", err))
			}
		}()
	}

	dispatcherOpts := []invoke.DispatcherOption{
		invoke.WithWorkerCount(cfg.Queue.Worker),
		invoke.WithRecoveryHandler(rigging.NewHostRecovery(session)),
		invoke.WithDispatcherLogger(logger.Named("dispatcher")),
	}
	if alerter := createAlerter(cfg); alerter != nil {
		dispatcherOpts = append(dispatcherOpts, invoke.WithAlertDispatcher(alerter))
	}

	dispatcher := invoke.NewDispatcher(executors, lib, session, types, store, queue, queue, dispatcherOpts...)

	dispatcherCtx, dispatcherCancel := context.WithCancel(ctx)
	defer dispatcherCancel()
	go func() {
		if err := dispatcher.Start(dispatcherCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("调用调度器异常退出", slog.Any("error", err))
		}
	}()

	service := invoke.NewService(store, queue, lib, presetProvider, cfg.Storage.Retries)

	authSvc, err := createAuth(cfg)
	if err != nil {
		return fmt.Errorf("初始化认证服务失败: %w", err)
	}

	server := api.NewServer(cfg.Server.Address, service, lib, presetProvider, api.WithAuth(authSvc))
	logger.L().Info("rigforged 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("library", cfg.Library.Dir),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.String("host", cfg.Host.Driver),
	)
	return server.Start(ctx)
}

func createStore(ctx context.Context, cfg *config.Config) (invoke.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return invoke.NewMemoryStore(), nil
	case "mysql":
		db, err := mysql.Open(ctx, mysql.Config{DSN: cfg.Storage.DSN})
		if err != nil {
			return nil, err
		}
		if err := mysql.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return invoke.NewMySQLStoreWithDB(db)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createQueue(cfg *config.Config) (invoke.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return invoke.NewMemoryQueue(1024), nil
	case "redis":
		return invoke.NewRedisQueue(invoke.RedisQueueConfig{
			Address:   cfg.Queue.Redis.Address,
			Password:  cfg.Queue.Redis.Password,
			DB:        cfg.Queue.Redis.DB,
			Queue:     cfg.Queue.Redis.Queue,
			BlockWait: time.Duration(cfg.Queue.Redis.BlockWait) * time.Second,
		})
	case "rabbitmq":
		return invoke.NewRabbitMQQueue(invoke.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func createSession(cfg *config.Config) (host.Session, error) {
	switch cfg.Host.Driver {
	case "", "simulated":
		return host.NewSimulatedSession(), nil
	case "mayaport":
		return mayaport.NewClient(mayaport.Config{
			Address: cfg.Host.Address,
			Timeout: time.Duration(cfg.Host.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的宿主驱动: %s", cfg.Host.Driver)
	}
}

func createExecutors(cfg *config.Config) (*invoke.ExecutorRegistry, error) {
	executors := invoke.NewExecutorRegistry()
	if err := executors.Register(rigging.NewBindSkinExecutor()); err != nil {
		return nil, err
	}
	for _, script := range cfg.Scripts {
		executor, err := rigging.NewScriptedExecutor(script.ActionID, script.Path)
		if err != nil {
			return nil, err
		}
		if err := executors.Register(executor); err != nil {
			return nil, err
		}
	}
	return executors, nil
}

func createExtensions(cfg *config.Config, executors *invoke.ExecutorRegistry, session host.Session) (*extension.Manager, error) {
	if cfg.Extensions.Path == "" {
		return nil, nil
	}
	managerCfg, err := extension.LoadManagerConfig(cfg.Extensions.Path)
	if err != nil {
		return nil, err
	}
	return extension.NewManager(managerCfg,
		extension.WithResource(extension.ResourceExecutors, executors),
		extension.WithResource(extension.ResourceHostSession, session),
	)
}

// createAuth 把配置翻译成认证服务。disabled 模式下返回的服务直接放行。
func createAuth(cfg *config.Config) (*auth.Service, error) {
	authCfg := auth.Config{Mode: auth.Mode(cfg.Auth.Mode)}
	for _, token := range cfg.Auth.Tokens {
		authCfg.Tokens = append(authCfg.Tokens, auth.TokenConfig{
			Token:       token.Token,
			Name:        token.Name,
			Permissions: token.Permissions,
			Disabled:    token.Disabled,
		})
	}
	return auth.NewService(authCfg)
}

func createAlerter(cfg *config.Config) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Alerting.DingTalkWebhook != "" {
		sender, err := alerting.NewDingTalkWebhookSender(cfg.Alerting.DingTalkWebhook)
		if err != nil {
			logger.L().Warn("钉钉告警配置无效", slog.Any("error", err))
		} else {
			notifiers = append(notifiers, &alerting.DingTalkNotifier{Sender: sender})
		}
	}
	if cfg.Alerting.SlackWebhook != "" {
		sender, err := alerting.NewSlackWebhookSender(cfg.Alerting.SlackWebhook)
		if err != nil {
			logger.L().Warn("Slack 告警配置无效", slog.Any("error", err))
		} else {
			notifiers = append(notifiers, &alerting.SlackNotifier{Sender: sender, ChannelID: cfg.Alerting.SlackChannel})
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
