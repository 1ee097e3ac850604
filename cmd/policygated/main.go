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
	"strings"
	"syscall"
	"time"

	"PolicyGate-Chain/internal/api"
	"PolicyGate-Chain/internal/audit"
	"PolicyGate-Chain/internal/config"
	"PolicyGate-Chain/internal/decision"
	"PolicyGate-Chain/internal/execution"
	"PolicyGate-Chain/internal/execution/evm"
	"PolicyGate-Chain/internal/market"
	"PolicyGate-Chain/internal/observability/alerting"
	"PolicyGate-Chain/internal/observability/metrics"
	"PolicyGate-Chain/internal/policy"
	"PolicyGate-Chain/internal/run"
	"PolicyGate-Chain/internal/storage/mysql"
	"PolicyGate-Chain/internal/web3/provider"
	"PolicyGate-Chain/pkg/logger"
)

// main 是策略门控守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runDaemon(ctx); err != nil {
		log.Fatalf("policygated 运行失败: %v", err)
	}
}

func runDaemon(ctx context.Context) error {
	configPath := os.Getenv("POLICYGATE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "policygate.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Logging.AuditEnabled,
			Path:    cfg.Logging.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	policySource, err := createPolicySource(cfg)
	if err != nil {
		return err
	}

	ledger, reader, err := createLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	executor, closeBridge, err := createExecutor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBridge()

	auditor := audit.NewLogger(ledger,
		audit.WithMaxAttempts(cfg.Run.AuditMaxAttempts),
		audit.WithBackoff(time.Duration(cfg.Run.AuditBackoffMS)*time.Millisecond),
	)
	controller := run.NewController(policySource, decision.DefaultRuleSet(), executor, auditor,
		run.WithWorkers(cfg.Run.Workers),
		run.WithAlertDispatcher(alerting.NewFanout(alerting.LogNotifier{})),
	)
	runStore := run.NewMemoryStore()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Intake.Driver != "" && cfg.Intake.Driver != "none" {
		queue, err := createIntakeQueue(cfg)
		if err != nil {
			return err
		}
		if queue != nil {
			defer func() { _ = queue.Close() }()
			go consumeIntake(ctx, queue, controller, runStore, cfg)
		}
	}

	server := api.NewServer(cfg.Server.Address, controller, runStore, reader, cfg.Policy.DefaultRef)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createPolicySource(cfg *config.Config) (policy.Source, error) {
	switch cfg.Policy.Driver {
	case "", "file":
		return policy.NewFileSource(cfg.Policy.Path)
	case "static":
		return policy.NewStaticSource(nil), nil
	default:
		return nil, fmt.Errorf("未知的策略来源: %s", cfg.Policy.Driver)
	}
}

func createLedger(ctx context.Context, cfg *config.Config) (audit.Ledger, audit.Reader, error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		ledger := audit.NewMemoryLedger()
		return ledger, ledger, nil
	case "mysql":
		lifetime, err := cfg.Ledger.ParseConnMaxLifetime()
		if err != nil {
			return nil, nil, fmt.Errorf("解析账本连接生命周期失败: %w", err)
		}
		store, err := mysql.NewAuditStore(ctx, mysql.Config{
			DSN:             cfg.Ledger.DSN,
			MaxOpenConns:    cfg.Ledger.MaxOpenConns,
			MaxIdleConns:    cfg.Ledger.MaxIdleConns,
			ConnMaxLifetime: lifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		ledger := audit.NewMySQLLedger(store)
		return ledger, ledger, nil
	default:
		return nil, nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createExecutor(ctx context.Context, cfg *config.Config) (run.Executor, func(), error) {
	registry, err := provider.NewRegistry(ctx, cfg.Bridge.ChainConfig)
	if err != nil {
		return nil, nil, err
	}

	privateKey := strings.TrimSpace(os.Getenv(cfg.Bridge.PrivateKeyEnv))
	if privateKey == "" {
		registry.Close()
		return nil, nil, fmt.Errorf("环境变量 %s 未设置签名私钥", cfg.Bridge.PrivateKeyEnv)
	}

	bridge, err := evm.NewService(registry, evm.Config{
		DestinationChain:   cfg.Bridge.DestinationChain,
		AttestationBaseURL: cfg.Bridge.AttestationURL,
		PrivateKeyHex:      privateKey,
	})
	if err != nil {
		registry.Close()
		return nil, nil, err
	}

	pipeline := execution.NewPipeline(bridge, bridge,
		execution.WithSourceChain(cfg.Bridge.SourceChain),
		execution.WithStepTimeouts(cfg.Bridge.BurnTimeout(), cfg.Bridge.MintTimeout(), cfg.Bridge.BetTimeout()),
	)
	return pipeline, registry.Close, nil
}

func createIntakeQueue(cfg *config.Config) (market.Queue, error) {
	switch cfg.Intake.Driver {
	case "memory":
		return market.NewMemoryQueue(1024), nil
	case "redis":
		return market.NewRedisQueue(market.RedisQueueConfig{
			Address: cfg.Intake.RedisAddr,
			DB:      cfg.Intake.RedisDB,
			Queue:   cfg.Intake.RedisQueue,
		})
	case "rabbitmq":
		return market.NewRabbitMQQueue(market.RabbitMQConfig{
			URL:   cfg.Intake.AMQPURL,
			Queue: cfg.Intake.AMQPQueue,
		})
	default:
		return nil, fmt.Errorf("未知的机会队列驱动: %s", cfg.Intake.Driver)
	}
}

// consumeIntake 将队列中到达的机会逐条送入控制器处理。
func consumeIntake(ctx context.Context, queue market.Queue, controller *run.Controller, store run.Store, cfg *config.Config) {
	err := queue.Consume(ctx, cfg.Run.Workers, func(ctx context.Context, opp market.Opportunity) error {
		result, runErr := controller.Run(ctx, cfg.Policy.DefaultRef, []market.Opportunity{opp})
		if result != nil {
			record := run.Record{RunID: result.RunID, Status: run.StatusCompleted, Result: result}
			if runErr != nil {
				record.Status = run.StatusFailed
				record.Error = runErr.Error()
			}
			_ = store.Save(ctx, record)
		}
		return runErr
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.L().Error("机会队列消费异常退出", slog.Any("error", err))
	}
}
