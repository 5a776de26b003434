package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeio/internal/common/mq"
	"codeio/internal/executor"
	"codeio/internal/executor/sandbox"
	"codeio/internal/worker"
	"codeio/pkg/utils/logger"

	"go.uber.org/zap"
)

const defaultConfigPath = "configs/executor.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mqClient, err := mq.NewRabbitQueue(appCfg.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init rabbitmq failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	attemptExec := executor.New(sandbox.NewRunner(),
		executor.WithWorkRoot(appCfg.Executor.WorkRoot))
	judgeWorker := worker.New(attemptExec, mqClient, appCfg.Rabbit.ResultExchange)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = mqClient.SubscribeWithOptions(ctx, appCfg.Rabbit.TaskQueue, judgeWorker.HandleMessage,
		&mq.SubscribeOptions{Exchange: appCfg.Rabbit.TaskExchange})
	if err != nil {
		logger.Error(ctx, "subscribe failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(ctx, "start consumer failed", zap.Error(err))
		return
	}

	logger.Info(ctx, "executor worker started",
		zap.String("queue", appCfg.Rabbit.TaskQueue),
		zap.String("result_exchange", appCfg.Rabbit.ResultExchange))

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")
	if err := mqClient.Stop(); err != nil {
		logger.Warn(context.Background(), "stop consumer failed", zap.Error(err))
	}
}
