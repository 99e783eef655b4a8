package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ojbridge/internal/bridge/event"
	"ojbridge/internal/bridge/grading"
	"ojbridge/internal/bridge/registry"
	"ojbridge/internal/bridge/repository"
	"ojbridge/internal/bridge/session"
	"ojbridge/internal/common/cache"
	"ojbridge/internal/common/db"
	"ojbridge/internal/common/mq"
	"ojbridge/pkg/utils/logger"
)

const defaultConfigPath = "configs/bridged.yaml"

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

	conn, err := db.NewConn(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}

	redisCfg := cache.DefaultRedisConfig()
	redisCfg.Addr = appCfg.Redis.Addr
	redisCfg.Password = appCfg.Redis.Password
	redisCfg.DB = appCfg.Redis.DB
	redisCache, err := cache.NewRedisCacheWithConfig(redisCfg)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	producer, err := mq.NewKafkaProducer(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = producer.Close()
	}()

	subs := repository.NewSubmissionsModel(conn)
	cases := repository.NewTestCasesModel(conn)
	judges := repository.NewJudgesModel(conn)
	contests := repository.NewContestsModel(conn)
	hooks := repository.NewStoreHooks(conn, redisCache)

	publisher := event.NewPublisher(producer, appCfg.Kafka.Topic)
	machine := grading.NewMachine(subs, cases, contests, hooks, publisher)
	reg := registry.New()

	srv := session.NewServer(appCfg.Server, judges, subs, reg, machine)
	if err := srv.Start(context.Background()); err != nil {
		logger.Error(context.Background(), "start bridge failed", zap.Error(err))
		return
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-shutdownCtx.Done()
	logger.Info(context.Background(), "shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	srv.Shutdown(ctx)
}
