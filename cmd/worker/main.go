package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/wellhead-erp/wellhead/internal/app"
	"github.com/wellhead-erp/wellhead/internal/crm"
	"github.com/wellhead-erp/wellhead/internal/hse"
	jobmetrics "github.com/wellhead-erp/wellhead/internal/jobs"
	"github.com/wellhead-erp/wellhead/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}

	// worker trigger <job> enqueues one run and exits.
	if len(os.Args) == 3 && os.Args[1] == "trigger" {
		client := jobs.NewClient(redisOpts)
		defer client.Close()
		info, err := client.Trigger(ctx, os.Args[2])
		if err != nil {
			logger.Error("trigger job", slog.String("job", os.Args[2]), slog.Any("error", err))
			os.Exit(1)
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return
	}

	infra, err := app.OpenInfra(ctx, cfg, logger)
	if err != nil {
		logger.Error("connect infrastructure", slog.Any("error", err))
		os.Exit(1)
	}
	defer infra.Close(logger)

	services, err := app.NewServices(infra.Deps(cfg, logger))
	if err != nil {
		logger.Error("register workflows", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := jobmetrics.NewMetrics(nil)
	expireJob := jobs.NewWorkflowExpireJob(map[string]jobs.Sweeper{
		string(crm.DocType):       services.CRM,
		string(hse.DocTypePermit): services.Permits,
	}, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(services.Idempotency, cfg.IdempotencyRetention, logger, metrics)

	expireTask, err := jobs.NewWorkflowExpireTask(0)
	if err != nil {
		logger.Error("build expire task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskWorkflowExpire, Handler: expireJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: expireTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
