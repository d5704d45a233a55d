package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/LubyRuffy/vllmpoc/config"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"go.uber.org/zap"
)

func run(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log, err := logger.InitGlobal(&cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger failed: %w", err)
	}
	defer func() { _ = log.Sync() }()

	args := cfg.Engine.Args
	proc, err := engine.NewProcess(engine.ProcessConfig{
		Binary: cfg.Engine.Binary,
		Args:   args,
		Logger: log,
	})
	if err != nil {
		return err
	}

	log.Info("starting engine",
		zap.String("model", args.Model),
		zap.String("host", args.Host),
		zap.Int("port", args.Port),
		zap.Float64("gpu_memory_utilization", args.GPUMemoryUtilization),
		zap.Int("max_num_batched_tokens", args.MaxNumBatchedTokens),
		zap.Bool("load_in_4bit", args.LoadIn4Bit),
	)
	if err := proc.Start(); err != nil {
		return err
	}

	checker, err := engine.NewUpstreamEngine(engine.UpstreamConfig{
		BaseURL: args.URL(),
		Model:   args.ModelName(),
		APIKey:  args.APIKey,
		Logger:  log,
	})
	if err != nil {
		_ = proc.Stop()
		return err
	}

	go func() {
		if err := proc.WaitReady(ctx, checker.Health, cfg.Engine.StartupTimeout); err != nil {
			log.Warn("engine did not become ready", zap.Error(err))
			return
		}
		log.Info("engine ready",
			zap.String("url", args.URL()),
			zap.String("openai_base_url", args.URL()+"/v1"),
		)
	}()

	select {
	case <-proc.Done():
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping engine")
		if err := proc.Stop(); err != nil {
			return err
		}
		return nil
	}
	return proc.Wait()
}

// commandLine 返回可直接复制执行的命令行（api key 已脱敏）。
func commandLine(binary string, args engine.Args) string {
	return strings.Join(append([]string{binary}, engine.RedactArgs(args.CommandArgs())...), " ")
}
