package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/LubyRuffy/vllmpoc"
	"github.com/LubyRuffy/vllmpoc/config"
	"github.com/LubyRuffy/vllmpoc/engine"
	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/LubyRuffy/vllmpoc/metrics"
	"github.com/LubyRuffy/vllmpoc/openaihttp"
	"github.com/gin-gonic/gin"
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

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	eng, proc, err := startEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	if proc != nil {
		defer func() {
			if err := proc.Stop(); err != nil {
				log.Warn("stop engine failed", zap.Error(err))
			}
		}()
	}

	handler, err := newRouter(cfg, eng, log, collector)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	local := addrForLocalClient(srv.Addr)
	basePath := cfg.Server.BasePath
	log.Info("vllmpoc server listening",
		zap.String("addr", srv.Addr),
		zap.String("model", cfg.Engine.ModelName()),
		zap.String("engine", eng.BaseURL()),
	)
	log.Info(fmt.Sprintf("try: curl http://%s/health", local))
	log.Info(fmt.Sprintf("try: curl http://%s%s/models", local, basePath))
	log.Info(fmt.Sprintf("OpenAI SDK base_url: http://%s%s", local, basePath))

	var engineDone <-chan struct{}
	if proc != nil {
		engineDone = proc.Done()
	}

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-engineDone:
		log.Error("engine process exited, shutting down")
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if engineDone != nil {
		select {
		case <-engineDone:
			return engine.ErrProcessExited
		default:
		}
	}
	return nil
}

// startEngine 连接已有引擎，或在 Launch 模式下启动子进程并等待就绪。
func startEngine(ctx context.Context, cfg *config.Config, log *logger.Logger) (*engine.UpstreamEngine, *engine.Process, error) {
	args := cfg.Engine.Args
	baseURL := cfg.Engine.UpstreamURL

	var proc *engine.Process
	if cfg.Engine.Launch {
		var err error
		proc, err = engine.NewProcess(engine.ProcessConfig{
			Binary: cfg.Engine.Binary,
			Args:   args,
			Logger: log,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := proc.Start(); err != nil {
			return nil, nil, err
		}
		baseURL = args.URL()
	}

	eng, err := engine.NewUpstreamEngine(engine.UpstreamConfig{
		BaseURL: baseURL,
		Model:   args.ModelName(),
		APIKey:  args.APIKey,
		Logger:  log,
	})
	if err != nil {
		stopQuietly(proc, log)
		return nil, nil, err
	}

	if proc != nil {
		log.Info("waiting for engine to become ready",
			zap.String("url", baseURL),
			zap.Duration("timeout", cfg.Engine.StartupTimeout),
		)
		if err := proc.WaitReady(ctx, eng.Health, cfg.Engine.StartupTimeout); err != nil {
			stopQuietly(proc, log)
			return nil, nil, fmt.Errorf("engine not ready: %w", err)
		}
		log.Info("engine ready", zap.String("url", baseURL))
	}
	return eng, proc, nil
}

func stopQuietly(proc *engine.Process, log *logger.Logger) {
	if proc == nil {
		return
	}
	if err := proc.Stop(); err != nil {
		log.Warn("stop engine failed", zap.Error(err))
	}
}

func newRouter(cfg *config.Config, eng engine.Engine, log *logger.Logger, collector *metrics.Collector) (http.Handler, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(logger.GinRecovery(log), logger.GinLogger(log))

	corsMW, err := openaihttp.CORS(cfg.Server.AllowedOrigins, cfg.Server.AllowCredentials)
	if err != nil {
		return nil, fmt.Errorf("invalid cors config: %w", err)
	}
	r.Use(corsMW)

	err = openaihttp.RegisterGinRoutes(r, openaihttp.Config{
		BasePath:         cfg.Server.BasePath,
		Engine:           eng,
		Models:           vllmpoc.NewServedModels(cfg.Engine.ModelName()),
		DisableStreaming: !cfg.Server.EnableStreaming,
		APIKeys:          cfg.Server.APIKeys,
		Logger:           log,
		Metrics:          collector,
	})
	if err != nil {
		return nil, fmt.Errorf("register routes failed: %w", err)
	}

	if collector != nil {
		r.GET(cfg.Metrics.Path, gin.WrapH(collector.Handler()))
	}
	return r, nil
}

// addrForLocalClient 把监听地址转换为本机客户端可访问的地址（通配地址换成 127.0.0.1）。
func addrForLocalClient(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
