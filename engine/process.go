package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/LubyRuffy/vllmpoc/logger"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultStartupTimeout = 10 * time.Minute
	DefaultStopGrace      = 15 * time.Second
)

var ErrProcessExited = errors.New("engine process exited")

type ProcessConfig struct {
	// Binary 引擎可执行文件，默认 vllm。
	Binary string
	Args   Args
	// Env 追加到子进程环境变量。
	Env       []string
	StopGrace time.Duration
	Logger    *logger.Logger
}

// Process 以子进程方式托管引擎自带的 OpenAI 兼容服务。
type Process struct {
	config ProcessConfig
	log    *logger.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func NewProcess(config ProcessConfig) (*Process, error) {
	if err := config.Args.Validate(); err != nil {
		return nil, err
	}
	if config.Binary == "" {
		config.Binary = DefaultBinary
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Logger == nil {
		config.Logger = logger.L()
	}
	return &Process{config: config, log: config.Logger.Named("engine")}, nil
}

// Start 启动子进程，stdout/stderr 按行写入日志。
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return fmt.Errorf("engine process already started")
	}

	args := p.config.Args.CommandArgs()
	cmd := exec.Command(p.config.Binary, args...)
	cmd.Env = append(os.Environ(), p.config.Env...)
	stdout := &lineLogger{log: p.log, stream: "stdout"}
	stderr := &lineLogger{log: p.log, stream: "stderr"}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine %s: %w", p.config.Binary, err)
	}
	p.log.Info("engine process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("binary", p.config.Binary),
		zap.Strings("args", RedactArgs(args)),
	)

	p.cmd = cmd
	p.done = make(chan struct{})
	go func() {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		p.mu.Lock()
		p.waitErr = err
		p.mu.Unlock()
		p.log.Info("engine process exited", zap.Error(err))
		close(p.done)
	}()
	return nil
}

// Done 在子进程退出后关闭；未启动时返回 nil。
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Wait 阻塞直到子进程退出。
func (p *Process) Wait() error {
	done := p.Done()
	if done == nil {
		return fmt.Errorf("engine process not started")
	}
	<-done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// WaitReady 以指数退避轮询 health，直到引擎就绪、子进程退出或超时。
func (p *Process) WaitReady(ctx context.Context, health func(ctx context.Context) error, timeout time.Duration) error {
	done := p.Done()
	if done == nil {
		return fmt.Errorf("engine process not started")
	}
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = timeout

	attempts := 0
	operation := func() error {
		select {
		case <-done:
			return backoff.Permanent(fmt.Errorf("%w before becoming ready: %v", ErrProcessExited, p.exitErr()))
		default:
		}
		attempts++
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return health(checkCtx)
	}

	start := time.Now()
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return fmt.Errorf("engine not ready after %s: %w", time.Since(start).Round(time.Millisecond), err)
	}
	p.log.Info("engine ready", zap.Int("attempts", attempts), zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Process) exitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Stop 先发送 SIGTERM，超过 StopGrace 后强制 kill。
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Warn("failed to signal engine process", zap.Error(err))
	}
	select {
	case <-done:
		return nil
	case <-time.After(p.config.StopGrace):
		p.log.Warn("engine process did not exit in time, killing", zap.Duration("grace", p.config.StopGrace))
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill engine process: %w", err)
		}
		<-done
		return nil
	}
}

// lineLogger 将子进程输出按行写入日志。
type lineLogger struct {
	log    *logger.Logger
	stream string

	mu  sync.Mutex
	buf bytes.Buffer
}

func (l *lineLogger) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write(b)
	for {
		idx := bytes.IndexByte(l.buf.Bytes(), '\n')
		if idx < 0 {
			break
		}
		line := bytes.TrimRight(l.buf.Next(idx+1), "\r\n")
		if len(line) > 0 {
			l.log.Info(string(line), zap.String("stream", l.stream))
		}
	}
	return len(b), nil
}

// Flush 输出缓冲中没有换行结尾的最后一段。
func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	line := bytes.TrimRight(l.buf.Bytes(), "\r\n")
	if len(line) > 0 {
		l.log.Info(string(line), zap.String("stream", l.stream))
	}
	l.buf.Reset()
}

// RedactArgs 返回 --api-key 参数值被替换为 *** 的副本。
func RedactArgs(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--api-key" {
			out[i+1] = "***"
		}
	}
	return out
}
