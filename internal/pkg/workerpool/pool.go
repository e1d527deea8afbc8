package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Config Worker Pool 配置
type Config struct {
	Workers          int           `mapstructure:"workers"`            // worker 数量上限
	MaxBlockingTasks int           `mapstructure:"max_blocking_tasks"` // 等待队列上限，0 表示不限制
	ExpiryDuration   time.Duration `mapstructure:"expiry_duration"`    // 空闲 worker 回收间隔
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        32,
		ExpiryDuration: time.Minute,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic 的任务
}

// Pool 基于 ants 的共享 worker 池
type Pool struct {
	pool   *ants.Pool
	config *Config
	logger *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("worker pool size must be positive, got %d", config.Workers)
	}

	p := &Pool{config: config, logger: logger}

	opts := []ants.Option{
		ants.WithPanicHandler(func(v interface{}) {
			p.panicked.Add(1)
			logger.Error("worker panic", zap.Any("error", v), zap.Stack("stacktrace"))
		}),
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
	}
	if config.ExpiryDuration > 0 {
		opts = append(opts, ants.WithExpiryDuration(config.ExpiryDuration))
	}

	antsPool, err := ants.NewPool(config.Workers, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool

	return p, nil
}

// Submit 提交任务，池满时阻塞等待空闲 worker
func (p *Pool) Submit(task func()) error {
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	if err != nil {
		return err
	}
	p.submitted.Add(1)
	return nil
}

// Running 正在运行的 worker 数
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Free 空闲 worker 数
func (p *Pool) Free() int {
	return p.pool.Free()
}

// Cap worker 容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Stats 统计快照
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Shutdown 关闭，等待运行中的任务结束直到 ctx 截止
func (p *Pool) Shutdown(ctx context.Context) error {
	timeout := 30 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		p.pool.Release()
		return ctx.Err()
	}

	err := p.pool.ReleaseTimeout(timeout)
	p.logger.Info("worker pool stopped",
		zap.Int64("submitted", p.submitted.Load()),
		zap.Int64("completed", p.completed.Load()),
	)
	return err
}
