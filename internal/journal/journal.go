// Package journal 将插件生命周期事件写入外部存储，供诊断与审计使用。
// 日志只追加，不会被读回用于恢复插件状态。
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// 支持的驱动名称。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
	DriverMySQL    = "mysql"
)

// Sink 接收生命周期事件。
type Sink interface {
	Name() string
	Append(ctx context.Context, event plugin.Event) error
	Close() error
}

// Reader 按时间倒序返回最近的事件。
type Reader interface {
	Recent(ctx context.Context, limit int) ([]plugin.Event, error)
}

// Config 描述日志驱动及其连接参数。
type Config struct {
	Drivers  []string       `yaml:"drivers"`
	Timeout  time.Duration  `yaml:"timeout"`
	Memory   MemoryConfig   `yaml:"memory"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	MySQL    MySQLConfig    `yaml:"mysql"`
}

// Open 按配置顺序创建驱动，返回聚合后的 Sink 以及第一个可读取的驱动。
// 未配置任何驱动时使用内存驱动。
func Open(ctx context.Context, cfg Config) (Sink, Reader, error) {
	drivers := cfg.Drivers
	if len(drivers) == 0 {
		drivers = []string{DriverMemory}
	}

	var (
		sinks  []Sink
		reader Reader
	)
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}
	for _, name := range drivers {
		sink, err := openDriver(ctx, strings.ToLower(strings.TrimSpace(name)), cfg)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		if r, ok := sink.(Reader); ok && reader == nil {
			reader = r
		}
	}
	if len(sinks) == 1 {
		return sinks[0], reader, nil
	}
	return Fanout(sinks...), reader, nil
}

func openDriver(ctx context.Context, name string, cfg Config) (Sink, error) {
	switch name {
	case DriverMemory:
		return NewMemoryJournal(cfg.Memory.Capacity), nil
	case DriverRedis:
		return NewRedisJournal(ctx, cfg.Redis)
	case DriverRabbitMQ:
		return NewRabbitMQJournal(ctx, cfg.RabbitMQ)
	case DriverMySQL:
		return NewMySQLJournal(ctx, cfg.MySQL)
	default:
		return nil, xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf("未知的事件日志驱动: %q", name))
	}
}

// FanoutSink 将事件投递到多个 Sink。
type FanoutSink struct {
	sinks []Sink
}

// Fanout 创建一个新的 FanoutSink，忽略 nil 项。
func Fanout(sinks ...Sink) *FanoutSink {
	set := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			set = append(set, s)
		}
	}
	return &FanoutSink{sinks: set}
}

// Name 返回聚合驱动的名称。
func (f *FanoutSink) Name() string {
	names := make([]string, 0, len(f.sinks))
	for _, s := range f.sinks {
		names = append(names, s.Name())
	}
	return "fanout(" + strings.Join(names, ",") + ")"
}

// Append 将事件写入所有驱动，单个驱动失败不会影响其它驱动。
func (f *FanoutSink) Append(ctx context.Context, event plugin.Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Append(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Close 关闭所有驱动。
func (f *FanoutSink) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Recorder 将 Sink 适配为 plugin.Observer。写入失败只记录日志。
type Recorder struct {
	sink    Sink
	timeout time.Duration
	log     *slog.Logger
}

var _ plugin.Observer = (*Recorder)(nil)

// NewRecorder 创建 Recorder，timeout 限制单次写入耗时，<=0 时使用 2 秒。
func NewRecorder(sink Sink, timeout time.Duration) *Recorder {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Recorder{sink: sink, timeout: timeout, log: logger.Named("journal")}
}

// Observe 实现 plugin.Observer。
func (r *Recorder) Observe(ctx context.Context, event plugin.Event) {
	if r == nil || r.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.sink.Append(ctx, event); err != nil {
		r.log.Warn("写入生命周期事件失败",
			slog.String("sink", r.sink.Name()),
			slog.String("event_id", event.ID),
			slog.String("plugin", event.Plugin),
			slog.Any("error", err),
		)
	}
}
