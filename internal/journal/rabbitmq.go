package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
	"PluginHub/pkg/plugin"
)

// RabbitMQConfig 描述 RabbitMQ 驱动的连接参数。
type RabbitMQConfig struct {
	URL          string        `yaml:"url"`
	Queue        string        `yaml:"queue"`
	Durable      bool          `yaml:"durable"`
	DialRetries  uint64        `yaml:"dialRetries"`
	DialInterval time.Duration `yaml:"dialInterval"`
}

// RabbitMQJournal 将事件发布到 RabbitMQ 队列，不提供读取能力。
type RabbitMQJournal struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQJournal 连接 RabbitMQ 并声明队列，连接失败时按指数退避重试。
func NewRabbitMQJournal(ctx context.Context, cfg RabbitMQConfig) (*RabbitMQJournal, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "pluginhub.events"
	}

	conn, err := dialWithRetry(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "创建 RabbitMQ channel 失败")
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQJournal{conn: conn, ch: ch, queue: queue}, nil
}

func dialWithRetry(ctx context.Context, cfg RabbitMQConfig) (*amqp.Connection, error) {
	retries := cfg.DialRetries
	if retries == 0 {
		retries = 5
	}
	policy := backoff.NewExponentialBackOff()
	if cfg.DialInterval > 0 {
		policy.InitialInterval = cfg.DialInterval
	}

	var conn *amqp.Connection
	op := func() error {
		c, err := amqp.Dial(cfg.URL)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Named("journal").Warn("RabbitMQ 连接失败，准备重试",
			slog.Any("error", err),
			slog.Duration("wait", wait),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx), notify); err != nil {
		return nil, err
	}
	return conn, nil
}

// Name 返回驱动名称。
func (j *RabbitMQJournal) Name() string { return DriverRabbitMQ }

// Append 将事件以 JSON 消息发布到队列。
func (j *RabbitMQJournal) Append(ctx context.Context, event plugin.Event) error {
	msg, err := newPublishing(event)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ch == nil {
		return xerrors.New(xerrors.CodeJournalFailure, "RabbitMQ 队列未初始化")
	}
	if err := j.ch.PublishWithContext(ctx, "", j.queue, false, false, msg); err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "RabbitMQ 发布事件失败")
	}
	return nil
}

func newPublishing(event plugin.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, xerrors.Wrap(xerrors.CodeJournalFailure, err, "编码事件失败")
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Kind),
		Body:         body,
	}, nil
}

// Close 关闭 RabbitMQ 连接。
func (j *RabbitMQJournal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.ch != nil {
		_ = j.ch.Close()
		j.ch = nil
	}
	if j.conn != nil {
		err := j.conn.Close()
		j.conn = nil
		return err
	}
	return nil
}
