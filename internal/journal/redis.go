package journal

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/plugin"
)

// RedisConfig 描述 Redis 驱动的连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
	MaxLen   int64  `yaml:"maxLen"`
}

// RedisJournal 使用 Redis list 保存最近的事件，最新事件位于表头。
type RedisJournal struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisJournal 创建 Redis 驱动并检查连通性。
func NewRedisJournal(ctx context.Context, cfg RedisConfig) (*RedisJournal, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "pluginhub:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 1000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "连接 Redis 失败")
	}
	return &RedisJournal{client: client, key: key, maxLen: maxLen}, nil
}

// Name 返回驱动名称。
func (j *RedisJournal) Name() string { return DriverRedis }

// Append 以 JSON 形式写入事件，并裁剪到 maxLen 条。
func (j *RedisJournal) Append(ctx context.Context, event plugin.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "编码事件失败")
	}
	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, j.key, payload)
	pipe.LTrim(ctx, j.key, 0, j.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "Redis 写入事件失败")
	}
	return nil
}

// Recent 按时间倒序返回最多 limit 条事件，limit<=0 表示全部。
func (j *RedisJournal) Recent(ctx context.Context, limit int) ([]plugin.Event, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	values, err := j.client.LRange(ctx, j.key, 0, stop).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "Redis 读取事件失败")
	}
	out := make([]plugin.Event, 0, len(values))
	for _, raw := range values {
		var event plugin.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "解析事件失败")
		}
		out = append(out, event)
	}
	return out, nil
}

// Close 关闭 Redis 连接。
func (j *RedisJournal) Close() error {
	if j == nil || j.client == nil {
		return nil
	}
	return j.client.Close()
}
