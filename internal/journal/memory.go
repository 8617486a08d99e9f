package journal

import (
	"context"
	"sync"

	"PluginHub/pkg/plugin"
)

// MemoryConfig 描述内存驱动参数。
type MemoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// MemoryJournal 使用定长环形缓冲保存最近的事件，主要用于单机部署和测试。
type MemoryJournal struct {
	mu     sync.RWMutex
	buf    []plugin.Event
	next   int
	filled bool
}

// NewMemoryJournal 创建内存驱动，capacity<=0 时默认保存 256 条。
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryJournal{buf: make([]plugin.Event, capacity)}
}

// Name 返回驱动名称。
func (m *MemoryJournal) Name() string { return DriverMemory }

// Append 写入事件，缓冲写满后覆盖最旧的记录。
func (m *MemoryJournal) Append(ctx context.Context, event plugin.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf[m.next] = event
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.filled = true
	}
	return nil
}

// Recent 按时间倒序返回最多 limit 条事件，limit<=0 表示全部。
func (m *MemoryJournal) Recent(_ context.Context, limit int) ([]plugin.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	size := m.next
	if m.filled {
		size = len(m.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]plugin.Event, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Close 实现 Sink。
func (m *MemoryJournal) Close() error { return nil }
