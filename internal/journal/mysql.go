package journal

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/plugin"
)

// MySQLConfig 描述 MySQL 驱动的连接参数。
type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// MySQLJournal 使用 lifecycle_events 表保存事件。
type MySQLJournal struct {
	db *sql.DB
}

// NewMySQLJournal 校验 DSN 并建立连接。
func NewMySQLJournal(ctx context.Context, cfg MySQLConfig) (*MySQLJournal, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}
	parsed, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析 MySQL DSN 失败")
	}

	db, err := sql.Open("mysql", parsed.FormatDSN())
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "连接 MySQL 失败")
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(5)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "无法连接到 MySQL")
	}
	j, err := NewMySQLJournalWithDB(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// NewMySQLJournalWithDB 基于已有连接创建驱动并执行内嵌的 SQL 迁移。
func NewMySQLJournalWithDB(ctx context.Context, db *sql.DB) (*MySQLJournal, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL 连接不能为空")
	}
	j := &MySQLJournal{db: db}
	if err := j.migrate(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

// Name 返回驱动名称。
func (j *MySQLJournal) Name() string { return DriverMySQL }

// Append 插入一条事件记录，重复的事件 ID 返回 CONFLICT。
func (j *MySQLJournal) Append(ctx context.Context, event plugin.Event) error {
	const stmt = `INSERT INTO lifecycle_events
        (event_id, run_id, coordinator, plugin, kind, outcome, state, error, duration_ns, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := j.db.ExecContext(ctx, stmt,
		event.ID,
		event.RunID,
		event.Coordinator,
		event.Plugin,
		string(event.Kind),
		string(event.Outcome),
		event.State.String(),
		event.Error,
		int64(event.Duration),
		event.OccurredAt.UnixNano(),
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.Wrap(xerrors.CodeConflict, err, "事件已存在")
		}
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "插入事件失败")
	}
	return nil
}

// Recent 按时间倒序返回最多 limit 条事件，limit<=0 时默认 100 条。
func (j *MySQLJournal) Recent(ctx context.Context, limit int) ([]plugin.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	const stmt = `SELECT event_id, run_id, coordinator, plugin, kind, outcome, state, error, duration_ns, occurred_at
        FROM lifecycle_events ORDER BY id DESC LIMIT ?`

	rows, err := j.db.QueryContext(ctx, stmt, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "查询事件失败")
	}
	defer rows.Close()

	var out []plugin.Event
	for rows.Next() {
		var (
			event      plugin.Event
			kind       string
			outcome    string
			state      string
			errText    sql.NullString
			durationNS int64
			occurredNS int64
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.Coordinator, &event.Plugin,
			&kind, &outcome, &state, &errText, &durationNS, &occurredNS); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "读取事件失败")
		}
		parsed, err := plugin.ParseState(state)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "解析插件状态失败")
		}
		event.Kind = plugin.EventKind(kind)
		event.Outcome = plugin.Outcome(outcome)
		event.State = parsed
		event.Error = errText.String
		event.Duration = time.Duration(durationNS)
		event.OccurredAt = time.Unix(0, occurredNS)
		out = append(out, event)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "遍历事件失败")
	}
	return out, nil
}

// Close 关闭数据库连接。
func (j *MySQLJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}
