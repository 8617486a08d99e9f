package journal

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"PluginHub/deploy/migrations"
	xerrors "PluginHub/internal/errors"
	"PluginHub/pkg/logger"
)

var embeddedMigrations fs.FS = migrations.Files

// migration 对应 deploy/migrations 下的一个 NNNN_name.sql 文件。
type migration struct {
	version    string
	file       string
	statements []string
}

// migrate 依次执行尚未记录在 schema_migrations 中的迁移，每个迁移一个事务。
func (j *MySQLJournal) migrate(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`); err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "创建 schema_migrations 表失败")
	}

	applied, err := j.appliedVersions(ctx)
	if err != nil {
		return err
	}
	pending, err := pendingMigrations(embeddedMigrations, applied)
	if err != nil {
		return err
	}

	for _, m := range pending {
		err := j.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return xerrors.Wrap(xerrors.CodeJournalFailure, err, fmt.Sprintf("执行迁移 %s 失败", m.file))
				}
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
				m.version, time.Now().Unix()); err != nil {
				return xerrors.Wrap(xerrors.CodeJournalFailure, err, "记录迁移版本失败")
			}
			return nil
		})
		if err != nil {
			return err
		}
		logger.Named("journal").Info("journal migration applied", slog.String("version", m.version))
	}
	return nil
}

func (j *MySQLJournal) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "查询 schema_migrations 失败")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "解析 schema_migrations 失败")
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "遍历 schema_migrations 失败")
	}
	return applied, nil
}

func (j *MySQLJournal) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "开启迁移事务失败")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeJournalFailure, err, "提交迁移事务失败")
	}
	return nil
}

// pendingMigrations 按文件名顺序返回未应用的迁移。同一版本号出现两次视为配置错误，
// 没有语句的文件会被跳过。
func pendingMigrations(fsys fs.FS, applied map[string]bool) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, "读取迁移目录失败")
	}

	seen := make(map[string]string, len(names))
	var pending []migration
	for _, name := range names {
		version, _, _ := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
		if prev, dup := seen[version]; dup {
			return nil, xerrors.New(xerrors.CodeConfigInvalid,
				fmt.Sprintf("迁移版本 %s 重复: %s, %s", version, prev, name))
		}
		seen[version] = name
		if applied[version] {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeJournalFailure, err, fmt.Sprintf("读取迁移文件 %s 失败", name))
		}
		if stmts := sqlStatements(string(content)); len(stmts) > 0 {
			pending = append(pending, migration{version: version, file: name, statements: stmts})
		}
	}
	return pending, nil
}

// sqlStatements 去掉 "--" 注释行后按分号切分。
func sqlStatements(content string) []string {
	var b strings.Builder
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
