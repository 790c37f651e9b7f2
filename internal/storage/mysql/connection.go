package mysql

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	xerrors "swappilot/internal/errors"
)

const (
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultDialTimeout     = 5 * time.Second
	errDuplicateEntry      = 1062
)

// Config 描述连接池参数。
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ParseDSN 解析 DSN 并补齐 swap_jobs 依赖的连接参数：
// utf8mb4 字符集、UTC 时区以及拨号超时。
func ParseDSN(dsn string) (*driver.Config, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL DSN 不能为空")
	}
	dc, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "MySQL DSN 格式错误")
	}
	if dc.Collation == "" {
		dc.Collation = "utf8mb4_general_ci"
	}
	dc.Loc = time.UTC
	dc.Timeout = cmp.Or(dc.Timeout, defaultDialTimeout)
	return dc, nil
}

// Open 建立连接池并校验连通性。
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	dc, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	connector, err := driver.NewConnector(dc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 MySQL 连接器失败")
	}
	db := sql.OpenDB(connector)
	Configure(db, cfg)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}
	return db, nil
}

// Configure 按配置设置连接池，未填写的字段使用默认值。
func Configure(db *sql.DB, cfg Config) {
	db.SetMaxOpenConns(positive(cfg.MaxOpenConns, defaultMaxOpenConns))
	db.SetMaxIdleConns(positive(cfg.MaxIdleConns, defaultMaxIdleConns))
	db.SetConnMaxLifetime(positive(cfg.ConnMaxLifetime, defaultConnMaxLifetime))
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
}

// IsDuplicateKey 判断错误是否为主键或唯一索引冲突。
func IsDuplicateKey(err error) bool {
	var mysqlErr *driver.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry
}

func positive[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}
