package db

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// MySQLConfig holds the configuration for the MySQL connection pool.
type MySQLConfig struct {
	// DSN is the data source name
	// Format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=Local"
	DSN string `yaml:"dsn"`

	// MaxOpenConnections is the maximum number of open connections to the database
	// Default: 25
	MaxOpenConnections int `yaml:"maxOpenConnections"`

	// MaxIdleConnections is the maximum number of connections in the idle connection pool
	// Default: 5
	MaxIdleConnections int `yaml:"maxIdleConnections"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused
	// Default: 5 minutes
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle
	// Default: 10 minutes
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
}

// DefaultMySQLConfig returns the default MySQL configuration.
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
	}
}

// NewConn opens a sqlx connection with the pool configured per config.
func NewConn(config *MySQLConfig) (sqlx.SqlConn, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("DSN cannot be empty")
	}
	if config.MaxOpenConnections == 0 {
		config.MaxOpenConnections = 25
	}
	if config.MaxIdleConnections == 0 {
		config.MaxIdleConnections = 5
	}
	if config.ConnMaxLifetime == 0 {
		config.ConnMaxLifetime = 5 * time.Minute
	}
	if config.ConnMaxIdleTime == 0 {
		config.ConnMaxIdleTime = 10 * time.Minute
	}

	conn := sqlx.NewMysql(config.DSN)
	raw, err := conn.RawDB()
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	raw.SetMaxOpenConns(config.MaxOpenConnections)
	raw.SetMaxIdleConns(config.MaxIdleConnections)
	raw.SetConnMaxLifetime(config.ConnMaxLifetime)
	raw.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := raw.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return conn, nil
}

// Ensure probes the connection with a trivial query and, on failure,
// pings the pool so stale connections are discarded before the caller's
// real statement runs. Handlers that service judge packets run for the
// lifetime of a judge connection, which can outlive any server-side
// idle timeout.
func Ensure(ctx context.Context, conn sqlx.SqlConn) {
	if conn == nil {
		return
	}
	var one int
	if err := conn.QueryRowCtx(ctx, &one, "SELECT 1"); err == nil {
		return
	}
	if raw, err := conn.RawDB(); err == nil {
		_ = raw.PingContext(ctx)
	}
}
