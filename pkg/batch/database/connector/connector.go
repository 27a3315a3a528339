package connector

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// DBConnector は特定のデータベースタイプへの接続を確立するためのインターフェースです。
type DBConnector interface {
	// Open は接続プールを作成します。疎通確認は呼び出し元が行います。
	Open(cfg config.DatabaseConfig) (*sql.DB, error)
}

var (
	mu         sync.RWMutex
	connectors = make(map[string]DBConnector)
)

// RegisterConnector は指定されたタイプ名でDBConnectorを登録します。
func RegisterConnector(dbType string, connector DBConnector) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := connectors[dbType]; exists {
		logger.Warnf("DBConnector '%s' は既に登録されています。上書きします。", dbType)
	}
	connectors[dbType] = connector
}

// RegisteredTypes は登録済みのデータベースタイプを返します。
func RegisteredTypes() []string {
	mu.RLock()
	defer mu.RUnlock()
	types := make([]string, 0, len(connectors))
	for t := range connectors {
		types = append(types, t)
	}
	return types
}

func lookup(dbType string) (DBConnector, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := connectors[strings.ToLower(dbType)]
	return c, ok
}

func applyPool(db *sql.DB, pool config.ConnectionPoolConfig) {
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetimeSeconds) * time.Second)
}

// NewDBConnectionFromConfig は設定に基づいて適切なデータベース接続をリトライ付きで確立します。
func NewDBConnectionFromConfig(ctx context.Context, cfg config.DatabaseConfig) (database.DBConnection, error) {
	return ConnectWithRetry(ctx, cfg, cfg.ConnectRetries, 2*time.Second)
}

// ConnectWithRetry は Ping が成功するまで最大 retries 回接続を試みます。
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, retries int, delay time.Duration) (database.DBConnection, error) {
	connector, ok := lookup(cfg.Type)
	if !ok {
		return nil, exception.NewBatchError("database", fmt.Sprintf("未対応のデータベースタイプ: %s", cfg.Type), nil, false, false)
	}
	attempts := retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		logger.Debugf("データベース接続を試行中 (試行 %d/%d)...", i+1, attempts)
		db, err := connector.Open(cfg)
		if err == nil {
			applyPool(db, cfg.ConnectionPool)
			if err = db.PingContext(ctx); err == nil {
				logger.Infof("データベース (%s) への接続に成功しました。", cfg.Type)
				return database.NewSQLDBAdapter(db, strings.ToLower(cfg.Type)), nil
			}
			_ = db.Close()
		}
		lastErr = err
		logger.Warnf("データベースへの接続に失敗しました: %v", err)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, exception.NewBatchError("database", "データベース接続がキャンセルされました", ctx.Err(), false, false)
		case <-time.After(delay):
		}
	}
	return nil, exception.NewBatchError("database", fmt.Sprintf("データベースへの接続に最大試行回数 (%d) 失敗しました", attempts), lastErr, true, false)
}
