package connector

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql" // MySQL ドライバ

	"github.com/tigerroll/batchjob/pkg/batch/config"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// mysqlConnector はMySQLデータベースへの接続を確立するDBConnectorの実装です。
type mysqlConnector struct{}

func (c *mysqlConnector) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.ConnectionString())
	if err != nil {
		return nil, exception.NewBatchError("database", "MySQL への接続に失敗しました", err, false, false)
	}
	return db, nil
}

func init() {
	RegisterConnector("mysql", &mysqlConnector{})
}
