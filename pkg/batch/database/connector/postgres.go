package connector

import (
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL ドライバ

	"github.com/tigerroll/batchjob/pkg/batch/config"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// postgresConnector はPostgreSQLデータベースへの接続を確立するDBConnectorの実装です。
type postgresConnector struct{}

func (c *postgresConnector) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, exception.NewBatchError("database", "PostgreSQL への接続に失敗しました", err, false, false)
	}
	return db, nil
}

func init() {
	RegisterConnector("postgres", &postgresConnector{})
}
