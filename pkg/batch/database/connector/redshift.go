package connector

import (
	"database/sql"

	_ "github.com/lib/pq" // Redshift は PostgreSQL と互換性があるため、pq ドライバを使用

	"github.com/tigerroll/batchjob/pkg/batch/config"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// redshiftConnector はRedshiftデータベースへの接続を確立するDBConnectorの実装です。
type redshiftConnector struct{}

func (c *redshiftConnector) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, exception.NewBatchError("database", "Redshift への接続に失敗しました", err, false, false)
	}
	return db, nil
}

func init() {
	RegisterConnector("redshift", &redshiftConnector{})
}
