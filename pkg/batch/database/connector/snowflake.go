package connector

import (
	"database/sql"

	"github.com/snowflakedb/gosnowflake"

	"github.com/tigerroll/batchjob/pkg/batch/config"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// snowflakeConnector はSnowflakeへの接続を確立するDBConnectorの実装です。
type snowflakeConnector struct{}

// SnowflakeDSN は設定から gosnowflake の DSN を組み立てます。
func SnowflakeDSN(cfg config.DatabaseConfig) (string, error) {
	return gosnowflake.DSN(&gosnowflake.Config{
		Account:   cfg.Account,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Schema:    cfg.Schema,
		Warehouse: cfg.Warehouse,
	})
}

func (c *snowflakeConnector) Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn, err := SnowflakeDSN(cfg)
	if err != nil {
		return nil, exception.NewBatchError("database", "Snowflake の DSN 構築に失敗しました", err, false, false)
	}
	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, exception.NewBatchError("database", "Snowflake への接続に失敗しました", err, false, false)
	}
	return db, nil
}

func init() {
	RegisterConnector("snowflake", &snowflakeConnector{})
}
