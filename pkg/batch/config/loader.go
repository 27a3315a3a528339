package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// BytesConfigLoader はバイトスライスから設定をロードする ConfigLoader の実装です。
type BytesConfigLoader struct {
	data []byte
}

// NewBytesConfigLoader は新しい BytesConfigLoader のインスタンスを作成します。
func NewBytesConfigLoader(data []byte) *BytesConfigLoader {
	return &BytesConfigLoader{data: data}
}

// Load は埋め込まれたバイトスライスから設定をロードし、環境変数で上書きします。
// YAML に記載のない項目は NewConfig のデフォルト値のままになります。
func (l *BytesConfigLoader) Load() (*Config, error) {
	cfg := NewConfig()
	if len(l.data) > 0 {
		if err := yaml.Unmarshal(l.data, cfg); err != nil {
			return nil, fmt.Errorf("YAML設定のパースに失敗しました: %w", err)
		}
	}
	cfg.EmbeddedConfig = EmbeddedConfig(l.data)

	loadEnvVars(cfg)

	return cfg, nil
}

func envInt(key string, target *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warnf("環境変数 %s の値 '%s' が無効です。デフォルト値または設定ファイルの値を使用します。", key, raw)
		return
	}
	*target = v
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

// 環境変数で個別の設定値を上書きする関数
func loadEnvVars(cfg *Config) {
	// Database 設定
	envString("DATABASE_TYPE", &cfg.Database.Type)
	envString("DATABASE_HOST", &cfg.Database.Host)
	envInt("DATABASE_PORT", &cfg.Database.Port)
	envString("DATABASE_DATABASE", &cfg.Database.Database)
	envString("DATABASE_USER", &cfg.Database.User)
	envString("DATABASE_PASSWORD", &cfg.Database.Password)
	envString("DATABASE_SSLMODE", &cfg.Database.Sslmode)
	envString("DATABASE_ACCOUNT", &cfg.Database.Account)
	envString("DATABASE_WAREHOUSE", &cfg.Database.Warehouse)
	envString("DATABASE_SCHEMA", &cfg.Database.Schema)
	envString("DATABASE_PATH", &cfg.Database.Path)
	envString("DATABASE_APP_MIGRATION_PATH", &cfg.Database.AppMigrationPath)
	envInt("DATABASE_MAX_OPEN_CONNS", &cfg.Database.ConnectionPool.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &cfg.Database.ConnectionPool.MaxIdleConns)
	envInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", &cfg.Database.ConnectionPool.ConnMaxLifetimeSeconds)
	envInt("DATABASE_CONNECT_RETRIES", &cfg.Database.ConnectRetries)

	// Batch 設定
	envString("BATCH_JOB_NAME", &cfg.Batch.JobName)
	envInt("BATCH_CHUNK_SIZE", &cfg.Batch.ChunkSize)
	envInt("BATCH_SKIP_LIMIT", &cfg.Batch.ItemSkip.SkipLimit)

	// Server 設定
	envString("SERVER_ADDRESS", &cfg.Server.Address)
	envInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", &cfg.Server.ShutdownTimeoutSeconds)

	// System 設定
	envString("SYSTEM_TIMEZONE", &cfg.System.Timezone)
	envString("SYSTEM_LOGGING_LEVEL", &cfg.System.Logging.Level)
	envString("SYSTEM_LOGGING_FORMAT", &cfg.System.Logging.Format)
}
