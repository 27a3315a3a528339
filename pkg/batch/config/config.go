package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// EmbeddedConfig は、設定ファイルの内容を保持するためのフィールドです。
// main.go から渡される埋め込み設定を格納します。
type EmbeddedConfig []byte

// ConnectionPoolConfig はデータベースコネクションプールの設定を保持します。
type ConnectionPoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns           int `yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetimeSeconds int `yaml:"conn_max_lifetime_seconds" validate:"min=0"`
}

// DatabaseConfig はジョブリポジトリとアプリケーションが使用するデータストアの設定です。
type DatabaseConfig struct {
	Type     string `yaml:"type" validate:"omitempty,oneof=memory postgres redshift mysql snowflake badger"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"min=0,max=65535"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Sslmode  string `yaml:"sslmode"`
	// Snowflake 用
	Account   string `yaml:"account"`
	Warehouse string `yaml:"warehouse"`
	Schema    string `yaml:"schema"`
	// Badger 用のデータディレクトリ
	Path string `yaml:"path"`
	// アプリケーション固有のマイグレーションファイルのパス
	AppMigrationPath string               `yaml:"app_migration_path"`
	ConnectionPool   ConnectionPoolConfig `yaml:"connection_pool"`
	// 起動時の接続リトライ回数
	ConnectRetries int `yaml:"connect_retries" validate:"min=0"`
}

// IsSQL は database/sql 経由で接続するタイプかを返します。
func (c DatabaseConfig) IsSQL() bool {
	switch strings.ToLower(c.Type) {
	case "postgres", "redshift", "mysql", "snowflake":
		return true
	default:
		return false
	}
}

// ConnectionString は golang-migrate と database/sql の双方で使える接続文字列を返します。
// snowflake の DSN はコネクタ側で組み立てます。
func (c DatabaseConfig) ConnectionString() string {
	switch strings.ToLower(c.Type) {
	case "postgres", "redshift":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Database, c.Sslmode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	default:
		return ""
	}
}

// ItemSkipConfig はアイテムレベルのスキップ設定です。
type ItemSkipConfig struct {
	SkipLimit int `yaml:"skip_limit" validate:"min=0"`
}

// BatchConfig はジョブ実行のデフォルト値です。
type BatchConfig struct {
	// JobName は CLI や /batch が起動するデフォルトのジョブです。
	JobName   string         `yaml:"job_name"`
	ChunkSize int            `yaml:"chunk_size" validate:"min=1"`
	ItemSkip  ItemSkipConfig `yaml:"item_skip"`
}

// ServerConfig は REST サーバーの設定です。
type ServerConfig struct {
	Address                string `yaml:"address" validate:"required"`
	ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds" validate:"min=0"`
}

// LoggingConfig はログ出力の設定です。
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=DEBUG INFO WARN ERROR FATAL debug info warn error fatal"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

type Config struct {
	Database       DatabaseConfig `yaml:"database"`
	Batch          BatchConfig    `yaml:"batch"`
	Server         ServerConfig   `yaml:"server"`
	System         SystemConfig   `yaml:"system"`
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig は Config の新しいインスタンスを返します。
func NewConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Type:           "memory",
			ConnectRetries: 3,
		},
		Batch: BatchConfig{
			ChunkSize: 10,
		},
		Server: ServerConfig{
			Address:                ":8080",
			ShutdownTimeoutSeconds: 10,
		},
		System: SystemConfig{
			Timezone: "UTC",
			Logging:  LoggingConfig{Level: "INFO", Format: "console"},
		},
	}
}

var validate = validator.New()

// Validate は設定値を検証し、全ての違反をまとめた BatchError を返します。
func (c *Config) Validate() error {
	var violations []string
	if err := validate.Struct(c); err != nil {
		if ves, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ves {
				violations = append(violations, fmt.Sprintf("%s: %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			return exception.NewBatchError("config", "設定の検証に失敗しました", err, false, false)
		}
	}
	if c.Database.IsSQL() && strings.ToLower(c.Database.Type) != "snowflake" {
		if c.Database.Host == "" {
			violations = append(violations, "Config.Database.Host: required")
		}
		if c.Database.Database == "" {
			violations = append(violations, "Config.Database.Database: required")
		}
	}
	if strings.ToLower(c.Database.Type) == "snowflake" && c.Database.Account == "" {
		violations = append(violations, "Config.Database.Account: required")
	}
	if strings.ToLower(c.Database.Type) == "badger" && c.Database.Path == "" {
		violations = append(violations, "Config.Database.Path: required")
	}
	if len(violations) > 0 {
		return exception.NewValidationError(exception.CodeValidation, "config", "設定値が不正です", violations...)
	}
	return nil
}
