package database

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"    // MySQL ドライバを登録
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // PostgreSQL および Redshift ドライバを登録
	_ "github.com/golang-migrate/migrate/v4/source/file"       // ファイルソースドライバを登録
	"github.com/golang-migrate/migrate/v4/source/iofs"

	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// FrameworkMigrationsTable はバッチフレームワークのスキーマ履歴テーブルです。
const FrameworkMigrationsTable = "batch_schema_migrations"

// ErrMigrationUnsupported はマイグレーションに対応していないデータベースタイプで返されます。
var ErrMigrationUnsupported = errors.New("このデータベースタイプはマイグレーションに対応していません")

// MigrationURL は golang-migrate が期待するデータベース URL を組み立てます。
// migrationsTable が空の場合はデフォルトの schema_migrations が使用されます。
func MigrationURL(dbType, connectionString, migrationsTable string) (string, error) {
	var databaseURL string
	switch strings.ToLower(dbType) {
	case "postgres", "redshift":
		databaseURL = connectionString
	case "mysql":
		// 複数ステートメントを含むファイルを実行するため multiStatements を有効にします
		databaseURL = "mysql://" + connectionString + querySep(connectionString) + "multiStatements=true"
	default:
		return "", fmt.Errorf("%w: %s", ErrMigrationUnsupported, dbType)
	}
	if migrationsTable == "" {
		return databaseURL, nil
	}
	return databaseURL + querySep(databaseURL) + "x-migrations-table=" + migrationsTable, nil
}

func querySep(url string) string {
	if strings.Contains(url, "?") {
		return "&"
	}
	return "?"
}

// RunMigrations はファイルシステム上のマイグレーションを実行します。
func RunMigrations(dbType, connectionString, migrationsPath, migrationsTable string) error {
	if migrationsPath == "" {
		logger.Infof("マイグレーションパスが指定されていません。スキップします。")
		return nil
	}
	databaseURL, err := MigrationURL(dbType, connectionString, migrationsTable)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーション URL の構築に失敗しました", err, false, false)
	}
	logger.Infof("データベースマイグレーションを開始します。DBタイプ: %s, マイグレーションパス: %s", dbType, migrationsPath)
	m, err := migrate.New(fmt.Sprintf("file://%s", migrationsPath), databaseURL)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションインスタンスの作成に失敗しました", err, false, false)
	}
	return up(m, migrationsPath)
}

// RunEmbeddedMigrations はバイナリに埋め込まれたマイグレーションを実行します。
func RunEmbeddedMigrations(dbType, connectionString string, fsys fs.FS, dir, migrationsTable string) error {
	databaseURL, err := MigrationURL(dbType, connectionString, migrationsTable)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーション URL の構築に失敗しました", err, false, false)
	}
	source, err := iofs.New(fsys, dir)
	if err != nil {
		return exception.NewBatchError("migration", fmt.Sprintf("埋め込みマイグレーション '%s' の読み込みに失敗しました", dir), err, false, false)
	}
	logger.Infof("埋め込みマイグレーションを開始します。DBタイプ: %s, ディレクトリ: %s", dbType, dir)
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return exception.NewBatchError("migration", "マイグレーションインスタンスの作成に失敗しました", err, false, false)
	}
	return up(m, dir)
}

func up(m *migrate.Migrate, name string) error {
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("マイグレーションのクローズに失敗しました: source=%v, database=%v", srcErr, dbErr)
		}
	}()
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Infof("マイグレーションは不要です。データベースは最新の状態です: %s", name)
			return nil
		}
		return exception.NewBatchError("migration", fmt.Sprintf("マイグレーションの適用に失敗しました: %s", name), err, false, false)
	}
	logger.Infof("データベースマイグレーションが正常に完了しました: %s", name)
	return nil
}
