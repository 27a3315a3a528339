// Package initializer はバッチアプリケーションの起動時に必要な部品を順に組み立てます。
package initializer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/tigerroll/batchjob/migrations"
	config "github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	"github.com/tigerroll/batchjob/pkg/batch/job/joblauncher"
	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	"github.com/tigerroll/batchjob/pkg/batch/job/jsl"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	"github.com/tigerroll/batchjob/pkg/batch/metrics"
	repository "github.com/tigerroll/batchjob/pkg/batch/repository"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	"github.com/tigerroll/batchjob/pkg/batch/step/listener"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

const (
	frameworkMigrationsTable = "batch_schema_migrations"
	appMigrationsTable       = "app_schema_migrations"
)

// connectionProvider は SQL 系の JobRepository が保持する接続を取り出すためのインターフェースです。
type connectionProvider interface {
	DBConnection() database.DBConnection
}

// ComponentSetup はアプリケーションのコンポーネントを登録します。
// conn は SQL 系のデータベースを使用する場合の接続で、それ以外では nil です。
type ComponentSetup func(ctx context.Context, cfg *config.Config, components *component.Registry, conn database.DBConnection) error

// OperatorSetup はジョブテンプレートやコードで定義したジョブを登録します。
type OperatorSetup func(ctx context.Context, bi *BatchInitializer) error

// BatchInitializer はバッチアプリケーションの初期化処理を担当します。
type BatchInitializer struct {
	Config             *config.Config
	JSLDefinitionBytes []byte // JSL定義のバイトスライス

	// AppMigrations はアプリケーション固有のマイグレーションです。nil の場合は
	// Config.Database.AppMigrationPath のファイルを使用します。
	AppMigrations    fs.FS
	AppMigrationsDir string

	ComponentSetup ComponentSetup
	OperatorSetup  OperatorSetup

	JobRepository job.JobRepository
	DBConnection  database.DBConnection
	Registry      *registry.JobRegistry
	Components    *component.Registry
	Metrics       *metrics.BatchMetrics
	JobLauncher   *joblauncher.SimpleJobLauncher
	JobOperator   *joboperator.DefaultJobOperator
}

// NewBatchInitializer は新しい BatchInitializer のインスタンスを作成します。
func NewBatchInitializer(cfg *config.Config) *BatchInitializer {
	return &BatchInitializer{
		Config: cfg,
	}
}

// Initialize はバッチアプリケーションの初期化処理を実行します。
// ctx は実行中のジョブに渡され、キャンセルされるとジョブは次のチャンク境界で停止します。
func (bi *BatchInitializer) Initialize(ctx context.Context) (*joboperator.DefaultJobOperator, error) {
	module := "initializer"
	logger.Debugf("BatchInitializer.Initialize が呼び出されました。")

	// Step 1: 設定のロード
	if len(bi.Config.EmbeddedConfig) > 0 {
		cfg, err := config.NewBytesConfigLoader(bi.Config.EmbeddedConfig).Load()
		if err != nil {
			return nil, exception.NewBatchError(module, "設定のロードに失敗しました", err, false, false)
		}
		bi.Config = cfg
	}
	if err := bi.Config.Validate(); err != nil {
		return nil, err
	}
	logger.SetFormat(bi.Config.System.Logging.Format)
	logger.SetLogLevel(bi.Config.System.Logging.Level)
	logger.Infof("ロギングレベルを '%s' に設定しました。", bi.Config.System.Logging.Level)

	// Step 2: Job Repository の生成 (SQL 系はリトライ付きで接続する)
	jobRepository, err := repository.NewJobRepository(ctx, *bi.Config)
	if err != nil {
		return nil, exception.NewBatchError(module, "Job Repository の生成に失敗しました", err, false, false)
	}
	bi.JobRepository = jobRepository
	if p, ok := jobRepository.(connectionProvider); ok {
		bi.DBConnection = p.DBConnection()
	}
	logger.Infof("Job Repository を生成しました (Type: %s)。", bi.Config.Database.Type)

	// Step 3: マイグレーション
	if bi.Config.Database.IsSQL() {
		if err := bi.migrate(); err != nil {
			bi.Close()
			return nil, err
		}
	}

	// Step 4: レジストリとコンポーネント
	bi.Registry = registry.NewJobRegistry()
	bi.Components = component.NewRegistry(bi.Config)
	bi.Metrics = metrics.NewBatchMetrics()
	if bi.ComponentSetup != nil {
		if err := bi.ComponentSetup(ctx, bi.Config, bi.Components, bi.DBConnection); err != nil {
			bi.Close()
			return nil, exception.NewBatchError(module, "コンポーネントの登録に失敗しました", err, false, false)
		}
	}

	// Step 5: JSL 定義のロード
	if len(bi.JSLDefinitionBytes) > 0 {
		jobs, err := jsl.LoadJSLDefinitionsFromBytes(bi.JSLDefinitionBytes)
		if err != nil {
			bi.Close()
			return nil, err
		}
		if err := jsl.RegisterAll(jobs, bi.Components, bi.Config, bi.Registry); err != nil {
			bi.Close()
			return nil, err
		}
	}

	// Step 6: JobLauncher と JobOperator の生成
	bi.JobLauncher = joblauncher.NewSimpleJobLauncher(bi.Registry, bi.JobRepository).
		WithCallbacks(listener.LoggingCallbacks(), bi.Metrics.Callbacks()).
		WithBaseContext(ctx)
	bi.JobOperator = joboperator.NewDefaultJobOperator(bi.Registry, bi.JobLauncher, bi.JobRepository)
	if bi.OperatorSetup != nil {
		if err := bi.OperatorSetup(ctx, bi); err != nil {
			bi.Close()
			return nil, exception.NewBatchError(module, "ジョブの登録に失敗しました", err, false, false)
		}
	}
	logger.Infof("DefaultJobOperator を生成しました。登録ジョブ: %s", strings.Join(bi.Registry.List(), ", "))
	return bi.JobOperator, nil
}

// migrate はフレームワークとアプリケーションのマイグレーションを実行します。
// マイグレーションに対応していないデータベースでは警告を出してスキップします。
func (bi *BatchInitializer) migrate() error {
	module := "initializer"
	db := bi.Config.Database
	dbType := strings.ToLower(db.Type)
	dsn := db.ConnectionString()

	dir, ok := migrations.Dir(dbType)
	if !ok {
		logger.Warnf("データベースタイプ '%s' はマイグレーションに対応していません。テーブルが作成済みであることを前提に続行します。", dbType)
		return nil
	}
	if err := database.RunEmbeddedMigrations(dbType, dsn, migrations.FS, dir, frameworkMigrationsTable); err != nil {
		return exception.NewBatchError(module, "バッチフレームワークのマイグレーションに失敗しました", err, false, false)
	}

	var err error
	switch {
	case bi.AppMigrations != nil:
		appDir := fmt.Sprintf("%s/%s", strings.TrimSuffix(bi.AppMigrationsDir, "/"), dbType)
		if dbType == "redshift" {
			appDir = fmt.Sprintf("%s/postgres", strings.TrimSuffix(bi.AppMigrationsDir, "/"))
		}
		err = database.RunEmbeddedMigrations(dbType, dsn, bi.AppMigrations, appDir, appMigrationsTable)
	case db.AppMigrationPath != "":
		err = database.RunMigrations(dbType, dsn, db.AppMigrationPath, appMigrationsTable)
	}
	if err != nil && !errors.Is(err, database.ErrMigrationUnsupported) {
		return exception.NewBatchError(module, "アプリケーションのマイグレーションに失敗しました", err, false, false)
	}
	return nil
}

// Shutdown は実行中のジョブの終了を ctx の期限まで待ってから、リソースを解放します。
func (bi *BatchInitializer) Shutdown(ctx context.Context) error {
	if bi.JobLauncher != nil {
		done := make(chan struct{})
		go func() {
			bi.JobLauncher.Wait()
			close(done)
		}()
		select {
		case <-done:
			logger.Infof("実行中のジョブは全て終了しました。")
		case <-ctx.Done():
			logger.Warnf("実行中のジョブの終了を待たずにシャットダウンします (実行中: %d 件)。", bi.JobLauncher.ActiveCount())
		}
	}
	if bi.Metrics != nil {
		if err := bi.Metrics.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warnf("MeterProvider の停止に失敗しました: %v", err)
		}
	}
	return bi.Close()
}

// Close は BatchInitializer が保持するリソースを解放します。
func (bi *BatchInitializer) Close() error {
	if bi.JobRepository == nil {
		return nil
	}
	if err := bi.JobRepository.Close(); err != nil {
		logger.Errorf("Job Repository のクローズに失敗しました: %v", err)
		return fmt.Errorf("Job Repository クローズエラー: %w", err)
	}
	logger.Infof("Job Repository を正常にクローズしました。")
	bi.JobRepository = nil
	return nil
}
