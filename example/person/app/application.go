// Package app は person サンプルアプリケーションの起動処理です。
package app

import (
	"context"
	"io/fs"
	"time"

	godotenv "github.com/joho/godotenv"

	personjob "github.com/tigerroll/batchjob/example/person/job"
	"github.com/tigerroll/batchjob/example/person/repository"
	"github.com/tigerroll/batchjob/pkg/batch/api"
	config "github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	initializer "github.com/tigerroll/batchjob/pkg/batch/initializer"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// Options はアプリケーションの起動オプションです。
type Options struct {
	EnvFilePath    string
	EmbeddedConfig []byte
	EmbeddedJSL    []byte
	// SourceData は読み込み元となる Person の YAML です。
	SourceData []byte
	// Source が nil でなければ SourceData の代わりに使用します。
	Source repository.PersonRepository
	// Migrations はアプリケーションのマイグレーションで、<MigrationsDir>/<dbType> に配置します。
	Migrations    fs.FS
	MigrationsDir string

	// JobName が空でなければジョブを一度実行して終了します。空の場合は REST サーバーを起動します。
	JobName string
	Params  map[string]string
}

// Application は初期化済みのバッチアプリケーションです。
type Application struct {
	Initializer *initializer.BatchInitializer
	PersonJob   *personjob.PersonJob
}

// Operator は JobOperator を返します。
func (a *Application) Operator() *joboperator.DefaultJobOperator {
	return a.Initializer.JobOperator
}

// Close はアプリケーションのリソースを解放します。
func (a *Application) Close() error {
	if a.PersonJob != nil {
		if err := a.PersonJob.Close(); err != nil {
			logger.Errorf("Person リポジトリのクローズに失敗しました: %v", err)
		}
	}
	return a.Initializer.Close()
}

func loadEnvFile(path string) {
	if path == "" {
		logger.Debugf(".env ファイルのパスが指定されていないため、ロードをスキップします。")
		return
	}
	if err := godotenv.Load(path); err != nil {
		logger.Warnf(".env ファイル '%s' のロードに失敗しました (本番環境では環境変数を使用): %v", path, err)
		return
	}
	logger.Infof(".env ファイル '%s' をロードしました。", path)
}

// Setup は .env をロードし、フレームワークと Person ジョブを初期化します。
func Setup(ctx context.Context, opts Options) (*Application, error) {
	loadEnvFile(opts.EnvFilePath)

	application := &Application{}
	bi := initializer.NewBatchInitializer(&config.Config{EmbeddedConfig: opts.EmbeddedConfig})
	bi.JSLDefinitionBytes = opts.EmbeddedJSL
	bi.AppMigrations = opts.Migrations
	bi.AppMigrationsDir = opts.MigrationsDir
	bi.ComponentSetup = func(ctx context.Context, cfg *config.Config, components *component.Registry, conn database.DBConnection) error {
		source := opts.Source
		if source == nil {
			persons, err := repository.LoadPersonsYAML(opts.SourceData)
			if err != nil {
				return err
			}
			source = repository.NewMemoryPersonRepository(persons...)
			logger.Infof("読み込み元の Person を %d 件ロードしました。", len(persons))
		}
		target, err := repository.NewPersonRepository(*cfg, conn)
		if err != nil {
			return err
		}
		application.PersonJob = personjob.NewPersonJob(source, target, conn)
		return application.PersonJob.RegisterComponents(components)
	}
	bi.OperatorSetup = func(ctx context.Context, bi *initializer.BatchInitializer) error {
		bi.JobOperator.RegisterTemplate(personjob.TemplateName, application.PersonJob.Template(bi.Config))
		return nil
	}
	application.Initializer = bi

	if _, err := bi.Initialize(ctx); err != nil {
		if application.PersonJob != nil {
			_ = application.PersonJob.Close()
		}
		return nil, exception.NewBatchError("app", "バッチアプリケーションの初期化に失敗しました", err, false, false)
	}
	logger.Infof("バッチアプリケーションの初期化が完了しました。")
	return application, nil
}

// RunApplication はアプリケーションのメインロジックを実行し、終了コードを返します。
func RunApplication(ctx context.Context, opts Options) int {
	application, err := Setup(ctx, opts)
	if err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	defer func() {
		if closeErr := application.Close(); closeErr != nil {
			logger.Errorf("バッチアプリケーションのリソースクローズ中にエラーが発生しました: %v", closeErr)
		} else {
			logger.Infof("バッチアプリケーションのリソースを正常にクローズしました。")
		}
	}()

	if opts.JobName != "" {
		return executeJob(ctx, application, opts.JobName, opts.Params)
	}
	return serve(ctx, application)
}

// executeJob はジョブを完了まで実行し、その結果に基づいて終了コードを返します。
func executeJob(ctx context.Context, application *Application, jobName string, params map[string]string) int {
	logger.Infof("実行する Job: '%s'", jobName)
	res, err := application.Operator().LaunchAndWait(ctx, jobName, params)
	return handleApplicationError(err, res, jobName)
}

func serve(ctx context.Context, application *Application) int {
	cfg := application.Initializer.Config
	handler := api.NewJobHandler(application.Operator(), application.Initializer.Metrics, cfg.Batch.JobName)
	timeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second
	server := api.NewServer(cfg.Server.Address, api.NewRouter(handler), timeout)

	exitCode := 0
	if err := server.Run(ctx); err != nil {
		logger.Errorf("REST API サーバーでエラーが発生しました: %v", err)
		exitCode = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := application.Initializer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("シャットダウン中にエラーが発生しました: %v", err)
		exitCode = 1
	}
	return exitCode
}

// handleApplicationError はアプリケーションのエラーを処理し、適切な終了コードを返します。
func handleApplicationError(err error, res *joboperator.JobResponse, jobName string) int {
	hasError := false

	if err != nil {
		hasError = true
		if res != nil {
			logger.Errorf("Job '%s' (Execution ID: %d) の実行中にエラーが発生しました: %v", jobName, res.ExecutionID, err)
		} else {
			logger.Errorf("Job '%s' の起動処理中にエラーが発生しました: %v", jobName, err)
		}
		if be, ok := exception.As(err); ok {
			logger.Errorf("BatchError 詳細: Module=%s, Code=%s, Message=%s, OriginalErr=%v", be.Module, be.Code, be.Message, be.OriginalErr)
			if be.StackTrace != "" {
				logger.Debugf("BatchError StackTrace:\n%s", be.StackTrace)
			}
		}
	}

	if res != nil {
		logger.Infof("Job '%s' (Execution ID: %d) の最終状態: %s, ExitStatus: %s, 読込: %d, 書込: %d, スキップ: %d",
			jobName, res.ExecutionID, res.Status, res.ExitCode, res.ReadCount, res.WriteCount, res.SkipCount)
		if res.Status != string(core.BatchStatusCompleted) {
			hasError = true
			logger.Errorf("Job '%s' は正常に完了しませんでした。詳細は JobExecution (ID: %d) およびログを確認してください。%s",
				jobName, res.ExecutionID, res.ExitDescription)
		}
	}

	if hasError {
		return 1
	}
	return 0
}
