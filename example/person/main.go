package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tigerroll/batchjob/example/person/app"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

//go:embed resources/job.yaml
var embeddedJSL []byte

//go:embed resources/persons.yaml
var embeddedPersons []byte

//go:embed resources/migrations
var embeddedMigrations embed.FS

// paramFlags は -param key=value を繰り返し受け取ります。
type paramFlags map[string]string

func (p paramFlags) String() string {
	pairs := make([]string, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (p paramFlags) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("パラメータは key=value の形式で指定してください: %q", value)
	}
	p[k] = v
	return nil
}

func main() {
	params := paramFlags{}
	serve := flag.Bool("serve", true, "REST API サーバーを起動します")
	run := flag.String("run", "", "指定したジョブを一度実行して終了します")
	flag.Var(params, "param", "ジョブパラメータ (key=value、繰り返し指定可)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// シグナルを受信すると実行中のジョブは次のチャンク境界で停止し、サーバーはシャットダウンする
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warnf("シグナル '%v' を受信しました。ジョブの停止を試みます...", sig)
		cancel()
	}()

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	opts := app.Options{
		EnvFilePath:    envFilePath,
		EmbeddedConfig: embeddedConfig,
		EmbeddedJSL:    embeddedJSL,
		SourceData:     embeddedPersons,
		Migrations:     embeddedMigrations,
		MigrationsDir:  "resources/migrations",
		JobName:        *run,
		Params:         params,
	}
	if opts.JobName == "" && !*serve {
		logger.Errorf("-serve=false の場合は -run でジョブ名を指定してください。")
		os.Exit(2)
	}

	exitCode := app.RunApplication(ctx, opts)
	cancel()
	os.Exit(exitCode)
}
