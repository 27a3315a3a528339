package initializer_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "github.com/tigerroll/batchjob/pkg/batch/config"
	"github.com/tigerroll/batchjob/pkg/batch/database"
	"github.com/tigerroll/batchjob/pkg/batch/initializer"
	component "github.com/tigerroll/batchjob/pkg/batch/job/component"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/metrics"
	"github.com/tigerroll/batchjob/pkg/batch/step/reader"
	"github.com/tigerroll/batchjob/pkg/batch/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

const appYAML = `
database:
  type: memory
batch:
  job_name: echoJob
  chunk_size: 2
server:
  address: ":0"
system:
  logging:
    level: ERROR
`

const jobYAML = `
id: echoJob
name: echoJob
steps:
  - id: echoStep
    reader:
      ref: letters
    writer:
      ref: sink
`

func TestBatchInitializer_Initialize(t *testing.T) {
	ctx := context.Background()
	var written []string

	cfg := config.NewConfig()
	cfg.EmbeddedConfig = config.EmbeddedConfig(appYAML)
	bi := initializer.NewBatchInitializer(cfg)
	bi.JSLDefinitionBytes = []byte(jobYAML)
	bi.ComponentSetup = func(ctx context.Context, cfg *config.Config, components *component.Registry, conn database.DBConnection) error {
		assert.Nil(t, conn)
		if err := component.RegisterReader(components, "letters", func(ctx context.Context, bc component.BuildContext) (core.ItemReader[string], error) {
			return reader.NewSliceReader("letters", strings.Split("a,b,c", ",")), nil
		}); err != nil {
			return err
		}
		return component.RegisterWriter(components, "sink", func(ctx context.Context, bc component.BuildContext) (core.ItemWriter[string], error) {
			return writer.FuncWriter[string](func(ctx context.Context, items []string) error {
				written = append(written, items...)
				return nil
			}), nil
		})
	}

	op, err := bi.Initialize(ctx)
	require.NoError(t, err)
	defer bi.Shutdown(ctx)

	assert.Equal(t, 2, bi.Config.Batch.ChunkSize)
	assert.Equal(t, []string{"echoJob"}, op.JobNames())

	res, err := op.Launch(ctx, "echoJob", nil)
	require.NoError(t, err)
	bi.JobLauncher.Wait()

	status, err := op.Status(ctx, "echoJob", res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, string(core.BatchStatusCompleted), status.Status)
	assert.Equal(t, 2, status.Steps[0].CommitCount)
	assert.Equal(t, []string{"a", "b", "c"}, written)
	assert.Equal(t, 1.0, bi.Metrics.Counter(metrics.JobStarts, "job.name", "echoJob"))
}

func TestBatchInitializer_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("不正な設定", func(t *testing.T) {
		cfg := config.NewConfig()
		cfg.EmbeddedConfig = config.EmbeddedConfig("database:\n  type: oracle\n")
		_, err := initializer.NewBatchInitializer(cfg).Initialize(ctx)
		require.Error(t, err)
		assert.Equal(t, exception.KindValidation, exception.KindOf(err))
	})

	t.Run("未登録のコンポーネント", func(t *testing.T) {
		bi := initializer.NewBatchInitializer(config.NewConfig())
		bi.JSLDefinitionBytes = []byte(jobYAML)
		_, err := bi.Initialize(ctx)
		require.Error(t, err)
		assert.Equal(t, exception.CodeInvalidJobDefinition, exception.CodeOf(err))
	})
}
