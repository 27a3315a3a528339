package app_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/example/person/app"
	"github.com/tigerroll/batchjob/example/person/domain/entity"
	personjob "github.com/tigerroll/batchjob/example/person/job"
	"github.com/tigerroll/batchjob/example/person/repository"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

const appYAML = `
database:
  type: memory
batch:
  job_name: loadPersons
  chunk_size: 10
  item_skip:
    skip_limit: 1
server:
  address: ":0"
system:
  logging:
    level: ERROR
`

func readResource(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("../resources/" + name)
	require.NoError(t, err)
	return data
}

// source は 1 から n までの Person を返します。bad の ID はメールアドレスが不正です。
func source(n int, bad ...int64) *repository.MemoryPersonRepository {
	invalid := map[int64]bool{}
	for _, id := range bad {
		invalid[id] = true
	}
	persons := make([]entity.Person, 0, n)
	for i := 1; i <= n; i++ {
		email := fmt.Sprintf("person%d@example.com", i)
		if invalid[int64(i)] {
			email = fmt.Sprintf("person%d.example.com", i)
		}
		persons = append(persons, entity.Person{ID: int64(i), Name: fmt.Sprintf("Person %d", i), Email: email})
	}
	return repository.NewMemoryPersonRepository(persons...)
}

func setup(t *testing.T, src repository.PersonRepository) *app.Application {
	t.Helper()
	application, err := app.Setup(context.Background(), app.Options{
		EmbeddedConfig: []byte(appYAML),
		EmbeddedJSL:    readResource(t, "job.yaml"),
		Source:         src,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = application.Close() })
	return application
}

func TestLoadPersons(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		bad        []int64
		status     core.JobStatus
		writeCount int
		skipCount  int
		stored     int
	}{
		{name: "不正な一件をスキップして完了", bad: []int64{13}, status: core.BatchStatusCompleted, writeCount: 24, skipCount: 1, stored: 24},
		{name: "全件正常", status: core.BatchStatusCompleted, writeCount: 25, stored: 25},
		{name: "スキップ上限を超えて失敗", bad: []int64{3, 13}, status: core.BatchStatusFailed, writeCount: 9, skipCount: 1, stored: 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			application := setup(t, source(25, tt.bad...))

			res, err := application.Operator().LaunchAndWait(ctx, personjob.JobName, map[string]string{"date": "2024-03-01"})
			require.NoError(t, err)
			assert.Equal(t, string(tt.status), res.Status)
			assert.Equal(t, tt.writeCount, res.WriteCount)
			assert.Equal(t, tt.skipCount, res.SkipCount)

			target := application.PersonJob.Target()
			n, err := target.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.stored, n)

			first, err := target.FindByID(ctx, 1)
			require.NoError(t, err)
			require.NotNil(t, first)
			assert.Equal(t, "PERSON1@EXAMPLE.COM", first.Email)

			for _, id := range tt.bad {
				skipped, err := target.FindByID(ctx, id)
				require.NoError(t, err)
				assert.Nil(t, skipped)
			}
		})
	}
}

// gatedSource は最初のページの読み込みを release が閉じられるまで止めます。
type gatedSource struct {
	*repository.MemoryPersonRepository
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) FindPage(ctx context.Context, offset, limit int) ([]entity.Person, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.MemoryPersonRepository.FindPage(ctx, offset, limit)
}

func TestLoadPersons_DuplicateLaunch(t *testing.T) {
	ctx := context.Background()
	src := &gatedSource{MemoryPersonRepository: source(5), entered: make(chan struct{}, 1), release: make(chan struct{})}
	application := setup(t, src)
	op := application.Operator()
	params := map[string]string{"date": "2024-03-02"}

	first, err := op.Launch(ctx, personjob.JobName, params)
	require.NoError(t, err)
	<-src.entered

	_, err = op.Launch(ctx, personjob.JobName, params)
	require.Error(t, err)
	assert.Equal(t, exception.CodeJobInstanceExists, exception.CodeOf(err))
	assert.Equal(t, exception.KindConflict, exception.KindOf(err))

	running, err := op.Status(ctx, personjob.JobName, first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, string(core.BatchStatusStarted), running.Status)

	close(src.release)
	application.Initializer.JobLauncher.Wait()

	done, err := op.Status(ctx, personjob.JobName, first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, string(core.BatchStatusCompleted), done.Status)
	assert.Equal(t, 5, done.WriteCount)

	third, err := op.LaunchAndWait(ctx, personjob.JobName, params)
	require.NoError(t, err)
	assert.Equal(t, string(core.BatchStatusCompleted), third.Status)
	assert.Equal(t, first.JobInstanceID, third.JobInstanceID)
	assert.NotEqual(t, first.ExecutionID, third.ExecutionID)
}

func TestRegisteredTemplateJob(t *testing.T) {
	ctx := context.Background()
	application := setup(t, source(12, 7))
	op := application.Operator()

	_, err := op.Register(ctx, joboperator.RegistrationRequest{JobName: "nightlyPersons", Description: "夜間の取り込み", Template: personjob.TemplateName})
	require.NoError(t, err)
	assert.Equal(t, []string{"loadPersons", "nightlyPersons"}, op.JobNames())

	res, err := op.LaunchAndWait(ctx, "nightlyPersons", nil)
	require.NoError(t, err)
	assert.Equal(t, string(core.BatchStatusCompleted), res.Status)
	assert.Equal(t, 11, res.WriteCount)
	assert.Equal(t, 1, res.SkipCount)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, personjob.TemplateName, res.Steps[0].StepName)
	assert.Equal(t, 2, res.Steps[0].CommitCount)
}

func TestRunApplication(t *testing.T) {
	tests := []struct {
		name    string
		config  string
		jobName string
		src     repository.PersonRepository
		want    int
	}{
		{name: "完了", config: appYAML, jobName: personjob.JobName, src: source(25, 13), want: 0},
		{name: "失敗", config: appYAML, jobName: personjob.JobName, src: source(25, 3, 13), want: 1},
		{name: "未登録のジョブ", config: appYAML, jobName: "unknownJob", src: source(1), want: 1},
		{name: "不正な設定", config: "database:\n  type: oracle\n", jobName: personjob.JobName, src: source(1), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code := app.RunApplication(context.Background(), app.Options{
				EmbeddedConfig: []byte(tt.config),
				EmbeddedJSL:    readResource(t, "job.yaml"),
				Source:         tt.src,
				JobName:        tt.jobName,
				Params:         map[string]string{"date": "2024-03-03"},
			})
			assert.Equal(t, tt.want, code)
		})
	}
}

func TestSetup_EmbeddedSourceData(t *testing.T) {
	application, err := app.Setup(context.Background(), app.Options{
		EmbeddedConfig: []byte(appYAML),
		EmbeddedJSL:    readResource(t, "job.yaml"),
		SourceData:     readResource(t, "persons.yaml"),
	})
	require.NoError(t, err)
	defer application.Close()

	n, err := application.PersonJob.Source().Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
}
