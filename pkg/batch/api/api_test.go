package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchjob/pkg/batch/api"
	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/joblauncher"
	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	"github.com/tigerroll/batchjob/pkg/batch/metrics"
	"github.com/tigerroll/batchjob/pkg/batch/repository/memory"
	"github.com/tigerroll/batchjob/pkg/batch/step"
	"github.com/tigerroll/batchjob/pkg/batch/step/processor"
	"github.com/tigerroll/batchjob/pkg/batch/step/reader"
	"github.com/tigerroll/batchjob/pkg/batch/step/writer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

func wordsTemplate() []core.StepDefinition {
	return []core.StepDefinition{{
		Name:      "words",
		ChunkSize: 2,
		Factory: step.NewChunkStepFactory(func(ctx context.Context, params core.JobParameters) (step.Components[string, string], error) {
			return step.Components[string, string]{
				Reader:    reader.NewSliceReader("words", []string{"a", "b", "c"}),
				Processor: processor.PassThrough[string](),
				Writer:    writer.FuncWriter[string](func(ctx context.Context, items []string) error { return nil }),
			}, nil
		}),
	}}
}

type testServer struct {
	handler  http.Handler
	launcher *joblauncher.SimpleJobLauncher
	metrics  *metrics.BatchMetrics
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	reg := registry.NewJobRegistry()
	repo := memory.NewMemoryJobRepository()
	m := metrics.NewBatchMetrics()
	launcher := joblauncher.NewSimpleJobLauncher(reg, repo).WithCallbacks(m.Callbacks())
	op := joboperator.NewDefaultJobOperator(reg, launcher, repo)
	op.RegisterTemplate("words", wordsTemplate)
	return &testServer{
		handler:  api.NewRouter(api.NewJobHandler(op, m, "wordJob")),
		launcher: launcher,
		metrics:  m,
	}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) register(t *testing.T, name string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/jobs", fmt.Sprintf(`{"jobName":%q,"description":"単語を数える"}`, name))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRegisterJob(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "登録", body: `{"jobName":"wordJob","description":"単語を数える","cronExpression":"0 3 * * *"}`, status: http.StatusOK},
		{name: "重複", body: `{"jobName":"wordJob","description":"単語を数える"}`, status: http.StatusBadRequest, code: exception.CodeJobAlreadyExists},
		{name: "ジョブ名なし", body: `{"description":"x"}`, status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "不正なジョブ名", body: `{"jobName":"bad name!","description":"x"}`, status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "説明なし", body: `{"jobName":"other"}`, status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "説明が長すぎる", body: fmt.Sprintf(`{"jobName":"other","description":%q}`, strings.Repeat("x", 501)), status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "不正な JSON", body: `{"jobName":`, status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "不正な cron", body: `{"jobName":"other","description":"x","cronExpression":"sometimes"}`, status: http.StatusBadRequest, code: exception.CodeInvalidJobDefinition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/jobs", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Code)
				return
			}
			res := decode[joboperator.JobExecutionResponse](t, rec)
			assert.Equal(t, joboperator.StatusRegistered, res.Status)
		})
	}

	rec := s.do(t, http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"wordJob"}, decode[map[string][]string](t, rec)["jobs"])
}

func TestExecuteAndStatus(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "wordJob")

	rec := s.do(t, http.MethodPost, "/api/jobs/wordJob/execute", `{"parameters":{"date":"2024-02-01"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[joboperator.JobResponse](t, rec)
	assert.Equal(t, "wordJob", started.JobName)
	assert.Equal(t, "2024-02-01", started.JobParameters["date"])
	s.launcher.Wait()

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/jobs/wordJob/status/%d", started.ExecutionID), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	status := decode[joboperator.JobResponse](t, rec)
	assert.Equal(t, string(core.BatchStatusCompleted), status.Status)
	assert.Equal(t, 3, status.ReadCount)
	assert.Equal(t, 3, status.WriteCount)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{name: "ボディなしの起動", method: http.MethodPost, path: "/api/jobs/wordJob/execute", status: http.StatusOK},
		{name: "ジョブ名の不一致", method: http.MethodPost, path: "/api/jobs/wordJob/execute", body: `{"jobName":"otherJob"}`, status: http.StatusBadRequest, code: exception.CodeJobNameMismatch},
		{name: "未登録ジョブの起動", method: http.MethodPost, path: "/api/jobs/unknownJob/execute", status: http.StatusBadRequest, code: exception.CodeJobNotFound},
		{name: "空のパラメータキー", method: http.MethodPost, path: "/api/jobs/wordJob/execute", body: `{"parameters":{"":"x"}}`, status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "存在しない実行", method: http.MethodGet, path: "/api/jobs/wordJob/status/999", status: http.StatusNotFound, code: exception.CodeExecutionNotFound},
		{name: "不正な実行 ID", method: http.MethodGet, path: "/api/jobs/wordJob/status/abc", status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "ゼロの実行 ID", method: http.MethodGet, path: "/api/jobs/wordJob/status/0", status: http.StatusBadRequest, code: exception.CodeValidation},
		{name: "別ジョブの実行", method: http.MethodGet, path: fmt.Sprintf("/api/jobs/otherJob/status/%d", started.ExecutionID), status: http.StatusBadRequest, code: exception.CodeJobNameMismatch},
		{name: "終了した実行の停止", method: http.MethodPost, path: fmt.Sprintf("/api/jobs/wordJob/stop/%d", started.ExecutionID), status: http.StatusBadRequest, code: exception.CodeJobNotRunning},
		{name: "存在しない実行の停止", method: http.MethodPost, path: "/api/jobs/wordJob/stop/999", status: http.StatusBadRequest, code: exception.CodeExecutionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			s.launcher.Wait()
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, decode[api.ErrorResponse](t, rec).Code)
			}
		})
	}
}

func TestJobExecutions(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "wordJob")
	for i := 1; i <= 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/jobs/wordJob/execute", fmt.Sprintf(`{"parameters":{"seq":"%d"}}`, i))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		s.launcher.Wait()
	}

	tests := []struct {
		name    string
		query   string
		status  int
		wantLen int
	}{
		{name: "既定", query: "", status: http.StatusOK, wantLen: 3},
		{name: "ページ指定", query: "?page=1&size=2", status: http.StatusOK, wantLen: 1},
		{name: "負のページ", query: "?page=-1", status: http.StatusBadRequest},
		{name: "上限を超えるページ", query: "?page=4611686018427387904&size=10", status: http.StatusBadRequest},
		{name: "int に収まらないページ", query: "?page=99999999999999999999", status: http.StatusBadRequest},
		{name: "上限のページ", query: "?page=2147483647&size=100", status: http.StatusOK, wantLen: 0},
		{name: "数値でないサイズ", query: "?size=ten", status: http.StatusBadRequest},
		{name: "ゼロのサイズ", query: "?size=0", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/jobs/wordJob/executions"+tt.query, "")
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			page := decode[joboperator.JobHistoryPage](t, rec)
			assert.Equal(t, 3, page.Total)
			assert.Len(t, page.Items, tt.wantLen)
		})
	}
}

func TestQuickLaunchAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/batch", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, exception.CodeJobNotFound, decode[api.ErrorResponse](t, rec).Code)

	s.register(t, "wordJob")
	rec = s.do(t, http.MethodGet, "/batch", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Batch Status: COMPLETED", rec.Body.String())

	// time パラメータで別インスタンスになるため、続けて起動できる。
	time.Sleep(2 * time.Millisecond)
	rec = s.do(t, http.MethodGet, "/batch", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, float64(2), s.metrics.Counter(metrics.JobExecutions, "job.name", "wordJob", "status", "COMPLETED"))

	rec = s.do(t, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[metrics.Snapshot](t, rec)
	assert.NotEmpty(t, snap.Counters)
	assert.NotEmpty(t, snap.Timers)
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/jobs", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "検証", err: exception.NewValidationError(exception.CodeValidation, "t", "x"), want: http.StatusBadRequest},
		{name: "競合", err: exception.NewConflictError(exception.CodeJobInstanceExists, "t", "x"), want: http.StatusBadRequest},
		{name: "未検出", err: exception.NewNotFoundError(exception.CodeJobNotFound, "t", "x"), want: http.StatusNotFound},
		{name: "内部", err: exception.NewInternalError(exception.CodeInternal, "t", "x", nil), want: http.StatusInternalServerError},
		{name: "分類なし", err: fmt.Errorf("plain"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, api.StatusFor(tt.err, http.StatusNotFound))
		})
	}
}
