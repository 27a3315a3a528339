// Package api はジョブの登録、起動、状態照会、停止のための REST API を提供します。
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	"github.com/tigerroll/batchjob/pkg/batch/metrics"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// JobHandler handles job-related API requests
type JobHandler struct {
	operator   joboperator.JobOperator
	metrics    *metrics.BatchMetrics
	defaultJob string
}

// NewJobHandler creates a new job handler.
// defaultJob は GET /batch で起動するジョブ名です。
func NewJobHandler(operator joboperator.JobOperator, m *metrics.BatchMetrics, defaultJob string) *JobHandler {
	return &JobHandler{operator: operator, metrics: m, defaultJob: defaultJob}
}

func validationError(format string, a ...any) error {
	return exception.NewValidationError(exception.CodeValidation, "api", fmt.Sprintf(format, a...))
}

// jobNameParam はパスの jobName を検証して返します。
func jobNameParam(r *http.Request) (string, error) {
	name := chi.URLParam(r, "jobName")
	if err := validateStruct(pathParams{JobName: name}); err != nil {
		return "", err
	}
	return name, nil
}

// executionIDParam はパスの executionId を正の整数として返します。
func executionIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "executionId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, validationError("executionId '%s' は正の整数である必要があります", raw)
	}
	return id, nil
}

// decodeBody はリクエストボディを JSON としてデコードします。空のボディは許容します。
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return validationError("リクエストボディを解析できません: %v", err)
	}
	return nil
}

// RegisterJobHandler registers a new job bound to a template.
// POST /api/jobs
func (h *JobHandler) RegisterJobHandler(w http.ResponseWriter, r *http.Request) {
	var dto RegistrationDTO
	if err := decodeBody(r, &dto); err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := validateStruct(dto); err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	res, err := h.operator.Register(r.Context(), dto.ToRequest())
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	_ = WriteJSON(w, http.StatusOK, res)
}

// ListJobsHandler returns the registered job names.
// GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string][]string{"jobs": h.operator.JobNames()})
}

// ExecuteJobHandler launches a job asynchronously and returns the STARTING snapshot.
// POST /api/jobs/{jobName}/execute
func (h *JobHandler) ExecuteJobHandler(w http.ResponseWriter, r *http.Request) {
	jobName, err := jobNameParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	var dto LaunchDTO
	if err := decodeBody(r, &dto); err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := validateStruct(dto); err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	if dto.JobName != "" && dto.JobName != jobName {
		WriteError(w, r, exception.NewValidationError(exception.CodeJobNameMismatch, "api",
			fmt.Sprintf("パスのジョブ名 '%s' とボディのジョブ名 '%s' が一致しません", jobName, dto.JobName)), http.StatusBadRequest)
		return
	}
	res, err := h.operator.Launch(r.Context(), jobName, dto.Parameters)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	_ = WriteJSON(w, http.StatusOK, res)
}

// JobStatusHandler returns a single execution snapshot.
// GET /api/jobs/{jobName}/status/{executionId}
func (h *JobHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	jobName, err := jobNameParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusNotFound)
		return
	}
	id, err := executionIDParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusNotFound)
		return
	}
	res, err := h.operator.Status(r.Context(), jobName, id)
	if err != nil {
		WriteError(w, r, err, http.StatusNotFound)
		return
	}
	_ = WriteJSON(w, http.StatusOK, res)
}

// JobExecutionsHandler returns a page of the job's execution history.
// GET /api/jobs/{jobName}/executions?page=0&size=10
func (h *JobHandler) JobExecutionsHandler(w http.ResponseWriter, r *http.Request) {
	jobName, err := jobNameParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	page, size, err := paginationParams(r)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	res, err := h.operator.History(r.Context(), jobName, page, size)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	_ = WriteJSON(w, http.StatusOK, res)
}

// paginationParams extracts page (0-indexed) and size from the query string.
// 省略時は page=0, size=0 (既定のページサイズ) です。
func paginationParams(r *http.Request) (page, size int, err error) {
	q := r.URL.Query()
	if s := q.Get("page"); s != "" {
		if page, err = strconv.Atoi(s); err != nil || page < 0 || page > joboperator.MaxPage {
			return 0, 0, validationError("page '%s' は 0 以上 %d 以下の整数である必要があります", s, joboperator.MaxPage)
		}
	}
	if s := q.Get("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil || size <= 0 {
			return 0, 0, validationError("size '%s' は正の整数である必要があります", s)
		}
	}
	return page, size, nil
}

// StopJobHandler requests a running execution to stop.
// POST /api/jobs/{jobName}/stop/{executionId}
func (h *JobHandler) StopJobHandler(w http.ResponseWriter, r *http.Request) {
	jobName, err := jobNameParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	id, err := executionIDParam(r)
	if err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := h.operator.Stop(r.Context(), jobName, id); err != nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// QuickLaunchHandler runs the default job to completion with a fresh time parameter.
// GET /batch
func (h *JobHandler) QuickLaunchHandler(w http.ResponseWriter, r *http.Request) {
	if h.defaultJob == "" {
		WriteError(w, r, validationError("既定のジョブが設定されていません"), http.StatusBadRequest)
		return
	}
	params := map[string]string{"time": strconv.FormatInt(time.Now().UnixMilli(), 10)}
	res, err := h.operator.LaunchAndWait(r.Context(), h.defaultJob, params)
	if err != nil && res == nil {
		WriteError(w, r, err, http.StatusBadRequest)
		return
	}
	logger.Infof("ジョブ '%s' (Execution ID: %d) を /batch から実行しました。ステータス: %s", h.defaultJob, res.ExecutionID, res.Status)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Batch Status: %s", res.Status)
}

// MetricsHandler returns the lifecycle metrics snapshot.
// GET /api/metrics
func (h *JobHandler) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		_ = WriteJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	_ = WriteJSON(w, http.StatusOK, h.metrics.Snapshot())
}
