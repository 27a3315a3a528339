package joboperator

import (
	"time"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
)

// RegistrationRequest はジョブ登録の入力です。
type RegistrationRequest struct {
	JobName           string
	Description       string
	DefaultParameters map[string]string
	CronExpression    string
	// Template は使用するジョブテンプレートの名前です。空の場合は既定のテンプレートを使用します。
	Template string
}

// JobExecutionResponse はジョブ登録の結果です。
type JobExecutionResponse struct {
	JobName string `json:"jobName"`
	Status  string `json:"status"`
}

// StepResponse はステップごとの件数です。
type StepResponse struct {
	StepName      string     `json:"stepName"`
	Status        string     `json:"status"`
	ExitCode      string     `json:"exitCode"`
	ReadCount     int        `json:"readCount"`
	WriteCount    int        `json:"writeCount"`
	SkipCount     int        `json:"skipCount"`
	FilterCount   int        `json:"filterCount"`
	CommitCount   int        `json:"commitCount"`
	RollbackCount int        `json:"rollbackCount"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
}

// JobResponse は JobExecution のスナップショットを外部向けに整形したものです。
type JobResponse struct {
	ExecutionID     int64             `json:"executionId"`
	JobInstanceID   int64             `json:"jobInstanceId"`
	JobName         string            `json:"jobName"`
	RunID           string            `json:"runId"`
	Status          string            `json:"status"`
	ExitCode        string            `json:"exitCode"`
	ExitDescription string            `json:"exitDescription"`
	StartTime       *time.Time        `json:"startTime,omitempty"`
	EndTime         *time.Time        `json:"endTime,omitempty"`
	JobParameters   map[string]string `json:"jobParameters"`
	ReadCount       int               `json:"readCount"`
	WriteCount      int               `json:"writeCount"`
	SkipCount       int               `json:"skipCount"`
	Steps           []StepResponse    `json:"steps"`
}

// JobHistoryPage は実行履歴の一ページです。
type JobHistoryPage struct {
	Items    []*JobResponse `json:"items"`
	Page     int            `json:"page"`
	PageSize int            `json:"pageSize"`
	Total    int            `json:"total"`
}

// NewJobResponse はスナップショットから JobResponse を作成します。
func NewJobResponse(je *core.JobExecution) *JobResponse {
	read, write, skip := je.Totals()
	res := &JobResponse{
		ExecutionID:     je.ID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		RunID:           je.RunID,
		Status:          string(je.Status),
		ExitCode:        string(je.ExitStatus),
		ExitDescription: je.ExitDescription,
		StartTime:       je.StartTime,
		EndTime:         je.EndTime,
		JobParameters:   je.Parameters.StringMap(),
		ReadCount:       read,
		WriteCount:      write,
		SkipCount:       skip,
		Steps:           make([]StepResponse, 0, len(je.StepExecutions)),
	}
	for _, se := range je.StepExecutions {
		res.Steps = append(res.Steps, StepResponse{
			StepName:      se.StepName,
			Status:        string(se.Status),
			ExitCode:      string(se.ExitStatus),
			ReadCount:     se.ReadCount,
			WriteCount:    se.WriteCount,
			SkipCount:     se.SkipCount,
			FilterCount:   se.FilterCount,
			CommitCount:   se.CommitCount,
			RollbackCount: se.RollbackCount,
			StartTime:     se.StartTime,
			EndTime:       se.EndTime,
		})
	}
	return res
}
