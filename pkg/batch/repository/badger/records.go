package badger

import (
	"time"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	serialization "github.com/tigerroll/batchjob/pkg/batch/util/serialization"
)

// 各レコードは JobParameters を JSON 文字列として保持します。
type instanceRecord struct {
	ID             int64  `badgerhold:"key"`
	JobName        string `badgerhold:"index"`
	ParametersJSON string
	ParametersHash string `badgerhold:"index"`
	CreateTime     time.Time
	Version        int
}

type executionRecord struct {
	ID              int64  `badgerhold:"key"`
	RunID           string
	JobInstanceID   int64  `badgerhold:"index"`
	JobName         string `badgerhold:"index"`
	ParametersJSON  string
	Status          string
	ExitStatus      string
	ExitDescription string
	StartTime       *time.Time
	EndTime         *time.Time
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
}

type stepRecord struct {
	ID              int64 `badgerhold:"key"`
	JobExecutionID  int64 `badgerhold:"index"`
	StepName        string
	Status          string
	ExitStatus      string
	ExitDescription string
	ReadCount       int
	WriteCount      int
	SkipCount       int
	FilterCount     int
	CommitCount     int
	RollbackCount   int
	StartTime       *time.Time
	EndTime         *time.Time
	LastUpdated     time.Time
	Version         int
}

func toInstanceRecord(ji *core.JobInstance) (*instanceRecord, error) {
	params, err := serialization.MarshalJobParameters(ji.Parameters)
	if err != nil {
		return nil, err
	}
	return &instanceRecord{
		ID:             ji.ID,
		JobName:        ji.JobName,
		ParametersJSON: string(params),
		ParametersHash: ji.ParametersHash,
		CreateTime:     ji.CreateTime,
		Version:        ji.Version,
	}, nil
}

func (r *instanceRecord) toModel() (*core.JobInstance, error) {
	ji := &core.JobInstance{
		ID:             r.ID,
		JobName:        r.JobName,
		ParametersHash: r.ParametersHash,
		CreateTime:     r.CreateTime,
		Version:        r.Version,
	}
	if err := serialization.UnmarshalJobParameters([]byte(r.ParametersJSON), &ji.Parameters); err != nil {
		return nil, err
	}
	return ji, nil
}

func toExecutionRecord(je *core.JobExecution) (*executionRecord, error) {
	params, err := serialization.MarshalJobParameters(je.Parameters)
	if err != nil {
		return nil, err
	}
	return &executionRecord{
		ID:              je.ID,
		RunID:           je.RunID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		ParametersJSON:  string(params),
		Status:          string(je.Status),
		ExitStatus:      string(je.ExitStatus),
		ExitDescription: je.ExitDescription,
		StartTime:       je.StartTime,
		EndTime:         je.EndTime,
		CreateTime:      je.CreateTime,
		LastUpdated:     je.LastUpdated,
		Version:         je.Version,
	}, nil
}

func (r *executionRecord) toModel() (*core.JobExecution, error) {
	je := core.JobExecution{
		ID:              r.ID,
		RunID:           r.RunID,
		JobInstanceID:   r.JobInstanceID,
		JobName:         r.JobName,
		Status:          core.JobStatus(r.Status),
		ExitStatus:      core.ExitStatus(r.ExitStatus),
		ExitDescription: r.ExitDescription,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		CreateTime:      r.CreateTime,
		LastUpdated:     r.LastUpdated,
		Version:         r.Version,
	}
	if err := serialization.UnmarshalJobParameters([]byte(r.ParametersJSON), &je.Parameters); err != nil {
		return nil, err
	}
	return core.RestoreJobExecution(je), nil
}

func toStepRecord(se *core.StepExecution) *stepRecord {
	return &stepRecord{
		ID:              se.ID,
		JobExecutionID:  se.JobExecutionID,
		StepName:        se.StepName,
		Status:          string(se.Status),
		ExitStatus:      string(se.ExitStatus),
		ExitDescription: se.ExitDescription,
		ReadCount:       se.ReadCount,
		WriteCount:      se.WriteCount,
		SkipCount:       se.SkipCount,
		FilterCount:     se.FilterCount,
		CommitCount:     se.CommitCount,
		RollbackCount:   se.RollbackCount,
		StartTime:       se.StartTime,
		EndTime:         se.EndTime,
		LastUpdated:     se.LastUpdated,
		Version:         se.Version,
	}
}

func (r *stepRecord) toModel() *core.StepExecution {
	return core.RestoreStepExecution(core.StepExecution{
		ID:              r.ID,
		JobExecutionID:  r.JobExecutionID,
		StepName:        r.StepName,
		Status:          core.JobStatus(r.Status),
		ExitStatus:      core.ExitStatus(r.ExitStatus),
		ExitDescription: r.ExitDescription,
		ReadCount:       r.ReadCount,
		WriteCount:      r.WriteCount,
		SkipCount:       r.SkipCount,
		FilterCount:     r.FilterCount,
		CommitCount:     r.CommitCount,
		RollbackCount:   r.RollbackCount,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
		LastUpdated:     r.LastUpdated,
		Version:         r.Version,
	})
}
