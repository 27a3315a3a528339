package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus はジョブ実行およびステップ実行の状態を表します。
type JobStatus string

const (
	BatchStatusStarting  JobStatus = "STARTING"
	BatchStatusStarted   JobStatus = "STARTED"
	BatchStatusStopping  JobStatus = "STOPPING"
	BatchStatusStopped   JobStatus = "STOPPED"
	BatchStatusCompleted JobStatus = "COMPLETED"
	BatchStatusFailed    JobStatus = "FAILED"
	BatchStatusAbandoned JobStatus = "ABANDONED"
)

// IsFinished は JobStatus が終了状態かどうかを判定するヘルパーメソッドです。
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning は停止要求を受け付けられる状態 (STARTING, STARTED) かを判定します。
func (s JobStatus) IsRunning() bool {
	return s == BatchStatusStarting || s == BatchStatusStarted
}

// CanTransitionTo は s から next への遷移が許されるかを返します。
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if next == BatchStatusAbandoned {
		return !s.IsFinished()
	}
	switch s {
	case BatchStatusStarting:
		return next == BatchStatusStarted || next == BatchStatusStopping || next == BatchStatusFailed
	case BatchStatusStarted:
		return next == BatchStatusStopping || next == BatchStatusCompleted || next == BatchStatusFailed
	case BatchStatusStopping:
		return next == BatchStatusStopped || next == BatchStatusFailed
	default:
		return false
	}
}

// ToExitStatus は JobStatus を対応する ExitStatus に変換します。
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus はジョブ/ステップの終了コードです。
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusExecuting ExitStatus = "EXECUTING"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
)

// JobInstance はジョブ名と識別パラメータの組で決まるジョブの論理的な実行単位です。
// 作成後に変更されることはありません。
type JobInstance struct {
	ID             int64
	JobName        string
	Parameters     JobParameters
	ParametersHash string
	CreateTime     time.Time
	Version        int
}

// NewJobInstance は識別パラメータのみを保持する新しい JobInstance を作成します。
// ID はリポジトリへの保存時に採番されます。
func NewJobInstance(jobName string, params JobParameters) (*JobInstance, error) {
	identifying := params.Identifying()
	hash, err := identifying.Hash()
	if err != nil {
		return nil, err
	}
	return &JobInstance{
		JobName:        jobName,
		Parameters:     identifying,
		ParametersHash: hash,
		CreateTime:     time.Now(),
	}, nil
}

// JobExecution は JobInstance の一回の実行を表します。
// 実行中のインスタンスはワーカーと停止要求の双方から参照されるため、
// 状態の変更と読み出しは内部のロックを介して行います。
// 外部の読み手には Snapshot() で取得したコピーを渡します。
type JobExecution struct {
	ID              int64
	RunID           string
	JobInstanceID   int64
	JobName         string
	Parameters      JobParameters
	Status          JobStatus
	ExitStatus      ExitStatus
	ExitDescription string
	StartTime       *time.Time
	EndTime         *time.Time
	CreateTime      time.Time
	LastUpdated     time.Time
	Version         int
	StepExecutions  []*StepExecution

	guard *sync.RWMutex
}

// NewJobExecution は STARTING 状態の新しい JobExecution を作成します。
func NewJobExecution(instance *JobInstance, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		RunID:          uuid.New().String(),
		JobInstanceID:  instance.ID,
		JobName:        instance.JobName,
		Parameters:     params.Copy(),
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		CreateTime:     now,
		LastUpdated:    now,
		StepExecutions: make([]*StepExecution, 0),
		guard:          &sync.RWMutex{},
	}
}

// RestoreJobExecution はリポジトリから読み込んだ値でロックを持つ JobExecution を組み立てます。
// StepExecution は同じロックを共有するよう付け替えられます。
func RestoreJobExecution(je JobExecution) *JobExecution {
	restored := je
	restored.guard = &sync.RWMutex{}
	if restored.StepExecutions == nil {
		restored.StepExecutions = make([]*StepExecution, 0)
	}
	for _, se := range restored.StepExecutions {
		se.guard = restored.guard
	}
	return &restored
}

// RestoreStepExecution はリポジトリから読み込んだ値でロックを持つ StepExecution を組み立てます。
func RestoreStepExecution(se StepExecution) *StepExecution {
	restored := se
	restored.guard = &sync.RWMutex{}
	return &restored
}

// ロックはコンストラクタで必ず設定されます。ゼロ値の JobExecution は使用できません。
func (je *JobExecution) lock() func() {
	je.guard.Lock()
	return je.guard.Unlock
}

func (je *JobExecution) rlock() func() {
	je.guard.RLock()
	return je.guard.RUnlock
}

func (je *JobExecution) transition(next JobStatus) error {
	if !je.Status.CanTransitionTo(next) {
		return fmt.Errorf("JobExecution (ID: %d): 不正な状態遷移です: %s -> %s", je.ID, je.Status, next)
	}
	je.Status = next
	je.LastUpdated = time.Now()
	return nil
}

// CurrentStatus はロックを取得して現在の状態を返します。
func (je *JobExecution) CurrentStatus() JobStatus {
	defer je.rlock()()
	return je.Status
}

// IsStopping は停止要求を受けているかを返します。
func (je *JobExecution) IsStopping() bool {
	return je.CurrentStatus() == BatchStatusStopping
}

// IsStopRequested はワーカーが次のチャンク境界で処理を止めるべきかを返します。
// 停止要求 (STOPPING) と管理操作による放棄 (ABANDONED) が該当します。
func (je *JobExecution) IsStopRequested() bool {
	s := je.CurrentStatus()
	return s == BatchStatusStopping || s == BatchStatusAbandoned
}

// MarkAsStarted は状態を STARTED に遷移させ、開始時刻を設定します。
func (je *JobExecution) MarkAsStarted() error {
	defer je.lock()()
	if err := je.transition(BatchStatusStarted); err != nil {
		return err
	}
	now := time.Now()
	je.StartTime = &now
	je.ExitStatus = ExitStatusExecuting
	return nil
}

// RequestStop は STARTING または STARTED の実行を STOPPING に遷移させます。
// 実行中でない場合は false を返します。
func (je *JobExecution) RequestStop() bool {
	defer je.lock()()
	if !je.Status.IsRunning() {
		return false
	}
	_ = je.transition(BatchStatusStopping)
	return true
}

// MarkAsCompleted は実行を COMPLETED で終了させます。
func (je *JobExecution) MarkAsCompleted() error {
	defer je.lock()()
	if err := je.transition(BatchStatusCompleted); err != nil {
		return err
	}
	je.finish(ExitStatusCompleted, "")
	return nil
}

// MarkAsStopped は停止要求を受けた実行を STOPPED で終了させます。
func (je *JobExecution) MarkAsStopped() error {
	defer je.lock()()
	if je.Status != BatchStatusStopping {
		if err := je.transition(BatchStatusStopping); err != nil {
			return err
		}
	}
	if err := je.transition(BatchStatusStopped); err != nil {
		return err
	}
	je.finish(ExitStatusStopped, "")
	return nil
}

// MarkAsFailed は実行を FAILED で終了させ、原因を終了説明に記録します。
func (je *JobExecution) MarkAsFailed(cause error) {
	defer je.lock()()
	if je.Status.IsFinished() {
		return
	}
	je.Status = BatchStatusFailed
	je.LastUpdated = time.Now()
	desc := ""
	if cause != nil {
		desc = cause.Error()
	}
	je.finish(ExitStatusFailed, desc)
}

// MarkAsAbandoned は管理操作により非終了状態の実行を ABANDONED にします。
func (je *JobExecution) MarkAsAbandoned() error {
	defer je.lock()()
	if err := je.transition(BatchStatusAbandoned); err != nil {
		return err
	}
	je.finish(ExitStatusAbandoned, "")
	return nil
}

func (je *JobExecution) finish(exit ExitStatus, description string) {
	now := time.Now()
	je.EndTime = &now
	je.ExitStatus = exit
	if description != "" {
		je.ExitDescription = description
	}
}

// AddStepExecution は新しい StepExecution を作成して末尾に追加します。
func (je *JobExecution) AddStepExecution(stepName string) *StepExecution {
	defer je.lock()()
	se := &StepExecution{
		JobExecutionID: je.ID,
		StepName:       stepName,
		Status:         BatchStatusStarting,
		ExitStatus:     ExitStatusUnknown,
		LastUpdated:    time.Now(),
		guard:          je.guard,
	}
	je.StepExecutions = append(je.StepExecutions, se)
	return se
}

// AttachStepExecutions はリポジトリから読み込んだ StepExecution を設定し、ロックを共有させます。
func (je *JobExecution) AttachStepExecutions(steps []*StepExecution) {
	defer je.lock()()
	for _, se := range steps {
		se.guard = je.guard
	}
	je.StepExecutions = steps
}

// SetID は永続化時に採番された ID を設定します。
func (je *JobExecution) SetID(id int64) {
	defer je.lock()()
	je.ID = id
	for _, se := range je.StepExecutions {
		se.JobExecutionID = id
	}
}

// NextRevision は Version と最終更新時刻を進めたスナップショットと、更新前の Version を返します。
// 元のインスタンスは変更しません。永続化に成功したら CommitRevision で反映します。
func (je *JobExecution) NextRevision() (*JobExecution, int) {
	rev := je.Snapshot()
	expected := rev.Version
	rev.Version++
	rev.LastUpdated = time.Now()
	return rev, expected
}

// CommitRevision は永続化された rev の Version を反映します。
func (je *JobExecution) CommitRevision(rev *JobExecution) {
	defer je.lock()()
	je.Version = rev.Version
	if rev.LastUpdated.After(je.LastUpdated) {
		je.LastUpdated = rev.LastUpdated
	}
}

// Snapshot はロックを取得してディープコピーを返します。
// コピーは元のインスタンスとロックを共有しません。
func (je *JobExecution) Snapshot() *JobExecution {
	defer je.rlock()()
	cp := &JobExecution{
		ID:              je.ID,
		RunID:           je.RunID,
		JobInstanceID:   je.JobInstanceID,
		JobName:         je.JobName,
		Parameters:      je.Parameters.Copy(),
		Status:          je.Status,
		ExitStatus:      je.ExitStatus,
		ExitDescription: je.ExitDescription,
		StartTime:       copyTime(je.StartTime),
		EndTime:         copyTime(je.EndTime),
		CreateTime:      je.CreateTime,
		LastUpdated:     je.LastUpdated,
		Version:         je.Version,
		StepExecutions:  make([]*StepExecution, 0, len(je.StepExecutions)),
		guard:           &sync.RWMutex{},
	}
	for _, se := range je.StepExecutions {
		sc := se.copyUnlocked()
		sc.guard = cp.guard
		cp.StepExecutions = append(cp.StepExecutions, sc)
	}
	return cp
}

// Totals は全ステップの読み込み・書き込み・スキップ件数の合計を返します。
func (je *JobExecution) Totals() (read, write, skip int) {
	defer je.rlock()()
	for _, se := range je.StepExecutions {
		read += se.ReadCount
		write += se.WriteCount
		skip += se.SkipCount
	}
	return read, write, skip
}

// StepExecution はジョブ実行内の一つのステップ実行を表します。
type StepExecution struct {
	ID              int64
	JobExecutionID  int64
	StepName        string
	Status          JobStatus
	ExitStatus      ExitStatus
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

	guard *sync.RWMutex
}

func (se *StepExecution) lock() func() {
	se.guard.Lock()
	return se.guard.Unlock
}

func (se *StepExecution) rlock() func() {
	se.guard.RLock()
	return se.guard.RUnlock
}

// MarkAsStarted はステップを STARTED にします。
func (se *StepExecution) MarkAsStarted() {
	defer se.lock()()
	now := time.Now()
	se.Status = BatchStatusStarted
	se.ExitStatus = ExitStatusExecuting
	se.StartTime = &now
	se.LastUpdated = now
}

// MarkAsCompleted はステップを COMPLETED で終了させます。
func (se *StepExecution) MarkAsCompleted() {
	se.end(BatchStatusCompleted, ExitStatusCompleted, "")
}

// MarkAsStopped はステップを STOPPED で終了させます。
func (se *StepExecution) MarkAsStopped() {
	se.end(BatchStatusStopped, ExitStatusStopped, "")
}

// MarkAsFailed はステップを FAILED で終了させます。
func (se *StepExecution) MarkAsFailed(cause error) {
	desc := ""
	if cause != nil {
		desc = cause.Error()
	}
	se.end(BatchStatusFailed, ExitStatusFailed, desc)
}

func (se *StepExecution) end(status JobStatus, exit ExitStatus, description string) {
	defer se.lock()()
	now := time.Now()
	se.Status = status
	se.ExitStatus = exit
	se.ExitDescription = description
	se.EndTime = &now
	se.LastUpdated = now
}

// ApplyChunk はコミットに成功したチャンクの件数を加算し、コミット数を1つ進めます。
func (se *StepExecution) ApplyChunk(read, write, skip, filter int) {
	defer se.lock()()
	se.ReadCount += read
	se.WriteCount += write
	se.SkipCount += skip
	se.FilterCount += filter
	se.CommitCount++
	se.Version++
	se.LastUpdated = time.Now()
}

// IncrementRollback はロールバック数を1つ進めます。
func (se *StepExecution) IncrementRollback() {
	defer se.lock()()
	se.RollbackCount++
	se.LastUpdated = time.Now()
}

// SetID は永続化時に採番された ID を設定します。
func (se *StepExecution) SetID(id int64) {
	defer se.lock()()
	se.ID = id
}

// CurrentStatus はロックを取得して現在の状態を返します。
func (se *StepExecution) CurrentStatus() JobStatus {
	defer se.rlock()()
	return se.Status
}

// Copy はロックを取得してコピーを返します。
func (se *StepExecution) Copy() *StepExecution {
	defer se.rlock()()
	cp := se.copyUnlocked()
	cp.guard = &sync.RWMutex{}
	return cp
}

func (se *StepExecution) copyUnlocked() *StepExecution {
	return &StepExecution{
		ID:              se.ID,
		JobExecutionID:  se.JobExecutionID,
		StepName:        se.StepName,
		Status:          se.Status,
		ExitStatus:      se.ExitStatus,
		ExitDescription: se.ExitDescription,
		ReadCount:       se.ReadCount,
		WriteCount:      se.WriteCount,
		SkipCount:       se.SkipCount,
		FilterCount:     se.FilterCount,
		CommitCount:     se.CommitCount,
		RollbackCount:   se.RollbackCount,
		StartTime:       copyTime(se.StartTime),
		EndTime:         copyTime(se.EndTime),
		LastUpdated:     se.LastUpdated,
		Version:         se.Version,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
