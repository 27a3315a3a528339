package joboperator

import (
	"context"
	"fmt"
	"math"
	"sort"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/joblauncher"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	"github.com/tigerroll/batchjob/pkg/batch/repository/job"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

const (
	// DefaultPageSize は History で pageSize が指定されなかった場合の件数です。
	DefaultPageSize = 10
	// MaxPageSize は History の pageSize の上限です。
	MaxPageSize = 100
	// MaxPage は History で指定できるページ番号の上限です。
	MaxPage = math.MaxInt32

	// StatusRegistered は登録成功時に返すステータスです。
	StatusRegistered = "REGISTERED"
)

// JobTemplate は API から登録されるジョブのステップ定義を生成します。
type JobTemplate func() []core.StepDefinition

// DefaultJobOperator は JobOperator インターフェースのデフォルト実装です。
// 起動と停止は JobLauncher に、定義は JobRegistry に、履歴は JobRepository に委譲します。
type DefaultJobOperator struct {
	registry        *registry.JobRegistry
	launcher        joblauncher.JobLauncher
	jobRepository   job.JobRepository
	templates       map[string]JobTemplate
	defaultTemplate string
}

// DefaultJobOperator が JobOperator インターフェースを満たすことを確認します。
var _ JobOperator = (*DefaultJobOperator)(nil)

// NewDefaultJobOperator は新しい DefaultJobOperator のインスタンスを作成します。
func NewDefaultJobOperator(reg *registry.JobRegistry, launcher joblauncher.JobLauncher, jobRepository job.JobRepository) *DefaultJobOperator {
	return &DefaultJobOperator{
		registry:      reg,
		launcher:      launcher,
		jobRepository: jobRepository,
		templates:     make(map[string]JobTemplate),
	}
}

// RegisterTemplate はジョブテンプレートを登録します。最初に登録されたものが既定になります。
func (o *DefaultJobOperator) RegisterTemplate(name string, tmpl JobTemplate) {
	o.templates[name] = tmpl
	if o.defaultTemplate == "" {
		o.defaultTemplate = name
	}
}

// SetDefaultTemplate は既定のジョブテンプレートを変更します。
func (o *DefaultJobOperator) SetDefaultTemplate(name string) {
	o.defaultTemplate = name
}

// Templates は登録されているテンプレート名をソートして返します。
func (o *DefaultJobOperator) Templates() []string {
	names := make([]string, 0, len(o.templates))
	for name := range o.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Register はテンプレートのステップで新しいジョブを登録します。
func (o *DefaultJobOperator) Register(ctx context.Context, req RegistrationRequest) (*JobExecutionResponse, error) {
	module := "job_operator"
	name := req.Template
	if name == "" {
		name = o.defaultTemplate
	}
	tmpl, ok := o.templates[name]
	if !ok {
		return nil, exception.NewValidationError(exception.CodeValidation, module,
			fmt.Sprintf("ジョブテンプレート '%s' は存在しません", name))
	}

	def := core.JobDefinition{
		Name:              req.JobName,
		Description:       req.Description,
		Steps:             tmpl(),
		DefaultParameters: req.DefaultParameters,
		Schedule:          req.CronExpression,
	}
	if err := o.registry.Register(def); err != nil {
		if _, ok := exception.As(err); ok {
			return nil, err
		}
		return nil, exception.NewInternalError(exception.CodeJobRegistrationFailed, module,
			fmt.Sprintf("ジョブ '%s' の登録に失敗しました", req.JobName), err)
	}
	logger.Infof("ジョブ '%s' をテンプレート '%s' で登録しました。", req.JobName, name)
	return &JobExecutionResponse{JobName: req.JobName, Status: StatusRegistered}, nil
}

// Launch はジョブを起動し、起動直後のスナップショットを返します。
func (o *DefaultJobOperator) Launch(ctx context.Context, jobName string, params map[string]string) (*JobResponse, error) {
	je, err := o.launcher.Launch(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	return NewJobResponse(je), nil
}

// LaunchAndWait はジョブを起動し、終了するまで待ってから最終状態を返します。
func (o *DefaultJobOperator) LaunchAndWait(ctx context.Context, jobName string, params map[string]string) (*JobResponse, error) {
	je, err := o.launcher.LaunchAndWait(ctx, jobName, params)
	if je == nil {
		return nil, err
	}
	return NewJobResponse(je), err
}

// Status は指定された JobExecution の現在の状態を返します。
// 実行中の場合はワーカーが保持する最新の状態を返します。
func (o *DefaultJobOperator) Status(ctx context.Context, jobName string, executionID int64) (*JobResponse, error) {
	je, err := o.find(ctx, jobName, executionID, exception.CodeJobStatusFetchFailed)
	if err != nil {
		return nil, err
	}
	return NewJobResponse(je), nil
}

// History はジョブの実行履歴をページ単位で返します。
// pageSize が 0 以下の場合は DefaultPageSize、MaxPageSize を超える場合は MaxPageSize になります。
func (o *DefaultJobOperator) History(ctx context.Context, jobName string, page, pageSize int) (*JobHistoryPage, error) {
	if page < 0 {
		page = 0
	}
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}

	// page*pageSize が int の範囲を超える場合は、必ず範囲外になる offset で総件数だけを取得する
	offset := math.MaxInt
	if page <= (math.MaxInt-1)/pageSize {
		offset = page * pageSize
	}

	executions, total, err := o.jobRepository.FindJobExecutionsByJobName(ctx, jobName, offset, pageSize)
	if err != nil {
		return nil, exception.NewInternalError(exception.CodeJobHistoryFetchFailed, "job_operator",
			fmt.Sprintf("ジョブ '%s' の実行履歴の取得に失敗しました", jobName), err)
	}
	items := make([]*JobResponse, 0, len(executions))
	for _, je := range executions {
		if active, ok := o.launcher.Active(je.ID); ok {
			je = active
		}
		items = append(items, NewJobResponse(je))
	}
	logger.Debugf("ジョブ '%s' の実行履歴を %d 件取得しました (page: %d, size: %d, total: %d)。", jobName, len(items), page, pageSize, total)
	return &JobHistoryPage{Items: items, Page: page, PageSize: pageSize, Total: total}, nil
}

// Stop は実行中の JobExecution に停止を要求します。
func (o *DefaultJobOperator) Stop(ctx context.Context, jobName string, executionID int64) error {
	if _, err := o.find(ctx, jobName, executionID, exception.CodeJobStopFailed); err != nil {
		return err
	}
	return o.launcher.Stop(ctx, executionID)
}

// Abandon は終了していない JobExecution を放棄します。
func (o *DefaultJobOperator) Abandon(ctx context.Context, jobName string, executionID int64) error {
	if _, err := o.find(ctx, jobName, executionID, exception.CodeJobStopFailed); err != nil {
		return err
	}
	return o.launcher.Abandon(ctx, executionID)
}

// JobNames は登録されている全てのジョブ名を返します。
func (o *DefaultJobOperator) JobNames() []string {
	return o.registry.List()
}

// find は実行中のスナップショット、なければ永続化された JobExecution を返し、ジョブ名の一致を確認します。
func (o *DefaultJobOperator) find(ctx context.Context, jobName string, executionID int64, failCode string) (*core.JobExecution, error) {
	module := "job_operator"
	je, ok := o.launcher.Active(executionID)
	if !ok {
		var err error
		je, err = o.jobRepository.FindJobExecutionByID(ctx, executionID)
		if err != nil {
			if exception.KindOf(err) == exception.KindNotFound {
				return nil, err
			}
			return nil, exception.NewInternalError(failCode, module,
				fmt.Sprintf("JobExecution (ID: %d) の取得に失敗しました", executionID), err)
		}
	}
	if je.JobName != jobName {
		return nil, exception.NewValidationError(exception.CodeJobNameMismatch, module,
			fmt.Sprintf("JobExecution (ID: %d) はジョブ '%s' の実行ではありません", executionID, jobName))
	}
	return je, nil
}
