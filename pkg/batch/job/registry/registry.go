// Package registry は登録済みのジョブ定義を保持します。
package registry

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// JobNamePattern はジョブ名として使用できる文字列のパターンです。
var JobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// JobRegistry はジョブ名からジョブ定義を引くための追記専用のテーブルです。
// 同じロックでジョブランチャーの重複起動チェックも保護します。
type JobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]core.JobDefinition
}

// NewJobRegistry は空の JobRegistry を作成します。
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{jobs: make(map[string]core.JobDefinition)}
}

// ValidateDefinition はジョブ定義の形式を検証し、全ての違反をまとめて返します。
func ValidateDefinition(def core.JobDefinition) error {
	var violations []string
	if !JobNamePattern.MatchString(def.Name) {
		violations = append(violations, fmt.Sprintf("ジョブ名 '%s' は %s に一致しません", def.Name, JobNamePattern.String()))
	}
	if len(def.Steps) == 0 {
		violations = append(violations, "ステップが一つも定義されていません")
	}
	seen := make(map[string]struct{}, len(def.Steps))
	for i, s := range def.Steps {
		if strings.TrimSpace(s.Name) == "" {
			violations = append(violations, fmt.Sprintf("ステップ %d の名前が空です", i))
		} else if _, dup := seen[s.Name]; dup {
			violations = append(violations, fmt.Sprintf("ステップ名 '%s' が重複しています", s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.ChunkSize <= 0 {
			violations = append(violations, fmt.Sprintf("ステップ '%s' のチャンクサイズは 1 以上である必要があります: %d", s.Name, s.ChunkSize))
		}
		if s.SkipLimit < 0 {
			violations = append(violations, fmt.Sprintf("ステップ '%s' のスキップ上限は 0 以上である必要があります: %d", s.Name, s.SkipLimit))
		}
		if s.Factory == nil {
			violations = append(violations, fmt.Sprintf("ステップ '%s' の Factory が設定されていません", s.Name))
		}
	}
	if def.Schedule != "" {
		if _, err := cronParser.Parse(def.Schedule); err != nil {
			violations = append(violations, fmt.Sprintf("スケジュール '%s' は cron 式として不正です: %v", def.Schedule, err))
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return exception.NewValidationError(exception.CodeInvalidJobDefinition, "job_registry",
		fmt.Sprintf("ジョブ定義 '%s' が不正です", def.Name), violations...)
}

// Register はジョブ定義を検証して登録します。同名のジョブが既にある場合はエラーを返します。
func (r *JobRegistry) Register(def core.JobDefinition) error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[def.Name]; exists {
		return exception.NewConflictError(exception.CodeJobAlreadyExists, "job_registry",
			fmt.Sprintf("ジョブ '%s' は既に登録されています", def.Name))
	}
	r.jobs[def.Name] = def.Copy()
	logger.Infof("ジョブ '%s' を登録しました (ステップ数: %d)。", def.Name, len(def.Steps))
	return nil
}

// Get は登録済みのジョブ定義のコピーを返します。
func (r *JobRegistry) Get(name string) (core.JobDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lookup(name)
}

func (r *JobRegistry) lookup(name string) (core.JobDefinition, error) {
	def, ok := r.jobs[name]
	if !ok {
		return core.JobDefinition{}, exception.NewNotFoundError(exception.CodeJobNotFound, "job_registry",
			fmt.Sprintf("ジョブ '%s' は登録されていません", name))
	}
	return def.Copy(), nil
}

// List は登録済みのジョブ名をソートして返します。
func (r *JobRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Locked は WithLock の中でだけ使用できる操作です。
type Locked struct {
	r *JobRegistry
}

// Get はロックを再取得せずにジョブ定義を返します。
func (l Locked) Get(name string) (core.JobDefinition, error) {
	return l.r.lookup(name)
}

// WithLock は書き込みロックを保持したまま fn を実行します。
// fn の中から JobRegistry のメソッドを呼び出すとデッドロックするため、引数の Locked を使用します。
func (r *JobRegistry) WithLock(fn func(Locked) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(Locked{r: r})
}
