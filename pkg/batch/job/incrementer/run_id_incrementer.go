package incrementer

import (
	"fmt"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// RunIDIncrementer はジョブパラメータの "run.id" を追加またはインクリメントする JobParametersIncrementer の実装です。
// "run.id" は識別用パラメータなので、値が変わると別の JobInstance になります。
// ランチャーからは GetNextFrom で呼び出され、直前の実行の "run.id" を引き継ぎます。
type RunIDIncrementer struct {
	name string
}

// NewRunIDIncrementer は新しい RunIDIncrementer のインスタンスを作成します。
func NewRunIDIncrementer(name string) *RunIDIncrementer {
	return &RunIDIncrementer{name: name}
}

// GetNext は "run.id" が存在しなければ 1 を、存在すればインクリメントした値を設定したコピーを返します。
func (i *RunIDIncrementer) GetNext(params core.JobParameters) core.JobParameters {
	next := params.Copy()
	current, ok := params.GetInt(i.name)
	if !ok {
		next.Put(i.name, core.IntParameter(1))
		logger.Debugf("JobParametersIncrementer '%s': '%s' が見つからないため、1 を設定しました。", i.name, i.name)
		return next
	}
	next.Put(i.name, core.IntParameter(current+1))
	logger.Debugf("JobParametersIncrementer '%s': '%s' を %d から %d にインクリメントしました。", i.name, i.name, current, current+1)
	return next
}

// GetNextFrom は params に "run.id" があればそれをインクリメントし、
// なければ直前の実行の "run.id" に 1 を加えた値を設定したコピーを返します。
func (i *RunIDIncrementer) GetNextFrom(previous *core.JobParameters, params core.JobParameters) core.JobParameters {
	if _, ok := params.GetInt(i.name); ok || previous == nil {
		return i.GetNext(params)
	}
	last, ok := previous.GetInt(i.name)
	if !ok {
		return i.GetNext(params)
	}
	next := params.Copy()
	next.Put(i.name, core.IntParameter(last+1))
	logger.Debugf("JobParametersIncrementer '%s': 直前の実行の '%s' (%d) から %d を設定しました。", i.name, i.name, last, last+1)
	return next
}

// String は RunIDIncrementer の文字列表現を返します。
func (i *RunIDIncrementer) String() string {
	return fmt.Sprintf("RunIDIncrementer[name=%s]", i.name)
}

var _ core.PreviousParametersIncrementer = (*RunIDIncrementer)(nil)
