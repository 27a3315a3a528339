package incrementer

import (
	"fmt"
	"time"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// TimestampIncrementer はジョブパラメータに現在時刻のUnixミリ秒を INTEGER として設定する
// JobParametersIncrementer の実装です。
// 設定されるパラメータは識別用ではないため、JobInstance の同一性には影響しません。
type TimestampIncrementer struct {
	name string
	now  func() time.Time
}

// NewTimestampIncrementer は新しい TimestampIncrementer のインスタンスを作成します。
func NewTimestampIncrementer(name string) *TimestampIncrementer {
	return &TimestampIncrementer{name: name, now: time.Now}
}

// WithClock は時刻の取得元を差し替えます。
func (i *TimestampIncrementer) WithClock(now func() time.Time) *TimestampIncrementer {
	i.now = now
	return i
}

// GetNext は与えられた JobParameters のコピーに timestamp を設定して返します。
// 既に値がある場合は上書きします。
func (i *TimestampIncrementer) GetNext(params core.JobParameters) core.JobParameters {
	next := params.Copy()
	ts := i.now().UnixMilli()
	next.Put(i.name, core.JobParameter{Type: core.ParameterTypeInteger, Value: ts, Identifying: false})
	logger.Debugf("JobParametersIncrementer '%s': '%s' を %d に設定しました。", i.name, i.name, ts)
	return next
}

// String は TimestampIncrementer の文字列表現を返します。
func (i *TimestampIncrementer) String() string {
	return fmt.Sprintf("TimestampIncrementer[name=%s]", i.name)
}

var _ core.JobParametersIncrementer = (*TimestampIncrementer)(nil)
