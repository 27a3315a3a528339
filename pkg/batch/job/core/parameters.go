package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// ParameterType はジョブパラメータ値の型です。
type ParameterType string

const (
	ParameterTypeInteger ParameterType = "INTEGER"
	ParameterTypeDate    ParameterType = "DATE"
	ParameterTypeString  ParameterType = "STRING"
)

// DateLayout は DATE パラメータの文字列表現です。
const DateLayout = "2006-01-02"

// TimestampKey はエンジンが起動ごとに付与するパラメータのキーです。
const TimestampKey = "timestamp"

// JobParameter は型付きのパラメータ値です。
// Value は INTEGER なら int64、DATE なら time.Time (UTC の0時)、STRING なら string です。
// Identifying が false のパラメータは JobInstance の同一性判定に使われません。
type JobParameter struct {
	Type        ParameterType
	Value       interface{}
	Identifying bool
}

// IntParameter は識別用の INTEGER パラメータを作成します。
func IntParameter(v int64) JobParameter {
	return JobParameter{Type: ParameterTypeInteger, Value: v, Identifying: true}
}

// DateParameter は識別用の DATE パラメータを作成します。
func DateParameter(v time.Time) JobParameter {
	y, m, d := v.Date()
	return JobParameter{Type: ParameterTypeDate, Value: time.Date(y, m, d, 0, 0, 0, 0, time.UTC), Identifying: true}
}

// StringParameter は識別用の STRING パラメータを作成します。
func StringParameter(v string) JobParameter {
	return JobParameter{Type: ParameterTypeString, Value: v, Identifying: true}
}

// String はパラメータ値の文字列表現を返します。
func (p JobParameter) String() string {
	switch v := p.Value.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case time.Time:
		return v.Format(DateLayout)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// JobParameters はジョブ実行時の型付きパラメータの集合です。キーの順序には依存しません。
type JobParameters struct {
	Params map[string]JobParameter
}

// NewJobParameters は空の JobParameters を作成します。
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]JobParameter)}
}

// Put はパラメータを設定します。
func (jp JobParameters) Put(key string, p JobParameter) {
	jp.Params[key] = p
}

// Get はキーに対応するパラメータを返します。
func (jp JobParameters) Get(key string) (JobParameter, bool) {
	p, ok := jp.Params[key]
	return p, ok
}

// GetInt は INTEGER パラメータの値を返します。
func (jp JobParameters) GetInt(key string) (int64, bool) {
	p, ok := jp.Params[key]
	if !ok || p.Type != ParameterTypeInteger {
		return 0, false
	}
	v, ok := p.Value.(int64)
	return v, ok
}

// GetString は STRING パラメータの値を返します。
func (jp JobParameters) GetString(key string) (string, bool) {
	p, ok := jp.Params[key]
	if !ok || p.Type != ParameterTypeString {
		return "", false
	}
	v, ok := p.Value.(string)
	return v, ok
}

// GetDate は DATE パラメータの値を返します。
func (jp JobParameters) GetDate(key string) (time.Time, bool) {
	p, ok := jp.Params[key]
	if !ok || p.Type != ParameterTypeDate {
		return time.Time{}, false
	}
	v, ok := p.Value.(time.Time)
	return v, ok
}

// Len はパラメータ数を返します。
func (jp JobParameters) Len() int {
	return len(jp.Params)
}

// Keys はソート済みのキー一覧を返します。
func (jp JobParameters) Keys() []string {
	keys := make([]string, 0, len(jp.Params))
	for k := range jp.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Copy はコピーを返します。
func (jp JobParameters) Copy() JobParameters {
	cp := NewJobParameters()
	for k, v := range jp.Params {
		cp.Params[k] = v
	}
	return cp
}

// Identifying は識別用パラメータのみを含むコピーを返します。
func (jp JobParameters) Identifying() JobParameters {
	cp := NewJobParameters()
	for k, v := range jp.Params {
		if v.Identifying {
			cp.Params[k] = v
		}
	}
	return cp
}

// StringMap はキーと値の文字列表現のマップを返します。
func (jp JobParameters) StringMap() map[string]string {
	out := make(map[string]string, len(jp.Params))
	for k, v := range jp.Params {
		out[k] = v.String()
	}
	return out
}

// Equal は型と値が全て一致するかを判定します。
func (jp JobParameters) Equal(other JobParameters) bool {
	if len(jp.Params) != len(other.Params) {
		return false
	}
	for k, v := range jp.Params {
		o, ok := other.Params[k]
		if !ok || o.Type != v.Type || o.Identifying != v.Identifying || o.String() != v.String() {
			return false
		}
	}
	return true
}

type canonicalParam struct {
	Key   string        `json:"k"`
	Type  ParameterType `json:"t"`
	Value string        `json:"v"`
}

// Hash は識別用パラメータの正規化表現の SHA-256 を返します。
// キーはソートされ、型も含めて比較されるため INTEGER 5 と STRING "5" は別のハッシュになります。
func (jp JobParameters) Hash() (string, error) {
	identifying := jp.Identifying()
	canonical := make([]canonicalParam, 0, identifying.Len())
	for _, k := range identifying.Keys() {
		p := identifying.Params[k]
		canonical = append(canonical, canonicalParam{Key: k, Type: p.Type, Value: p.String()})
	}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("JobParameters の正規化に失敗しました: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// String はパラメータをソート済みの "key=value(TYPE)" 形式で返します。
func (jp JobParameters) String() string {
	out := "{"
	for i, k := range jp.Keys() {
		if i > 0 {
			out += ", "
		}
		p := jp.Params[k]
		out += fmt.Sprintf("%s=%s(%s)", k, p.String(), p.Type)
	}
	return out + "}"
}
