// Package parameters は文字列のキー/値入力を型付きの JobParameters に変換します。
package parameters

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	"github.com/tigerroll/batchjob/pkg/batch/job/incrementer"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

var (
	integerPattern = regexp.MustCompile(`^\d+$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// Codec はパラメータの分類と timestamp の付与を行います。
type Codec struct {
	stamp core.JobParametersIncrementer
}

// NewCodec は現在時刻を timestamp として付与する Codec を作成します。
func NewCodec() *Codec {
	return &Codec{stamp: incrementer.NewTimestampIncrementer(core.TimestampKey)}
}

// WithIncrementer は timestamp を付与する incrementer を差し替えます。
func (c *Codec) WithIncrementer(inc core.JobParametersIncrementer) *Codec {
	c.stamp = inc
	return c
}

var defaultCodec = NewCodec()

// Parse は既定の Codec で raw を変換します。
func Parse(raw map[string]string) (core.JobParameters, error) {
	return defaultCodec.Parse(raw)
}

// Classify は一つの文字列値を INTEGER, DATE, STRING のいずれかに分類します。失敗することはありません。
func Classify(value string) core.JobParameter {
	if integerPattern.MatchString(value) {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return core.IntParameter(v)
		}
		return core.StringParameter(value)
	}
	if datePattern.MatchString(value) {
		if d, err := time.Parse(core.DateLayout, value[:10]); err == nil {
			return core.DateParameter(d)
		}
	}
	return core.StringParameter(value)
}

// Parse は文字列マップを型付きパラメータに変換し、timestamp を付与します。
// キーが空の場合は ParameterParseError を返します。
func (c *Codec) Parse(raw map[string]string) (core.JobParameters, error) {
	values := make(map[string]*string, len(raw))
	for k, v := range raw {
		v := v
		values[k] = &v
	}
	return c.ParseValues(values)
}

// ParseValues は値が nil になりうる入力を変換します。nil の値は ParameterParseError になります。
func (c *Codec) ParseValues(raw map[string]*string) (core.JobParameters, error) {
	params := core.NewJobParameters()
	var violations []string
	for k, v := range raw {
		if strings.TrimSpace(k) == "" {
			violations = append(violations, "パラメータのキーが空です")
			continue
		}
		if v == nil {
			violations = append(violations, fmt.Sprintf("パラメータ '%s' の値が null です", k))
			continue
		}
		params.Put(k, Classify(*v))
	}
	if len(violations) > 0 {
		return core.JobParameters{}, parseError(violations)
	}
	return c.stamp.GetNext(params), nil
}

// ParseTyped は型付き済みの値を含む入力を変換します。
// 整数値の数値は INTEGER、time.Time は DATE、文字列は Classify で分類されます。
func (c *Codec) ParseTyped(raw map[string]any) (core.JobParameters, error) {
	params := core.NewJobParameters()
	var violations []string
	for k, v := range raw {
		if strings.TrimSpace(k) == "" {
			violations = append(violations, "パラメータのキーが空です")
			continue
		}
		switch tv := v.(type) {
		case nil:
			violations = append(violations, fmt.Sprintf("パラメータ '%s' の値が null です", k))
		case int:
			params.Put(k, core.IntParameter(int64(tv)))
		case int64:
			params.Put(k, core.IntParameter(tv))
		case float64:
			if tv == math.Trunc(tv) && tv >= 0 && tv <= math.MaxInt64 {
				params.Put(k, core.IntParameter(int64(tv)))
			} else {
				params.Put(k, core.StringParameter(strconv.FormatFloat(tv, 'f', -1, 64)))
			}
		case time.Time:
			params.Put(k, core.DateParameter(tv))
		case string:
			params.Put(k, Classify(tv))
		default:
			params.Put(k, Classify(fmt.Sprintf("%v", tv)))
		}
	}
	if len(violations) > 0 {
		return core.JobParameters{}, parseError(violations)
	}
	return c.stamp.GetNext(params), nil
}

func parseError(violations []string) error {
	sort.Strings(violations)
	return exception.NewValidationError(exception.CodeInvalidJobParameters, "parameter_codec", "ジョブパラメータの解析に失敗しました", violations...)
}

// MergeDefaults は defaults の上に overrides を重ねたマップを返します。
func MergeDefaults(defaults, overrides map[string]string) map[string]string {
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Validate はジョブ定義の必須/許可パラメータに対して params を検証します。
// 最初の違反で止まらず、全ての違反を InvalidParametersError にまとめて返します。
func Validate(def core.JobDefinition, params core.JobParameters) error {
	var violations []string
	for _, key := range def.RequiredParameters {
		if _, ok := params.Get(key); !ok {
			violations = append(violations, fmt.Sprintf("必須パラメータ '%s' がありません", key))
		}
	}
	if len(def.AllowedParameters) > 0 {
		allowed := map[string]struct{}{core.TimestampKey: {}}
		for _, k := range def.AllowedParameters {
			allowed[k] = struct{}{}
		}
		for _, k := range def.RequiredParameters {
			allowed[k] = struct{}{}
		}
		for _, key := range params.Keys() {
			if _, ok := allowed[key]; !ok {
				violations = append(violations, fmt.Sprintf("パラメータ '%s' は許可されていません", key))
			}
		}
	}
	if len(violations) == 0 {
		return nil
	}
	sort.Strings(violations)
	return exception.NewValidationError(exception.CodeInvalidJobParameters, "job_parameters",
		fmt.Sprintf("ジョブ '%s' のパラメータが不正です", def.Name), violations...)
}
