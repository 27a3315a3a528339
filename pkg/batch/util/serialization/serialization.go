package serialization

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	core "github.com/tigerroll/batchjob/pkg/batch/job/core"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// storedParameter は永続化用の JobParameter 表現です。
// 値は文字列で保持し、INTEGER の精度が JSON の数値変換で失われないようにします。
type storedParameter struct {
	Type        core.ParameterType `json:"type"`
	Value       string             `json:"value"`
	Identifying bool               `json:"identifying"`
}

// MarshalJobParameters は JobParameters を JSON バイトスライスにシリアライズします。
func MarshalJobParameters(params core.JobParameters) ([]byte, error) {
	module := "serialization"
	if params.Params == nil {
		return []byte("{}"), nil
	}
	stored := make(map[string]storedParameter, len(params.Params))
	for k, p := range params.Params {
		stored[k] = storedParameter{Type: p.Type, Value: p.String(), Identifying: p.Identifying}
	}
	data, err := json.Marshal(stored)
	if err != nil {
		logger.Errorf("JobParameters のシリアライズに失敗しました: %v", err)
		return nil, exception.NewBatchError(module, "JobParameters のシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalJobParameters は JSON バイトスライスを JobParameters にデシリアライズします。
// 空データや "null" は空の JobParameters になります。
func UnmarshalJobParameters(data []byte, params *core.JobParameters) error {
	module := "serialization"
	*params = core.NewJobParameters()
	if len(data) == 0 || string(data) == "null" {
		logger.Debugf("JobParameters が空データです。空の JobParameters を作成しました。")
		return nil
	}

	var stored map[string]storedParameter
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Errorf("JobParameters のデシリアライズに失敗しました: %v", err)
		return exception.NewBatchError(module, "JobParameters のデシリアライズに失敗しました", err, false, false)
	}
	for k, sp := range stored {
		p, err := decodeParameter(sp)
		if err != nil {
			return exception.NewBatchError(module, fmt.Sprintf("パラメータ '%s' のデコードに失敗しました", k), err, false, false)
		}
		params.Put(k, p)
	}
	return nil
}

func decodeParameter(sp storedParameter) (core.JobParameter, error) {
	var p core.JobParameter
	switch sp.Type {
	case core.ParameterTypeInteger:
		v, err := strconv.ParseInt(sp.Value, 10, 64)
		if err != nil {
			return p, err
		}
		p = core.IntParameter(v)
	case core.ParameterTypeDate:
		d, err := time.Parse(core.DateLayout, sp.Value)
		if err != nil {
			return p, err
		}
		p = core.DateParameter(d)
	case core.ParameterTypeString:
		p = core.StringParameter(sp.Value)
	default:
		return p, fmt.Errorf("未知のパラメータ型です: %s", sp.Type)
	}
	p.Identifying = sp.Identifying
	return p, nil
}

// MarshalStringMap は文字列マップを JSON にシリアライズします。nil は "{}" になります。
func MarshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, exception.NewBatchError("serialization", "マップのシリアライズに失敗しました", err, false, false)
	}
	return data, nil
}

// UnmarshalStringMap は JSON を文字列マップにデシリアライズします。
func UnmarshalStringMap(data []byte) (map[string]string, error) {
	out := make(map[string]string)
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, exception.NewBatchError("serialization", "マップのデシリアライズに失敗しました", err, false, false)
	}
	return out, nil
}
