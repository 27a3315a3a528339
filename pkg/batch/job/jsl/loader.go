package jsl

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchjob/pkg/batch/util/exception"
	logger "github.com/tigerroll/batchjob/pkg/batch/util/logger"
)

// LoadJSLDefinitionsFromBytes は YAML のバイトデータからジョブ定義をロードします。
// '---' で区切られた複数のドキュメントを含めることができます。
func LoadJSLDefinitionsFromBytes(data []byte) ([]Job, error) {
	module := "jsl_loader"
	logger.Infof("JSL 定義のロードを開始します。")

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var jobs []Job
	seen := make(map[string]struct{})
	for {
		var jobDef Job
		err := dec.Decode(&jobDef)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, exception.NewValidationError(exception.CodeInvalidJobDefinition, module,
				fmt.Sprintf("JSL ファイルのパースに失敗しました: %v", err))
		}
		if err := validateJob(jobDef); err != nil {
			return nil, err
		}
		if _, exists := seen[jobDef.ID]; exists {
			return nil, exception.NewValidationError(exception.CodeInvalidJobDefinition, module,
				fmt.Sprintf("JSL ジョブID '%s' が重複しています", jobDef.ID))
		}
		seen[jobDef.ID] = struct{}{}
		jobs = append(jobs, jobDef)
		logger.Infof("JSL ジョブ '%s' をロードしました。", jobDef.ID)
	}
	logger.Infof("JSL 定義のロードが完了しました。ロードされたジョブ数: %d", len(jobs))
	return jobs, nil
}

func validateJob(jobDef Job) error {
	var violations []string
	if jobDef.ID == "" {
		violations = append(violations, "'id' が定義されていません")
	}
	if jobDef.Name == "" {
		violations = append(violations, "'name' が定義されていません")
	}
	if len(jobDef.Steps) == 0 {
		violations = append(violations, "'steps' が定義されていません")
	}
	for i, s := range jobDef.Steps {
		if s.ID == "" {
			violations = append(violations, fmt.Sprintf("steps[%d] に 'id' が定義されていません", i))
		}
		if s.Reader.Ref == "" {
			violations = append(violations, fmt.Sprintf("ステップ '%s' に 'reader' が定義されていません", s.ID))
		}
		if s.Writer.Ref == "" {
			violations = append(violations, fmt.Sprintf("ステップ '%s' に 'writer' が定義されていません", s.ID))
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return exception.NewValidationError(exception.CodeInvalidJobDefinition, "jsl_loader",
		fmt.Sprintf("JSL ジョブ '%s' の定義が不正です", jobDef.ID), violations...)
}
