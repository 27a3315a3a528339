package api

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tigerroll/batchjob/pkg/batch/job/joboperator"
	"github.com/tigerroll/batchjob/pkg/batch/job/registry"
	exception "github.com/tigerroll/batchjob/pkg/batch/util/exception"
)

// RegistrationDTO は POST /api/jobs のリクエストボディです。
type RegistrationDTO struct {
	JobName           string            `json:"jobName" validate:"required,jobname"`
	Description       string            `json:"description" validate:"required,max=500"`
	DefaultParameters map[string]string `json:"defaultParameters" validate:"omitempty,dive,keys,required,endkeys"`
	CronExpression    string            `json:"cronExpression"`
	Template          string            `json:"template"`
}

// ToRequest は RegistrationRequest に変換します。
func (d RegistrationDTO) ToRequest() joboperator.RegistrationRequest {
	return joboperator.RegistrationRequest{
		JobName:           d.JobName,
		Description:       d.Description,
		DefaultParameters: d.DefaultParameters,
		CronExpression:    strings.TrimSpace(d.CronExpression),
		Template:          d.Template,
	}
}

// LaunchDTO は POST /api/jobs/{jobName}/execute のリクエストボディです。
type LaunchDTO struct {
	JobName    string            `json:"jobName" validate:"omitempty,jobname"`
	Parameters map[string]string `json:"parameters" validate:"omitempty,dive,keys,required,endkeys"`
}

type pathParams struct {
	JobName string `validate:"required,jobname"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("jobname", func(fl validator.FieldLevel) bool {
		return registry.JobNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// validateStruct は構造体を検証し、違反を VALIDATION_ERROR にまとめます。
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	ves, ok := err.(validator.ValidationErrors)
	if !ok {
		return exception.NewValidationError(exception.CodeValidation, "api", "リクエストの検証に失敗しました", err.Error())
	}
	violations := make([]string, 0, len(ves))
	for _, fe := range ves {
		if fe.Param() != "" {
			violations = append(violations, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			violations = append(violations, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return exception.NewValidationError(exception.CodeValidation, "api", "リクエストが不正です", violations...)
}
