// Package jsl は YAML で記述されたジョブ定義を読み込み、core.JobDefinition に変換します。
package jsl

// Job represents the top-level structure of a JSL file.
type Job struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Schedule    string     `yaml:"schedule,omitempty"` // cron 形式。登録時に検証されるだけで実行はされない
	Incrementer string     `yaml:"incrementer,omitempty"`
	Parameters  Parameters `yaml:"parameters,omitempty"`
	Steps       []Step     `yaml:"steps"`
}

// Parameters はジョブパラメータの必須キー、許可キー、既定値です。
type Parameters struct {
	Required []string          `yaml:"required,omitempty"`
	Allowed  []string          `yaml:"allowed,omitempty"`
	Defaults map[string]string `yaml:"defaults,omitempty"`
}

// Step represents a single chunk-oriented processing unit within a job.
type Step struct {
	ID        string       `yaml:"id"`
	Reader    ComponentRef `yaml:"reader"`
	Processor ComponentRef `yaml:"processor,omitempty"` // 省略した場合はアイテムをそのまま書き込む
	Writer    ComponentRef `yaml:"writer"`
	Chunk     *Chunk       `yaml:"chunk,omitempty"`
	SkipLimit *int         `yaml:"skip-limit,omitempty"`
}

// ComponentRef refers to a registered component (reader, processor, writer).
type ComponentRef struct {
	Ref        string            `yaml:"ref"`
	Properties map[string]string `yaml:"properties,omitempty"` // JSLから注入されるプロパティ
}

// Chunk defines chunk-oriented processing properties for a step.
type Chunk struct {
	ItemCount int `yaml:"item-count"`
}
