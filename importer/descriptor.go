// Package importer implements the import/clone protocol (C6): rehydrating
// a pipeline's params, schedules and jobs from a serialized descriptor whose
// job and start-condition identifiers are source-local, and the collection
// update discipline (§4.8) that reconciles params/start-conditions/schedules
// against an incoming list by id membership.
package importer

import "github.com/go-playground/validator/v10"

// ParamDescriptor is one entry of a Pipeline/Job's params list in a
// descriptor. ID is zero for a new param.
type ParamDescriptor struct {
	ID          uint
	Name        string `validate:"required"`
	Type        string `validate:"required,oneof=string number boolean string_list number_list"`
	IsRequired  bool
	Description string
	Label       string
	Value       string
}

// ScheduleDescriptor mirrors store.Schedule for import purposes.
type ScheduleDescriptor struct {
	ID   uint
	Cron string `validate:"required"`
}

// StartConditionDescriptor references its preceding job by the source-local
// job id, not a persisted one (§4.7).
type StartConditionDescriptor struct {
	PrecedingJobID uint
	Condition      string `validate:"required,oneof=success fail whatever"`
}

// JobDescriptor is one entry of the descriptor's jobs list. ID is the
// source-local identifier referenced by other jobs' HashStartConditions.
type JobDescriptor struct {
	ID                  uint
	Name                string `validate:"required"`
	WorkerClass         string `validate:"required"`
	Params              []ParamDescriptor         `validate:"dive"`
	HashStartConditions []StartConditionDescriptor `validate:"dive"`
}

// PipelineDescriptor is the full import payload for a single pipeline
// (§4.7).
type PipelineDescriptor struct {
	Params    []ParamDescriptor    `validate:"dive"`
	Schedules []ScheduleDescriptor `validate:"dive"`
	Jobs      []JobDescriptor      `validate:"dive"`
}

var validate = validator.New()

// Validate checks the descriptor's required fields and closed enums before
// Import touches the store, so a malformed payload fails fast with a single
// aggregate error instead of a partial write.
func (d PipelineDescriptor) Validate() error {
	return validate.Struct(d)
}
