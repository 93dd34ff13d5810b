// Package store is the entity store adapter (C2): persisted CRUD for
// Pipeline, Job, Param, StartCondition and Schedule, plus the inert
// GeneralSetting and Stage tables carried over from the original schema.
// It is the only place persistence concerns (gorm, SQL) appear; the core
// package talks to it exclusively through the Store methods and the
// in-package query helpers.
package store

import "time"

// Status is the closed enum shared by Pipeline and Job (§3, §9 "run-time
// polymorphism on status").
type Status string

const (
	StatusIdle      Status = "idle"
	StatusWaiting   Status = "waiting" // job-only intermediate state
	StatusRunning   Status = "running"
	StatusStopping  Status = "stopping"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	// StatusFinished is accepted as an alias for a terminal status on entry
	// to core.Engine.StartPipeline, never persisted.
	StatusFinished Status = "finished"
)

// IsTerminal reports whether status is a terminal pipeline/job outcome.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Condition is the wire token set for a StartCondition edge (§3, §6).
type Condition string

const (
	ConditionSuccess  Condition = "success"
	ConditionFail     Condition = "fail"
	ConditionWhatever Condition = "whatever"
)

// ParamType is the wire token set for Param.Type (§3, §6).
type ParamType string

const (
	ParamString      ParamType = "string"
	ParamNumber      ParamType = "number"
	ParamBoolean     ParamType = "boolean"
	ParamStringList  ParamType = "string_list"
	ParamNumberList  ParamType = "number_list"
)

// Pipeline is a named DAG of jobs with shared params, a schedule set, a
// status and notification recipients (§3).
type Pipeline struct {
	ID                      uint   `gorm:"primaryKey"`
	Name                    string `gorm:"size:255"`
	EmailsForNotifications  string `gorm:"size:255"`
	Status                  Status `gorm:"size:50;not null;default:idle"`
	StatusChangedAt         *time.Time
	RunOnSchedule           bool `gorm:"not null;default:false"`

	Jobs      []Job      `gorm:"constraint:OnDelete:CASCADE"`
	Schedules []Schedule `gorm:"constraint:OnDelete:CASCADE"`
	Params    []Param    `gorm:"constraint:OnDelete:CASCADE"`
}

// Recipients splits the whitespace-separated notification addresses.
func (p *Pipeline) Recipients() []string {
	return splitWhitespace(p.EmailsForNotifications)
}

// IsBlocked reports whether a manual start is currently disallowed (§3).
func (p *Pipeline) IsBlocked() bool {
	return p.RunOnSchedule || p.Status == StatusRunning || p.Status == StatusStopping
}

// Job is a unit of work within a pipeline; it dispatches one or more worker
// tasks (§3).
type Job struct {
	ID                   uint   `gorm:"primaryKey"`
	Name                 string `gorm:"size:255"`
	Status               Status `gorm:"size:50;not null;default:idle"`
	StatusChangedAt      *time.Time
	WorkerClass          string `gorm:"size:255"`
	PipelineID           uint   `gorm:"index"`
	EnqueuedWorkersCount int    `gorm:"not null;default:0"`

	Params []Param `gorm:"constraint:OnDelete:CASCADE"`
	// StartConditions are this job's inbound edges (preceding_job -> job).
	StartConditions []StartCondition `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE"`
}

// StartCondition is a directed edge preceding_job -> job annotated with a
// condition (§3).
type StartCondition struct {
	ID             uint      `gorm:"primaryKey"`
	JobID          uint      `gorm:"index"`
	PrecedingJobID uint      `gorm:"index"`
	Condition      Condition `gorm:"size:255"`
}

// Param is a typed, possibly inlined value scoped to global, pipeline or
// job (§3).
type Param struct {
	ID          uint      `gorm:"primaryKey"`
	Name        string    `gorm:"size:255;not null"`
	Type        ParamType `gorm:"size:50;not null"`
	PipelineID  *uint     `gorm:"index"`
	JobID       *uint     `gorm:"index"`
	IsRequired  bool      `gorm:"not null;default:false"`
	Description string    `gorm:"type:text"`
	Label       string    `gorm:"size:255"`
	Value       string    `gorm:"type:text"`
}

// Scope reports which of global/pipeline/job scope this param occupies.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopePipeline
	ScopeJob
)

func (p *Param) Scope() Scope {
	switch {
	case p.JobID != nil:
		return ScopeJob
	case p.PipelineID != nil:
		return ScopePipeline
	default:
		return ScopeGlobal
	}
}

// APIVal is the raw, unexpanded value as surfaced over an API - distinct
// from the expanded Val computed by the param package (supplemented from
// the original's Param.api_val, see SPEC_FULL.md §6).
func (p *Param) APIVal() interface{} {
	if p.Type == ParamBoolean {
		return p.Value == "1"
	}
	return p.Value
}

// Schedule is a cron expression bound to a pipeline, consumed only by an
// external scheduler front-end (§3).
type Schedule struct {
	ID         uint   `gorm:"primaryKey"`
	PipelineID uint   `gorm:"index"`
	Cron       string `gorm:"size:255"`
}

// GeneralSetting is an inert key/value row carried over from the original
// schema (§6); no core behavior depends on it.
type GeneralSetting struct {
	ID    uint   `gorm:"primaryKey"`
	Name  string `gorm:"size:255"`
	Value string `gorm:"type:text"`
}

// Stage is an inert staging row carried over from the original schema (§6).
type Stage struct {
	ID  uint   `gorm:"primaryKey"`
	SID string `gorm:"size:255"`
}

func splitWhitespace(s string) []string {
	var out []string
	field := make([]byte, 0, len(s))
	flush := func() {
		if len(field) > 0 {
			out = append(out, string(field))
			field = field[:0]
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\t' || c == '\n' || c == '\r' {
			flush()
			continue
		}
		field = append(field, c)
	}
	flush()
	return out
}
