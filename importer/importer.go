package importer

import (
	"networkteam.com/lab/pipelinecore/core/errs"
	"networkteam.com/lab/pipelinecore/store"
)

// Import implements §4.7 for pipeline. Jobs are always freshly created
// (cloning, not reconciling); params and schedules owned directly by the
// pipeline go through the §4.8 collection update discipline.
func Import(st *store.Store, pipelineID uint, desc PipelineDescriptor) error {
	if err := desc.Validate(); err != nil {
		return errs.WrapBadExpression(err, "import descriptor")
	}

	if err := reconcileParams(st, pipelineID, nil, desc.Params); err != nil {
		return err
	}
	if err := reconcileSchedules(st, pipelineID, desc.Schedules); err != nil {
		return err
	}

	sourceToNewJobID := make(map[uint]uint, len(desc.Jobs))

	for _, jd := range desc.Jobs {
		job := &store.Job{
			Name:        jd.Name,
			WorkerClass: jd.WorkerClass,
			PipelineID:  pipelineID,
			Status:      store.StatusIdle,
		}
		if err := st.CreateJob(job); err != nil {
			return errs.WrapStoreFailure(err)
		}
		sourceToNewJobID[jd.ID] = job.ID

		jobID := job.ID
		if err := reconcileParams(st, pipelineID, &jobID, jd.Params); err != nil {
			return err
		}
	}

	for _, jd := range desc.Jobs {
		newJobID, ok := sourceToNewJobID[jd.ID]
		if !ok {
			continue
		}
		for _, sc := range jd.HashStartConditions {
			precedingID, ok := sourceToNewJobID[sc.PrecedingJobID]
			if !ok {
				return errs.WrapBadExpression(errUnknownPrecedingJob, "hash_start_conditions")
			}
			condition := store.Condition(sc.Condition)
			if err := st.CreateStartCondition(&store.StartCondition{
				JobID:          newJobID,
				PrecedingJobID: precedingID,
				Condition:      condition,
			}); err != nil {
				return errs.WrapStoreFailure(err)
			}
		}
	}

	return nil
}

var errUnknownPrecedingJob = storeErr("hash_start_conditions references an id not present in this descriptor's jobs")

type storeErr string

func (e storeErr) Error() string { return string(e) }

// reconcileParams applies the three-set update discipline of §4.8 to the
// params owned by either pipelineID (jobID nil) or *jobID.
func reconcileParams(st *store.Store, pipelineID uint, jobID *uint, incoming []ParamDescriptor) error {
	var current []store.Param
	var err error
	if jobID != nil {
		current, err = st.JobParams(*jobID)
	} else {
		current, err = st.PipelineParams(pipelineID)
	}
	if err != nil {
		return errs.WrapStoreFailure(err)
	}

	currentByID := make(map[uint]store.Param, len(current))
	for _, p := range current {
		currentByID[p.ID] = p
	}

	var toDestroy []uint
	seen := make(map[uint]bool, len(incoming))
	for _, p := range incoming {
		if p.ID != 0 {
			seen[p.ID] = true
		}
	}
	for id := range currentByID {
		if !seen[id] {
			toDestroy = append(toDestroy, id)
		}
	}

	for _, p := range incoming {
		row := store.Param{
			ID:          p.ID,
			Name:        p.Name,
			Type:        store.ParamType(p.Type),
			IsRequired:  p.IsRequired,
			Description: p.Description,
			Label:       p.Label,
			Value:       p.Value,
		}
		if jobID != nil {
			row.JobID = jobID
		} else {
			row.PipelineID = &pipelineID
		}

		if p.ID != 0 {
			if err := st.UpdateParam(&row); err != nil {
				return errs.WrapStoreFailure(err)
			}
			continue
		}
		if err := st.CreateParam(&row); err != nil {
			return errs.WrapStoreFailure(err)
		}
	}

	return errs.WrapStoreFailure(st.DestroyParams(toDestroy...))
}

// UpdateStartConditions applies the §4.8 collection update discipline to an
// existing job's inbound start conditions, identifying each by its
// persisted id rather than a source-local one (unlike the first-pass import
// of a whole pipeline, this runs against jobs that already exist).
func UpdateStartConditions(st *store.Store, jobID uint, incoming []StartConditionUpdate) error {
	current, err := st.JobStartConditions(jobID)
	if err != nil {
		return errs.WrapStoreFailure(err)
	}

	currentByID := make(map[uint]bool, len(current))
	for _, sc := range current {
		currentByID[sc.ID] = true
	}

	seen := make(map[uint]bool, len(incoming))
	for _, sc := range incoming {
		if sc.ID != 0 {
			seen[sc.ID] = true
		}
	}

	var toDestroy []uint
	for id := range currentByID {
		if !seen[id] {
			toDestroy = append(toDestroy, id)
		}
	}

	for _, sc := range incoming {
		row := store.StartCondition{
			ID:             sc.ID,
			JobID:          jobID,
			PrecedingJobID: sc.PrecedingJobID,
			Condition:      store.Condition(sc.Condition),
		}
		if sc.ID != 0 {
			if err := st.UpdateStartCondition(&row); err != nil {
				return errs.WrapStoreFailure(err)
			}
			continue
		}
		if err := st.CreateStartCondition(&row); err != nil {
			return errs.WrapStoreFailure(err)
		}
	}

	return errs.WrapStoreFailure(st.DestroyStartConditions(toDestroy...))
}

// StartConditionUpdate is an existing-job start-condition entry addressed
// by its own persisted id (ID == 0 means create).
type StartConditionUpdate struct {
	ID             uint
	PrecedingJobID uint
	Condition      string
}

// reconcileSchedules applies §4.8 to a pipeline's schedules.
func reconcileSchedules(st *store.Store, pipelineID uint, incoming []ScheduleDescriptor) error {
	current, err := st.PipelineSchedules(pipelineID)
	if err != nil {
		return errs.WrapStoreFailure(err)
	}

	currentByID := make(map[uint]bool, len(current))
	for _, s := range current {
		currentByID[s.ID] = true
	}

	seen := make(map[uint]bool, len(incoming))
	for _, s := range incoming {
		if s.ID != 0 {
			seen[s.ID] = true
		}
	}

	var toDestroy []uint
	for id := range currentByID {
		if !seen[id] {
			toDestroy = append(toDestroy, id)
		}
	}

	for _, s := range incoming {
		row := store.Schedule{ID: s.ID, PipelineID: pipelineID, Cron: s.Cron}
		if s.ID != 0 {
			if err := st.UpdateSchedule(&row); err != nil {
				return errs.WrapStoreFailure(err)
			}
			continue
		}
		if err := st.CreateSchedule(&row); err != nil {
			return errs.WrapStoreFailure(err)
		}
	}

	return errs.WrapStoreFailure(st.DestroySchedules(toDestroy...))
}
