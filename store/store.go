package store

import (
	"github.com/friendsofgo/errors"
	"gorm.io/gorm"
)

// Store exposes CRUD and scoped queries only (§4.2); the core package
// neither issues nor assumes a particular query language.
type Store struct {
	db *gorm.DB
}

// New wraps an open *gorm.DB; Migrate creates the schema.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates/updates the persisted schema (§6).
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&Pipeline{},
		&Job{},
		&Param{},
		&StartCondition{},
		&Schedule{},
		&GeneralSetting{},
		&Stage{},
	)
}

// DB exposes the underlying *gorm.DB for call sites that need a
// transaction spanning multiple Store calls (e.g. cascading destroy).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Pipeline ---

func (s *Store) FindPipeline(id uint) (*Pipeline, error) {
	var p Pipeline
	if err := s.db.Preload("Jobs.StartConditions").Preload("Jobs.Params").
		Preload("Schedules").Preload("Params").First(&p, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &p, nil
}

func (s *Store) CreatePipeline(p *Pipeline) error {
	return s.db.Create(p).Error
}

func (s *Store) UpdatePipeline(p *Pipeline) error {
	return s.db.Save(p).Error
}

// UpdatePipelineStatus persists a status transition without touching
// in-memory relations (used by the C5 state machine).
func (s *Store) UpdatePipelineStatus(id uint, status Status, changedAt interface{}) error {
	return s.db.Model(&Pipeline{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "status_changed_at": changedAt}).Error
}

// DestroyPipeline cascades to owned params, schedules and jobs (which
// cascade to their own params and start conditions), in a single
// transaction so a partial failure never leaves orphaned rows (§3
// Lifecycle).
func (s *Store) DestroyPipeline(id uint) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var jobIDs []uint
		if err := tx.Model(&Job{}).Where("pipeline_id = ?", id).Pluck("id", &jobIDs).Error; err != nil {
			return err
		}
		if len(jobIDs) > 0 {
			if err := tx.Where("job_id IN ? OR preceding_job_id IN ?", jobIDs, jobIDs).Delete(&StartCondition{}).Error; err != nil {
				return err
			}
			if err := tx.Where("job_id IN ?", jobIDs).Delete(&Param{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", jobIDs).Delete(&Job{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("pipeline_id = ?", id).Delete(&Param{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pipeline_id = ?", id).Delete(&Schedule{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Pipeline{}, id).Error
	})
}

// --- Job ---

func (s *Store) FindJob(id uint) (*Job, error) {
	var j Job
	if err := s.db.Preload("StartConditions").Preload("Params").First(&j, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &j, nil
}

func (s *Store) CreateJob(j *Job) error {
	return s.db.Create(j).Error
}

func (s *Store) UpdateJob(j *Job) error {
	return s.db.Save(j).Error
}

func (s *Store) UpdateJobStatus(id uint, status Status, changedAt interface{}) error {
	return s.db.Model(&Job{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "status_changed_at": changedAt}).Error
}

func (s *Store) UpdateJobEnqueuedCount(id uint, count int) error {
	return s.db.Model(&Job{}).Where("id = ?", id).Update("enqueued_workers_count", count).Error
}

// DependentJobIDs returns the jobs that have id as a preceding job, i.e.
// id's outbound start-condition edges (§4.6).
func (s *Store) DependentJobIDs(id uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&StartCondition{}).Where("preceding_job_id = ?", id).
		Distinct().Pluck("job_id", &ids).Error
	return ids, err
}

// SinkJobIDs returns the jobs in pipelineID with no outbound start
// condition edges (§4.5 _finish).
func (s *Store) SinkJobIDs(pipelineID uint) ([]uint, error) {
	var ids []uint
	err := s.db.Model(&Job{}).
		Where("pipeline_id = ?", pipelineID).
		Where("id NOT IN (SELECT DISTINCT preceding_job_id FROM start_conditions)").
		Pluck("id", &ids).Error
	return ids, err
}

func (s *Store) CountJobs(pipelineID uint) (int64, error) {
	var n int64
	err := s.db.Model(&Job{}).Where("pipeline_id = ?", pipelineID).Count(&n).Error
	return n, err
}

// --- Param ---

func (s *Store) FindParam(id uint) (*Param, error) {
	var p Param
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &p, nil
}

func (s *Store) CreateParam(p *Param) error {
	return s.db.Create(p).Error
}

func (s *Store) UpdateParam(p *Param) error {
	return s.db.Save(p).Error
}

func (s *Store) DestroyParams(ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Delete(&Param{}, ids).Error
}

// GlobalParams returns params scoped globally (pipeline_id = job_id = NULL).
func (s *Store) GlobalParams() ([]Param, error) {
	var params []Param
	err := s.db.Where("pipeline_id IS NULL AND job_id IS NULL").Order("name asc").Find(&params).Error
	return params, err
}

func (s *Store) PipelineParams(pipelineID uint) ([]Param, error) {
	var params []Param
	err := s.db.Where("pipeline_id = ? AND job_id IS NULL", pipelineID).Order("name asc").Find(&params).Error
	return params, err
}

func (s *Store) JobParams(jobID uint) ([]Param, error) {
	var params []Param
	err := s.db.Where("job_id = ?", jobID).Order("name asc").Find(&params).Error
	return params, err
}

// --- StartCondition ---

func (s *Store) CreateStartCondition(sc *StartCondition) error {
	return s.db.Create(sc).Error
}

func (s *Store) UpdateStartCondition(sc *StartCondition) error {
	return s.db.Save(sc).Error
}

func (s *Store) DestroyStartConditions(ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Delete(&StartCondition{}, ids).Error
}

func (s *Store) JobStartConditions(jobID uint) ([]StartCondition, error) {
	var scs []StartCondition
	err := s.db.Where("job_id = ?", jobID).Find(&scs).Error
	return scs, err
}

// --- Schedule ---

func (s *Store) FindSchedule(id uint) (*Schedule, error) {
	var sc Schedule
	if err := s.db.First(&sc, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &sc, nil
}

func (s *Store) CreateSchedule(sc *Schedule) error {
	return s.db.Create(sc).Error
}

func (s *Store) UpdateSchedule(sc *Schedule) error {
	return s.db.Save(sc).Error
}

func (s *Store) DestroySchedules(ids ...uint) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.Delete(&Schedule{}, ids).Error
}

func (s *Store) PipelineSchedules(pipelineID uint) ([]Schedule, error) {
	var schedules []Schedule
	err := s.db.Where("pipeline_id = ?", pipelineID).Find(&schedules).Error
	return schedules, err
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(err, "entity not found")
	}
	return errors.Wrap(err, "store failure")
}
