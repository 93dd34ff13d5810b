// Package api exposes the HTTP surface: pipeline start/stop/import, a
// single-job run, and the worker callback contract (§6), authenticated with
// a bearer JWT verified by go-chi/jwtauth.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"

	"networkteam.com/lab/pipelinecore/core"
	"networkteam.com/lab/pipelinecore/dispatch"
	"networkteam.com/lab/pipelinecore/importer"
	"networkteam.com/lab/pipelinecore/schedule"
	"networkteam.com/lab/pipelinecore/store"
)

var errJobNotInPipeline = httpError("job does not belong to the given pipeline")

type httpError string

func (e httpError) Error() string { return string(e) }

// Server wires the Store/Engine/Bridge into chi handlers.
type Server struct {
	Store  *store.Store
	Engine *core.Engine
	Bridge *dispatch.Bridge
}

// NewRouter builds the authenticated chi.Router.
func NewRouter(s *Server, tokenAuth *jwtauth.JWTAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(jwtauth.Verifier(tokenAuth))
		r.Use(jwtauth.Authenticator)

		r.Route("/pipelines/{pipelineID}", func(r chi.Router) {
			r.Post("/start", s.handleStartPipeline)
			r.Post("/stop", s.handleStopPipeline)
			r.Post("/import", s.handleImportPipeline)
			r.Post("/jobs/{jobID}/start", s.handleStartSingleJob)
			r.Put("/jobs/{jobID}/start-conditions", s.handleUpdateStartConditions)
		})

		r.Route("/callbacks", func(r chi.Router) {
			r.Post("/worker-succeeded", s.handleWorkerSucceeded)
			r.Post("/worker-failed", s.handleWorkerFailed)
			r.Post("/enqueue-additional", s.handleEnqueueAdditional)
		})

		r.Post("/schedules/validate", s.handleValidateSchedule)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func uintParam(r *http.Request, name string) (uint, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(v), nil
}

func (s *Server) handleStartPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "pipelineID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pipeline, err := s.Store.FindPipeline(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	started, err := s.Engine.StartPipeline(r.Context(), pipeline)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) handleStopPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "pipelineID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pipeline, err := s.Store.FindPipeline(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	stopped, err := s.Engine.StopPipeline(r.Context(), pipeline)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleStartSingleJob(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uintParam(r, "pipelineID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	jobID, err := uintParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pipeline, err := s.Store.FindPipeline(pipelineID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	job, err := s.Store.FindJob(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if job.PipelineID != pipelineID {
		writeError(w, http.StatusBadRequest, errJobNotInPipeline)
		return
	}
	started, err := s.Engine.StartSingleJob(r.Context(), pipeline, job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) handleUpdateStartConditions(w http.ResponseWriter, r *http.Request) {
	jobID, err := uintParam(r, "jobID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var updates []importer.StartConditionUpdate
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := importer.UpdateStartConditions(s.Store, jobID, updates); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (s *Server) handleImportPipeline(w http.ResponseWriter, r *http.Request) {
	pipelineID, err := uintParam(r, "pipelineID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var desc importer.PipelineDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := importer.Import(s.Store, pipelineID, desc); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"imported": true})
}

type callbackRequest struct {
	PipelineID   uint                   `json:"pipeline_id"`
	JobID        uint                   `json:"job_id"`
	TaskName     string                 `json:"task_name"`
	WorkerClass  string                 `json:"worker_class"`
	WorkerParams map[string]interface{} `json:"worker_params"`
	Delay        int                    `json:"delay"`
}

func (s *Server) handleWorkerSucceeded(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Bridge.WorkerSucceeded(r.Context(), req.PipelineID, req.JobID, req.TaskName); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleWorkerFailed(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Bridge.WorkerFailed(r.Context(), req.PipelineID, req.JobID, req.TaskName); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleEnqueueAdditional(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Bridge.EnqueueAdditional(r.Context(), req.PipelineID, req.JobID, req.WorkerClass, req.WorkerParams, req.Delay); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type validateScheduleRequest struct {
	Cron string `json:"cron"`
}

func (s *Server) handleValidateSchedule(w http.ResponseWriter, r *http.Request) {
	var req validateScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := schedule.Validate(req.Cron); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}
