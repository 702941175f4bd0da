package api

import (
	"net/http"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/go-chi/chi/v5"
)

// mayMutate writes 403 and returns false when the caller may not change run.
func (s *server) mayMutate(w http.ResponseWriter, r *http.Request, run *store.Run) bool {
	if s.authorizer.MayMutateRun(userFromContext(r.Context()), run) {
		return true
	}

	writeJSON(w, http.StatusForbidden,
		errorResponse{"insufficient permissions"})

	return false
}

// authorizedRun loads the run named in the URL and checks the caller may
// mutate it.
func (s *server) authorizedRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := s.service.GetRun(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)

		return nil, false
	}

	if !s.mayMutate(w, r, run) {
		return nil, false
	}

	return run, true
}

// writeBulk writes a bulk outcome with 207 when some items failed.
func writeBulk(w http.ResponseWriter, status int, partial error, v any) {
	if partial != nil {
		status = http.StatusMultiStatus
	}

	writeJSON(w, status, v)
}

type createRunRequest struct {
	Name          string               `json:"name"`
	Description   string               `json:"description,omitempty"`
	ExecutionType string               `json:"execution_type,omitempty"`
	Environment   string               `json:"environment,omitempty"`
	Platform      string               `json:"platform,omitempty"`
	Device        string               `json:"device,omitempty"`
	AssignedTo    string               `json:"assigned_to,omitempty"`
	Selection     *execution.Selection `json:"selection,omitempty"`
}

type createRunResponse struct {
	Run  *store.Run            `json:"run"`
	Bulk *execution.BulkReport `json:"bulk,omitempty"`

	// Error is set when the run was created but its selection could not
	// be added.
	Error string `json:"error,omitempty"`
}

// handleCreateRun creates a PLANNED run, optionally seeded with a selection.
func (s *server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")

	if !s.mayMutate(w, r, &store.Run{ProjectID: projectID}) {
		return
	}

	var req createRunRequest
	if !decodeBody(w, r, &req) {
		return
	}

	run, bulk, err := s.service.CreateRun(r.Context(), execution.CreateRunRequest{
		ProjectID:     projectID,
		Name:          req.Name,
		Description:   req.Description,
		ExecutionType: req.ExecutionType,
		Environment:   req.Environment,
		Platform:      req.Platform,
		Device:        req.Device,
		AssignedTo:    req.AssignedTo,
		Actor:         actor(r.Context()),
		Selection:     req.Selection,
	})
	if err != nil && run == nil {
		s.writeError(w, r, err)

		return
	}

	if err != nil {
		// The run exists; only seeding it failed.
		s.log.WithError(err).
			WithField("run_id", run.ID).
			Warn("Run created without its selection")

		writeJSON(w, statusFor(err), createRunResponse{Run: run, Error: err.Error()})

		return
	}

	writeBulk(w, http.StatusCreated, bulk.Err(), createRunResponse{Run: run, Bulk: bulk})
}

// handleListRuns lists the project's runs, optionally filtered by ?status=.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.ListRuns(r.Context(),
		chi.URLParam(r, "projectID"), r.URL.Query().Get("status"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if runs == nil {
		runs = []store.Run{}
	}

	writeJSON(w, http.StatusOK, runs)
}

type runResponse struct {
	Run   *store.Run       `json:"run"`
	Stats *execution.Stats `json:"stats"`
}

// handleGetRun returns a run with its derived statistics.
func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	runID := chi.URLParam(r, "runID")

	run, err := s.service.GetRun(r.Context(), projectID, runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	stats, err := s.service.RunStats(r.Context(), projectID, runID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, runResponse{Run: run, Stats: stats})
}

// handleDeleteRun deletes a run and its results.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	if err := s.service.DeleteRun(r.Context(), run.ProjectID, run.ID); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleRunEvent applies the lifecycle event named in the URL
// (start, complete, reopen, cancel) to the run.
func (s *server) handleRunEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := execution.ParseEvent(chi.URLParam(r, "event"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	ctx := r.Context()

	var resp any

	switch ev {
	case execution.EventStart:
		resp, err = s.service.StartRun(ctx, run.ProjectID, run.ID)
	case execution.EventComplete:
		resp, err = s.service.CompleteRun(ctx, run.ProjectID, run.ID)
	case execution.EventReopen:
		resp, err = s.service.ReopenRun(ctx, run.ProjectID, run.ID)
	case execution.EventCancel:
		resp, err = s.service.CancelRun(ctx, run.ProjectID, run.ID)
	}

	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleRunStats returns the run's derived statistics.
func (s *server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.RunStats(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleListResults returns the run's results with their linked defects.
func (s *server) handleListResults(w http.ResponseWriter, r *http.Request) {
	results, err := s.service.ListResults(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "runID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, results)
}

type recordResultRequest struct {
	Status          string   `json:"status"`
	Comment         string   `json:"comment,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	DefectIDs       []string `json:"defect_ids,omitempty"`
}

// handleRecordResult records the outcome of one test case in the run.
func (s *server) handleRecordResult(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	var req recordResultRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.service.RecordResult(r.Context(), execution.RecordRequest{
		ProjectID:       run.ProjectID,
		RunID:           run.ID,
		TestCaseID:      chi.URLParam(r, "testCaseID"),
		Status:          req.Status,
		Comment:         req.Comment,
		DurationSeconds: req.DurationSeconds,
		DefectIDs:       req.DefectIDs,
		Actor:           actor(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, res)
}

// handleAddTestCases adds a selection of test cases to the run.
func (s *server) handleAddTestCases(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	var sel execution.Selection
	if !decodeBody(w, r, &sel) {
		return
	}

	bulk, err := s.service.AddTestCases(r.Context(), run.ProjectID, run.ID, sel)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeBulk(w, http.StatusOK, bulk.Err(), bulk)
}

// handleAddPlaceholder adds a single test case to the run.
func (s *server) handleAddPlaceholder(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	res, created, err := s.service.AddPlaceholder(r.Context(),
		run.ProjectID, run.ID, chi.URLParam(r, "testCaseID"))
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	writeJSON(w, status, res)
}

// handleRemoveTestCase removes a test case and its result from the run.
func (s *server) handleRemoveTestCase(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	if err := s.service.RemoveTestCase(r.Context(),
		run.ProjectID, run.ID, chi.URLParam(r, "testCaseID")); err != nil {
		s.writeError(w, r, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSendDigest dispatches the completion digest of a COMPLETED run.
func (s *server) handleSendDigest(w http.ResponseWriter, r *http.Request) {
	run, ok := s.authorizedRun(w, r)
	if !ok {
		return
	}

	digest, err := s.service.SendDigest(r.Context(), run.ProjectID, run.ID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	writeJSON(w, http.StatusOK, digest)
}
