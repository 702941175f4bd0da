package api

import (
	"net/http"
	"strings"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/go-chi/chi/v5"
)

// --- Projects ---

type createProjectRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// handleCreateProject creates a new project.
func (s *server) handleCreateProject(
	w http.ResponseWriter, r *http.Request,
) {
	var req createProjectRequest
	if !decodeBody(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	project := &store.Project{ID: req.ID, Name: name}

	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.log.WithError(err).Warn("Failed to create project")
		writeJSON(w, http.StatusConflict,
			errorResponse{"project already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, project)
}

// handleListProjects returns all projects.
func (s *server) handleListProjects(
	w http.ResponseWriter, r *http.Request,
) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if projects == nil {
		projects = []store.Project{}
	}

	writeJSON(w, http.StatusOK, projects)
}

// --- Test cases ---

type createTestCaseRequest struct {
	ID            string  `json:"id,omitempty"`
	Title         string  `json:"title"`
	Identifier    string  `json:"identifier,omitempty"`
	Priority      string  `json:"priority,omitempty"`
	Status        string  `json:"status,omitempty"`
	EstimatedTime int     `json:"estimated_time,omitempty"`
	ModuleID      *string `json:"module_id,omitempty"`
}

// handleCreateTestCase adds a test case to the project catalog.
func (s *server) handleCreateTestCase(
	w http.ResponseWriter, r *http.Request,
) {
	projectID := chi.URLParam(r, "projectID")

	var req createTestCaseRequest
	if !decodeBody(w, r, &req) {
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"title is required"})

		return
	}

	if req.EstimatedTime < 0 {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"estimated_time must not be negative"})

		return
	}

	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)

		return
	}

	if req.ModuleID != nil {
		n, err := s.store.CountModules(r.Context(), projectID, []string{*req.ModuleID})
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if n == 0 {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"module not found"})

			return
		}
	}

	tc := &store.TestCase{
		ID:            req.ID,
		ProjectID:     projectID,
		Title:         title,
		Identifier:    strings.TrimSpace(req.Identifier),
		Priority:      req.Priority,
		Status:        req.Status,
		EstimatedTime: req.EstimatedTime,
		ModuleID:      req.ModuleID,
	}

	if err := s.store.CreateTestCase(r.Context(), tc); err != nil {
		s.log.WithError(err).Warn("Failed to create test case")
		writeJSON(w, http.StatusConflict,
			errorResponse{"test case already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, tc)
}

// handleListTestCases returns the project's test cases.
func (s *server) handleListTestCases(
	w http.ResponseWriter, r *http.Request,
) {
	projectID := chi.URLParam(r, "projectID")

	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)

		return
	}

	cases, err := s.store.ListTestCases(r.Context(), projectID)
	if err != nil {
		s.writeError(w, r, err)

		return
	}

	if cases == nil {
		cases = []store.TestCase{}
	}

	writeJSON(w, http.StatusOK, cases)
}

// --- Suites and modules ---

type createSuiteRequest struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	TestCaseIDs []string `json:"test_case_ids,omitempty"`
}

// handleCreateSuite creates a suite from existing test cases of the project.
func (s *server) handleCreateSuite(
	w http.ResponseWriter, r *http.Request,
) {
	projectID := chi.URLParam(r, "projectID")

	var req createSuiteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)

		return
	}

	ids := uniqueStrings(req.TestCaseIDs)

	if len(ids) > 0 {
		found, err := s.store.ListTestCasesByIDs(r.Context(), projectID, ids)
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if len(found) != len(ids) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"unknown test case in suite"})

			return
		}
	}

	suite := &store.Suite{ID: req.ID, ProjectID: projectID, Name: name}

	if err := s.store.CreateSuite(r.Context(), suite, ids); err != nil {
		s.log.WithError(err).Warn("Failed to create suite")
		writeJSON(w, http.StatusConflict,
			errorResponse{"suite already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, suite)
}

type createModuleRequest struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name"`
	SuiteID *string `json:"suite_id,omitempty"`
}

// handleCreateModule creates a module, optionally inside a suite.
func (s *server) handleCreateModule(
	w http.ResponseWriter, r *http.Request,
) {
	projectID := chi.URLParam(r, "projectID")

	var req createModuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	if _, err := s.store.GetProject(r.Context(), projectID); err != nil {
		s.writeError(w, r, err)

		return
	}

	if req.SuiteID != nil {
		n, err := s.store.CountSuites(r.Context(), projectID, []string{*req.SuiteID})
		if err != nil {
			s.writeError(w, r, err)

			return
		}

		if n == 0 {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"suite not found"})

			return
		}
	}

	module := &store.Module{
		ID:        req.ID,
		ProjectID: projectID,
		SuiteID:   req.SuiteID,
		Name:      name,
	}

	if err := s.store.CreateModule(r.Context(), module); err != nil {
		s.log.WithError(err).Warn("Failed to create module")
		writeJSON(w, http.StatusConflict,
			errorResponse{"module already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, module)
}

// uniqueStrings returns the non-empty values of in, deduplicated in order.
func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}

		if _, ok := seen[v]; ok {
			continue
		}

		seen[v] = struct{}{}
		out = append(out, v)
	}

	return out
}
