package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Projects ---

func (s *store) CreateProject(ctx context.Context, project *Project) error {
	if project.ID == "" {
		project.ID = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	return nil
}

func (s *store) GetProject(ctx context.Context, id string) (*Project, error) {
	var project Project
	if err := s.db.WithContext(ctx).
		Where("id = ?", id).
		First(&project).Error; err != nil {
		return nil, fmt.Errorf("getting project: %w", notFound(err))
	}

	return &project, nil
}

func (s *store) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	if err := s.db.WithContext(ctx).
		Order("name ASC").
		Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	return projects, nil
}

// --- Test cases ---

func (s *store) CreateTestCase(ctx context.Context, tc *TestCase) error {
	if tc.ID == "" {
		tc.ID = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Create(tc).Error; err != nil {
		return fmt.Errorf("creating test case: %w", err)
	}

	return nil
}

func (s *store) GetTestCase(
	ctx context.Context, projectID, id string,
) (*TestCase, error) {
	var tc TestCase
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, id).
		First(&tc).Error; err != nil {
		return nil, fmt.Errorf("getting test case: %w", notFound(err))
	}

	return &tc, nil
}

func (s *store) ListTestCases(
	ctx context.Context, projectID string,
) ([]TestCase, error) {
	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("id ASC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing test cases: %w", err)
	}

	return cases, nil
}

func (s *store) ListTestCasesByIDs(
	ctx context.Context, projectID string, ids []string,
) ([]TestCase, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var cases []TestCase
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Order("id ASC").
		Find(&cases).Error; err != nil {
		return nil, fmt.Errorf("listing test cases by id: %w", err)
	}

	return cases, nil
}

// --- Suites and modules ---

// CreateSuite creates a suite and its membership rows in one transaction.
func (s *store) CreateSuite(
	ctx context.Context, suite *Suite, testCaseIDs []string,
) error {
	if suite.ID == "" {
		suite.ID = uuid.NewString()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(suite).Error; err != nil {
			return fmt.Errorf("creating suite: %w", err)
		}

		if len(testCaseIDs) == 0 {
			return nil
		}

		members := make([]SuiteCase, 0, len(testCaseIDs))
		for _, id := range testCaseIDs {
			members = append(members, SuiteCase{SuiteID: suite.ID, TestCaseID: id})
		}

		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&members).Error; err != nil {
			return fmt.Errorf("creating suite members: %w", err)
		}

		return nil
	})
}

func (s *store) CreateModule(ctx context.Context, module *Module) error {
	if module.ID == "" {
		module.ID = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Create(module).Error; err != nil {
		return fmt.Errorf("creating module: %w", err)
	}

	return nil
}

func (s *store) CountSuites(
	ctx context.Context, projectID string, ids []string,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Suite{}).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting suites: %w", err)
	}

	return count, nil
}

func (s *store) CountModules(
	ctx context.Context, projectID string, ids []string,
) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Module{}).
		Where("project_id = ? AND id IN ?", projectID, ids).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting modules: %w", err)
	}

	return count, nil
}

// ListSuiteTestCaseIDs returns the member test case IDs of the given
// suites. IDs may repeat when a case belongs to several suites.
func (s *store) ListSuiteTestCaseIDs(
	ctx context.Context, projectID string, suiteIDs []string,
) ([]string, error) {
	if len(suiteIDs) == 0 {
		return nil, nil
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&SuiteCase{}).
		Joins("JOIN suites ON suites.id = suite_cases.suite_id").
		Where("suites.project_id = ? AND suite_cases.suite_id IN ?",
			projectID, suiteIDs).
		Pluck("suite_cases.test_case_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing suite test cases: %w", err)
	}

	return ids, nil
}

// ListModuleTestCaseIDs returns the test case IDs assigned to the given
// modules.
func (s *store) ListModuleTestCaseIDs(
	ctx context.Context, projectID string, moduleIDs []string,
) ([]string, error) {
	if len(moduleIDs) == 0 {
		return nil, nil
	}

	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&TestCase{}).
		Where("project_id = ? AND module_id IN ?", projectID, moduleIDs).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing module test cases: %w", err)
	}

	return ids, nil
}

// ListGroupedTestCaseIDs returns the project's test cases that belong to
// at least one suite or are assigned to a module.
func (s *store) ListGroupedTestCaseIDs(
	ctx context.Context, projectID string,
) ([]string, error) {
	db := s.db.WithContext(ctx)

	var ids []string
	if err := db.
		Model(&TestCase{}).
		Where("project_id = ?", projectID).
		Where("module_id IS NOT NULL OR id IN (?)",
			db.Model(&SuiteCase{}).Select("test_case_id")).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing grouped test cases: %w", err)
	}

	return ids, nil
}

// --- Defect links ---

// LinkDefects associates defects with a test case. Existing links are kept.
func (s *store) LinkDefects(
	ctx context.Context, testCaseID string, defectIDs []string,
) error {
	if len(defectIDs) == 0 {
		return nil
	}

	links := make([]DefectLink, 0, len(defectIDs))
	for _, id := range defectIDs {
		links = append(links, DefectLink{TestCaseID: testCaseID, DefectID: id})
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&links).Error; err != nil {
		return fmt.Errorf("linking defects: %w", err)
	}

	return nil
}

// ListDefectIDs returns linked defect IDs keyed by test case ID.
func (s *store) ListDefectIDs(
	ctx context.Context, testCaseIDs []string,
) (map[string][]string, error) {
	out := make(map[string][]string, len(testCaseIDs))
	if len(testCaseIDs) == 0 {
		return out, nil
	}

	var links []DefectLink
	if err := s.db.WithContext(ctx).
		Where("test_case_id IN ?", testCaseIDs).
		Order("test_case_id ASC, defect_id ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("listing defect links: %w", err)
	}

	for _, l := range links {
		out[l.TestCaseID] = append(out[l.TestCaseID], l.DefectID)
	}

	return out, nil
}
