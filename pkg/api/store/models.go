package store

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SourceConfig marks users seeded from the configuration file.
const SourceConfig = "config"

// RunStatus is the lifecycle state of a test run.
type RunStatus string

// Run lifecycle states.
const (
	RunPlanned    RunStatus = "PLANNED"
	RunInProgress RunStatus = "IN_PROGRESS"
	RunCompleted  RunStatus = "COMPLETED"
	RunCancelled  RunStatus = "CANCELLED"
)

// MutableRunStatuses are the states in which a run's result set may change.
var MutableRunStatuses = []RunStatus{RunPlanned, RunInProgress}

// IsTerminal reports whether no further result mutation is allowed.
func (s RunStatus) IsTerminal() bool {
	return s == RunCompleted || s == RunCancelled
}

// ParseRunStatus converts a case-insensitive string into a RunStatus.
func ParseRunStatus(s string) (RunStatus, error) {
	switch st := RunStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case RunPlanned, RunInProgress, RunCompleted, RunCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown run status %q", s)
	}
}

// ExecutionType distinguishes manual runs from imported automated runs.
type ExecutionType string

// Execution types.
const (
	ExecutionManual     ExecutionType = "MANUAL"
	ExecutionAutomation ExecutionType = "AUTOMATION"
)

// ParseExecutionType converts a case-insensitive string into an ExecutionType.
// An empty string yields ExecutionManual.
func ParseExecutionType(s string) (ExecutionType, error) {
	if strings.TrimSpace(s) == "" {
		return ExecutionManual, nil
	}

	switch et := ExecutionType(strings.ToUpper(strings.TrimSpace(s))); et {
	case ExecutionManual, ExecutionAutomation:
		return et, nil
	default:
		return "", fmt.Errorf("unknown execution type %q", s)
	}
}

// ResultStatus is the outcome of one test case within one run.
type ResultStatus string

// Result outcomes.
const (
	ResultPassed  ResultStatus = "PASSED"
	ResultFailed  ResultStatus = "FAILED"
	ResultBlocked ResultStatus = "BLOCKED"
	ResultSkipped ResultStatus = "SKIPPED"
	ResultRetest  ResultStatus = "RETEST"
)

// ResultStatuses lists every valid result outcome.
var ResultStatuses = []ResultStatus{
	ResultPassed, ResultFailed, ResultBlocked, ResultSkipped, ResultRetest,
}

// ParseResultStatus converts a case-insensitive string into a ResultStatus.
// Anything outside the five outcomes is rejected.
func ParseResultStatus(s string) (ResultStatus, error) {
	st := ResultStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !slices.Contains(ResultStatuses, st) {
		return "", fmt.Errorf("unknown result status %q", s)
	}

	return st, nil
}

// Project groups test cases, suites and runs.
type Project struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TestCase is a single test case of a project.
type TestCase struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID     string    `gorm:"not null;index;size:36" json:"project_id"`
	Title         string    `gorm:"not null" json:"title"`
	Priority      string    `json:"priority,omitempty"`
	Status        string    `json:"status,omitempty"`
	EstimatedTime int       `json:"estimated_time,omitempty"`
	ModuleID      *string   `gorm:"index;size:36" json:"module_id,omitempty"`
	Identifier    string    `gorm:"index" json:"identifier,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Suite is a named collection of test cases.
type Suite struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID string    `gorm:"not null;index;size:36" json:"project_id"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// SuiteCase records membership of a test case in a suite.
type SuiteCase struct {
	SuiteID    string `gorm:"primaryKey;size:36"`
	TestCaseID string `gorm:"primaryKey;size:36;index"`
}

// Module groups test cases inside a suite.
type Module struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ProjectID string    `gorm:"not null;index;size:36" json:"project_id"`
	SuiteID   *string   `gorm:"index;size:36" json:"suite_id,omitempty"`
	Name      string    `gorm:"not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// DefectLink associates a defect with a test case across all runs.
type DefectLink struct {
	TestCaseID string    `gorm:"primaryKey;size:36"`
	DefectID   string    `gorm:"primaryKey"`
	CreatedAt  time.Time `json:"created_at"`
}

// Run is a single execution pass over a chosen set of test cases.
// Aggregate counters are derived from results on read and never stored.
type Run struct {
	ID            string        `gorm:"primaryKey;size:36" json:"id"`
	ProjectID     string        `gorm:"not null;index;size:36" json:"project_id"`
	Name          string        `gorm:"not null" json:"name"`
	Description   string        `json:"description,omitempty"`
	Status        RunStatus     `gorm:"not null;index;size:16" json:"status"`
	ExecutionType ExecutionType `gorm:"not null;size:16" json:"execution_type"`
	Environment   string        `json:"environment,omitempty"`
	Platform      string        `json:"platform,omitempty"`
	Device        string        `json:"device,omitempty"`
	AssignedTo    string        `json:"assigned_to,omitempty"`
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
}

// Result is the recorded or pending outcome of one test case in one run.
type Result struct {
	ID              string       `gorm:"primaryKey;size:36" json:"id"`
	RunID           string       `gorm:"not null;size:36;uniqueIndex:idx_results_run_case" json:"run_id"`
	TestCaseID      string       `gorm:"not null;size:36;uniqueIndex:idx_results_run_case" json:"test_case_id"`
	Status          ResultStatus `gorm:"not null;size:16" json:"status"`
	Comment         string       `json:"comment,omitempty"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty"`
	ExecutedAt      *time.Time   `json:"executed_at,omitempty"`
	ExecutedBy      string       `json:"executed_by,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// IsPlaceholder reports whether the result was added to the run but never
// executed.
func (r *Result) IsPlaceholder() bool {
	return r.Status == ResultSkipped && r.ExecutedAt == nil
}

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	Email        string    `json:"email,omitempty"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
