package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrRunLocked is returned when a result write targets a run in a
	// terminal state.
	ErrRunLocked = errors.New("run is locked")

	// ErrConflict is returned when a conditional update lost against a
	// concurrent change.
	ErrConflict = errors.New("conditional update conflict")
)

// Store provides persistence for runs, results and the test case catalog.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Catalog.
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	CreateTestCase(ctx context.Context, tc *TestCase) error
	GetTestCase(ctx context.Context, projectID, id string) (*TestCase, error)
	ListTestCases(ctx context.Context, projectID string) ([]TestCase, error)
	ListTestCasesByIDs(
		ctx context.Context, projectID string, ids []string,
	) ([]TestCase, error)
	CreateSuite(ctx context.Context, suite *Suite, testCaseIDs []string) error
	CreateModule(ctx context.Context, module *Module) error
	CountSuites(ctx context.Context, projectID string, ids []string) (int64, error)
	CountModules(ctx context.Context, projectID string, ids []string) (int64, error)
	ListSuiteTestCaseIDs(
		ctx context.Context, projectID string, suiteIDs []string,
	) ([]string, error)
	ListModuleTestCaseIDs(
		ctx context.Context, projectID string, moduleIDs []string,
	) ([]string, error)
	ListGroupedTestCaseIDs(ctx context.Context, projectID string) ([]string, error)

	// Runs.
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, projectID, id string) (*Run, error)
	ListRuns(ctx context.Context, projectID string, status RunStatus) ([]Run, error)
	TransitionRun(ctx context.Context, run *Run, from RunStatus) error
	DeleteRun(ctx context.Context, projectID, id string) error

	// Results.
	UpsertResult(ctx context.Context, res *Result) error
	InsertPlaceholder(ctx context.Context, res *Result) (bool, error)
	DeleteResult(ctx context.Context, runID, testCaseID string) error
	ListResults(ctx context.Context, runID string) ([]Result, error)
	ListResultTestCaseIDs(ctx context.Context, runID string) ([]string, error)

	// Defect links.
	LinkDefects(ctx context.Context, testCaseID string, defectIDs []string) error
	ListDefectIDs(
		ctx context.Context, testCaseIDs []string,
	) (map[string][]string, error)

	// Users.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	SeedUsers(ctx context.Context, users []config.BasicAuthUser) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.APIDatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.APIDatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	// SQLite allows a single writer; one pooled connection also keeps a
	// ":memory:" database shared across callers.
	if s.cfg.Driver == "sqlite" {
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			return fmt.Errorf("getting underlying db: %w", dbErr)
		}

		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Project{},
		&TestCase{},
		&Suite{},
		&SuiteCase{},
		&Module{},
		&DefectLink{},
		&Run{},
		&Result{},
		&User{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// notFound converts gorm's missing-record error into ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	return err
}

// --- Users ---

func (s *store) GetUserByUsername(
	ctx context.Context, username string,
) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&user).Error; err != nil {
		return nil, fmt.Errorf("getting user by username: %w", notFound(err))
	}

	return &user, nil
}

func (s *store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	return users, nil
}

// SeedUsers upserts config-sourced users. Only users with source="config"
// are updated; users created by other means are preserved.
func (s *store) SeedUsers(
	ctx context.Context, users []config.BasicAuthUser,
) error {
	for _, u := range users {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(u.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			return fmt.Errorf("hashing password for %q: %w", u.Username, err)
		}

		var existing User

		result := s.db.WithContext(ctx).
			Where("username = ? AND source = ?", u.Username, SourceConfig).
			First(&existing)

		if result.Error == nil {
			existing.PasswordHash = string(hash)
			existing.Role = u.Role
			existing.Email = u.Email

			if err := s.db.WithContext(ctx).Save(&existing).Error; err != nil {
				return fmt.Errorf("updating config user %q: %w", u.Username, err)
			}

			continue
		}

		newUser := User{
			Username:     u.Username,
			PasswordHash: string(hash),
			Role:         u.Role,
			Email:        u.Email,
			Source:       SourceConfig,
		}

		if err := s.db.WithContext(ctx).
			Where("username = ?", u.Username).
			FirstOrCreate(&newUser).Error; err != nil {
			return fmt.Errorf("seeding config user %q: %w", u.Username, err)
		}
	}

	s.log.WithField("count", len(users)).
		Info("Seeded users from config")

	return nil
}
