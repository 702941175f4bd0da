package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	shareLock = clause.Locking{Strength: "SHARE"}

	resultKey = []clause.Column{{Name: "run_id"}, {Name: "test_case_id"}}

	// outcomeColumns are overwritten when a result is recorded again.
	outcomeColumns = []string{
		"status", "comment", "duration_seconds",
		"executed_at", "executed_by", "updated_at",
	}
)

// UpsertResult inserts the result or overwrites the outcome of the existing
// row for (RunID, TestCaseID) in a single statement. On return res holds
// the stored row.
func (s *store) UpsertResult(ctx context.Context, res *Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockMutableRun(tx, res.RunID); err != nil {
			return err
		}

		if res.ID == "" {
			res.ID = uuid.NewString()
		}

		now := time.Now().UTC()
		res.CreatedAt = now
		res.UpdatedAt = now

		if err := tx.Clauses(clause.OnConflict{
			Columns:   resultKey,
			DoUpdates: clause.AssignmentColumns(outcomeColumns),
		}).Create(res).Error; err != nil {
			return fmt.Errorf("upserting result: %w", err)
		}

		return readResult(tx, res)
	})
}

// InsertPlaceholder inserts res unless a row for (RunID, TestCaseID) already
// exists. It reports whether a row was created; res always holds the
// stored row on return.
func (s *store) InsertPlaceholder(ctx context.Context, res *Result) (bool, error) {
	var created bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockMutableRun(tx, res.RunID); err != nil {
			return err
		}

		if res.ID == "" {
			res.ID = uuid.NewString()
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   resultKey,
			DoNothing: true,
		}).Create(res)
		if result.Error != nil {
			return fmt.Errorf("inserting placeholder: %w", result.Error)
		}

		created = result.RowsAffected > 0

		return readResult(tx, res)
	})

	return created, err
}

// DeleteResult removes a test case from a mutable run.
func (s *store) DeleteResult(ctx context.Context, runID, testCaseID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.lockMutableRun(tx, runID); err != nil {
			return err
		}

		result := tx.Where("run_id = ? AND test_case_id = ?", runID, testCaseID).
			Delete(&Result{})
		if result.Error != nil {
			return fmt.Errorf("deleting result: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting result: %w", ErrNotFound)
		}

		return nil
	})
}

func (s *store) ListResults(ctx context.Context, runID string) ([]Result, error) {
	var results []Result
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("test_case_id ASC").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("listing results: %w", err)
	}

	return results, nil
}

func (s *store) ListResultTestCaseIDs(
	ctx context.Context, runID string,
) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&Result{}).
		Where("run_id = ?", runID).
		Pluck("test_case_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("listing result test case ids: %w", err)
	}

	return ids, nil
}

// readResult loads the stored row for res's (RunID, TestCaseID) into res.
func readResult(db *gorm.DB, res *Result) error {
	var stored Result
	if err := db.
		Where("run_id = ? AND test_case_id = ?", res.RunID, res.TestCaseID).
		First(&stored).Error; err != nil {
		return fmt.Errorf("reading result: %w", notFound(err))
	}

	*res = stored

	return nil
}
