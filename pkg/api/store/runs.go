package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (s *store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}

	return nil
}

func (s *store) GetRun(ctx context.Context, projectID, id string) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, id).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", notFound(err))
	}

	return &run, nil
}

// ListRuns returns the project's runs, newest first. An empty status
// lists runs in every state.
func (s *store) ListRuns(
	ctx context.Context, projectID string, status RunStatus,
) ([]Run, error) {
	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var runs []Run
	if err := q.Order("created_at DESC").Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	return runs, nil
}

// TransitionRun persists the lifecycle fields of run, but only if the
// stored row is still in state from. A lost race yields ErrConflict.
func (s *store) TransitionRun(
	ctx context.Context, run *Run, from RunStatus,
) error {
	now := time.Now().UTC()

	result := s.db.WithContext(ctx).
		Model(&Run{}).
		Where("id = ? AND status = ?", run.ID, from).
		Updates(map[string]any{
			"status":       run.Status,
			"started_at":   run.StartedAt,
			"completed_at": run.CompletedAt,
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("transitioning run: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).
			Model(&Run{}).
			Where("id = ?", run.ID).
			Count(&count).Error; err != nil {
			return fmt.Errorf("checking run: %w", err)
		}

		if count == 0 {
			return fmt.Errorf("transitioning run: %w", ErrNotFound)
		}

		return fmt.Errorf("transitioning run from %s: %w", from, ErrConflict)
	}

	run.UpdatedAt = now

	return nil
}

// DeleteRun removes a run together with all of its results.
func (s *store) DeleteRun(ctx context.Context, projectID, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("project_id = ? AND id = ?", projectID, id).
			Delete(&Run{})
		if result.Error != nil {
			return fmt.Errorf("deleting run: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			return fmt.Errorf("deleting run: %w", ErrNotFound)
		}

		if err := tx.Where("run_id = ?", id).
			Delete(&Result{}).Error; err != nil {
			return fmt.Errorf("deleting run results: %w", err)
		}

		return nil
	})
}

// lockMutableRun loads the run inside tx and fails with ErrRunLocked unless
// it is in one of MutableRunStatuses. On postgres the row is share-locked so a
// concurrent transition waits for in-flight result writes.
func (s *store) lockMutableRun(tx *gorm.DB, runID string) error {
	q := tx.Select("id", "status")
	if s.cfg.Driver == "postgres" {
		q = q.Clauses(shareLock)
	}

	var run Run
	if err := q.Where("id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("loading run: %w", ErrNotFound)
		}

		return fmt.Errorf("loading run: %w", err)
	}

	if !slices.Contains(MutableRunStatuses, run.Status) {
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrRunLocked)
	}

	return nil
}
