package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/models"
)

// ContestRepository handles contests and their status history
type ContestRepository struct {
	db *gorm.DB
}

// Create inserts a contest and its first history entry. A second open
// contest for the same citation violates the partial unique index and
// surfaces as Conflict.
func (r *ContestRepository) Create(ctx context.Context, contest *models.Contest, entry *models.ContestStatusEntry) error {
	db := r.db.WithContext(ctx)

	if err := db.Omit("History").Create(contest).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Conflict("citation %s already has an open contest", contest.CitationID)
		}
		return errors.Wrap(err, "failed to create contest")
	}

	entry.ContestID = contest.ID
	if err := db.Create(entry).Error; err != nil {
		return errors.Wrap(err, "failed to record contest status")
	}

	contest.History = append(contest.History, *entry)
	return nil
}

func (r *ContestRepository) withHistory(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("History", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// GetByID retrieves a contest with its history
func (r *ContestRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contest, error) {
	var contest models.Contest
	if err := r.withHistory(ctx).Where("id = ?", id).Take(&contest).Error; err != nil {
		return nil, notFoundOr(err, "contest %s not found", id)
	}
	return &contest, nil
}

// FindOpenByCitation retrieves the open contest of a citation
func (r *ContestRepository) FindOpenByCitation(ctx context.Context, citationID uuid.UUID) (*models.Contest, error) {
	var contest models.Contest
	err := r.withHistory(ctx).
		Where("citation_id = ? AND status IN ?", citationID, []models.ContestStatus{
			models.ContestStatusSubmitted,
			models.ContestStatusUnderReview,
		}).
		Take(&contest).Error
	if err != nil {
		return nil, notFoundOr(err, "citation %s has no open contest", citationID)
	}
	return &contest, nil
}

// ListByCitation retrieves every contest of a citation, oldest first
func (r *ContestRepository) ListByCitation(ctx context.Context, citationID uuid.UUID) ([]models.Contest, error) {
	var contests []models.Contest
	err := r.withHistory(ctx).
		Where("citation_id = ?", citationID).
		Order("submitted_at ASC").
		Find(&contests).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list contests")
	}
	return contests, nil
}

// Update persists a contest transition with optimistic locking and appends
// the history entry describing it
func (r *ContestRepository) Update(ctx context.Context, contest *models.Contest, entry *models.ContestStatusEntry) error {
	db := r.db.WithContext(ctx)

	result := db.Model(&models.Contest{}).
		Where("id = ? AND version = ?", contest.ID, contest.Version).
		Updates(map[string]interface{}{
			"status":      contest.Status,
			"reviewed_by": contest.ReviewedBy,
			"reviewed_at": contest.ReviewedAt,
			"resolution":  contest.Resolution,
			"version":     contest.Version + 1,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update contest")
	}
	if result.RowsAffected == 0 {
		return apperror.Retryable(nil, "contest %s was modified concurrently", contest.ContestNo)
	}
	contest.Version++

	entry.ContestID = contest.ID
	if err := db.Create(entry).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Retryable(err, "contest %s history was modified concurrently", contest.ContestNo)
		}
		return errors.Wrap(err, "failed to record contest status")
	}

	contest.History = append(contest.History, *entry)
	return nil
}
