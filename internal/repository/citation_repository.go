package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/models"
)

// CitationRepository handles citations and their violation lines
type CitationRepository struct {
	db *gorm.DB
}

// Create inserts a citation together with its violation lines
func (r *CitationRepository) Create(ctx context.Context, citation *models.Citation) error {
	if err := r.db.WithContext(ctx).Create(citation).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Retryable(err, "citation number %s is already taken", citation.CitationNo)
		}
		return errors.Wrap(err, "failed to create citation")
	}
	return nil
}

func (r *CitationRepository) withLines(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// GetByID retrieves a citation with its lines
func (r *CitationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Citation, error) {
	var citation models.Citation
	if err := r.withLines(ctx).Where("id = ?", id).Take(&citation).Error; err != nil {
		return nil, notFoundOr(err, "citation %s not found", id)
	}
	return &citation, nil
}

// GetByNumber retrieves a citation by its citation number
func (r *CitationRepository) GetByNumber(ctx context.Context, citationNo string) (*models.Citation, error) {
	var citation models.Citation
	if err := r.withLines(ctx).Where("citation_no = ?", citationNo).Take(&citation).Error; err != nil {
		return nil, notFoundOr(err, "citation %s not found", citationNo)
	}
	return &citation, nil
}

// Update persists the mutable state of a citation using optimistic locking
// on the version column. Lines are never rewritten.
func (r *CitationRepository) Update(ctx context.Context, citation *models.Citation) error {
	result := r.db.WithContext(ctx).
		Model(&models.Citation{}).
		Where("id = ? AND version = ?", citation.ID, citation.Version).
		Updates(map[string]interface{}{
			"total_amount": citation.TotalAmount,
			"amount_paid":  citation.AmountPaid,
			"amount_due":   citation.AmountDue,
			"status":       citation.Status,
			"due_date":     citation.DueDate,
			"notes":        citation.Notes,
			"image_urls":   citation.ImageURLs,
			"is_void":      citation.IsVoid,
			"void_reason":  citation.VoidReason,
			"voided_by":    citation.VoidedBy,
			"voided_at":    citation.VoidedAt,
			"version":      citation.Version + 1,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to update citation")
	}
	if result.RowsAffected == 0 {
		return apperror.Retryable(nil, "citation %s was modified concurrently", citation.CitationNo)
	}

	citation.Version++
	return nil
}

// CountPriorOffenses counts the driver's citations in the given statuses
// that carry a line for the violation group. Void citations never count.
func (r *CitationRepository) CountPriorOffenses(ctx context.Context, driverID, groupID uuid.UUID, statuses []models.CitationStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Citation{}).
		Where("citations.driver_id = ?", driverID).
		Where("citations.is_void = ?", false).
		Where("citations.status IN ?", statuses).
		Where("EXISTS (SELECT 1 FROM citation_violation_lines l WHERE l.citation_id = citations.id AND l.violation_group_id = ?)", groupID).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count prior offenses")
	}
	return count, nil
}

// ListPastDue returns pending citations whose due date has passed
func (r *CitationRepository) ListPastDue(ctx context.Context, now time.Time, limit int) ([]models.Citation, error) {
	var citations []models.Citation
	err := r.withLines(ctx).
		Where("status = ? AND due_date < ?", models.CitationStatusPending, now).
		Order("due_date ASC").
		Limit(limit).
		Find(&citations).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list past-due citations")
	}
	return citations, nil
}
