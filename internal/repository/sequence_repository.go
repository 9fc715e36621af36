package repository

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aegisshield/citation-engine/internal/models"
)

// SequenceRepository allocates values from named counters
type SequenceRepository struct {
	db *gorm.DB
}

// Next increments the counter for scope and returns the new value. The
// increment runs in its own transaction so callers never share a value.
func (r *SequenceRepository) Next(ctx context.Context, scope string) (int64, error) {
	var seq models.Sequence

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Make sure the row exists
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Sequence{Scope: scope}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Sequence{}).
			Where("scope = ?", scope).
			Updates(map[string]interface{}{"value": gorm.Expr("value + ?", 1)}).Error; err != nil {
			return err
		}

		return tx.Where("scope = ?", scope).Take(&seq).Error
	})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to allocate next value for %s", scope)
	}

	return seq.Value, nil
}
