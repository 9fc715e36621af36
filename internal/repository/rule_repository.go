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

// RuleRepository handles violation rule versions
type RuleRepository struct {
	db *gorm.DB
}

// Create inserts a new rule version
func (r *RuleRepository) Create(ctx context.Context, rule *models.ViolationRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		if isDuplicateKey(err) {
			return apperror.Conflict("rule %s version %d already exists or code %s is already in force", rule.GroupID, rule.Version, rule.Code)
		}
		return errors.Wrap(err, "failed to create rule")
	}
	return nil
}

// GetByID retrieves a rule version by ID
func (r *RuleRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ViolationRule, error) {
	var rule models.ViolationRule
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rule).Error; err != nil {
		return nil, notFoundOr(err, "rule %s not found", id)
	}
	return &rule, nil
}

// FindCurrentByCode retrieves the rule in force for code at the given time
func (r *RuleRepository) FindCurrentByCode(ctx context.Context, code string, at time.Time) (*models.ViolationRule, error) {
	var rule models.ViolationRule
	err := r.current(ctx, at).Where("code = ?", code).Take(&rule).Error
	if err != nil {
		return nil, notFoundOr(err, "no rule in force for code %s", code)
	}
	return &rule, nil
}

// FindCurrentByGroup retrieves the rule in force for a group at the given time
func (r *RuleRepository) FindCurrentByGroup(ctx context.Context, groupID uuid.UUID, at time.Time) (*models.ViolationRule, error) {
	var rule models.ViolationRule
	err := r.current(ctx, at).Where("group_id = ?", groupID).Take(&rule).Error
	if err != nil {
		return nil, notFoundOr(err, "no rule in force for group %s", groupID)
	}
	return &rule, nil
}

func (r *RuleRepository) current(ctx context.Context, at time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Where("effective_from <= ?", at).
		Where("effective_until IS NULL OR effective_until > ?", at).
		Order("version DESC")
}

// FindHead retrieves the unretired version of a group regardless of its
// effective date
func (r *RuleRepository) FindHead(ctx context.Context, groupID uuid.UUID) (*models.ViolationRule, error) {
	var rule models.ViolationRule
	err := r.db.WithContext(ctx).
		Where("group_id = ? AND is_active = ? AND effective_until IS NULL", groupID, true).
		Take(&rule).Error
	if err != nil {
		return nil, notFoundOr(err, "rule group %s has no active version", groupID)
	}
	return &rule, nil
}

// Retire closes a rule version. It only succeeds while the version is still
// unretired; a concurrent retirement surfaces as Conflict.
func (r *RuleRepository) Retire(ctx context.Context, id uuid.UUID, until time.Time, supersededBy *uuid.UUID, actor string) error {
	result := r.db.WithContext(ctx).
		Model(&models.ViolationRule{}).
		Where("id = ? AND is_active = ? AND effective_until IS NULL", id, true).
		Updates(map[string]interface{}{
			"is_active":       false,
			"effective_until": until,
			"superseded_by":   supersededBy,
			"retired_by":      actor,
		})
	if result.Error != nil {
		return errors.Wrap(result.Error, "failed to retire rule")
	}
	if result.RowsAffected == 0 {
		return apperror.Conflict("rule %s was already retired", id)
	}
	return nil
}

// History retrieves every version of a group, newest first
func (r *RuleRepository) History(ctx context.Context, groupID uuid.UUID) ([]models.ViolationRule, error) {
	var rules []models.ViolationRule
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("version DESC").
		Find(&rules).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load rule history")
	}
	return rules, nil
}
