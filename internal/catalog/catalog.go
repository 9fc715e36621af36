package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/clock"
	"github.com/aegisshield/citation-engine/internal/events"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/metrics"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/validation"
)

// Catalog owns the versioned violation rules. Published versions are never
// edited; a change retires the current version and appends its successor.
type Catalog struct {
	store     *repository.Store
	clock     clock.Clock
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewCatalog creates a new violation catalog
func NewCatalog(store *repository.Store, clk clock.Clock, publisher events.Publisher, collector *metrics.Collector, logger *zap.Logger) *Catalog {
	return &Catalog{
		store:     store,
		clock:     clk,
		publisher: publisher,
		metrics:   collector,
		logger:    logger.Named("catalog"),
	}
}

// DefineRequest creates the first version of a new rule group when GroupID
// is nil, or the next version of an existing group otherwise. Fields left
// empty on a new version are copied from its predecessor.
type DefineRequest struct {
	GroupID       *uuid.UUID      `json:"group_id"`
	Code          string          `json:"code" validate:"max=64"`
	Title         string          `json:"title" validate:"max=255"`
	Description   *string         `json:"description"`
	Schedule      *fines.Document `json:"schedule"`
	EffectiveFrom *time.Time      `json:"effective_from"`
	Actor         string          `json:"-" validate:"required"`
}

// RuleChanges lists the fields a new version overrides. Nil keeps the
// predecessor's value.
type RuleChanges struct {
	Code        *string
	Title       *string
	Description *string
	Schedule    *fines.Document
}

// GetCurrent returns the rule in force for code right now
func (c *Catalog) GetCurrent(ctx context.Context, code string) (*models.ViolationRule, error) {
	return c.store.Rules.FindCurrentByCode(ctx, code, c.clock.Now())
}

// Resolve maps a violation identity onto the rule currently in force. The
// identity is a rule ID, a group ID or a code.
func (c *Catalog) Resolve(ctx context.Context, identity string) (*models.ViolationRule, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, apperror.Field("violation", "is required")
	}

	now := c.clock.Now()

	id, err := uuid.Parse(identity)
	if err != nil {
		return c.store.Rules.FindCurrentByCode(ctx, identity, now)
	}

	groupID := id
	rule, err := c.store.Rules.GetByID(ctx, id)
	switch {
	case err == nil:
		groupID = rule.GroupID
	case !apperror.IsKind(err, apperror.KindNotFound):
		return nil, err
	}

	current, err := c.store.Rules.FindCurrentByGroup(ctx, groupID, now)
	if apperror.IsKind(err, apperror.KindNotFound) {
		return nil, apperror.NotFound("no rule in force for violation %s", identity)
	}
	return current, err
}

// DefineRuleVersion creates a new rule group or appends a version to an
// existing one
func (c *Catalog) DefineRuleVersion(ctx context.Context, req DefineRequest) (*models.ViolationRule, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	if req.GroupID != nil {
		head, err := c.store.Rules.FindHead(ctx, *req.GroupID)
		if err != nil {
			return nil, err
		}
		changes := RuleChanges{Description: req.Description, Schedule: req.Schedule}
		if req.Code != "" {
			changes.Code = &req.Code
		}
		if req.Title != "" {
			changes.Title = &req.Title
		}
		return c.CreateVersion(ctx, head, changes, req.EffectiveFrom, req.Actor)
	}

	fields := map[string]string{}
	if strings.TrimSpace(req.Code) == "" {
		fields["code"] = "is required"
	}
	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "is required"
	}
	if req.Schedule == nil {
		fields["schedule"] = "is required"
	}
	if len(fields) > 0 {
		return nil, apperror.Validation("invalid rule definition", fields)
	}
	if err := req.Schedule.Validate(); err != nil {
		return nil, err
	}

	effectiveFrom := c.clock.Now()
	if req.EffectiveFrom != nil {
		effectiveFrom = req.EffectiveFrom.UTC()
	}

	rule := &models.ViolationRule{
		GroupID:       uuid.New(),
		Version:       1,
		Code:          strings.TrimSpace(req.Code),
		Title:         strings.TrimSpace(req.Title),
		FineStructure: req.Schedule.Structure,
		Schedule:      *req.Schedule,
		IsActive:      true,
		EffectiveFrom: effectiveFrom,
		CreatedBy:     req.Actor,
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}

	if err := c.store.Rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	c.logger.Info("Rule group created",
		zap.String("group_id", rule.GroupID.String()),
		zap.String("code", rule.Code),
		zap.String("actor", req.Actor))
	c.metrics.RecordRuleChange("created")
	c.publish(ctx, events.RuleVersionCreated, rule, req.Actor)

	return rule, nil
}

// CreateVersion retires existing and appends its successor in one
// transaction. effectiveFrom defaults to now, or to the predecessor's start
// when that is still ahead, and must lie between the two.
func (c *Catalog) CreateVersion(ctx context.Context, existing *models.ViolationRule, changes RuleChanges, effectiveFrom *time.Time, actor string) (*models.ViolationRule, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperror.Field("actor", "is required")
	}
	if !existing.IsActive || existing.EffectiveUntil != nil {
		return nil, apperror.Conflict("rule %s version %d is already retired", existing.Code, existing.Version)
	}

	// A predecessor scheduled for the future is replaced at its own start.
	latest := c.clock.Now()
	if existing.EffectiveFrom.After(latest) {
		latest = existing.EffectiveFrom
	}

	from := latest
	if effectiveFrom != nil {
		from = effectiveFrom.UTC()
		if from.Before(existing.EffectiveFrom) || from.After(latest) {
			return nil, apperror.Field("effective_from", "must lie between the current version's start and now")
		}
	}

	next := &models.ViolationRule{
		ID:            uuid.New(),
		GroupID:       existing.GroupID,
		Version:       existing.Version + 1,
		Code:          existing.Code,
		Title:         existing.Title,
		Description:   existing.Description,
		Schedule:      existing.Schedule,
		IsActive:      true,
		EffectiveFrom: from,
		CreatedBy:     actor,
	}
	if changes.Code != nil {
		next.Code = strings.TrimSpace(*changes.Code)
	}
	if changes.Title != nil {
		next.Title = strings.TrimSpace(*changes.Title)
	}
	if changes.Description != nil {
		next.Description = *changes.Description
	}
	if changes.Schedule != nil {
		if err := changes.Schedule.Validate(); err != nil {
			return nil, err
		}
		next.Schedule = *changes.Schedule
	}
	next.FineStructure = next.Schedule.Structure

	err := c.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Rules.Retire(ctx, existing.ID, from, &next.ID, actor); err != nil {
			return err
		}
		return tx.Rules.Create(ctx, next)
	})
	if err != nil {
		if apperror.IsKind(err, apperror.KindConflict) {
			c.metrics.RecordConflict("create_rule_version")
		}
		return nil, err
	}

	c.logger.Info("Rule version created",
		zap.String("group_id", next.GroupID.String()),
		zap.String("code", next.Code),
		zap.Int("version", next.Version),
		zap.String("actor", actor))
	c.metrics.RecordRuleChange("versioned")
	c.publish(ctx, events.RuleVersionCreated, next, actor)

	return next, nil
}

// Deactivate retires a rule without a successor
func (c *Catalog) Deactivate(ctx context.Context, ruleID uuid.UUID, actor string) (*models.ViolationRule, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperror.Field("actor", "is required")
	}

	rule, err := c.store.Rules.GetByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if !rule.IsActive || rule.EffectiveUntil != nil {
		return nil, apperror.Conflict("rule %s version %d is already retired", rule.Code, rule.Version)
	}

	until := c.clock.Now()
	if rule.EffectiveFrom.After(until) {
		until = rule.EffectiveFrom
	}
	if err := c.store.Rules.Retire(ctx, rule.ID, until, nil, actor); err != nil {
		return nil, err
	}

	rule.IsActive = false
	rule.EffectiveUntil = &until
	rule.RetiredBy = actor

	c.logger.Info("Rule deactivated",
		zap.String("rule_id", rule.ID.String()),
		zap.String("code", rule.Code),
		zap.String("actor", actor))
	c.metrics.RecordRuleChange("deactivated")
	c.publish(ctx, events.RuleDeactivated, rule, actor)

	return rule, nil
}

// History returns every version of a group, newest first
func (c *Catalog) History(ctx context.Context, groupID uuid.UUID) ([]models.ViolationRule, error) {
	rules, err := c.store.Rules.History(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, apperror.NotFound("rule group %s not found", groupID)
	}
	return rules, nil
}

func (c *Catalog) publish(ctx context.Context, eventType string, rule *models.ViolationRule, actor string) {
	event := events.New(eventType, rule.GroupID.String(), rule.Code, actor, c.clock.Now(), rule)
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Warn("Failed to publish rule event",
			zap.String("type", eventType),
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err))
	}
}
