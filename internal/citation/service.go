package citation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/catalog"
	"github.com/aegisshield/citation-engine/internal/clock"
	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/events"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/lock"
	"github.com/aegisshield/citation-engine/internal/metrics"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/offense"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/sequence"
	"github.com/aegisshield/citation-engine/internal/validation"
)

// Service issues citations and drives them through their lifecycle
type Service struct {
	config    config.CitationConfig
	store     *repository.Store
	catalog   *catalog.Catalog
	offenses  *offense.Lookup
	locker    lock.Locker
	sequencer sequence.Sequencer
	clock     clock.Clock
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewService creates a new citation service
func NewService(
	cfg config.CitationConfig,
	store *repository.Store,
	cat *catalog.Catalog,
	offenses *offense.Lookup,
	locker lock.Locker,
	sequencer sequence.Sequencer,
	clk clock.Clock,
	publisher events.Publisher,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:    cfg,
		store:     store,
		catalog:   cat,
		offenses:  offenses,
		locker:    locker,
		sequencer: sequencer,
		clock:     clk,
		publisher: publisher,
		metrics:   collector,
		logger:    logger.Named("citation"),
	}
}

// IssueRequest describes a new citation. Violations are rule IDs, rule
// group IDs or codes; each resolves to the rule currently in force.
type IssueRequest struct {
	DriverID          uuid.UUID          `json:"driver_id" validate:"required"`
	VehicleID         uuid.UUID          `json:"vehicle_id" validate:"required"`
	Violations        []string           `json:"violations" validate:"required,min=1,max=20,dive,required"`
	OffenderRole      fines.OffenderRole `json:"offender_role" validate:"omitempty,oneof=DRIVER OWNER_OPERATOR"`
	Location          string             `json:"location" validate:"max=255"`
	ViolationDateTime *time.Time         `json:"violation_date_time"`
	DueDate           *time.Time         `json:"due_date"`
	Notes             string             `json:"notes" validate:"max=4000"`
	ImageURLs         []string           `json:"image_urls" validate:"max=20,dive,required"`
	IssuedBy          string             `json:"-" validate:"required"`
}

// Issue resolves the violations, prices each one against the driver's
// offense history and persists the citation as PENDING. Ordinals are
// assigned under a lock per driver and violation group so concurrent
// citations escalate instead of sharing a tier.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (*models.Citation, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	violationAt := now
	if req.ViolationDateTime != nil {
		violationAt = req.ViolationDateTime.UTC()
		if violationAt.After(now) {
			return nil, apperror.Field("violation_date_time", "must not be in the future")
		}
	}
	dueDate := now.AddDate(0, 0, s.config.DefaultDueDays)
	if req.DueDate != nil {
		dueDate = req.DueDate.UTC()
		if dueDate.Before(violationAt) {
			return nil, apperror.Field("due_date", "must not precede the violation")
		}
	}

	driver, err := s.store.Registry.GetDriver(ctx, req.DriverID)
	if err != nil {
		return nil, err
	}
	vehicle, err := s.store.Registry.GetVehicle(ctx, req.VehicleID)
	if err != nil {
		return nil, err
	}

	role := req.OffenderRole
	if role == "" {
		role = fines.OffenderRoleDriver
		if vehicle.OwnerDriverID != nil && *vehicle.OwnerDriverID == driver.ID {
			role = fines.OffenderRoleOwnerOperator
		}
	}

	rules, err := s.resolveViolations(ctx, req.Violations)
	if err != nil {
		return nil, err
	}

	keys := make([]string, len(rules))
	for i, rule := range rules {
		keys[i] = offense.LockKey(driver.ID, rule.GroupID)
	}

	waitStart := time.Now()
	unlock, err := lock.AcquireAll(ctx, s.locker, keys...)
	s.metrics.RecordLockWait(time.Since(waitStart))
	if err != nil {
		s.metrics.RecordConflict("issue")
		return nil, err
	}
	defer unlock()

	lines := make([]models.CitationViolationLine, len(rules))
	for i, rule := range rules {
		ordinal, err := s.offenses.Ordinal(ctx, s.store.Citations, driver.ID, rule.GroupID)
		if err != nil {
			return nil, err
		}

		assessment, err := fines.Calculate(rule.Schedule, vehicle.OwnerClass, role, ordinal)
		if err != nil {
			return nil, err
		}

		lines[i] = models.CitationViolationLine{
			Position:         i + 1,
			RuleID:           rule.ID,
			ViolationGroupID: rule.GroupID,
			RuleVersion:      rule.Version,
			Code:             rule.Code,
			Title:            rule.Title,
			Description:      rule.Description,
			FineStructure:    rule.FineStructure,
			Tier:             assessment.Tier,
			OffenseOrdinal:   assessment.Ordinal,
			FineAmount:       assessment.Amount,
		}
	}

	citationNo, err := sequence.Allocate(ctx, s.sequencer, s.config.NumberPrefix, now.Year())
	if err != nil {
		return nil, err
	}

	citation := &models.Citation{
		CitationNo:        citationNo,
		DriverID:          driver.ID,
		VehicleID:         vehicle.ID,
		OwnerClass:        vehicle.OwnerClass,
		OffenderRole:      role,
		Location:          strings.TrimSpace(req.Location),
		ViolationDateTime: violationAt,
		Lines:             lines,
		AmountPaid:        decimal.Zero,
		Status:            models.CitationStatusPending,
		DueDate:           dueDate,
		Notes:             req.Notes,
		ImageURLs:         models.StringList(req.ImageURLs),
		IssuedBy:          req.IssuedBy,
	}
	Recompute(citation)

	if err := s.store.Citations.Create(ctx, citation); err != nil {
		if apperror.IsKind(err, apperror.KindRetryable) {
			s.metrics.RecordConflict("issue")
		}
		return nil, err
	}
	unlock()

	s.logger.Info("Citation issued",
		zap.String("citation_no", citation.CitationNo),
		zap.String("driver_id", driver.ID.String()),
		zap.Int("violations", len(lines)),
		zap.String("total", citation.TotalAmount.StringFixed(2)),
		zap.String("issued_by", req.IssuedBy))

	s.metrics.RecordCitationIssued(string(citation.OwnerClass), string(citation.OffenderRole))
	for _, line := range lines {
		s.metrics.RecordFineAssessed(string(line.FineStructure), string(line.Tier), line.FineAmount.InexactFloat64())
	}
	s.publish(ctx, events.CitationIssued, citation, req.IssuedBy)

	return citation, nil
}

// resolveViolations maps each identity to its current rule. Two identities
// naming the same violation group are rejected.
func (s *Service) resolveViolations(ctx context.Context, identities []string) ([]*models.ViolationRule, error) {
	rules := make([]*models.ViolationRule, 0, len(identities))
	seen := make(map[uuid.UUID]int, len(identities))
	fields := map[string]string{}

	for i, identity := range identities {
		rule, err := s.catalog.Resolve(ctx, identity)
		if err != nil {
			return nil, err
		}
		if first, ok := seen[rule.GroupID]; ok {
			fields[fmt.Sprintf("violations[%d]", i)] = fmt.Sprintf("duplicates violations[%d]", first)
			continue
		}
		seen[rule.GroupID] = i
		rules = append(rules, rule)
	}

	if len(fields) > 0 {
		return nil, apperror.Validation("duplicate violations", fields)
	}
	return rules, nil
}

// PaymentRequest records money received against a citation
type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"max=128"`
	Actor     string          `json:"-" validate:"required"`
}

// RecordPayment applies a payment and returns the updated citation
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req PaymentRequest) (*models.Citation, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	current, err := s.store.Citations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	refreshed, overdue := CheckOverdue(*current, s.clock.Now())
	updated, err := RecordPayment(refreshed, req.Amount)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, "record_payment", &updated); err != nil {
		return nil, err
	}

	s.logger.Info("Payment recorded",
		zap.String("citation_no", updated.CitationNo),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("amount_due", updated.AmountDue.StringFixed(2)),
		zap.String("status", string(updated.Status)),
		zap.String("actor", req.Actor))

	if overdue {
		s.metrics.RecordOverdue()
		s.publish(ctx, events.CitationOverdue, &updated, "")
	}
	s.metrics.RecordPayment(string(updated.Status))
	s.publishPayload(ctx, events.CitationPaymentRecorded, &updated, req.Actor, paymentPayload{
		Citation:  &updated,
		Amount:    req.Amount,
		Reference: req.Reference,
	})

	return &updated, nil
}

type paymentPayload struct {
	Citation  *models.Citation `json:"citation"`
	Amount    decimal.Decimal  `json:"amount"`
	Reference string           `json:"reference,omitempty"`
}

// Void cancels a citation permanently
func (s *Service) Void(ctx context.Context, id uuid.UUID, reason, actor string) (*models.Citation, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperror.Field("actor", "is required")
	}

	current, err := s.store.Citations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := Void(*current, reason, actor, s.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, "void", &updated); err != nil {
		return nil, err
	}

	s.logger.Info("Citation voided",
		zap.String("citation_no", updated.CitationNo),
		zap.String("reason", updated.VoidReason),
		zap.String("actor", actor))
	s.metrics.RecordVoid()
	s.publish(ctx, events.CitationVoided, &updated, actor)

	return &updated, nil
}

// Update edits the mutable fields of a citation
func (s *Service) Update(ctx context.Context, id uuid.UUID, changes Changes, actor string) (*models.Citation, error) {
	if err := validation.Struct(changes); err != nil {
		return nil, err
	}

	current, err := s.store.Citations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	updated, err := Apply(*current, changes, now)
	if err != nil {
		return nil, err
	}
	updated, overdue := CheckOverdue(updated, now)

	if err := s.save(ctx, "update", &updated); err != nil {
		return nil, err
	}

	s.logger.Info("Citation updated",
		zap.String("citation_no", updated.CitationNo),
		zap.String("actor", actor))
	if overdue {
		s.metrics.RecordOverdue()
		s.publish(ctx, events.CitationOverdue, &updated, "")
	}
	s.publish(ctx, events.CitationUpdated, &updated, actor)

	return &updated, nil
}

// Get returns a citation, first moving it to OVERDUE if its due date has
// passed while still pending
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Citation, error) {
	citation, err := s.store.Citations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, citation)
}

// GetByNumber returns a citation by its public number
func (s *Service) GetByNumber(ctx context.Context, citationNo string) (*models.Citation, error) {
	citation, err := s.store.Citations.GetByNumber(ctx, citationNo)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, citation)
}

// SweepOverdue moves up to limit past-due pending citations to OVERDUE and
// returns how many it changed
func (s *Service) SweepOverdue(ctx context.Context, limit int) (int, error) {
	due, err := s.store.Citations.ListPastDue(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range due {
		refreshed, err := s.refresh(ctx, &due[i])
		if err != nil {
			return swept, err
		}
		if refreshed.Status == models.CitationStatusOverdue {
			swept++
		}
	}
	return swept, nil
}

// refresh persists a lazy overdue transition. Losing the write to a
// concurrent update re-reads the winner's state.
func (s *Service) refresh(ctx context.Context, citation *models.Citation) (*models.Citation, error) {
	updated, overdue := CheckOverdue(*citation, s.clock.Now())
	if !overdue {
		return citation, nil
	}

	if err := s.store.Citations.Update(ctx, &updated); err != nil {
		if apperror.IsKind(err, apperror.KindRetryable) {
			return s.store.Citations.GetByID(ctx, citation.ID)
		}
		return nil, err
	}

	s.logger.Info("Citation overdue", zap.String("citation_no", updated.CitationNo))
	s.metrics.RecordOverdue()
	s.publish(ctx, events.CitationOverdue, &updated, "")

	return &updated, nil
}

func (s *Service) save(ctx context.Context, operation string, citation *models.Citation) error {
	if err := s.store.Citations.Update(ctx, citation); err != nil {
		if apperror.IsKind(err, apperror.KindRetryable) {
			s.metrics.RecordConflict(operation)
		}
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context, eventType string, citation *models.Citation, actor string) {
	s.publishPayload(ctx, eventType, citation, actor, citation)
}

func (s *Service) publishPayload(ctx context.Context, eventType string, citation *models.Citation, actor string, payload interface{}) {
	event := events.New(eventType, citation.ID.String(), citation.CitationNo, actor, s.clock.Now(), payload)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish citation event",
			zap.String("type", eventType),
			zap.String("citation_no", citation.CitationNo),
			zap.Error(err))
	}
}
