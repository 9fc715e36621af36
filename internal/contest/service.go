package contest

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/citation"
	"github.com/aegisshield/citation-engine/internal/clock"
	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/events"
	"github.com/aegisshield/citation-engine/internal/metrics"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/sequence"
	"github.com/aegisshield/citation-engine/internal/validation"
)

// Service runs the contest workflow. Every step writes the contest, its
// history entry and the citation in one transaction.
type Service struct {
	config    config.ContestConfig
	store     *repository.Store
	sequencer sequence.Sequencer
	clock     clock.Clock
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
}

// NewService creates a new contest service
func NewService(
	cfg config.ContestConfig,
	store *repository.Store,
	sequencer sequence.Sequencer,
	clk clock.Clock,
	publisher events.Publisher,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Service {
	return &Service{
		config:    cfg,
		store:     store,
		sequencer: sequencer,
		clock:     clk,
		publisher: publisher,
		metrics:   collector,
		logger:    logger.Named("contest"),
	}
}

// SubmitRequest opens a contest against a citation
type SubmitRequest struct {
	Reason       string   `json:"reason" validate:"required,max=4000"`
	EvidenceURLs []string `json:"evidence_urls" validate:"max=20,dive,required"`
	Actor        string   `json:"-" validate:"required"`
}

// ResolveRequest closes a contest under review
type ResolveRequest struct {
	Approve    bool   `json:"approve"`
	Resolution string `json:"resolution" validate:"required,max=4000"`
	Actor      string `json:"-" validate:"required"`
}

// Submit opens a contest and marks the citation CONTESTED. The partial
// unique index on open contests decides concurrent submissions.
func (s *Service) Submit(ctx context.Context, citationID uuid.UUID, req SubmitRequest) (*models.Contest, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	now := s.clock.Now()

	current, err := s.store.Citations.GetByID(ctx, citationID)
	if err != nil {
		return nil, err
	}
	refreshed, overdue := citation.CheckOverdue(*current, now)
	if err := citation.Contestable(refreshed); err != nil {
		return nil, err
	}

	if open, err := s.store.Contests.FindOpenByCitation(ctx, citationID); err == nil {
		return nil, apperror.Conflict("citation %s already has open contest %s", current.CitationNo, open.ContestNo)
	} else if !apperror.IsKind(err, apperror.KindNotFound) {
		return nil, err
	}

	contestNo, err := sequence.Allocate(ctx, s.sequencer, s.config.NumberPrefix, now.Year())
	if err != nil {
		return nil, err
	}

	t, err := Submit(refreshed, Submission{
		ContestNo:    contestNo,
		Reason:       req.Reason,
		EvidenceURLs: req.EvidenceURLs,
		Actor:        req.Actor,
	}, now)
	if err != nil {
		return nil, err
	}

	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Contests.Create(ctx, &t.Contest, &t.Entry); err != nil {
			return err
		}
		return tx.Citations.Update(ctx, &t.Citation)
	})
	if err != nil {
		s.recordFailure("submit", err)
		return nil, err
	}

	s.logger.Info("Contest submitted",
		zap.String("contest_no", t.Contest.ContestNo),
		zap.String("citation_no", t.Citation.CitationNo),
		zap.String("actor", req.Actor))
	if overdue {
		s.metrics.RecordOverdue()
		s.publishOverdue(ctx, &refreshed)
	}
	s.metrics.RecordContestSubmitted()
	s.publish(ctx, events.ContestSubmitted, &t, req.Actor)

	return &t.Contest, nil
}

// MoveToReview starts the review of a submitted contest
func (s *Service) MoveToReview(ctx context.Context, contestID uuid.UUID, actor, note string) (*models.Contest, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperror.Field("actor", "is required")
	}

	contest, current, err := s.load(ctx, contestID)
	if err != nil {
		return nil, err
	}

	t, err := MoveToReview(*contest, *current, actor, note, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, "review", &t); err != nil {
		return nil, err
	}

	s.logger.Info("Contest under review",
		zap.String("contest_no", t.Contest.ContestNo),
		zap.String("actor", actor))
	s.publish(ctx, events.ContestUnderReview, &t, actor)

	return &t.Contest, nil
}

// Resolve approves or rejects a contest under review
func (s *Service) Resolve(ctx context.Context, contestID uuid.UUID, req ResolveRequest) (*models.Contest, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	contest, current, err := s.load(ctx, contestID)
	if err != nil {
		return nil, err
	}

	step, eventType := Reject, events.ContestRejected
	if req.Approve {
		step, eventType = Approve, events.ContestApproved
	}

	t, err := step(*contest, *current, req.Resolution, req.Actor, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, "resolve", &t); err != nil {
		return nil, err
	}

	s.logger.Info("Contest resolved",
		zap.String("contest_no", t.Contest.ContestNo),
		zap.String("outcome", string(t.Contest.Status)),
		zap.String("citation_status", string(t.Citation.Status)),
		zap.String("actor", req.Actor))
	s.metrics.RecordContestOutcome(string(t.Contest.Status))
	s.publish(ctx, eventType, &t, req.Actor)

	return &t.Contest, nil
}

// Withdraw closes a contest at the submitter's request
func (s *Service) Withdraw(ctx context.Context, contestID uuid.UUID, actor, note string) (*models.Contest, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, apperror.Field("actor", "is required")
	}

	contest, current, err := s.load(ctx, contestID)
	if err != nil {
		return nil, err
	}

	t, err := Withdraw(*contest, *current, actor, note, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, "withdraw", &t); err != nil {
		return nil, err
	}

	s.logger.Info("Contest withdrawn",
		zap.String("contest_no", t.Contest.ContestNo),
		zap.String("actor", actor))
	s.metrics.RecordContestOutcome(string(t.Contest.Status))
	s.publish(ctx, events.ContestWithdrawn, &t, actor)

	return &t.Contest, nil
}

// Get returns a contest with its status history
func (s *Service) Get(ctx context.Context, contestID uuid.UUID) (*models.Contest, error) {
	return s.store.Contests.GetByID(ctx, contestID)
}

// ListForCitation returns every contest filed against a citation
func (s *Service) ListForCitation(ctx context.Context, citationID uuid.UUID) ([]models.Contest, error) {
	if _, err := s.store.Citations.GetByID(ctx, citationID); err != nil {
		return nil, err
	}
	return s.store.Contests.ListByCitation(ctx, citationID)
}

func (s *Service) load(ctx context.Context, contestID uuid.UUID) (*models.Contest, *models.Citation, error) {
	contest, err := s.store.Contests.GetByID(ctx, contestID)
	if err != nil {
		return nil, nil, err
	}
	current, err := s.store.Citations.GetByID(ctx, contest.CitationID)
	if err != nil {
		return nil, nil, err
	}
	return contest, current, nil
}

func (s *Service) apply(ctx context.Context, operation string, t *Transition) error {
	err := s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Contests.Update(ctx, &t.Contest, &t.Entry); err != nil {
			return err
		}
		if t.CitationChanged {
			return tx.Citations.Update(ctx, &t.Citation)
		}
		return nil
	})
	if err != nil {
		s.recordFailure(operation, err)
	}
	return err
}

func (s *Service) recordFailure(operation string, err error) {
	switch apperror.KindOf(err) {
	case apperror.KindRetryable, apperror.KindConflict:
		s.metrics.RecordConflict(operation)
	}
}

func (s *Service) publish(ctx context.Context, eventType string, t *Transition, actor string) {
	payload := struct {
		Contest  *models.Contest  `json:"contest"`
		Citation *models.Citation `json:"citation"`
	}{&t.Contest, &t.Citation}

	event := events.New(eventType, t.Contest.ID.String(), t.Contest.ContestNo, actor, s.clock.Now(), payload)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish contest event",
			zap.String("type", eventType),
			zap.String("contest_no", t.Contest.ContestNo),
			zap.Error(err))
	}
}

// publishOverdue reports a citation found past due while opening a contest.
// The OVERDUE status itself is superseded by CONTESTED in the same write.
func (s *Service) publishOverdue(ctx context.Context, c *models.Citation) {
	event := events.New(events.CitationOverdue, c.ID.String(), c.CitationNo, "", s.clock.Now(), c)
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish citation event",
			zap.String("type", events.CitationOverdue),
			zap.String("citation_no", c.CitationNo),
			zap.Error(err))
	}
}
