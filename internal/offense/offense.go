package offense

import (
	"context"

	"github.com/google/uuid"

	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/models"
)

// Policy decides whether contested and dismissed citations count as prior
// offenses. Void citations never count.
type Policy struct {
	CountContested bool
	CountDismissed bool
}

// PolicyFromConfig builds a policy from configuration
func PolicyFromConfig(cfg config.OffenseConfig) Policy {
	return Policy{
		CountContested: cfg.CountContested,
		CountDismissed: cfg.CountDismissed,
	}
}

// Statuses returns the citation statuses that count as a prior offense
func (p Policy) Statuses() []models.CitationStatus {
	statuses := []models.CitationStatus{
		models.CitationStatusPending,
		models.CitationStatusOverdue,
		models.CitationStatusPartiallyPaid,
		models.CitationStatusPaid,
	}
	if p.CountContested {
		statuses = append(statuses, models.CitationStatusContested)
	}
	if p.CountDismissed {
		statuses = append(statuses, models.CitationStatusDismissed)
	}
	return statuses
}

// Counter is the read side of the citation store
type Counter interface {
	CountPriorOffenses(ctx context.Context, driverID, groupID uuid.UUID, statuses []models.CitationStatus) (int64, error)
}

// Lookup counts a driver's prior offenses for a violation group
type Lookup struct {
	policy Policy
}

// NewLookup creates a lookup applying policy
func NewLookup(policy Policy) *Lookup {
	return &Lookup{policy: policy}
}

// Count returns the number of prior citations of driverID that charged the
// violation group
func (l *Lookup) Count(ctx context.Context, counter Counter, driverID, groupID uuid.UUID) (int, error) {
	n, err := counter.CountPriorOffenses(ctx, driverID, groupID, l.policy.Statuses())
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// Ordinal returns the 1-based offense number a new citation would carry
func (l *Lookup) Ordinal(ctx context.Context, counter Counter, driverID, groupID uuid.UUID) (int, error) {
	n, err := l.Count(ctx, counter, driverID, groupID)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// LockKey names the lock that serializes ordinal assignment for one driver
// and violation group
func LockKey(driverID, groupID uuid.UUID) string {
	return "offense:" + driverID.String() + ":" + groupID.String()
}
