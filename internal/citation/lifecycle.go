package citation

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/models"
)

// transitions lists the statuses reachable from each status. A status not
// present as a key is terminal.
var transitions = map[models.CitationStatus][]models.CitationStatus{
	models.CitationStatusPending: {
		models.CitationStatusPartiallyPaid,
		models.CitationStatusPaid,
		models.CitationStatusOverdue,
		models.CitationStatusContested,
		models.CitationStatusVoid,
	},
	models.CitationStatusPartiallyPaid: {
		models.CitationStatusPaid,
		models.CitationStatusContested,
		models.CitationStatusVoid,
	},
	models.CitationStatusOverdue: {
		models.CitationStatusPending,
		models.CitationStatusPartiallyPaid,
		models.CitationStatusPaid,
		models.CitationStatusContested,
		models.CitationStatusVoid,
	},
	models.CitationStatusContested: {
		models.CitationStatusDismissed,
		models.CitationStatusPending,
		models.CitationStatusPartiallyPaid,
		models.CitationStatusPaid,
		models.CitationStatusVoid,
	},
	models.CitationStatusPaid: {
		models.CitationStatusVoid,
	},
}

// CanTransition reports whether a citation may move from one status to
// another
func CanTransition(from, to models.CitationStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further status change is possible
func IsTerminal(s models.CitationStatus) bool {
	return len(transitions[s]) == 0
}

func moveTo(c *models.Citation, to models.CitationStatus) error {
	if c.Status == to {
		return nil
	}
	if !CanTransition(c.Status, to) {
		return apperror.Conflict("citation %s cannot move from %s to %s", c.CitationNo, c.Status, to)
	}
	c.Status = to
	return nil
}

// Recompute derives the total from the lines and the amount due from the
// total and the amount paid. The amount due never drops below zero.
func Recompute(c *models.Citation) {
	total := decimal.Zero
	for _, line := range c.Lines {
		total = total.Add(line.FineAmount)
	}
	c.TotalAmount = total

	due := total.Sub(c.AmountPaid)
	if due.IsNegative() {
		due = decimal.Zero
	}
	c.AmountDue = due
}

// PaymentStatus is the status implied by the amounts alone
func PaymentStatus(c models.Citation) models.CitationStatus {
	switch {
	case c.AmountPaid.GreaterThanOrEqual(c.TotalAmount):
		return models.CitationStatusPaid
	case c.AmountPaid.IsPositive():
		return models.CitationStatusPartiallyPaid
	default:
		return models.CitationStatusPending
	}
}

// RecordPayment adds amount to the paid total. A contested citation keeps
// its status until the contest closes.
func RecordPayment(c models.Citation, amount decimal.Decimal) (models.Citation, error) {
	if problem := fines.CheckAmount(amount); problem != "" {
		return c, apperror.Field("amount", problem)
	}
	if c.AmountPaid.Add(amount).GreaterThan(fines.MaxAmount) {
		return c, apperror.Field("amount", "would push the amount paid past "+fines.MaxAmount.StringFixed(2))
	}
	switch c.Status {
	case models.CitationStatusPaid, models.CitationStatusVoid, models.CitationStatusDismissed:
		return c, apperror.Conflict("citation %s is %s and accepts no payments", c.CitationNo, c.Status)
	}

	c.AmountPaid = c.AmountPaid.Add(amount)
	Recompute(&c)

	if c.Status == models.CitationStatusContested {
		return c, nil
	}
	if err := moveTo(&c, PaymentStatus(c)); err != nil {
		return c, err
	}
	return c, nil
}

// CheckOverdue moves a pending citation past its due date to OVERDUE and
// reports whether it did
func CheckOverdue(c models.Citation, now time.Time) (models.Citation, bool) {
	if c.Status != models.CitationStatusPending || !now.After(c.DueDate) {
		return c, false
	}
	c.Status = models.CitationStatusOverdue
	return c, true
}

// Contestable reports why a citation cannot be contested, or nil
func Contestable(c models.Citation) error {
	switch c.Status {
	case models.CitationStatusPaid, models.CitationStatusVoid, models.CitationStatusDismissed:
		return apperror.NotContestable("citation %s is %s and cannot be contested", c.CitationNo, c.Status)
	}
	return nil
}

// MarkContested moves the citation to CONTESTED
func MarkContested(c models.Citation) (models.Citation, error) {
	if err := Contestable(c); err != nil {
		return c, err
	}
	if err := moveTo(&c, models.CitationStatusContested); err != nil {
		return c, err
	}
	return c, nil
}

// Dismiss waives the citation after an approved contest
func Dismiss(c models.Citation) (models.Citation, error) {
	if c.Status != models.CitationStatusContested {
		return c, apperror.Conflict("citation %s is %s, not CONTESTED", c.CitationNo, c.Status)
	}
	c.Status = models.CitationStatusDismissed
	return c, nil
}

// RevertContest returns a contested citation to the status its payments
// imply. OVERDUE is not re-derived here; the next overdue check does that.
func RevertContest(c models.Citation) (models.Citation, error) {
	if c.Status != models.CitationStatusContested {
		return c, apperror.Conflict("citation %s is %s, not CONTESTED", c.CitationNo, c.Status)
	}
	c.Status = PaymentStatus(c)
	return c, nil
}

// Void cancels the citation permanently
func Void(c models.Citation, reason, actor string, at time.Time) (models.Citation, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return c, apperror.Field("reason", "is required")
	}
	if c.IsVoid || c.Status == models.CitationStatusVoid {
		return c, apperror.Conflict("citation %s is already void", c.CitationNo)
	}
	if err := moveTo(&c, models.CitationStatusVoid); err != nil {
		return c, err
	}

	c.IsVoid = true
	c.VoidReason = reason
	c.VoidedBy = actor
	c.VoidedAt = &at
	return c, nil
}

// Changes are the fields of a citation that stay editable after issuance
type Changes struct {
	Notes     *string    `json:"notes" validate:"omitempty,max=4000"`
	ImageURLs *[]string  `json:"image_urls" validate:"omitempty,max=20,dive,required"`
	DueDate   *time.Time `json:"due_date"`
}

// Apply writes the non-nil changes onto the citation. An overdue citation
// whose due date moves to now or later returns to its payment status.
func Apply(c models.Citation, changes Changes, now time.Time) (models.Citation, error) {
	if c.IsVoid {
		return c, apperror.Conflict("citation %s is void and cannot be edited", c.CitationNo)
	}
	if changes.DueDate != nil && changes.DueDate.Before(c.ViolationDateTime) {
		return c, apperror.Field("due_date", "must not precede the violation")
	}

	if changes.Notes != nil {
		c.Notes = *changes.Notes
	}
	if changes.ImageURLs != nil {
		c.ImageURLs = models.StringList(*changes.ImageURLs)
	}
	if changes.DueDate != nil {
		c.DueDate = changes.DueDate.UTC()
		if c.Status == models.CitationStatusOverdue && !now.After(c.DueDate) {
			if err := moveTo(&c, PaymentStatus(c)); err != nil {
				return c, err
			}
		}
	}
	return c, nil
}
