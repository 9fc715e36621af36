package contest

import (
	"strings"
	"time"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/citation"
	"github.com/aegisshield/citation-engine/internal/models"
)

var transitions = map[models.ContestStatus][]models.ContestStatus{
	models.ContestStatusSubmitted: {
		models.ContestStatusUnderReview,
		models.ContestStatusWithdrawn,
	},
	models.ContestStatusUnderReview: {
		models.ContestStatusApproved,
		models.ContestStatusRejected,
		models.ContestStatusWithdrawn,
	},
}

// CanTransition reports whether a contest may move from one status to
// another
func CanTransition(from, to models.ContestStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is the result of one workflow step: both aggregates as they
// must be persisted together, plus the audit entry describing the step.
type Transition struct {
	Contest         models.Contest
	Citation        models.Citation
	Entry           models.ContestStatusEntry
	CitationChanged bool
}

// Submission carries what a new contest needs besides the citation
type Submission struct {
	ContestNo    string
	Reason       string
	EvidenceURLs []string
	Actor        string
}

// Submit opens a contest and moves the citation to CONTESTED
func Submit(c models.Citation, sub Submission, at time.Time) (Transition, error) {
	if strings.TrimSpace(sub.Reason) == "" {
		return Transition{}, apperror.Field("reason", "is required")
	}

	if c.Status == models.CitationStatusContested {
		return Transition{}, apperror.Conflict("citation %s is already contested", c.CitationNo)
	}
	contested, err := citation.MarkContested(c)
	if err != nil {
		return Transition{}, err
	}

	contest := models.Contest{
		ContestNo:    sub.ContestNo,
		CitationID:   c.ID,
		Reason:       strings.TrimSpace(sub.Reason),
		EvidenceURLs: models.StringList(sub.EvidenceURLs),
		Status:       models.ContestStatusSubmitted,
		SubmittedBy:  sub.Actor,
		SubmittedAt:  at,
	}

	return Transition{
		Contest:  contest,
		Citation: contested,
		Entry: models.ContestStatusEntry{
			Position:  1,
			ToStatus:  models.ContestStatusSubmitted,
			Actor:     sub.Actor,
			Note:      contest.Reason,
			CreatedAt: at,
		},
		CitationChanged: true,
	}, nil
}

// MoveToReview starts the review of a submitted contest
func MoveToReview(contest models.Contest, c models.Citation, actor, note string, at time.Time) (Transition, error) {
	from := contest.Status
	if err := advance(&contest, models.ContestStatusUnderReview); err != nil {
		return Transition{}, err
	}
	contest.ReviewedBy = actor

	return Transition{
		Contest:  contest,
		Citation: c,
		Entry:    entry(contest, from, actor, note, at),
	}, nil
}

// Approve upholds the contest and dismisses the citation
func Approve(contest models.Contest, c models.Citation, resolution, actor string, at time.Time) (Transition, error) {
	return resolve(contest, c, models.ContestStatusApproved, resolution, actor, at)
}

// Reject denies the contest and returns the citation to the status its
// payments imply
func Reject(contest models.Contest, c models.Citation, resolution, actor string, at time.Time) (Transition, error) {
	return resolve(contest, c, models.ContestStatusRejected, resolution, actor, at)
}

func resolve(contest models.Contest, c models.Citation, to models.ContestStatus, resolution, actor string, at time.Time) (Transition, error) {
	resolution = strings.TrimSpace(resolution)

	from := contest.Status
	if err := advance(&contest, to); err != nil {
		return Transition{}, err
	}
	if resolution == "" {
		return Transition{}, apperror.Field("resolution", "is required")
	}

	var (
		updated models.Citation
		err     error
	)
	if to == models.ContestStatusApproved {
		updated, err = citation.Dismiss(c)
	} else {
		updated, err = citation.RevertContest(c)
	}
	if err != nil {
		return Transition{}, err
	}

	contest.ReviewedBy = actor
	contest.ReviewedAt = &at
	contest.Resolution = resolution

	return Transition{
		Contest:         contest,
		Citation:        updated,
		Entry:           entry(contest, from, actor, resolution, at),
		CitationChanged: true,
	}, nil
}

// Withdraw closes the contest at the submitter's request. A citation voided
// while the contest was open stays void.
func Withdraw(contest models.Contest, c models.Citation, actor, note string, at time.Time) (Transition, error) {
	from := contest.Status
	if err := advance(&contest, models.ContestStatusWithdrawn); err != nil {
		return Transition{}, err
	}
	if actor != contest.SubmittedBy {
		return Transition{}, apperror.Forbidden("only the submitter may withdraw contest %s", contest.ContestNo)
	}

	t := Transition{
		Contest:  contest,
		Citation: c,
		Entry:    entry(contest, from, actor, note, at),
	}
	if c.Status == models.CitationStatusVoid {
		return t, nil
	}

	updated, err := citation.RevertContest(c)
	if err != nil {
		return Transition{}, err
	}
	t.Citation = updated
	t.CitationChanged = true
	return t, nil
}

func advance(contest *models.Contest, to models.ContestStatus) error {
	if !contest.Status.IsOpen() {
		return apperror.AlreadyResolved("contest %s is already %s", contest.ContestNo, contest.Status)
	}
	if !CanTransition(contest.Status, to) {
		return apperror.Conflict("contest %s cannot move from %s to %s", contest.ContestNo, contest.Status, to)
	}
	contest.Status = to
	return nil
}

func entry(contest models.Contest, from models.ContestStatus, actor, note string, at time.Time) models.ContestStatusEntry {
	return models.ContestStatusEntry{
		ContestID:  contest.ID,
		Position:   len(contest.History) + 1,
		FromStatus: from,
		ToStatus:   contest.Status,
		Actor:      actor,
		Note:       strings.TrimSpace(note),
		CreatedAt:  at,
	}
}
