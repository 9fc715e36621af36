package contest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/citation"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func openCitation(total, paid string) models.Citation {
	c := models.Citation{
		ID:         uuid.New(),
		CitationNo: "TCT-2025-000001",
		Status:     models.CitationStatusPending,
		DueDate:    t0.Add(30 * 24 * time.Hour),
		Lines:      []models.CitationViolationLine{{FineAmount: testutil.Amount(total)}},
	}
	citation.Recompute(&c)
	if paid != "" {
		var err error
		if c, err = citation.RecordPayment(c, testutil.Amount(paid)); err != nil {
			panic(err)
		}
	}
	return c
}

func submitted(t *testing.T, c models.Citation) Transition {
	t.Helper()
	tr, err := Submit(c, Submission{
		ContestNo: "CON-2025-000001",
		Reason:    "signage was obscured",
		Actor:     "driver-1",
	}, t0)
	require.NoError(t, err)
	return tr
}

func reviewing(t *testing.T, c models.Citation) Transition {
	t.Helper()
	sub := submitted(t, c)
	tr, err := MoveToReview(sub.Contest, sub.Citation, "clerk", "", t0.Add(time.Hour))
	require.NoError(t, err)
	return tr
}

func TestContestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to models.ContestStatus
		allowed  bool
	}{
		{models.ContestStatusSubmitted, models.ContestStatusUnderReview, true},
		{models.ContestStatusSubmitted, models.ContestStatusWithdrawn, true},
		{models.ContestStatusSubmitted, models.ContestStatusApproved, false},
		{models.ContestStatusUnderReview, models.ContestStatusApproved, true},
		{models.ContestStatusUnderReview, models.ContestStatusRejected, true},
		{models.ContestStatusUnderReview, models.ContestStatusSubmitted, false},
		{models.ContestStatusApproved, models.ContestStatusRejected, false},
		{models.ContestStatusWithdrawn, models.ContestStatusSubmitted, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSubmitMarksCitationContested(t *testing.T) {
	c := openCitation("1500", "")
	tr := submitted(t, c)

	assert.Equal(t, models.ContestStatusSubmitted, tr.Contest.Status)
	assert.Equal(t, c.ID, tr.Contest.CitationID)
	assert.Equal(t, "driver-1", tr.Contest.SubmittedBy)
	assert.Equal(t, t0, tr.Contest.SubmittedAt)

	assert.True(t, tr.CitationChanged)
	assert.Equal(t, models.CitationStatusContested, tr.Citation.Status)
	assert.Equal(t, models.CitationStatusPending, c.Status, "input citation is not mutated")

	assert.Equal(t, 1, tr.Entry.Position)
	assert.Empty(t, tr.Entry.FromStatus)
	assert.Equal(t, models.ContestStatusSubmitted, tr.Entry.ToStatus)
}

func TestSubmitRequiresReason(t *testing.T) {
	_, err := Submit(openCitation("100", ""), Submission{Reason: "   ", Actor: "driver-1"}, t0)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestSubmitRejectsClosedCitations(t *testing.T) {
	for _, status := range []models.CitationStatus{
		models.CitationStatusPaid,
		models.CitationStatusVoid,
		models.CitationStatusDismissed,
	} {
		c := openCitation("100", "")
		c.Status = status
		_, err := Submit(c, Submission{Reason: "reason", Actor: "driver-1"}, t0)
		assert.True(t, apperror.IsKind(err, apperror.KindNotContestable), status)
	}

	contested := openCitation("100", "")
	contested.Status = models.CitationStatusContested
	_, err := Submit(contested, Submission{Reason: "reason", Actor: "driver-1"}, t0)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
}

func TestApproveDismissesCitation(t *testing.T) {
	rev := reviewing(t, openCitation("1500", ""))

	at := t0.Add(2 * time.Hour)
	tr, err := Approve(rev.Contest, rev.Citation, "photo shows no sign", "judge", at)
	require.NoError(t, err)

	assert.Equal(t, models.ContestStatusApproved, tr.Contest.Status)
	assert.Equal(t, models.CitationStatusDismissed, tr.Citation.Status)
	assert.Equal(t, "judge", tr.Contest.ReviewedBy)
	require.NotNil(t, tr.Contest.ReviewedAt)
	assert.Equal(t, at, *tr.Contest.ReviewedAt)
	assert.Equal(t, "photo shows no sign", tr.Contest.Resolution)
	assert.Equal(t, models.ContestStatusUnderReview, tr.Entry.FromStatus)
	assert.Equal(t, models.ContestStatusApproved, tr.Entry.ToStatus)
}

func TestRejectRestoresPaymentStatus(t *testing.T) {
	tests := []struct {
		name string
		paid string
		want models.CitationStatus
	}{
		{"unpaid", "", models.CitationStatusPending},
		{"partially paid", "750", models.CitationStatusPartiallyPaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev := reviewing(t, openCitation("1500", tt.paid))

			tr, err := Reject(rev.Contest, rev.Citation, "sign was visible", "judge", t0)
			require.NoError(t, err)
			assert.Equal(t, models.ContestStatusRejected, tr.Contest.Status)
			assert.Equal(t, tt.want, tr.Citation.Status)
		})
	}
}

func TestResolveRequiresReviewAndResolution(t *testing.T) {
	sub := submitted(t, openCitation("100", ""))
	_, err := Approve(sub.Contest, sub.Citation, "ok", "judge", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict), "approval needs review first")

	rev := reviewing(t, openCitation("100", ""))
	_, err = Reject(rev.Contest, rev.Citation, " ", "judge", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))
}

func TestResolvedContestIsFinal(t *testing.T) {
	rev := reviewing(t, openCitation("100", ""))
	done, err := Approve(rev.Contest, rev.Citation, "ok", "judge", t0)
	require.NoError(t, err)

	_, err = Reject(done.Contest, done.Citation, "changed my mind", "judge", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindAlreadyResolved))

	_, err = Withdraw(done.Contest, done.Citation, "driver-1", "", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindAlreadyResolved))

	_, err = MoveToReview(done.Contest, done.Citation, "clerk", "", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindAlreadyResolved))
}

func TestWithdraw(t *testing.T) {
	sub := submitted(t, openCitation("100", ""))

	_, err := Withdraw(sub.Contest, sub.Citation, "someone-else", "", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindForbidden))

	tr, err := Withdraw(sub.Contest, sub.Citation, "driver-1", "paid instead", t0)
	require.NoError(t, err)
	assert.Equal(t, models.ContestStatusWithdrawn, tr.Contest.Status)
	assert.Equal(t, models.CitationStatusPending, tr.Citation.Status)
	assert.Equal(t, "paid instead", tr.Entry.Note)
}

func TestWithdrawLeavesVoidCitation(t *testing.T) {
	sub := submitted(t, openCitation("100", ""))
	voided, err := citation.Void(sub.Citation, "duplicate", "supervisor", t0)
	require.NoError(t, err)

	tr, err := Withdraw(sub.Contest, voided, "driver-1", "", t0)
	require.NoError(t, err)
	assert.False(t, tr.CitationChanged)
	assert.Equal(t, models.CitationStatusVoid, tr.Citation.Status)

	rev := reviewing(t, openCitation("100", ""))
	voided, err = citation.Void(rev.Citation, "duplicate", "supervisor", t0)
	require.NoError(t, err)
	_, err = Approve(rev.Contest, voided, "ok", "judge", t0)
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))
}

func TestEntryPositionsFollowHistory(t *testing.T) {
	sub := submitted(t, openCitation("100", ""))
	sub.Contest.History = []models.ContestStatusEntry{sub.Entry}

	rev, err := MoveToReview(sub.Contest, sub.Citation, "clerk", "assigned", t0)
	require.NoError(t, err)
	assert.Equal(t, 2, rev.Entry.Position)
	assert.Equal(t, models.ContestStatusSubmitted, rev.Entry.FromStatus)
	assert.Equal(t, models.ContestStatusUnderReview, rev.Entry.ToStatus)
	assert.Equal(t, "clerk", rev.Contest.ReviewedBy)
	assert.False(t, rev.CitationChanged)
}
