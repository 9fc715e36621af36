package fines

import (
	"github.com/aegisshield/citation-engine/internal/apperror"
)

// Calculate returns the fine owed for one violation instance committed by an
// offender with the given axes, where ordinal counts this offense among the
// offender's offenses for the same violation group (1 = first offense).
//
// FIXED schedules ignore the ordinal. PROGRESSIVE schedules escalate through
// their tiers. InvalidSchedule is returned when the schedule defines nothing
// for the axes.
func Calculate(doc Document, ownerClass OwnerClass, offenderRole OffenderRole, ordinal int) (Assessment, error) {
	if ordinal < 1 {
		return Assessment{}, apperror.Field("ordinal", "must be at least 1")
	}
	if !ownerClass.Valid() {
		return Assessment{}, apperror.Field("owner_class", "must be PRIVATE or FOR_HIRE")
	}
	if !offenderRole.Valid() {
		return Assessment{}, apperror.Field("offender_role", "must be DRIVER or OWNER_OPERATOR")
	}

	schedule, err := doc.Schedule()
	if err != nil {
		return Assessment{}, err
	}

	return schedule.Fine(Axes{OwnerClass: ownerClass, OffenderRole: offenderRole}, ordinal)
}
