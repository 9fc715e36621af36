package offense

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type seeder struct {
	db      *gorm.DB
	driver  models.Driver
	vehicle models.Vehicle
	n       int
}

func (s *seeder) cite(t *testing.T, groupID uuid.UUID, status models.CitationStatus, void bool) {
	t.Helper()
	s.n++
	c := models.Citation{
		CitationNo:        fmt.Sprintf("TCT-2025-%06d", s.n),
		DriverID:          s.driver.ID,
		VehicleID:         s.vehicle.ID,
		OwnerClass:        s.vehicle.OwnerClass,
		OffenderRole:      fines.OffenderRoleDriver,
		ViolationDateTime: t0,
		TotalAmount:       testutil.Amount("100"),
		AmountDue:         testutil.Amount("100"),
		Status:            status,
		IsVoid:            void,
		DueDate:           t0.Add(30 * 24 * time.Hour),
		IssuedBy:          "officer",
		Lines: []models.CitationViolationLine{{
			Position:         1,
			RuleID:           uuid.New(),
			ViolationGroupID: groupID,
			RuleVersion:      1,
			Code:             "SPD-01",
			Title:            "Speeding",
			FineStructure:    fines.StructureFixed,
			Tier:             fines.TierFlat,
			OffenseOrdinal:   1,
			FineAmount:       testutil.Amount("100"),
		}},
	}
	require.NoError(t, s.db.Create(&c).Error)
}

func TestPolicyStatuses(t *testing.T) {
	base := Policy{}.Statuses()
	assert.ElementsMatch(t, []models.CitationStatus{
		models.CitationStatusPending,
		models.CitationStatusOverdue,
		models.CitationStatusPartiallyPaid,
		models.CitationStatusPaid,
	}, base)

	all := PolicyFromConfig(config.OffenseConfig{CountContested: true, CountDismissed: true}).Statuses()
	assert.Contains(t, all, models.CitationStatusContested)
	assert.Contains(t, all, models.CitationStatusDismissed)
	assert.NotContains(t, all, models.CitationStatusVoid)
}

func TestOrdinal(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)

	driver := testutil.CreateDriver(t, db)
	s := &seeder{db: db, driver: driver, vehicle: testutil.CreateVehicle(t, db, fines.OwnerClassPrivate, nil)}

	group := uuid.New()
	other := uuid.New()

	s.cite(t, group, models.CitationStatusPaid, false)
	s.cite(t, group, models.CitationStatusVoid, true)
	s.cite(t, group, models.CitationStatusDismissed, false)
	s.cite(t, group, models.CitationStatusContested, false)
	s.cite(t, other, models.CitationStatusPending, false)

	tests := []struct {
		name   string
		policy Policy
		want   int
	}{
		{name: "default", policy: Policy{CountContested: true}, want: 3},
		{name: "exclude contested", policy: Policy{}, want: 2},
		{name: "count dismissed", policy: Policy{CountContested: true, CountDismissed: true}, want: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ordinal, err := NewLookup(tt.policy).Ordinal(ctx, store.Citations, driver.ID, group)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ordinal)
		})
	}

	stranger := testutil.CreateDriver(t, db)
	ordinal, err := NewLookup(Policy{}).Ordinal(ctx, store.Citations, stranger.ID, group)
	require.NoError(t, err)
	assert.Equal(t, 1, ordinal)
}

func TestVoidedPriorDoesNotEscalate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	store := repository.NewStore(db)

	driver := testutil.CreateDriver(t, db)
	s := &seeder{db: db, driver: driver, vehicle: testutil.CreateVehicle(t, db, fines.OwnerClassPrivate, nil)}
	group := uuid.New()

	s.cite(t, group, models.CitationStatusVoid, true)
	s.cite(t, group, models.CitationStatusPending, false)

	ordinal, err := NewLookup(Policy{CountContested: true}).Ordinal(ctx, store.Citations, driver.ID, group)
	require.NoError(t, err)
	assert.Equal(t, 2, ordinal)
}

func TestLockKey(t *testing.T) {
	d, g := uuid.New(), uuid.New()
	assert.Equal(t, "offense:"+d.String()+":"+g.String(), LockKey(d, g))
	assert.NotEqual(t, LockKey(d, g), LockKey(g, d))
}
