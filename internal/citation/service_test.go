package citation

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/citation-engine/internal/apperror"
	"github.com/aegisshield/citation-engine/internal/catalog"
	"github.com/aegisshield/citation-engine/internal/clock"
	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/events"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/lock"
	"github.com/aegisshield/citation-engine/internal/models"
	"github.com/aegisshield/citation-engine/internal/offense"
	"github.com/aegisshield/citation-engine/internal/repository"
	"github.com/aegisshield/citation-engine/internal/sequence"
	"github.com/aegisshield/citation-engine/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	service  *Service
	catalog  *catalog.Catalog
	store    *repository.Store
	clock    *clock.Manual
	recorder *events.Recorder
	driver   models.Driver
	vehicle  models.Vehicle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	store := repository.NewStore(db)
	clk := clock.NewManual(t0)
	rec := &events.Recorder{}
	cat := catalog.NewCatalog(store, clk, rec, nil, zap.NewNop())

	svc := NewService(
		config.CitationConfig{NumberPrefix: "TCT", DefaultDueDays: 30},
		store,
		cat,
		offense.NewLookup(offense.Policy{CountContested: true}),
		lock.NewKeyedMutex(5*time.Second),
		sequence.NewDatabaseSequencer(store.Sequences),
		clk,
		rec,
		nil,
		zap.NewNop(),
	)

	return &fixture{
		service:  svc,
		catalog:  cat,
		store:    store,
		clock:    clk,
		recorder: rec,
		driver:   testutil.CreateDriver(t, db),
		vehicle:  testutil.CreateVehicle(t, db, fines.OwnerClassPrivate, nil),
	}
}

func (f *fixture) rule(t *testing.T, code string, schedule fines.Document) models.ViolationRule {
	t.Helper()
	return testutil.CreateRule(t, f.store.DB(), code, schedule, t0.Add(-24*time.Hour))
}

func (f *fixture) issue(t *testing.T, violations ...string) *models.Citation {
	t.Helper()
	c, err := f.service.Issue(context.Background(), IssueRequest{
		DriverID:   f.driver.ID,
		VehicleID:  f.vehicle.ID,
		Violations: violations,
		Location:   "Main St & 3rd Ave",
		IssuedBy:   "officer-7",
	})
	require.NoError(t, err)
	return c
}

func TestIssueProgressiveEscalation(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "1h", testutil.ProgressiveSchedule("1500", "3000", "5000", "10000"))

	want := []struct {
		amount  string
		ordinal int
		tier    fines.Tier
	}{
		{"1500", 1, fines.TierFirst},
		{"3000", 2, fines.TierSecond},
		{"5000", 3, fines.TierThird},
		{"10000", 4, fines.TierSubsequent},
		{"10000", 5, fines.TierSubsequent},
	}

	for i, w := range want {
		c := f.issue(t, "1h")

		require.Len(t, c.Lines, 1)
		line := c.Lines[0]
		assert.True(t, line.FineAmount.Equal(testutil.Amount(w.amount)), "citation %d fine %s", i+1, line.FineAmount)
		assert.Equal(t, w.ordinal, line.OffenseOrdinal)
		assert.Equal(t, w.tier, line.Tier)

		assert.Equal(t, models.CitationStatusPending, c.Status)
		assert.True(t, c.TotalAmount.Equal(testutil.Amount(w.amount)))
		assert.True(t, c.AmountDue.Equal(testutil.Amount(w.amount)))
		assert.True(t, c.AmountPaid.IsZero())
	}
}

func TestIssueAssignsNumbersAndDefaults(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))

	first := f.issue(t, "SPD-01")
	second := f.issue(t, "SPD-01")

	assert.Equal(t, "TCT-2025-000001", first.CitationNo)
	assert.Equal(t, "TCT-2025-000002", second.CitationNo)
	assert.Equal(t, t0, first.ViolationDateTime)
	assert.Equal(t, t0.AddDate(0, 0, 30), first.DueDate)
	assert.Equal(t, fines.OffenderRoleDriver, first.OffenderRole)
	assert.Equal(t, fines.OwnerClassPrivate, first.OwnerClass)

	loaded, err := f.service.GetByNumber(context.Background(), "TCT-2025-000002")
	require.NoError(t, err)
	assert.Equal(t, second.ID, loaded.ID)

	assert.Equal(t, []string{events.CitationIssued, events.CitationIssued}, f.recorder.Types())
}

func TestIssueFixedIgnoresOrdinal(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "PRK-01", testutil.FixedSchedule("250"))

	for i := 1; i <= 5; i++ {
		c := f.issue(t, "PRK-01")
		assert.True(t, c.Lines[0].FineAmount.Equal(testutil.Amount("250")))
		assert.Equal(t, i, c.Lines[0].OffenseOrdinal)
		assert.Equal(t, fines.TierFlat, c.Lines[0].Tier)
	}
}

func TestIssueMultipleViolationsSumsTotal(t *testing.T) {
	f := newFixture(t)
	speeding := f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	f.rule(t, "1h", testutil.ProgressiveSchedule("1500", "3000", "", ""))

	c := f.issue(t, speeding.GroupID.String(), "1h")

	require.Len(t, c.Lines, 2)
	assert.Equal(t, 1, c.Lines[0].Position)
	assert.Equal(t, "SPD-01", c.Lines[0].Code)
	assert.Equal(t, "1h", c.Lines[1].Code)
	assert.True(t, c.TotalAmount.Equal(testutil.Amount("2000")))
	assert.True(t, c.AmountDue.Equal(testutil.Amount("2000")))
}

func TestIssueVoidedPriorIsExcluded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "1h", testutil.ProgressiveSchedule("1500", "3000", "5000", "10000"))

	voided := f.issue(t, "1h")
	_, err := f.service.Void(ctx, voided.ID, "issued to wrong driver", "supervisor")
	require.NoError(t, err)

	valid := f.issue(t, "1h")
	assert.Equal(t, 1, valid.Lines[0].OffenseOrdinal)

	next := f.issue(t, "1h")
	assert.Equal(t, 2, next.Lines[0].OffenseOrdinal, "one voided and one valid prior")
	assert.True(t, next.Lines[0].FineAmount.Equal(testutil.Amount("3000")))
}

func TestIssueDerivesOwnerOperator(t *testing.T) {
	f := newFixture(t)

	schedule := testutil.FixedSchedule("500")
	for i := range schedule.Entries {
		if schedule.Entries[i].OffenderRole == fines.OffenderRoleOwnerOperator {
			schedule.Entries[i].Amount = testutil.AmountPtr("900")
		}
	}
	f.rule(t, "EQP-02", schedule)

	owned := testutil.CreateVehicle(t, f.store.DB(), fines.OwnerClassPrivate, &f.driver)
	c, err := f.service.Issue(context.Background(), IssueRequest{
		DriverID:   f.driver.ID,
		VehicleID:  owned.ID,
		Violations: []string{"EQP-02"},
		IssuedBy:   "officer-7",
	})
	require.NoError(t, err)
	assert.Equal(t, fines.OffenderRoleOwnerOperator, c.OffenderRole)
	assert.True(t, c.TotalAmount.Equal(testutil.Amount("900")))

	explicit, err := f.service.Issue(context.Background(), IssueRequest{
		DriverID:     f.driver.ID,
		VehicleID:    owned.ID,
		Violations:   []string{"EQP-02"},
		OffenderRole: fines.OffenderRoleDriver,
		IssuedBy:     "officer-7",
	})
	require.NoError(t, err)
	assert.True(t, explicit.TotalAmount.Equal(testutil.Amount("500")))
}

func TestIssueSnapshotSurvivesRuleChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rule := f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	c := f.issue(t, "SPD-01")

	higher := testutil.FixedSchedule("800")
	title := "Speeding (revised)"
	_, err := f.catalog.CreateVersion(ctx, &rule, catalog.RuleChanges{Title: &title, Schedule: &higher}, nil, "admin")
	require.NoError(t, err)

	loaded, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Lines[0].FineAmount.Equal(testutil.Amount("500")))
	assert.Equal(t, rule.Title, loaded.Lines[0].Title)
	assert.Equal(t, 1, loaded.Lines[0].RuleVersion)

	next := f.issue(t, "SPD-01")
	assert.True(t, next.Lines[0].FineAmount.Equal(testutil.Amount("800")))
	assert.Equal(t, 2, next.Lines[0].RuleVersion)
	assert.Equal(t, 2, next.Lines[0].OffenseOrdinal, "ordinals count across versions of a group")
}

func TestIssueValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))

	future := t0.Add(time.Hour)
	beforeViolation := t0.Add(-48 * time.Hour)

	tests := []struct {
		name string
		req  IssueRequest
		kind apperror.Kind
	}{
		{
			name: "no violations",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, IssuedBy: "o"},
			kind: apperror.KindValidation,
		},
		{
			name: "missing issuer",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, Violations: []string{"SPD-01"}},
			kind: apperror.KindValidation,
		},
		{
			name: "duplicate violation",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, Violations: []string{"SPD-01", "SPD-01"}, IssuedBy: "o"},
			kind: apperror.KindValidation,
		},
		{
			name: "future violation",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, Violations: []string{"SPD-01"}, ViolationDateTime: &future, IssuedBy: "o"},
			kind: apperror.KindValidation,
		},
		{
			name: "due before violation",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, Violations: []string{"SPD-01"}, DueDate: &beforeViolation, IssuedBy: "o"},
			kind: apperror.KindValidation,
		},
		{
			name: "unknown driver",
			req:  IssueRequest{DriverID: uuid.New(), VehicleID: f.vehicle.ID, Violations: []string{"SPD-01"}, IssuedBy: "o"},
			kind: apperror.KindNotFound,
		},
		{
			name: "unknown vehicle",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: uuid.New(), Violations: []string{"SPD-01"}, IssuedBy: "o"},
			kind: apperror.KindNotFound,
		},
		{
			name: "unknown violation",
			req:  IssueRequest{DriverID: f.driver.ID, VehicleID: f.vehicle.ID, Violations: []string{"NOPE"}, IssuedBy: "o"},
			kind: apperror.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Issue(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.kind, apperror.KindOf(err), err.Error())
		})
	}

	assert.Empty(t, f.recorder.Types())
}

func TestIssueInvalidScheduleForAxes(t *testing.T) {
	f := newFixture(t)

	schedule := fines.Document{
		Structure: fines.StructureFixed,
		Entries: []fines.Entry{{
			OwnerClass:   fines.OwnerClassForHire,
			OffenderRole: fines.OffenderRoleDriver,
			Amount:       testutil.AmountPtr("400"),
		}},
	}
	f.rule(t, "TAXI-01", schedule)

	_, err := f.service.Issue(context.Background(), IssueRequest{
		DriverID:   f.driver.ID,
		VehicleID:  f.vehicle.ID,
		Violations: []string{"TAXI-01"},
		IssuedBy:   "officer-7",
	})
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidSchedule))
}

func TestConcurrentIssuanceEscalates(t *testing.T) {
	f := newFixture(t)
	f.rule(t, "1h", testutil.ProgressiveSchedule("1500", "3000", "5000", "10000"))

	const n = 8
	var wg sync.WaitGroup
	results := make(chan *models.Citation, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := f.service.Issue(context.Background(), IssueRequest{
				DriverID:   f.driver.ID,
				VehicleID:  f.vehicle.ID,
				Violations: []string{"1h"},
				IssuedBy:   "officer-7",
			})
			if assert.NoError(t, err) {
				results <- c
			}
		}()
	}
	wg.Wait()
	close(results)

	var ordinals []int
	numbers := map[string]bool{}
	for c := range results {
		ordinals = append(ordinals, c.Lines[0].OffenseOrdinal)
		numbers[c.CitationNo] = true
	}
	sort.Ints(ordinals)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, ordinals)
	assert.Len(t, numbers, n)
}

func TestRecordPaymentScenarioPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "1h", testutil.ProgressiveSchedule("1500", "3000", "5000", "10000"))
	c := f.issue(t, "1h")

	partial, err := f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("750"), Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPartiallyPaid, partial.Status)
	assert.True(t, partial.AmountDue.Equal(testutil.Amount("750")))

	paid, err := f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("750"), Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPaid, paid.Status)
	assert.True(t, paid.AmountDue.IsZero())

	loaded, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPaid, loaded.Status)
	assert.True(t, loaded.AmountPaid.Equal(testutil.Amount("1500")))
	assert.Equal(t, 3, loaded.Version)

	_, err = f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("1"), Actor: "cashier"})
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	_, err = f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("10")})
	assert.True(t, apperror.IsKind(err, apperror.KindValidation), "actor is required")

	_, err = f.service.RecordPayment(ctx, uuid.New(), PaymentRequest{Amount: testutil.Amount("10"), Actor: "cashier"})
	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))

	assert.Equal(t, []string{
		events.CitationIssued,
		events.CitationPaymentRecorded,
		events.CitationPaymentRecorded,
	}, f.recorder.Types())
}

func TestLazyOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	c := f.issue(t, "SPD-01")

	loaded, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPending, loaded.Status)

	f.clock.Set(c.DueDate.Add(time.Minute))

	loaded, err = f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusOverdue, loaded.Status)

	stored, err := f.store.Citations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusOverdue, stored.Status, "overdue is persisted")

	paid, err := f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("500"), Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPaid, paid.Status)

	assert.Equal(t, []string{
		events.CitationIssued,
		events.CitationOverdue,
		events.CitationPaymentRecorded,
	}, f.recorder.Types())
}

func TestPaymentOnPastDueCitationRecordsOverdueFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	c := f.issue(t, "SPD-01")

	f.clock.Set(c.DueDate.Add(time.Hour))

	partial, err := f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("100"), Actor: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPartiallyPaid, partial.Status)
	assert.Contains(t, f.recorder.Types(), events.CitationOverdue)
}

func TestSweepOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))

	a := f.issue(t, "SPD-01")
	b := f.issue(t, "SPD-01")
	_, err := f.service.RecordPayment(ctx, b.ID, PaymentRequest{Amount: testutil.Amount("100"), Actor: "cashier"})
	require.NoError(t, err)

	f.clock.Set(a.DueDate.Add(time.Hour))

	swept, err := f.service.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	loaded, err := f.store.Citations.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusOverdue, loaded.Status)

	swept, err = f.service.SweepOverdue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestVoidAndUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	c := f.issue(t, "SPD-01")

	notes := "camera 4"
	updated, err := f.service.Update(ctx, c.ID, Changes{Notes: &notes}, "officer-7")
	require.NoError(t, err)
	assert.Equal(t, "camera 4", updated.Notes)

	_, err = f.service.Void(ctx, c.ID, "", "supervisor")
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	voided, err := f.service.Void(ctx, c.ID, "duplicate entry", "supervisor")
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusVoid, voided.Status)
	assert.True(t, voided.IsVoid)

	_, err = f.service.Void(ctx, c.ID, "again", "supervisor")
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	_, err = f.service.Update(ctx, c.ID, Changes{Notes: &notes}, "officer-7")
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	_, err = f.service.RecordPayment(ctx, c.ID, PaymentRequest{Amount: testutil.Amount("10"), Actor: "cashier"})
	assert.True(t, apperror.IsKind(err, apperror.KindConflict))

	stored, err := f.store.Citations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "duplicate entry", stored.VoidReason)
	assert.Equal(t, "supervisor", stored.VoidedBy)
	assert.True(t, stored.TotalAmount.Equal(testutil.Amount("500")))
}

func TestUpdateDueDateIntoPastMarksOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))

	violationAt := t0.Add(-10 * 24 * time.Hour)
	c, err := f.service.Issue(ctx, IssueRequest{
		DriverID:          f.driver.ID,
		VehicleID:         f.vehicle.ID,
		Violations:        []string{"SPD-01"},
		ViolationDateTime: &violationAt,
		IssuedBy:          "officer-7",
	})
	require.NoError(t, err)

	due := t0.Add(-24 * time.Hour)
	updated, err := f.service.Update(ctx, c.ID, Changes{DueDate: &due}, "officer-7")
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusOverdue, updated.Status)
}

func TestUpdateDueDateIntoFutureClearsOverdue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.rule(t, "SPD-01", testutil.FixedSchedule("500"))
	c := f.issue(t, "SPD-01")

	f.clock.Advance(40 * 24 * time.Hour)

	loaded, err := f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.CitationStatusOverdue, loaded.Status)

	due := f.clock.Now().Add(30 * 24 * time.Hour)
	updated, err := f.service.Update(ctx, c.ID, Changes{DueDate: &due}, "supervisor")
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPending, updated.Status)

	stored, err := f.store.Citations.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPending, stored.Status)
	assert.True(t, stored.DueDate.Equal(due))

	loaded, err = f.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CitationStatusPending, loaded.Status, "not re-marked before the new due date")
}
