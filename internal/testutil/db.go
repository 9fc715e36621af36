// Package testutil provides a migrated SQLite-backed gorm handle and
// fixtures for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/config"
	"github.com/aegisshield/citation-engine/internal/database"
	"github.com/aegisshield/citation-engine/internal/fines"
	"github.com/aegisshield/citation-engine/internal/models"
)

// NewDB opens a fresh migrated database in a temp directory. A single
// connection serializes transactions the way row locks would on postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "citations.db")
	cfg := &config.DatabaseConfig{LogLevel: "silent"}

	db, err := gorm.Open(sqlite.Open(path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"), database.GormConfig(zap.NewNop(), cfg))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// Amount parses a decimal literal.
func Amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// AmountPtr parses a decimal literal into a pointer.
func AmountPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// FixedSchedule charges amount for every owner class and offender role.
func FixedSchedule(amount string) fines.Document {
	doc := fines.Document{Structure: fines.StructureFixed}
	for _, axes := range allAxes() {
		doc.Entries = append(doc.Entries, fines.Entry{
			OwnerClass:   axes.OwnerClass,
			OffenderRole: axes.OffenderRole,
			Amount:       AmountPtr(amount),
		})
	}
	return doc
}

// ProgressiveSchedule escalates through the given tiers for every owner
// class and offender role. Empty strings leave a tier undefined.
func ProgressiveSchedule(first, second, third, subsequent string) fines.Document {
	opt := func(s string) *decimal.Decimal {
		if s == "" {
			return nil
		}
		return AmountPtr(s)
	}

	doc := fines.Document{Structure: fines.StructureProgressive}
	for _, axes := range allAxes() {
		doc.Entries = append(doc.Entries, fines.Entry{
			OwnerClass:   axes.OwnerClass,
			OffenderRole: axes.OffenderRole,
			First:        opt(first),
			Second:       opt(second),
			Third:        opt(third),
			Subsequent:   opt(subsequent),
		})
	}
	return doc
}

func allAxes() []fines.Axes {
	return []fines.Axes{
		{OwnerClass: fines.OwnerClassPrivate, OffenderRole: fines.OffenderRoleDriver},
		{OwnerClass: fines.OwnerClassPrivate, OffenderRole: fines.OffenderRoleOwnerOperator},
		{OwnerClass: fines.OwnerClassForHire, OffenderRole: fines.OffenderRoleDriver},
		{OwnerClass: fines.OwnerClassForHire, OffenderRole: fines.OffenderRoleOwnerOperator},
	}
}

// CreateDriver inserts a driver with a unique license number.
func CreateDriver(t testing.TB, db *gorm.DB) models.Driver {
	t.Helper()
	d := models.Driver{LicenseNo: "LIC-" + uuid.NewString()[:8], FullName: "Test Driver"}
	require.NoError(t, db.Create(&d).Error)
	return d
}

// CreateVehicle inserts a vehicle of the given class, optionally owned by a
// driver.
func CreateVehicle(t testing.TB, db *gorm.DB, class fines.OwnerClass, owner *models.Driver) models.Vehicle {
	t.Helper()
	v := models.Vehicle{PlateNo: "PLT-" + uuid.NewString()[:8], OwnerClass: class}
	if owner != nil {
		id := owner.ID
		v.OwnerDriverID = &id
	}
	require.NoError(t, db.Create(&v).Error)
	return v
}

// CreateRule inserts version 1 of a new rule group effective from the given
// time.
func CreateRule(t testing.TB, db *gorm.DB, code string, schedule fines.Document, effectiveFrom time.Time) models.ViolationRule {
	t.Helper()
	r := models.ViolationRule{
		GroupID:       uuid.New(),
		Version:       1,
		Code:          code,
		Title:         code,
		FineStructure: schedule.Structure,
		Schedule:      schedule,
		IsActive:      true,
		EffectiveFrom: effectiveFrom,
		CreatedBy:     "test",
	}
	require.NoError(t, db.Create(&r).Error)
	return r
}
