package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/fines"
)

// CitationStatus represents the lifecycle state of a citation
type CitationStatus string

const (
	CitationStatusPending       CitationStatus = "PENDING"
	CitationStatusPartiallyPaid CitationStatus = "PARTIALLY_PAID"
	CitationStatusPaid          CitationStatus = "PAID"
	CitationStatusOverdue       CitationStatus = "OVERDUE"
	CitationStatusContested     CitationStatus = "CONTESTED"
	CitationStatusDismissed     CitationStatus = "DISMISSED"
	CitationStatusVoid          CitationStatus = "VOID"
)

// ContestStatus represents the lifecycle state of a contest
type ContestStatus string

const (
	ContestStatusSubmitted   ContestStatus = "SUBMITTED"
	ContestStatusUnderReview ContestStatus = "UNDER_REVIEW"
	ContestStatusApproved    ContestStatus = "APPROVED"
	ContestStatusRejected    ContestStatus = "REJECTED"
	ContestStatusWithdrawn   ContestStatus = "WITHDRAWN"
)

// IsOpen reports whether the contest still awaits a decision
func (s ContestStatus) IsOpen() bool {
	return s == ContestStatusSubmitted || s == ContestStatusUnderReview
}

// StringList is a JSON-encoded list of opaque strings (image and evidence URLs)
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	raw, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported string list column type %T", src)
	}
}

// ViolationRule is one immutable version of a violation's fine schedule
type ViolationRule struct {
	ID             uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	GroupID        uuid.UUID       `json:"group_id" gorm:"type:uuid;not null;uniqueIndex:idx_violation_rules_group_version"`
	Version        int             `json:"version" gorm:"not null;uniqueIndex:idx_violation_rules_group_version"`
	Code           string          `json:"code" gorm:"type:varchar(64);not null;index"`
	Title          string          `json:"title" gorm:"type:varchar(255);not null"`
	Description    string          `json:"description" gorm:"type:text"`
	FineStructure  fines.Structure `json:"fine_structure" gorm:"type:varchar(32);not null"`
	Schedule       fines.Document  `json:"schedule" gorm:"type:jsonb;not null"`
	IsActive       bool            `json:"is_active" gorm:"not null"`
	EffectiveFrom  time.Time       `json:"effective_from" gorm:"not null"`
	EffectiveUntil *time.Time      `json:"effective_until,omitempty"`
	SupersededBy   *uuid.UUID      `json:"superseded_by,omitempty" gorm:"type:uuid"`
	CreatedBy      string          `json:"created_by" gorm:"type:varchar(128);not null"`
	RetiredBy      string          `json:"retired_by,omitempty" gorm:"type:varchar(128)"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (ViolationRule) TableName() string { return "violation_rules" }

func (r *ViolationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsCurrentAt reports whether the rule is the in-force version at t
func (r ViolationRule) IsCurrentAt(t time.Time) bool {
	if !r.IsActive || r.EffectiveFrom.After(t) {
		return false
	}
	return r.EffectiveUntil == nil || t.Before(*r.EffectiveUntil)
}

// Driver is the cited person
type Driver struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	LicenseNo string    `json:"license_no" gorm:"type:varchar(64);uniqueIndex;not null"`
	FullName  string    `json:"full_name" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Driver) TableName() string { return "drivers" }

func (d *Driver) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Vehicle is the cited vehicle and its ownership classification
type Vehicle struct {
	ID            uuid.UUID        `json:"id" gorm:"type:uuid;primaryKey"`
	PlateNo       string           `json:"plate_no" gorm:"type:varchar(32);uniqueIndex;not null"`
	OwnerClass    fines.OwnerClass `json:"owner_class" gorm:"type:varchar(32);not null"`
	OwnerDriverID *uuid.UUID       `json:"owner_driver_id,omitempty" gorm:"type:uuid"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (Vehicle) TableName() string { return "vehicles" }

func (v *Vehicle) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Citation is a traffic ticket carrying one or more violation lines
type Citation struct {
	ID                uuid.UUID               `json:"id" gorm:"type:uuid;primaryKey"`
	CitationNo        string                  `json:"citation_no" gorm:"type:varchar(32);uniqueIndex;not null"`
	DriverID          uuid.UUID               `json:"driver_id" gorm:"type:uuid;not null;index"`
	VehicleID         uuid.UUID               `json:"vehicle_id" gorm:"type:uuid;not null;index"`
	OwnerClass        fines.OwnerClass        `json:"owner_class" gorm:"type:varchar(32);not null"`
	OffenderRole      fines.OffenderRole      `json:"offender_role" gorm:"type:varchar(32);not null"`
	Location          string                  `json:"location" gorm:"type:varchar(255)"`
	ViolationDateTime time.Time               `json:"violation_date_time" gorm:"not null"`
	Lines             []CitationViolationLine `json:"lines" gorm:"foreignKey:CitationID"`
	TotalAmount       decimal.Decimal         `json:"total_amount" gorm:"type:numeric(12,2);not null"`
	AmountPaid        decimal.Decimal         `json:"amount_paid" gorm:"type:numeric(12,2);not null"`
	AmountDue         decimal.Decimal         `json:"amount_due" gorm:"type:numeric(12,2);not null"`
	Status            CitationStatus          `json:"status" gorm:"type:varchar(32);not null;index"`
	DueDate           time.Time               `json:"due_date" gorm:"not null;index"`
	Notes             string                  `json:"notes" gorm:"type:text"`
	ImageURLs         StringList              `json:"image_urls" gorm:"type:jsonb"`
	IsVoid            bool                    `json:"is_void" gorm:"not null"`
	VoidReason        string                  `json:"void_reason,omitempty" gorm:"type:text"`
	VoidedBy          string                  `json:"voided_by,omitempty" gorm:"type:varchar(128)"`
	VoidedAt          *time.Time              `json:"voided_at,omitempty"`
	IssuedBy          string                  `json:"issued_by" gorm:"type:varchar(128);not null"`
	Version           int                     `json:"version" gorm:"not null"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func (Citation) TableName() string { return "citations" }

func (c *Citation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// CitationViolationLine is a frozen snapshot of the rule applied to one
// violation on a citation
type CitationViolationLine struct {
	ID               uuid.UUID       `json:"id" gorm:"type:uuid;primaryKey"`
	CitationID       uuid.UUID       `json:"citation_id" gorm:"type:uuid;not null;index"`
	Position         int             `json:"position" gorm:"not null"`
	RuleID           uuid.UUID       `json:"rule_id" gorm:"type:uuid;not null"`
	ViolationGroupID uuid.UUID       `json:"violation_group_id" gorm:"type:uuid;not null;index"`
	RuleVersion      int             `json:"rule_version" gorm:"not null"`
	Code             string          `json:"code" gorm:"type:varchar(64);not null"`
	Title            string          `json:"title" gorm:"type:varchar(255);not null"`
	Description      string          `json:"description" gorm:"type:text"`
	FineStructure    fines.Structure `json:"fine_structure" gorm:"type:varchar(32);not null"`
	Tier             fines.Tier      `json:"tier" gorm:"type:varchar(32);not null"`
	OffenseOrdinal   int             `json:"offense_ordinal" gorm:"not null"`
	FineAmount       decimal.Decimal `json:"fine_amount" gorm:"type:numeric(12,2);not null"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (CitationViolationLine) TableName() string { return "citation_violation_lines" }

func (l *CitationViolationLine) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Contest is an appeal against a citation
type Contest struct {
	ID           uuid.UUID            `json:"id" gorm:"type:uuid;primaryKey"`
	ContestNo    string               `json:"contest_no" gorm:"type:varchar(32);uniqueIndex;not null"`
	CitationID   uuid.UUID            `json:"citation_id" gorm:"type:uuid;not null;index"`
	Reason       string               `json:"reason" gorm:"type:text;not null"`
	EvidenceURLs StringList           `json:"evidence_urls" gorm:"type:jsonb"`
	Status       ContestStatus        `json:"status" gorm:"type:varchar(32);not null;index"`
	SubmittedBy  string               `json:"submitted_by" gorm:"type:varchar(128);not null"`
	SubmittedAt  time.Time            `json:"submitted_at" gorm:"not null"`
	ReviewedBy   string               `json:"reviewed_by,omitempty" gorm:"type:varchar(128)"`
	ReviewedAt   *time.Time           `json:"reviewed_at,omitempty"`
	Resolution   string               `json:"resolution,omitempty" gorm:"type:text"`
	History      []ContestStatusEntry `json:"history,omitempty" gorm:"foreignKey:ContestID"`
	Version      int                  `json:"version" gorm:"not null"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (Contest) TableName() string { return "contests" }

func (c *Contest) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return nil
}

// ContestStatusEntry is an append-only audit record of a contest transition
type ContestStatusEntry struct {
	ID         uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey"`
	ContestID  uuid.UUID     `json:"contest_id" gorm:"type:uuid;not null;uniqueIndex:idx_contest_status_entries_position"`
	Position   int           `json:"position" gorm:"not null;uniqueIndex:idx_contest_status_entries_position"`
	FromStatus ContestStatus `json:"from_status,omitempty" gorm:"type:varchar(32)"`
	ToStatus   ContestStatus `json:"to_status" gorm:"type:varchar(32);not null"`
	Actor      string        `json:"actor" gorm:"type:varchar(128);not null"`
	Note       string        `json:"note,omitempty" gorm:"type:text"`
	CreatedAt  time.Time     `json:"created_at"`
}

func (ContestStatusEntry) TableName() string { return "contest_status_entries" }

func (e *ContestStatusEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Sequence is a named monotonically increasing counter
type Sequence struct {
	Scope     string    `gorm:"type:varchar(64);primaryKey"`
	Value     int64     `gorm:"not null"`
	UpdatedAt time.Time
}

func (Sequence) TableName() string { return "sequences" }

// All lists every persisted model in migration order
func All() []interface{} {
	return []interface{}{
		&ViolationRule{},
		&Driver{},
		&Vehicle{},
		&Citation{},
		&CitationViolationLine{},
		&Contest{},
		&ContestStatusEntry{},
		&Sequence{},
	}
}
