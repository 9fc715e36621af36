package fines

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

// Structure names the shape of a fine schedule.
type Structure string

const (
	StructureFixed       Structure = "FIXED"
	StructureProgressive Structure = "PROGRESSIVE"
)

// OwnerClass classifies the cited vehicle.
type OwnerClass string

const (
	OwnerClassPrivate OwnerClass = "PRIVATE"
	OwnerClassForHire OwnerClass = "FOR_HIRE"
)

func (c OwnerClass) Valid() bool {
	return c == OwnerClassPrivate || c == OwnerClassForHire
}

// OffenderRole classifies the cited person relative to the vehicle.
type OffenderRole string

const (
	OffenderRoleDriver        OffenderRole = "DRIVER"
	OffenderRoleOwnerOperator OffenderRole = "OWNER_OPERATOR"
)

func (r OffenderRole) Valid() bool {
	return r == OffenderRoleDriver || r == OffenderRoleOwnerOperator
}

// Axes selects one cell of a schedule.
type Axes struct {
	OwnerClass   OwnerClass
	OffenderRole OffenderRole
}

func (a Axes) String() string {
	return fmt.Sprintf("%s/%s", a.OwnerClass, a.OffenderRole)
}

// Tier identifies which schedule value produced a fine.
type Tier string

const (
	TierFlat       Tier = "FLAT"
	TierFirst      Tier = "FIRST"
	TierSecond     Tier = "SECOND"
	TierThird      Tier = "THIRD"
	TierSubsequent Tier = "SUBSEQUENT"
)

// Schedule is a parsed fine schedule. Implementations are Fixed and
// Progressive.
type Schedule interface {
	Structure() Structure
	Fine(axes Axes, ordinal int) (Assessment, error)
}

// Assessment is the fine owed for one violation instance.
type Assessment struct {
	Amount  decimal.Decimal
	Tier    Tier
	Ordinal int
}

// Fixed charges a flat amount per axes regardless of prior offenses.
type Fixed struct {
	Amounts map[Axes]decimal.Decimal
}

func (Fixed) Structure() Structure { return StructureFixed }

func (f Fixed) Fine(axes Axes, ordinal int) (Assessment, error) {
	amount, ok := f.Amounts[axes]
	if !ok {
		return Assessment{}, apperror.InvalidSchedule("no fixed fine defined for %s", axes)
	}
	return Assessment{Amount: amount, Tier: TierFlat, Ordinal: ordinal}, nil
}

// Tiers holds the escalating amounts of one progressive cell. Only First is
// mandatory.
type Tiers struct {
	First      decimal.Decimal
	Second     *decimal.Decimal
	Third      *decimal.Decimal
	Subsequent *decimal.Decimal
}

// Progressive escalates the fine with the offender's ordinal.
type Progressive struct {
	Tiers map[Axes]Tiers
}

func (Progressive) Structure() Structure { return StructureProgressive }

// Fine maps ordinal 1, 2, 3 and 4+ to the first, second, third and
// subsequent tiers. A missing tier falls back to the highest defined lower
// tier.
func (p Progressive) Fine(axes Axes, ordinal int) (Assessment, error) {
	tiers, ok := p.Tiers[axes]
	if !ok {
		return Assessment{}, apperror.InvalidSchedule("no progressive tiers defined for %s", axes)
	}

	ladder := []struct {
		tier   Tier
		amount *decimal.Decimal
	}{
		{TierFirst, &tiers.First},
		{TierSecond, tiers.Second},
		{TierThird, tiers.Third},
		{TierSubsequent, tiers.Subsequent},
	}

	idx := ordinal - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(ladder) {
		idx = len(ladder) - 1
	}
	for ; idx > 0; idx-- {
		if ladder[idx].amount != nil {
			break
		}
	}

	return Assessment{Amount: *ladder[idx].amount, Tier: ladder[idx].tier, Ordinal: ordinal}, nil
}

// Entry is one cell of a persisted schedule document.
type Entry struct {
	OwnerClass   OwnerClass       `json:"owner_class"`
	OffenderRole OffenderRole     `json:"offender_role"`
	Amount       *decimal.Decimal `json:"amount,omitempty"`
	First        *decimal.Decimal `json:"first,omitempty"`
	Second       *decimal.Decimal `json:"second,omitempty"`
	Third        *decimal.Decimal `json:"third,omitempty"`
	Subsequent   *decimal.Decimal `json:"subsequent,omitempty"`
}

func (e Entry) axes() Axes {
	return Axes{OwnerClass: e.OwnerClass, OffenderRole: e.OffenderRole}
}

// Document is the persisted form of a schedule, stored as a JSON column.
type Document struct {
	Structure Structure `json:"structure"`
	Entries   []Entry   `json:"entries"`
}

// Value implements driver.Valuer.
func (d Document) Value() (driver.Value, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode fine schedule")
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (d *Document) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = Document{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported fine schedule column type %T", src)
	}
	return json.Unmarshal(raw, d)
}

// MaxAmount is the largest value a numeric(12,2) money column holds.
var MaxAmount = decimal.RequireFromString("9999999999.99")

// CheckAmount returns what is wrong with a money amount, or "" when it is a
// positive value of at most two decimal places that fits a money column.
func CheckAmount(v decimal.Decimal) string {
	switch {
	case !v.IsPositive():
		return "must be greater than zero"
	case !v.Equal(v.Truncate(2)):
		return "must have at most two decimal places"
	case v.GreaterThan(MaxAmount):
		return "must not exceed " + MaxAmount.StringFixed(2)
	}
	return ""
}

// Validate checks that the document can be parsed into a schedule and that
// every amount is a valid money amount.
func (d Document) Validate() error {
	fields := map[string]string{}

	switch d.Structure {
	case StructureFixed, StructureProgressive:
	case "":
		fields["structure"] = "is required"
	default:
		fields["structure"] = fmt.Sprintf("unknown structure %q", d.Structure)
	}

	if len(d.Entries) == 0 {
		fields["entries"] = "at least one entry is required"
	}

	seen := make(map[Axes]int, len(d.Entries))
	for i, e := range d.Entries {
		prefix := fmt.Sprintf("entries[%d]", i)

		if !e.OwnerClass.Valid() {
			fields[prefix+".owner_class"] = "must be PRIVATE or FOR_HIRE"
		}
		if !e.OffenderRole.Valid() {
			fields[prefix+".offender_role"] = "must be DRIVER or OWNER_OPERATOR"
		}
		if j, dup := seen[e.axes()]; dup {
			fields[prefix] = fmt.Sprintf("duplicates entries[%d]", j)
		}
		seen[e.axes()] = i

		amounts := map[string]*decimal.Decimal{
			"amount":     e.Amount,
			"first":      e.First,
			"second":     e.Second,
			"third":      e.Third,
			"subsequent": e.Subsequent,
		}
		for name, v := range amounts {
			if v == nil {
				continue
			}
			if problem := CheckAmount(*v); problem != "" {
				fields[prefix+"."+name] = problem
			}
		}

		switch d.Structure {
		case StructureFixed:
			if e.Amount == nil {
				fields[prefix+".amount"] = "is required for a fixed schedule"
			}
			if e.First != nil || e.Second != nil || e.Third != nil || e.Subsequent != nil {
				fields[prefix+".tiers"] = "not allowed for a fixed schedule"
			}
		case StructureProgressive:
			if e.First == nil {
				fields[prefix+".first"] = "is required for a progressive schedule"
			}
			if e.Amount != nil {
				fields[prefix+".amount"] = "not allowed for a progressive schedule"
			}
		}
	}

	if len(fields) > 0 {
		return apperror.Validation("invalid fine schedule", fields)
	}
	return nil
}

// Schedule parses the document into its variant.
func (d Document) Schedule() (Schedule, error) {
	switch d.Structure {
	case StructureFixed:
		amounts := make(map[Axes]decimal.Decimal, len(d.Entries))
		for _, e := range d.Entries {
			if e.Amount == nil {
				return nil, apperror.InvalidSchedule("fixed entry %s has no amount", e.axes())
			}
			amounts[e.axes()] = *e.Amount
		}
		return Fixed{Amounts: amounts}, nil

	case StructureProgressive:
		tiers := make(map[Axes]Tiers, len(d.Entries))
		for _, e := range d.Entries {
			if e.First == nil {
				return nil, apperror.InvalidSchedule("progressive entry %s has no first tier", e.axes())
			}
			tiers[e.axes()] = Tiers{
				First:      *e.First,
				Second:     e.Second,
				Third:      e.Third,
				Subsequent: e.Subsequent,
			}
		}
		return Progressive{Tiers: tiers}, nil

	default:
		return nil, apperror.InvalidSchedule("unknown fine structure %q", d.Structure)
	}
}
