package fines

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func fixedDoc() Document {
	return Document{
		Structure: StructureFixed,
		Entries: []Entry{
			{OwnerClass: OwnerClassPrivate, OffenderRole: OffenderRoleDriver, Amount: amount("1000")},
			{OwnerClass: OwnerClassForHire, OffenderRole: OffenderRoleDriver, Amount: amount("2000")},
		},
	}
}

func progressiveDoc(first, second, third, subsequent *decimal.Decimal) Document {
	return Document{
		Structure: StructureProgressive,
		Entries: []Entry{
			{
				OwnerClass:   OwnerClassPrivate,
				OffenderRole: OffenderRoleDriver,
				First:        first,
				Second:       second,
				Third:        third,
				Subsequent:   subsequent,
			},
		},
	}
}

func TestCalculateFixedIgnoresOrdinal(t *testing.T) {
	for _, ordinal := range []int{1, 2, 3, 7} {
		got, err := Calculate(fixedDoc(), OwnerClassPrivate, OffenderRoleDriver, ordinal)
		require.NoError(t, err)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(1000)), "ordinal %d", ordinal)
		assert.Equal(t, TierFlat, got.Tier)
		assert.Equal(t, ordinal, got.Ordinal)
	}
}

func TestCalculateFixedSelectsAxes(t *testing.T) {
	got, err := Calculate(fixedDoc(), OwnerClassForHire, OffenderRoleDriver, 1)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(2000)))
}

func TestCalculateProgressive(t *testing.T) {
	tests := []struct {
		name     string
		doc      Document
		ordinal  int
		expected string
		tier     Tier
	}{
		{"first offense", progressiveDoc(amount("500"), amount("1000"), amount("1500"), amount("2500")), 1, "500", TierFirst},
		{"second offense", progressiveDoc(amount("500"), amount("1000"), amount("1500"), amount("2500")), 2, "1000", TierSecond},
		{"third offense", progressiveDoc(amount("500"), amount("1000"), amount("1500"), nil), 3, "1500", TierThird},
		{"fourth offense uses subsequent", progressiveDoc(amount("500"), amount("1000"), amount("1500"), amount("2500")), 4, "2500", TierSubsequent},
		{"fifth offense falls back to third", progressiveDoc(amount("500"), amount("1000"), amount("1500"), nil), 5, "1500", TierThird},
		{"only first defined", progressiveDoc(amount("500"), nil, nil, nil), 3, "500", TierFirst},
		{"gap falls back to second", progressiveDoc(amount("500"), amount("750"), nil, amount("3000")), 3, "750", TierSecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.doc, OwnerClassPrivate, OffenderRoleDriver, tt.ordinal)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got.Amount.String())
			assert.Equal(t, tt.tier, got.Tier)
		})
	}
}

func TestCalculateMissingAxes(t *testing.T) {
	_, err := Calculate(fixedDoc(), OwnerClassPrivate, OffenderRoleOwnerOperator, 1)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidSchedule))

	doc := progressiveDoc(amount("500"), nil, nil, nil)
	_, err = Calculate(doc, OwnerClassForHire, OffenderRoleDriver, 2)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidSchedule))
}

func TestCalculateRejectsBadInput(t *testing.T) {
	_, err := Calculate(fixedDoc(), OwnerClassPrivate, OffenderRoleDriver, 0)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = Calculate(fixedDoc(), OwnerClass("FLEET"), OffenderRoleDriver, 1)
	assert.True(t, apperror.IsKind(err, apperror.KindValidation))

	_, err = Calculate(Document{Structure: "TIERED"}, OwnerClassPrivate, OffenderRoleDriver, 1)
	assert.True(t, apperror.IsKind(err, apperror.KindInvalidSchedule))
}
