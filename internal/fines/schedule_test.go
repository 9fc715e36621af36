package fines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

func TestDocumentRoundTripThroughColumn(t *testing.T) {
	doc := progressiveDoc(amount("500"), amount("1000"), nil, nil)

	value, err := doc.Value()
	require.NoError(t, err)

	var scanned Document
	require.NoError(t, scanned.Scan([]byte(value.(string))))

	assert.Equal(t, StructureProgressive, scanned.Structure)
	require.Len(t, scanned.Entries, 1)
	assert.Equal(t, "1000", scanned.Entries[0].Second.String())
	assert.Nil(t, scanned.Entries[0].Third)
}

func TestDocumentScanRejectsUnknownType(t *testing.T) {
	var doc Document
	assert.Error(t, doc.Scan(42))
}

func TestDocumentValidate(t *testing.T) {
	tests := []struct {
		name   string
		doc    Document
		fields []string
	}{
		{
			name: "valid fixed",
			doc:  fixedDoc(),
		},
		{
			name: "valid progressive",
			doc:  progressiveDoc(amount("500"), nil, amount("900"), nil),
		},
		{
			name:   "missing structure",
			doc:    Document{Entries: fixedDoc().Entries},
			fields: []string{"structure"},
		},
		{
			name:   "no entries",
			doc:    Document{Structure: StructureFixed},
			fields: []string{"entries"},
		},
		{
			name:   "progressive without first tier",
			doc:    progressiveDoc(nil, amount("1000"), nil, nil),
			fields: []string{"entries[0].first"},
		},
		{
			name:   "non-positive amount",
			doc:    progressiveDoc(amount("0"), nil, nil, nil),
			fields: []string{"entries[0].first"},
		},
		{
			name:   "sub-cent amount",
			doc:    progressiveDoc(amount("500.125"), nil, nil, nil),
			fields: []string{"entries[0].first"},
		},
		{
			name:   "amount beyond column range",
			doc:    progressiveDoc(amount("500"), amount("10000000000"), nil, nil),
			fields: []string{"entries[0].second"},
		},
		{
			name: "fixed with tiers",
			doc: Document{Structure: StructureFixed, Entries: []Entry{
				{OwnerClass: OwnerClassPrivate, OffenderRole: OffenderRoleDriver, Amount: amount("10"), First: amount("5")},
			}},
			fields: []string{"entries[0].tiers"},
		},
		{
			name: "duplicate axes",
			doc: Document{Structure: StructureFixed, Entries: []Entry{
				{OwnerClass: OwnerClassPrivate, OffenderRole: OffenderRoleDriver, Amount: amount("10")},
				{OwnerClass: OwnerClassPrivate, OffenderRole: OffenderRoleDriver, Amount: amount("20")},
			}},
			fields: []string{"entries[1]"},
		},
		{
			name: "unknown axes",
			doc: Document{Structure: StructureFixed, Entries: []Entry{
				{OwnerClass: "FLEET", OffenderRole: "PASSENGER", Amount: amount("10")},
			}},
			fields: []string{"entries[0].owner_class", "entries[0].offender_role"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.Validate()
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			var appErr *apperror.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperror.KindValidation, appErr.Kind)
			for _, f := range tt.fields {
				assert.Contains(t, appErr.Fields, f)
			}
		})
	}
}

func TestCheckAmount(t *testing.T) {
	for value, ok := range map[string]bool{
		"0.01":          true,
		"1500":          true,
		"1500.50":       true,
		"1500.500":      true,
		"9999999999.99": true,
		"0":             false,
		"-1":            false,
		"0.001":         false,
		"12.345":        false,
		"10000000000":   false,
	} {
		problem := CheckAmount(*amount(value))
		assert.Equal(t, ok, problem == "", "%s: %s", value, problem)
	}
}

func TestDocumentScheduleVariant(t *testing.T) {
	s, err := fixedDoc().Schedule()
	require.NoError(t, err)
	_, ok := s.(Fixed)
	assert.True(t, ok)

	s, err = progressiveDoc(amount("500"), nil, nil, nil).Schedule()
	require.NoError(t, err)
	assert.Equal(t, StructureProgressive, s.Structure())
}
