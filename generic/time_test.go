package generic

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	cases := []struct {
		start  string
		months int
		want   string
	}{
		{"2024-01-10", 1, "2024-02-10"},
		{"2024-01-31", 1, "2024-02-29"}, // leap year
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-01-31", 2, "2024-03-31"}, // counted from the start, no drift
		{"2024-08-31", 1, "2024-09-30"},
		{"2024-11-15", 3, "2025-02-15"},
		{"2024-03-31", -1, "2024-02-29"},
	}
	for _, tc := range cases {
		got := MustDate(tc.start).AddMonths(tc.months)
		assert.Equal(t, tc.want, got.String(), "%s + %d months", tc.start, tc.months)
	}
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 5, DaysBetween(MustDate("2024-01-01"), MustDate("2024-01-06")))
	assert.Equal(t, 0, DaysBetween(MustDate("2024-01-06"), MustDate("2024-01-06")))
	assert.Equal(t, -5, DaysBetween(MustDate("2024-01-06"), MustDate("2024-01-01")))
	assert.Equal(t, 366, DaysBetween(MustDate("2024-01-01"), MustDate("2025-01-01")))
}

func TestParseDate(t *testing.T) {
	tp, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 2024, tp.Year())
	assert.Equal(t, 29, tp.Day())

	_, err = ParseDate("2023-02-29")
	assert.Error(t, err)

	_, err = ParseDate("29/02/2024")
	assert.Error(t, err)
}

func TestTimePointJSON(t *testing.T) {
	// GIVEN: A struct with a set date and a zero date
	type doc struct {
		Due  TimePoint `json:"due"`
		Paid TimePoint `json:"paid"`
	}

	// WHEN: Round-tripping through JSON
	raw, err := json.Marshal(doc{Due: MustDate("2024-01-10")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2024-01-10","paid":""}`, string(raw))

	var back doc
	require.NoError(t, json.Unmarshal(raw, &back))

	// THEN: The set date survives and the zero date stays zero
	assert.True(t, back.Due.Equal(MustDate("2024-01-10")))
	assert.True(t, back.Paid.IsZero())
}

func TestPeriod_Validate(t *testing.T) {
	p, err := NewPeriod(MustDate("2024-01-01"), MustDate("2024-01-31"))
	require.NoError(t, err)
	assert.True(t, p.Contains(MustDate("2024-01-01")))
	assert.True(t, p.Contains(MustDate("2024-01-31")))
	assert.False(t, p.Contains(MustDate("2024-02-01")))

	_, err = NewPeriod(MustDate("2024-02-01"), MustDate("2024-01-01"))
	assert.ErrorIs(t, err, ErrInvalidPeriod)
	assert.True(t, IsClientError(err))

	err = Period{Start: MustDate("2024-01-01")}.Validate()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "period", verr.Field)
}

func TestRoundCents_HalfUp(t *testing.T) {
	assert.Equal(t, "1036.67", RoundCents(decimal.RequireFromString("1036.666666")).StringFixed(2))
	assert.Equal(t, "0.13", RoundCents(decimal.RequireFromString("0.125")).StringFixed(2))
	assert.Equal(t, "333.33", RoundCents(decimal.NewFromInt(1000).Div(decimal.NewFromInt(3))).StringFixed(2))
}

func TestValidRate(t *testing.T) {
	assert.True(t, ValidRate(nil))
	assert.True(t, ValidRate(DecimalPtr(decimal.Zero)))
	assert.True(t, ValidRate(DecimalPtr(decimal.NewFromInt(1))))
	assert.True(t, ValidRate(DecimalPtr(decimal.RequireFromString("0.02"))))
	assert.False(t, ValidRate(DecimalPtr(decimal.RequireFromString("-0.01"))))
	assert.False(t, ValidRate(DecimalPtr(decimal.RequireFromString("1.5"))))
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0.0, Percent(3, 0))
	assert.Equal(t, 20.0, Percent(2, 10))
	assert.InDelta(t, 33.333, Percent(1, 3), 0.001)
}

func TestErrorHelpers(t *testing.T) {
	conflict := &VersionConflictError{PaymentID: "p1", Expected: 3}
	assert.ErrorIs(t, conflict, ErrConcurrentModification)
	assert.True(t, IsRetryable(conflict))
	assert.False(t, IsClientError(conflict))

	assert.True(t, IsNotFound(ErrPaymentNotFound))
	assert.True(t, IsNotFound(ErrClientNotFound))
	assert.False(t, IsNotFound(ErrInvalidRate))

	params := &ContractParametersError{Reason: "duration must be at least 1 month"}
	assert.ErrorIs(t, params, ErrInvalidContractParameters)
	assert.True(t, IsClientError(params))
}
