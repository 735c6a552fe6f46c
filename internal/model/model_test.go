package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriod(t *testing.T) {
	t.Run("parse and format", func(t *testing.T) {
		p, err := ParsePeriod("2024-07")
		require.NoError(t, err)
		assert.Equal(t, Period{Year: 2024, Month: time.July}, p)
		assert.Equal(t, "2024-07", p.String())
	})

	t.Run("rejects malformed", func(t *testing.T) {
		_, err := ParsePeriod("2024-13")
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "period", verr.Field)
	})

	t.Run("predecessor crosses year", func(t *testing.T) {
		p := Period{Year: 2024, Month: time.January}
		assert.Equal(t, Period{Year: 2023, Month: time.December}, p.Prev())
		assert.Equal(t, Period{Year: 2024, Month: time.February}, p.Next())
	})

	t.Run("reading date is first of next month", func(t *testing.T) {
		p := Period{Year: 2024, Month: time.December}
		assert.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC), p.ReadingDate())
	})

	t.Run("ordering", func(t *testing.T) {
		a := Period{Year: 2023, Month: time.December}
		b := Period{Year: 2024, Month: time.January}
		assert.True(t, a.Before(b))
		assert.False(t, b.Before(a))
		assert.False(t, a.Before(a))
	})

	t.Run("json text", func(t *testing.T) {
		var v struct {
			P Period `json:"p"`
		}
		require.NoError(t, json.Unmarshal([]byte(`{"p":"2024-03"}`), &v))
		assert.Equal(t, Period{Year: 2024, Month: time.March}, v.P)
	})
}

func TestConsumption(t *testing.T) {
	cases := []struct {
		previous, present, want string
	}{
		{"100", "180", "80"},
		{"180", "100", "80"},
		{"0", "0", "0"},
		{"12.5", "20", "7.5"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s->%s", tc.previous, tc.present), func(t *testing.T) {
			got := Consumption(decimal.RequireFromString(tc.previous), decimal.RequireFromString(tc.present))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

func TestBandCoverage(t *testing.T) {
	hundred := decimal.NewFromInt(100)
	entry := TariffEntry{MinUnits: decimal.Zero, MaxUnits: &hundred}
	assert.True(t, entry.Covers(decimal.NewFromInt(100)))
	assert.False(t, entry.Covers(decimal.NewFromInt(101)))

	open := TariffEntry{MinUnits: decimal.NewFromInt(101)}
	assert.True(t, open.Covers(decimal.NewFromInt(100000)))
	assert.False(t, open.Covers(decimal.NewFromInt(100)))

	anyUnits := SurchargeRate{}
	assert.True(t, anyUnits.Covers(decimal.NewFromInt(5)))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NewNotFoundError("bill", "A-1/2024-07"))
	assert.True(t, errors.Is(err, ErrNotFound))

	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "bill", nf.Entity)

	perr := &PersistenceError{Op: "save bill", Err: errors.New("disk full")}
	assert.EqualError(t, errors.Unwrap(perr), "disk full")

	d := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	w := NewRateWarning("surcharge", decimal.NewFromInt(80))
	w.TypeID = 3
	w.Date = &d
	assert.Equal(t, "no rate found for type 3 at units 80, date 2024-06-01", w.Error())
}

func TestParseBillStatus(t *testing.T) {
	st, err := ParseBillStatus("Paid")
	require.NoError(t, err)
	assert.Equal(t, BillPaid, st)

	_, err = ParseBillStatus("Overdue")
	assert.Error(t, err)
}
