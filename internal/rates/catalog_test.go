package rates

import (
	"context"
	"testing"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/deannos/billing-engine-nuvaris/internal/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var (
	dec       = storetest.Dec
	decp      = storetest.DecP
	day       = storetest.Day
	assertDec = storetest.AssertDec
)

func newCatalog(t *testing.T) (*Catalog, store.Repository, *observer.ObservedLogs) {
	t.Helper()
	repo := storetest.New(t)
	core, logs := observer.New(zap.WarnLevel)
	return NewCatalog(repo, zap.New(core)), repo, logs
}

func seedTariff(t *testing.T, c *Catalog) {
	t.Helper()
	ctx := context.Background()
	for _, e := range []*model.TariffEntry{
		{Category: "A", MinUnits: dec("0"), MaxUnits: decp("100"), RatePerUnit: dec("5"), EffectiveDate: day("2024-01-01")},
		{Category: "A", MinUnits: dec("101"), RatePerUnit: dec("7"), EffectiveDate: day("2024-01-01")},
		{Category: "A", MinUnits: dec("0"), MaxUnits: decp("100"), RatePerUnit: dec("6"), EffectiveDate: day("2024-06-01")},
	} {
		require.NoError(t, c.UpsertTariff(ctx, e))
	}
}

func TestTariffRate(t *testing.T) {
	c, _, logs := newCatalog(t)
	seedTariff(t, c)
	ctx := context.Background()
	july := day("2024-07-01")

	cases := []struct {
		name  string
		units string
		asOf  time.Time
		want  string
	}{
		{"newest slab wins", "50", july, "6"},
		{"upper band", "150", july, "7"},
		{"band edge inclusive", "100", july, "6"},
		{"before revision", "50", day("2024-03-01"), "5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := c.TariffRate(ctx, "A", dec(tc.units), tc.asOf)
			require.NoError(t, err)
			assert.Nil(t, res.Warning)
			assertDec(t, tc.want, res.Rate)
		})
	}

	t.Run("unknown category warns with zero rate", func(t *testing.T) {
		res, err := c.TariffRate(ctx, "Z", dec("50"), july)
		require.NoError(t, err)
		require.NotNil(t, res.Warning)
		assert.True(t, res.Rate.IsZero())
		assert.Equal(t, "Z", res.Warning.Category)
	})

	t.Run("gap between bands warns", func(t *testing.T) {
		res, err := c.TariffRate(ctx, "A", dec("100.5"), july)
		require.NoError(t, err)
		require.NotNil(t, res.Warning)
		assert.True(t, res.Rate.IsZero())
	})

	t.Run("nothing effective yet warns", func(t *testing.T) {
		res, err := c.TariffRate(ctx, "A", dec("50"), day("2023-12-31"))
		require.NoError(t, err)
		assert.NotNil(t, res.Warning)
	})

	assert.Equal(t, 3, logs.FilterMessage("rate not found").Len())
}

func TestSelectTariffTieBreak(t *testing.T) {
	eff := day("2024-01-01")
	entries := []model.TariffEntry{
		{ID: 9, MinUnits: decimal.Zero, RatePerUnit: dec("9"), EffectiveDate: eff},
		{ID: 4, MinUnits: decimal.Zero, RatePerUnit: dec("4"), EffectiveDate: eff},
		{ID: 2, MinUnits: decimal.Zero, RatePerUnit: dec("2"), EffectiveDate: day("2023-01-01")},
	}
	got := selectTariff(entries, dec("10"))
	require.NotNil(t, got)
	assert.Equal(t, int64(4), got.ID)
}

func TestFlatRates(t *testing.T) {
	c, _, _ := newCatalog(t)
	ctx := context.Background()

	_, found, err := c.GSTRate(ctx, day("2024-07-01"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.UpsertFlatRate(ctx, &model.FlatRate{Kind: model.FlatRateGST, Percent: dec("5"), EffectiveDate: day("2024-01-01")}))
	require.NoError(t, c.UpsertFlatRate(ctx, &model.FlatRate{Kind: model.FlatRateGST, Percent: dec("18"), EffectiveDate: day("2024-08-01")}))
	require.NoError(t, c.UpsertFlatRate(ctx, &model.FlatRate{Kind: model.FlatRateDuty, Percent: dec("1"), EffectiveDate: day("2024-01-01")}))

	gst, found, err := c.GSTRate(ctx, day("2024-07-01"))
	require.NoError(t, err)
	assert.True(t, found)
	assertDec(t, "5", gst.Percent)

	gst, _, err = c.GSTRate(ctx, day("2024-09-01"))
	require.NoError(t, err)
	assertDec(t, "18", gst.Percent)

	duty, found, err := c.DutyRate(ctx, day("2024-09-01"))
	require.NoError(t, err)
	assert.True(t, found)
	assertDec(t, "1", duty.Percent)

	err = c.UpsertFlatRate(ctx, &model.FlatRate{Kind: "vat", Percent: dec("1"), EffectiveDate: day("2024-01-01")})
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestResolveSurcharge(t *testing.T) {
	c, _, _ := newCatalog(t)
	ctx := context.Background()
	asOf := day("2024-07-15")

	rows := []*model.SurchargeRate{
		{TypeID: model.SurchargeAdditional, RatePerUnit: dec("1"), EffectiveDate: day("2024-01-01")},
		{TypeID: model.SurchargeAdditional, RatePerUnit: dec("1.5"), EffectiveDate: day("2024-06-01")},
		{TypeID: model.SurchargeFuel, RatePerUnit: dec("0.5"), UnitsFrom: decp("0"), UnitsTo: decp("100"), EffectiveDate: day("2024-06-01")},
		{TypeID: model.SurchargeFuel, RatePerUnit: dec("0.8"), UnitsFrom: decp("101"), EffectiveDate: day("2024-06-01")},
		{TypeID: model.SurchargeFuel, RatePerUnit: dec("0.3"), UnitsFrom: decp("0"), UnitsTo: decp("100"), EffectiveDate: day("2024-09-01")},
	}
	for _, r := range rows {
		require.NoError(t, c.UpsertSurchargeRate(ctx, r))
	}

	t.Run("latest date when none given", func(t *testing.T) {
		res, err := c.ResolveSurcharge(ctx, model.SurchargeAdditional, dec("80"), nil, asOf)
		require.NoError(t, err)
		assert.Nil(t, res.Warning)
		assertDec(t, "1.5", res.Rate)
	})

	t.Run("exact date", func(t *testing.T) {
		d := day("2024-01-01")
		res, err := c.ResolveSurcharge(ctx, model.SurchargeAdditional, dec("80"), &d, asOf)
		require.NoError(t, err)
		assertDec(t, "1", res.Rate)
		assert.Equal(t, rows[0].ID, res.Entry.ID)
	})

	t.Run("date with no rows warns", func(t *testing.T) {
		d := day("2024-02-01")
		res, err := c.ResolveSurcharge(ctx, model.SurchargeAdditional, dec("80"), &d, asOf)
		require.NoError(t, err)
		require.NotNil(t, res.Warning)
		assert.True(t, res.Rate.IsZero())
		assert.Equal(t, "no rate found for type 1 at units 80, date 2024-02-01", res.Warning.Error())
	})

	t.Run("band within latest date", func(t *testing.T) {
		res, err := c.ResolveSurcharge(ctx, model.SurchargeFuel, dec("150"), nil, asOf)
		require.NoError(t, err)
		assertDec(t, "0.8", res.Rate)
	})

	t.Run("future rows ignored", func(t *testing.T) {
		res, err := c.ResolveSurcharge(ctx, model.SurchargeFuel, dec("50"), nil, asOf)
		require.NoError(t, err)
		assertDec(t, "0.5", res.Rate)
	})

	t.Run("explicit row must match type", func(t *testing.T) {
		row, err := c.SurchargeRow(ctx, model.SurchargeFuel, rows[3].ID)
		require.NoError(t, err)
		assertDec(t, "0.8", row.RatePerUnit)

		_, err = c.SurchargeRow(ctx, model.SurchargeUniformQuarterly, rows[3].ID)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("dates newest first", func(t *testing.T) {
		dates, err := c.SurchargeDates(ctx, model.SurchargeFuel)
		require.NoError(t, err)
		require.Len(t, dates, 2)
		assert.True(t, dates[0].Equal(day("2024-09-01")))
		assert.True(t, dates[1].Equal(day("2024-06-01")))
	})

	t.Run("unknown type", func(t *testing.T) {
		err := c.UpsertSurchargeRate(ctx, &model.SurchargeRate{TypeID: 42, RatePerUnit: dec("1"), EffectiveDate: day("2024-01-01")})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestResolveSurchargeTieBreak(t *testing.T) {
	c, _, _ := newCatalog(t)
	ctx := context.Background()

	first := &model.SurchargeRate{TypeID: model.SurchargeUniformQuarterly, RatePerUnit: dec("2"), UnitsFrom: decp("0"), UnitsTo: decp("500"), EffectiveDate: day("2024-04-01")}
	second := &model.SurchargeRate{TypeID: model.SurchargeUniformQuarterly, RatePerUnit: dec("3"), UnitsFrom: decp("0"), UnitsTo: decp("300"), EffectiveDate: day("2024-04-01")}
	require.NoError(t, c.UpsertSurchargeRate(ctx, first))
	require.NoError(t, c.UpsertSurchargeRate(ctx, second))

	for i := 0; i < 3; i++ {
		res, err := c.ResolveSurcharge(ctx, model.SurchargeUniformQuarterly, dec("100"), nil, day("2024-05-01"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, res.Entry.ID)
	}
}
