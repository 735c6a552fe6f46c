// internal/billing/computer.go
package billing

import (
	"context"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Totals are the derived amounts of a bill.
type Totals struct {
	VariableCharges        decimal.Decimal
	GSTAmount              decimal.Decimal
	DutyAmount             decimal.Decimal
	CombinedSurcharge      decimal.Decimal
	GSTOnSurcharge         decimal.Decimal
	DutyOnSurcharge        decimal.Decimal
	TotalSurchargeWithTax  decimal.Decimal
	TotalAdditionalCharges decimal.Decimal
	NetPayable             decimal.Decimal
}

// percentOf returns amount * pct / 100 without rounding.
func percentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return amount.Mul(pct).Shift(-2)
}

// ComputeTotals applies the bill formulas. Percentages are whole-number
// percents (5 means 5%).
func ComputeTotals(consumption, ratePerUnit, gstRate, dutyRate, currentSurcharge, adjustedSurcharge decimal.Decimal) Totals {
	var t Totals
	t.VariableCharges = consumption.Mul(ratePerUnit)
	t.GSTAmount = percentOf(t.VariableCharges, gstRate)
	t.DutyAmount = percentOf(t.VariableCharges, dutyRate)
	t.CombinedSurcharge = currentSurcharge.Add(adjustedSurcharge)
	t.GSTOnSurcharge = percentOf(t.CombinedSurcharge, gstRate)
	t.DutyOnSurcharge = percentOf(t.CombinedSurcharge, dutyRate)
	t.TotalSurchargeWithTax = t.CombinedSurcharge.Add(t.GSTOnSurcharge).Add(t.DutyOnSurcharge)
	t.TotalAdditionalCharges = t.GSTAmount.Add(t.DutyAmount)
	t.NetPayable = t.VariableCharges.Add(t.TotalSurchargeWithTax).Add(t.TotalAdditionalCharges)
	return t
}

// ComputeInput carries everything a bill is derived from.
type ComputeInput struct {
	Reading  model.MeterReading
	Category string
	AsOf     time.Time

	// RatePerUnit pins the energy rate; nil resolves it from the tariff.
	RatePerUnit *decimal.Decimal
	// GSTRate and DutyRate override the catalog percentages.
	GSTRate  *decimal.Decimal
	DutyRate *decimal.Decimal

	CurrentSurcharge  decimal.Decimal
	AdjustedSurcharge decimal.Decimal

	Status   model.BillStatus
	Remarks  string
	Warnings []string
}

// Computer derives bills.
type Computer struct {
	catalog *rates.Catalog
	log     *zap.Logger
}

// NewComputer creates a Computer.
func NewComputer(catalog *rates.Catalog, log *zap.Logger) *Computer {
	return &Computer{catalog: catalog, log: log}
}

// With returns a Computer bound to another repository, typically a transaction.
func (c *Computer) With(repo store.Repository) *Computer {
	return &Computer{catalog: c.catalog.With(repo), log: c.log}
}

// Compute resolves missing rates and derives every total. Rate misses are
// recorded as warnings on the bill, with the affected rate at zero.
func (c *Computer) Compute(ctx context.Context, in ComputeInput) (*model.Bill, error) {
	warnings := append([]string(nil), in.Warnings...)
	consumption := in.Reading.Consumption

	var rate decimal.Decimal
	if in.RatePerUnit != nil {
		rate = *in.RatePerUnit
	} else {
		res, err := c.catalog.TariffRate(ctx, in.Category, consumption, in.AsOf)
		if err != nil {
			return nil, err
		}
		if res.Warning != nil {
			warnings = append(warnings, res.Warning.Error())
		}
		rate = res.Rate
	}

	gst, err := c.percent(ctx, in.GSTRate, model.FlatRateGST, in.AsOf, &warnings)
	if err != nil {
		return nil, err
	}
	duty, err := c.percent(ctx, in.DutyRate, model.FlatRateDuty, in.AsOf, &warnings)
	if err != nil {
		return nil, err
	}

	t := ComputeTotals(consumption, rate, gst, duty, in.CurrentSurcharge, in.AdjustedSurcharge)

	status := in.Status
	if status == "" {
		status = model.BillDue
	}
	return &model.Bill{
		ReadingID:              in.Reading.ID,
		Unit:                   in.Reading.Unit,
		Period:                 in.Reading.Period,
		Category:               in.Category,
		PreviousReading:        in.Reading.Previous,
		PresentReading:         in.Reading.Present,
		Consumption:            consumption,
		UnitsAdjusted:          in.Reading.UnitsAdjusted,
		ReadingDate:            in.Reading.ReadingDate,
		RatePerUnit:            rate,
		GSTRate:                gst,
		DutyRate:               duty,
		VariableCharges:        t.VariableCharges,
		DutyAmount:             t.DutyAmount,
		GSTAmount:              t.GSTAmount,
		CurrentSurcharge:       in.CurrentSurcharge,
		AdjustedSurcharge:      in.AdjustedSurcharge,
		CombinedSurcharge:      t.CombinedSurcharge,
		GSTOnSurcharge:         t.GSTOnSurcharge,
		DutyOnSurcharge:        t.DutyOnSurcharge,
		TotalSurchargeWithTax:  t.TotalSurchargeWithTax,
		TotalAdditionalCharges: t.TotalAdditionalCharges,
		NetPayable:             t.NetPayable,
		Status:                 status,
		Remarks:                in.Remarks,
		Warnings:               warnings,
	}, nil
}

func (c *Computer) percent(ctx context.Context, override *decimal.Decimal, kind model.FlatRateKind, asOf time.Time, warnings *[]string) (decimal.Decimal, error) {
	if override != nil {
		if override.IsNegative() {
			return decimal.Zero, model.NewValidationError(string(kind)+"_rate", "cannot be negative")
		}
		return *override, nil
	}
	var (
		r     model.FlatRate
		found bool
		err   error
	)
	if kind == model.FlatRateGST {
		r, found, err = c.catalog.GSTRate(ctx, asOf)
	} else {
		r, found, err = c.catalog.DutyRate(ctx, asOf)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		w := model.NewRateWarning(string(kind), decimal.Zero)
		c.log.Warn("flat rate not found, using zero", zap.String("kind", string(kind)), zap.Time("as_of", asOf))
		*warnings = append(*warnings, w.Error())
	}
	return r.Percent, nil
}
