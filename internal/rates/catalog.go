// internal/rates/catalog.go
package rates

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/metrics"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Catalog answers effective-dated rate queries.
type Catalog struct {
	repo store.Repository
	log  *zap.Logger
}

// NewCatalog creates a Catalog over repo.
func NewCatalog(repo store.Repository, log *zap.Logger) *Catalog {
	return &Catalog{repo: repo, log: log}
}

// With returns a Catalog bound to another repository, typically a transaction.
func (c *Catalog) With(repo store.Repository) *Catalog {
	return &Catalog{repo: repo, log: c.log}
}

// TariffResolution is the outcome of a tariff lookup. A miss carries a zero
// rate and a warning.
type TariffResolution struct {
	Rate    decimal.Decimal
	Entry   *model.TariffEntry
	Warning *model.RateWarning
}

// TariffRate returns the per-unit rate for category at the given
// consumption, taken from the latest entry effective on or before asOf
// whose band contains units. Ties go to the lowest id.
func (c *Catalog) TariffRate(ctx context.Context, category string, units decimal.Decimal, asOf time.Time) (TariffResolution, error) {
	miss := func() TariffResolution {
		w := model.NewRateWarning("tariff", units)
		w.Category = category
		c.warn(w)
		return TariffResolution{Rate: decimal.Zero, Warning: w}
	}

	exists, err := c.repo.CategoryExists(ctx, category)
	if err != nil {
		return TariffResolution{}, fmt.Errorf("tariff lookup for %s: %w", category, err)
	}
	if !exists {
		return miss(), nil
	}

	entries, err := c.repo.TariffEntries(ctx, category, asOf)
	if err != nil {
		return TariffResolution{}, fmt.Errorf("tariff lookup for %s: %w", category, err)
	}
	entry := selectTariff(entries, units)
	if entry == nil {
		return miss(), nil
	}
	return TariffResolution{Rate: entry.RatePerUnit, Entry: entry}, nil
}

func selectTariff(entries []model.TariffEntry, units decimal.Decimal) *model.TariffEntry {
	var best *model.TariffEntry
	for i := range entries {
		e := &entries[i]
		if !e.Covers(units) {
			continue
		}
		if best == nil || e.EffectiveDate.After(best.EffectiveDate) ||
			(e.EffectiveDate.Equal(best.EffectiveDate) && e.ID < best.ID) {
			best = e
		}
	}
	return best
}

// GSTRate returns the most recently effective GST percentage.
func (c *Catalog) GSTRate(ctx context.Context, asOf time.Time) (model.FlatRate, bool, error) {
	return c.flatRate(ctx, model.FlatRateGST, asOf)
}

// DutyRate returns the most recently effective electric duty percentage.
func (c *Catalog) DutyRate(ctx context.Context, asOf time.Time) (model.FlatRate, bool, error) {
	return c.flatRate(ctx, model.FlatRateDuty, asOf)
}

func (c *Catalog) flatRate(ctx context.Context, kind model.FlatRateKind, asOf time.Time) (model.FlatRate, bool, error) {
	list, err := c.repo.FlatRates(ctx, kind, asOf)
	if err != nil {
		return model.FlatRate{}, false, fmt.Errorf("%s rate lookup: %w", kind, err)
	}
	var best *model.FlatRate
	for i := range list {
		r := &list[i]
		if best == nil || r.EffectiveDate.After(best.EffectiveDate) ||
			(r.EffectiveDate.Equal(best.EffectiveDate) && r.ID < best.ID) {
			best = r
		}
	}
	if best == nil {
		return model.FlatRate{Kind: kind, Percent: decimal.Zero}, false, nil
	}
	return *best, true, nil
}

// SurchargeResolution is the outcome of a surcharge rate lookup.
type SurchargeResolution struct {
	Rate    decimal.Decimal
	Entry   *model.SurchargeRate
	Warning *model.RateWarning
}

// ResolveSurcharge picks the surcharge row of typeID for the given
// consumption. With a date, only rows effective exactly on that date are
// considered; without one, rows at the latest effective date on or before
// asOf. Null band bounds are unbounded. Ties go to the lowest id.
func (c *Catalog) ResolveSurcharge(ctx context.Context, typeID int64, units decimal.Decimal, date *time.Time, asOf time.Time) (SurchargeResolution, error) {
	cutoff := asOf
	if date != nil {
		cutoff = model.Day(*date)
	}
	rows, err := c.repo.SurchargeRates(ctx, typeID, cutoff)
	if err != nil {
		return SurchargeResolution{}, fmt.Errorf("surcharge lookup for type %d: %w", typeID, err)
	}

	var target time.Time
	if date != nil {
		target = cutoff
	} else {
		for _, r := range rows {
			if r.EffectiveDate.After(target) {
				target = r.EffectiveDate
			}
		}
	}

	var best *model.SurchargeRate
	for i := range rows {
		r := &rows[i]
		if !r.EffectiveDate.Equal(target) || !r.Covers(units) {
			continue
		}
		if best == nil || r.ID < best.ID {
			best = r
		}
	}
	if best == nil {
		w := model.NewRateWarning("surcharge", units)
		w.TypeID = typeID
		if date != nil {
			d := cutoff
			w.Date = &d
		}
		c.warn(w)
		return SurchargeResolution{Rate: decimal.Zero, Warning: w}, nil
	}
	return SurchargeResolution{Rate: best.RatePerUnit, Entry: best}, nil
}

// SurchargeRow returns an explicitly chosen row, which must belong to typeID.
func (c *Catalog) SurchargeRow(ctx context.Context, typeID, surchargeID int64) (*model.SurchargeRate, error) {
	row, err := c.repo.SurchargeRate(ctx, surchargeID)
	if err != nil {
		return nil, err
	}
	if row.TypeID != typeID {
		return nil, model.NewNotFoundError("surcharge rate", fmt.Sprintf("%d for type %d", surchargeID, typeID))
	}
	return row, nil
}

// SurchargeTypes lists the surcharge enumeration.
func (c *Catalog) SurchargeTypes(ctx context.Context) ([]model.SurchargeType, error) {
	return c.repo.SurchargeTypes(ctx)
}

// SurchargeType returns one surcharge type.
func (c *Catalog) SurchargeType(ctx context.Context, id int64) (*model.SurchargeType, error) {
	return c.repo.SurchargeType(ctx, id)
}

// SurchargeDates lists the distinct effective dates of typeID, newest first.
func (c *Catalog) SurchargeDates(ctx context.Context, typeID int64) ([]time.Time, error) {
	if _, err := c.repo.SurchargeType(ctx, typeID); err != nil {
		return nil, err
	}
	rows, err := c.repo.SurchargeRates(ctx, typeID, time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, fmt.Errorf("surcharge dates for type %d: %w", typeID, err)
	}
	seen := make(map[time.Time]struct{}, len(rows))
	dates := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		d := model.Day(r.EffectiveDate)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })
	return dates, nil
}

// SurchargeRows lists every row of typeID effective on or before asOf.
func (c *Catalog) SurchargeRows(ctx context.Context, typeID int64, asOf time.Time) ([]model.SurchargeRate, error) {
	return c.repo.SurchargeRates(ctx, typeID, asOf)
}

func (c *Catalog) warn(w *model.RateWarning) {
	metrics.RateMisses.WithLabelValues(w.Kind).Inc()
	fields := []zap.Field{
		zap.String("kind", w.Kind),
		zap.String("units", w.Units),
	}
	if w.Category != "" {
		fields = append(fields, zap.String("category", w.Category))
	}
	if w.TypeID != 0 {
		fields = append(fields, zap.Int64("surcharge_type_id", w.TypeID))
	}
	if w.Date != nil {
		fields = append(fields, zap.String("date", w.Date.Format(model.DateLayout)))
	}
	c.log.Warn("rate not found", fields...)
}
