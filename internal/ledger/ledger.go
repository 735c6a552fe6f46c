// internal/ledger/ledger.go
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger records meter readings and derives consumption.
type Ledger struct {
	repo store.Repository
	log  *zap.Logger
}

// New creates a Ledger over repo.
func New(repo store.Repository, log *zap.Logger) *Ledger {
	return &Ledger{repo: repo, log: log}
}

// With returns a Ledger bound to another repository, typically a transaction.
func (l *Ledger) With(repo store.Repository) *Ledger {
	return &Ledger{repo: repo, log: l.log}
}

// RecordReading stores the present reading of unit for period. The previous
// reading is the present reading of the calendar predecessor, or zero when
// that period has no reading. Re-recording a period updates it in place.
func (l *Ledger) RecordReading(ctx context.Context, unit string, period model.Period, present decimal.Decimal) (*model.MeterReading, error) {
	r := &model.MeterReading{Unit: unit, Period: period, Present: present}

	existing, err := l.repo.FindReading(ctx, unit, period)
	switch {
	case err == nil:
		r.UnitsAdjusted = existing.UnitsAdjusted
	case !errors.Is(err, model.ErrNotFound):
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	previous, err := l.presentOf(ctx, unit, period.Prev())
	if err != nil {
		return nil, err
	}
	r.Previous = previous
	r.Consumption = model.Consumption(previous, present)
	r.ReadingDate = period.ReadingDate()

	if err := l.repo.UpsertReading(ctx, r); err != nil {
		return nil, fmt.Errorf("record reading %s/%s: %w", unit, period, err)
	}
	l.log.Debug("reading recorded",
		zap.String("unit", unit),
		zap.Stringer("period", period),
		zap.String("previous", r.Previous.String()),
		zap.String("present", r.Present.String()),
		zap.String("consumption", r.Consumption.String()),
	)
	return r, nil
}

// SetUnitsAdjusted stores the display-only adjusted units on a reading.
func (l *Ledger) SetUnitsAdjusted(ctx context.Context, r *model.MeterReading, units decimal.Decimal) error {
	if units.IsNegative() {
		return model.NewValidationError("units_adjusted", "cannot be negative")
	}
	r.UnitsAdjusted = units
	return l.repo.UpsertReading(ctx, r)
}

// Reading returns the stored reading of unit for period.
func (l *Ledger) Reading(ctx context.Context, unit string, period model.Period) (*model.MeterReading, error) {
	return l.repo.FindReading(ctx, unit, period)
}

// ConsumptionOf returns the consumption of unit in period, zero when absent.
func (l *Ledger) ConsumptionOf(ctx context.Context, unit string, period model.Period) (decimal.Decimal, error) {
	r, err := l.repo.FindReading(ctx, unit, period)
	if errors.Is(err, model.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return r.Consumption, nil
}

// PriorPeriods lists periods of unit with readings strictly before period,
// newest first. These are the candidates for surcharge adjustments.
func (l *Ledger) PriorPeriods(ctx context.Context, unit string, period model.Period) ([]model.Period, error) {
	readings, err := l.repo.ReadingsForUnit(ctx, unit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Period, 0, len(readings))
	for _, r := range readings {
		if r.Period.Before(period) {
			out = append(out, r.Period)
		}
	}
	return out, nil
}

// History returns every reading of unit, newest first.
func (l *Ledger) History(ctx context.Context, unit string) ([]model.MeterReading, error) {
	return l.repo.ReadingsForUnit(ctx, unit)
}

func (l *Ledger) presentOf(ctx context.Context, unit string, period model.Period) (decimal.Decimal, error) {
	r, err := l.repo.FindReading(ctx, unit, period)
	if errors.Is(err, model.ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return r.Present, nil
}
