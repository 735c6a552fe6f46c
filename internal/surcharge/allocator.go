// internal/surcharge/allocator.go
package surcharge

import (
	"context"
	"fmt"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/ledger"
	"github.com/deannos/billing-engine-nuvaris/internal/metrics"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Selection is one surcharge chosen for a bill.
type Selection struct {
	TypeID int64 `json:"surcharge_type_id"`
	// EffectiveDate pins the rate date. Nil means the latest effective date.
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
	// SurchargeID names the row for banded types. Zero resolves by band.
	SurchargeID int64 `json:"surcharge_id,omitempty"`
	// RateOverride replaces the resolved per-unit rate for this line only.
	RateOverride *decimal.Decimal `json:"rate_override,omitempty"`
	Reason       *string          `json:"reason,omitempty"`
}

// Adjustment charges surcharges of a prior period on the current bill.
type Adjustment struct {
	Period     model.Period `json:"period"`
	Selections []Selection  `json:"surcharges"`
}

// Request is the input of one allocation.
type Request struct {
	Unit        string
	Period      model.Period
	ReadingID   int64
	Consumption decimal.Decimal
	AsOf        time.Time
	Current     []Selection
	Adjustments []Adjustment
}

// Allocation is the set of surcharge lines charged on one bill.
type Allocation struct {
	Lines         []model.SurchargeApplication `json:"lines"`
	CurrentTotal  decimal.Decimal              `json:"current_total"`
	AdjustedTotal decimal.Decimal              `json:"adjusted_total"`
	Warnings      []*model.RateWarning         `json:"warnings,omitempty"`
}

// resolver picks the rate row for a selection.
type resolver interface {
	resolve(ctx context.Context, t *model.SurchargeType, sel Selection, units decimal.Decimal, asOf time.Time) (*model.SurchargeRate, *model.RateWarning, error)
}

// Allocator turns surcharge selections into charged lines.
type Allocator struct {
	repo      store.Repository
	catalog   *rates.Catalog
	ledger    *ledger.Ledger
	log       *zap.Logger
	resolvers map[model.SurchargeResolution]resolver
}

// NewAllocator wires an Allocator.
func NewAllocator(repo store.Repository, catalog *rates.Catalog, l *ledger.Ledger, log *zap.Logger) *Allocator {
	return &Allocator{
		repo:    repo,
		catalog: catalog,
		ledger:  l,
		log:     log,
		resolvers: map[model.SurchargeResolution]resolver{
			model.ResolveFlatByDate: flatByDate{catalog: catalog},
			model.ResolveBanded:     banded{catalog: catalog},
		},
	}
}

// With returns an Allocator bound to another repository, typically a transaction.
func (a *Allocator) With(repo store.Repository) *Allocator {
	return NewAllocator(repo, a.catalog.With(repo), a.ledger.With(repo), a.log)
}

// Allocate resolves every selection. Current selections are charged on the
// current consumption; adjustments on the consumption of their prior period.
// Selections that resolve to no rate produce a warning and no line. A repeated
// (surcharge, adjusted period) pair keeps the last selection.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Allocation, error) {
	out := &Allocation{CurrentTotal: decimal.Zero, AdjustedTotal: decimal.Zero}
	index := make(map[string]int)

	add := func(line model.SurchargeApplication) {
		key := line.Key()
		if i, ok := index[key]; ok {
			out.Lines[i] = line
			return
		}
		index[key] = len(out.Lines)
		out.Lines = append(out.Lines, line)
	}

	for _, sel := range req.Current {
		line, warn, err := a.line(ctx, req, req.Period, req.Consumption, sel)
		if err != nil {
			return nil, err
		}
		if warn != nil {
			out.Warnings = append(out.Warnings, warn)
			continue
		}
		add(*line)
	}

	for _, adj := range req.Adjustments {
		if !adj.Period.Before(req.Period) {
			return nil, model.NewValidationError("adjustment period", "%s is not before billing period %s", adj.Period, req.Period)
		}
		units, err := a.ledger.ConsumptionOf(ctx, req.Unit, adj.Period)
		if err != nil {
			return nil, err
		}
		for _, sel := range adj.Selections {
			line, warn, err := a.line(ctx, req, adj.Period, units, sel)
			if err != nil {
				return nil, err
			}
			if warn != nil {
				out.Warnings = append(out.Warnings, warn)
				continue
			}
			add(*line)
		}
	}

	for _, line := range out.Lines {
		if line.IsAdjustment() {
			out.AdjustedTotal = out.AdjustedTotal.Add(line.Amount)
			metrics.SurchargeLines.WithLabelValues("adjustment").Inc()
		} else {
			out.CurrentTotal = out.CurrentTotal.Add(line.Amount)
			metrics.SurchargeLines.WithLabelValues("current").Inc()
		}
	}
	return out, nil
}

func (a *Allocator) line(ctx context.Context, req Request, adjusted model.Period, units decimal.Decimal, sel Selection) (*model.SurchargeApplication, *model.RateWarning, error) {
	t, err := a.catalog.SurchargeType(ctx, sel.TypeID)
	if err != nil {
		return nil, nil, err
	}
	r, ok := a.resolvers[t.Resolution]
	if !ok {
		return nil, nil, fmt.Errorf("surcharge type %d has unknown resolution %q", t.ID, t.Resolution)
	}

	row, warn, err := r.resolve(ctx, t, sel, units, req.AsOf)
	if err != nil || warn != nil {
		if warn != nil {
			a.log.Warn("surcharge selection skipped",
				zap.String("unit", req.Unit),
				zap.Stringer("period", req.Period),
				zap.Stringer("adjusted_period", adjusted),
				zap.Error(warn),
			)
		}
		return nil, warn, err
	}

	rate := row.RatePerUnit
	if sel.RateOverride != nil {
		if sel.RateOverride.IsNegative() {
			return nil, nil, model.NewValidationError("rate_override", "cannot be negative")
		}
		rate = *sel.RateOverride
	}

	return &model.SurchargeApplication{
		ReadingID:      req.ReadingID,
		SurchargeID:    row.ID,
		TypeID:         t.ID,
		BillingPeriod:  req.Period,
		AdjustedPeriod: adjusted,
		Units:          units,
		RatePerUnit:    rate,
		Amount:         rate.Mul(units),
		Reason:         sel.Reason,
	}, nil, nil
}

// Persist upserts every line of the allocation.
func (a *Allocator) Persist(ctx context.Context, alloc *Allocation) error {
	for i := range alloc.Lines {
		if err := a.repo.UpsertSurchargeApplication(ctx, &alloc.Lines[i]); err != nil {
			return err
		}
	}
	return nil
}

// Lines returns the stored surcharge lines of a reading.
func (a *Allocator) Lines(ctx context.Context, readingID int64) ([]model.SurchargeApplication, error) {
	return a.repo.SurchargeApplications(ctx, readingID)
}
