// internal/billing/service.go
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/ledger"
	"github.com/deannos/billing-engine-nuvaris/internal/metrics"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/deannos/billing-engine-nuvaris/internal/surcharge"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EventPublisher receives bill events after the write commits.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.BillEvent) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, model.BillEvent) error { return nil }

// Service runs bill writes. Each write is one transaction, and writes to the
// same unit and period are serialized.
type Service struct {
	repo            store.Repository
	ledger          *ledger.Ledger
	catalog         *rates.Catalog
	allocator       *surcharge.Allocator
	computer        *Computer
	publisher       EventPublisher
	defaultCategory string
	log             *zap.Logger
	clock           func() time.Time
	locks           *keyedMutex
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now as the source of the billing date.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) { s.clock = fn }
}

// WithPublisher sets the bill event sink.
func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithDefaultCategory sets the tariff category used when neither the request
// nor the unit master names one.
func WithDefaultCategory(category string) Option {
	return func(s *Service) { s.defaultCategory = category }
}

// NewService wires the billing components over repo.
func NewService(repo store.Repository, catalog *rates.Catalog, l *ledger.Ledger, log *zap.Logger, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		ledger:    l,
		catalog:   catalog,
		allocator: surcharge.NewAllocator(repo, catalog, l, log),
		computer:  NewComputer(catalog, log),
		publisher: nopPublisher{},
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
		locks:     newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnterBillRequest is a reading plus everything needed to bill it.
type EnterBillRequest struct {
	Unit           string                 `json:"unit"`
	Period         model.Period           `json:"period"`
	PresentReading decimal.Decimal        `json:"present_reading"`
	Category       string                 `json:"category,omitempty"`
	UnitsAdjusted  *decimal.Decimal       `json:"units_adjusted,omitempty"`
	GSTRate        *decimal.Decimal       `json:"gst_rate,omitempty"`
	DutyRate       *decimal.Decimal       `json:"duty_rate,omitempty"`
	Surcharges     []surcharge.Selection  `json:"surcharges,omitempty"`
	Adjustments    []surcharge.Adjustment `json:"adjustments,omitempty"`
	Remarks        string                 `json:"remarks,omitempty"`
}

// BillUpdate edits a stored bill. Nil fields keep the stored value.
type BillUpdate struct {
	PresentReading    *decimal.Decimal `json:"present_reading,omitempty"`
	UnitsAdjusted     *decimal.Decimal `json:"units_adjusted,omitempty"`
	GSTRate           *decimal.Decimal `json:"gst_rate,omitempty"`
	DutyRate          *decimal.Decimal `json:"duty_rate,omitempty"`
	CurrentSurcharge  *decimal.Decimal `json:"current_surcharge,omitempty"`
	AdjustedSurcharge *decimal.Decimal `json:"adjusted_surcharge,omitempty"`
	Remarks           *string          `json:"remarks,omitempty"`
}

// EnterBill records the reading, allocates surcharges, computes and stores
// the bill in one transaction.
func (s *Service) EnterBill(ctx context.Context, req EnterBillRequest) (*model.Bill, error) {
	if req.Unit == "" {
		return nil, model.NewValidationError("unit", "cannot be empty")
	}
	if req.Period.IsZero() {
		return nil, model.NewValidationError("period", "cannot be empty")
	}
	defer s.lock(req.Unit, req.Period)()
	start := time.Now()
	now := s.clock()

	var bill *model.Bill
	err := s.repo.Transaction(ctx, func(tx store.Repository) error {
		category, err := s.category(ctx, tx, req.Unit, req.Category)
		if err != nil {
			return err
		}

		l := s.ledger.With(tx)
		reading, err := l.RecordReading(ctx, req.Unit, req.Period, req.PresentReading)
		if err != nil {
			return err
		}
		if req.UnitsAdjusted != nil {
			if err := l.SetUnitsAdjusted(ctx, reading, *req.UnitsAdjusted); err != nil {
				return err
			}
		}

		status := model.BillDue
		existing, err := tx.GetBill(ctx, req.Unit, req.Period)
		switch {
		case err == nil:
			status = existing.Status
		case !errors.Is(err, model.ErrNotFound):
			return err
		}

		alloc := s.allocator.With(tx)
		allocation, err := alloc.Allocate(ctx, surcharge.Request{
			Unit:        req.Unit,
			Period:      req.Period,
			ReadingID:   reading.ID,
			Consumption: reading.Consumption,
			AsOf:        now,
			Current:     req.Surcharges,
			Adjustments: req.Adjustments,
		})
		if err != nil {
			return err
		}
		if err := alloc.Persist(ctx, allocation); err != nil {
			return err
		}

		warnings := make([]string, 0, len(allocation.Warnings))
		for _, w := range allocation.Warnings {
			warnings = append(warnings, w.Error())
		}

		b, err := s.computer.With(tx).Compute(ctx, ComputeInput{
			Reading:           *reading,
			Category:          category,
			AsOf:              now,
			GSTRate:           req.GSTRate,
			DutyRate:          req.DutyRate,
			CurrentSurcharge:  allocation.CurrentTotal,
			AdjustedSurcharge: allocation.AdjustedTotal,
			Status:            status,
			Remarks:           req.Remarks,
			Warnings:          warnings,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveBill(ctx, b); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		s.log.Warn("enter bill failed",
			zap.String("unit", req.Unit),
			zap.Stringer("period", req.Period),
			zap.Error(err),
		)
		return nil, err
	}

	s.committed("enter", start, bill)
	s.publish(ctx, model.BillFinalized, bill)
	return bill, nil
}

// UpdateBill recomputes a stored bill with the given edits. The energy rate
// stays pinned to the stored value.
func (s *Service) UpdateBill(ctx context.Context, unit string, period model.Period, upd BillUpdate) (*model.Bill, error) {
	defer s.lock(unit, period)()
	start := time.Now()

	var bill *model.Bill
	err := s.repo.Transaction(ctx, func(tx store.Repository) error {
		existing, err := tx.GetBill(ctx, unit, period)
		if err != nil {
			return err
		}

		l := s.ledger.With(tx)
		var reading *model.MeterReading
		if upd.PresentReading != nil {
			reading, err = l.RecordReading(ctx, unit, period, *upd.PresentReading)
		} else {
			reading, err = l.Reading(ctx, unit, period)
		}
		if err != nil {
			return err
		}
		if upd.UnitsAdjusted != nil {
			if err := l.SetUnitsAdjusted(ctx, reading, *upd.UnitsAdjusted); err != nil {
				return err
			}
		}

		remarks := existing.Remarks
		if upd.Remarks != nil {
			remarks = *upd.Remarks
		}
		b, err := s.computer.With(tx).Compute(ctx, ComputeInput{
			Reading:           *reading,
			Category:          existing.Category,
			AsOf:              s.clock(),
			RatePerUnit:       &existing.RatePerUnit,
			GSTRate:           pick(upd.GSTRate, existing.GSTRate),
			DutyRate:          pick(upd.DutyRate, existing.DutyRate),
			CurrentSurcharge:  *pick(upd.CurrentSurcharge, existing.CurrentSurcharge),
			AdjustedSurcharge: *pick(upd.AdjustedSurcharge, existing.AdjustedSurcharge),
			Status:            existing.Status,
			Remarks:           remarks,
			Warnings:          existing.Warnings,
		})
		if err != nil {
			return err
		}
		if err := tx.SaveBill(ctx, b); err != nil {
			return err
		}
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed("update", start, bill)
	s.publish(ctx, model.BillUpdated, bill)
	return bill, nil
}

// DeleteBill removes a bill with its surcharge lines and reading.
func (s *Service) DeleteBill(ctx context.Context, unit string, period model.Period) error {
	defer s.lock(unit, period)()
	start := time.Now()

	var bill *model.Bill
	err := s.repo.Transaction(ctx, func(tx store.Repository) error {
		b, err := tx.GetBill(ctx, unit, period)
		if err != nil {
			return err
		}
		bill = b
		return tx.DeleteBill(ctx, unit, period)
	})
	if err != nil {
		return err
	}

	s.committed("delete", start, bill)
	s.publish(ctx, model.BillDeleted, bill)
	return nil
}

// SetStatus changes the payment status of a bill.
func (s *Service) SetStatus(ctx context.Context, unit string, period model.Period, status model.BillStatus) (*model.Bill, error) {
	if _, err := model.ParseBillStatus(string(status)); err != nil {
		return nil, err
	}
	defer s.lock(unit, period)()
	start := time.Now()

	var bill *model.Bill
	err := s.repo.Transaction(ctx, func(tx store.Repository) error {
		b, err := tx.GetBill(ctx, unit, period)
		if err != nil {
			return err
		}
		if err := tx.UpdateBillStatus(ctx, b.ReadingID, status); err != nil {
			return err
		}
		b.Status = status
		bill = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.committed("status", start, bill)
	s.publish(ctx, model.BillStatusChanged, bill)
	return bill, nil
}

// GetBill returns the stored bill.
func (s *Service) GetBill(ctx context.Context, unit string, period model.Period) (*model.Bill, error) {
	return s.repo.GetBill(ctx, unit, period)
}

// BillLines returns the surcharge lines charged on a bill.
func (s *Service) BillLines(ctx context.Context, unit string, period model.Period) ([]model.SurchargeApplication, error) {
	b, err := s.repo.GetBill(ctx, unit, period)
	if err != nil {
		return nil, err
	}
	return s.allocator.Lines(ctx, b.ReadingID)
}

// BillsForPeriod lists every bill of a period ordered by unit.
func (s *Service) BillsForPeriod(ctx context.Context, period model.Period) ([]model.Bill, error) {
	return s.repo.BillsForPeriod(ctx, period)
}

// RecordReading stores a reading without billing it.
func (s *Service) RecordReading(ctx context.Context, unit string, period model.Period, present decimal.Decimal) (*model.MeterReading, error) {
	defer s.lock(unit, period)()
	var reading *model.MeterReading
	err := s.repo.Transaction(ctx, func(tx store.Repository) error {
		r, err := s.ledger.With(tx).RecordReading(ctx, unit, period, present)
		reading = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return reading, nil
}

// Reading returns the stored reading of unit for period.
func (s *Service) Reading(ctx context.Context, unit string, period model.Period) (*model.MeterReading, error) {
	return s.ledger.Reading(ctx, unit, period)
}

// History returns the readings of unit, newest first.
func (s *Service) History(ctx context.Context, unit string) ([]model.MeterReading, error) {
	return s.ledger.History(ctx, unit)
}

// PriorPeriods lists periods of unit available for adjustments against period.
func (s *Service) PriorPeriods(ctx context.Context, unit string, period model.Period) ([]model.Period, error) {
	return s.ledger.PriorPeriods(ctx, unit, period)
}

// SaveAccount upserts the unit master record.
func (s *Service) SaveAccount(ctx context.Context, a *model.Account) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return s.repo.UpsertAccount(ctx, a)
}

// Account returns the unit master record.
func (s *Service) Account(ctx context.Context, unit string) (*model.Account, error) {
	return s.repo.GetAccount(ctx, unit)
}

func (s *Service) category(ctx context.Context, repo store.Repository, unit, requested string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	a, err := repo.GetAccount(ctx, unit)
	switch {
	case err == nil:
		return a.Category, nil
	case !errors.Is(err, model.ErrNotFound):
		return "", err
	}
	if s.defaultCategory != "" {
		return s.defaultCategory, nil
	}
	return "", model.NewValidationError("category", "unit %s has no category", unit)
}

func (s *Service) lock(unit string, period model.Period) func() {
	return s.locks.Lock(unit + "/" + period.String())
}

func (s *Service) committed(op string, start time.Time, b *model.Bill) {
	metrics.BillWrites.WithLabelValues(op).Inc()
	metrics.BillWriteDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	s.log.Info("bill "+op+" committed",
		zap.String("unit", b.Unit),
		zap.Stringer("period", b.Period),
		zap.Int64("reading_id", b.ReadingID),
		zap.String("net_payable", b.NetPayable.String()),
		zap.Int("warnings", len(b.Warnings)),
	)
}

func (s *Service) publish(ctx context.Context, typ model.BillEventType, b *model.Bill) {
	ev := model.BillEvent{
		EventID:    uuid.New().String(),
		Type:       typ,
		Unit:       b.Unit,
		Period:     b.Period,
		ReadingID:  b.ReadingID,
		NetPayable: b.NetPayable,
		Status:     b.Status,
		OccurredAt: s.clock(),
	}
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warn("bill event not published",
			zap.String("event_type", string(typ)),
			zap.String("unit", b.Unit),
			zap.Stringer("period", b.Period),
			zap.Error(err),
		)
	}
}

func pick(v *decimal.Decimal, fallback decimal.Decimal) *decimal.Decimal {
	if v != nil {
		return v
	}
	return &fallback
}
