// internal/store/gorm_store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements Repository on gorm.
type GormStore struct {
	db   *gorm.DB
	log  *zap.Logger
	inTx bool
}

var _ Repository = (*GormStore)(nil)

// NewGormStore wraps an open database.
func NewGormStore(db *gorm.DB, log *zap.Logger) *GormStore {
	return &GormStore{db: db, log: log}
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, log: s.log, inTx: true})
	})
}

// atomically runs fn in the current transaction or opens one.
func (s *GormStore) atomically(ctx context.Context, fn func(tx *GormStore) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, log: s.log, inTx: true})
	})
}

// forUpdate takes a row lock when running inside a postgres transaction.
// SQLite serializes writers at the database level.
func (s *GormStore) forUpdate(q *gorm.DB) *gorm.DB {
	if s.inTx && s.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

func persistErr(op string, err error) error {
	return &model.PersistenceError{Op: op, Err: err}
}

func billKey(unit string, period model.Period) string {
	return unit + "/" + period.String()
}

// Readings

func (s *GormStore) findReadingRecord(ctx context.Context, unit string, period model.Period) (*readingRecord, error) {
	var rec readingRecord
	err := s.forUpdate(s.db.WithContext(ctx)).
		Where("unit = ? AND period = ?", unit, period.String()).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.NewNotFoundError("reading", billKey(unit, period))
	}
	if err != nil {
		return nil, persistErr("find reading", err)
	}
	return &rec, nil
}

func (s *GormStore) FindReading(ctx context.Context, unit string, period model.Period) (*model.MeterReading, error) {
	rec, err := s.findReadingRecord(ctx, unit, period)
	if err != nil {
		return nil, err
	}
	r := rec.toModel()
	return &r, nil
}

func (s *GormStore) UpsertReading(ctx context.Context, r *model.MeterReading) error {
	existing, err := s.findReadingRecord(ctx, r.Unit, r.Period)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return err
	}

	if existing != nil {
		err = s.db.WithContext(ctx).Model(&readingRecord{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"previous_reading": r.Previous,
				"present_reading":  r.Present,
				"consumption":      r.Consumption,
				"units_adjusted":   r.UnitsAdjusted,
				"reading_date":     r.ReadingDate.UTC(),
			}).Error
		if err != nil {
			return persistErr("update reading", err)
		}
		r.ID = existing.ID
		return nil
	}

	rec := readingRecord{
		Unit:            r.Unit,
		Period:          r.Period.String(),
		PreviousReading: r.Previous,
		PresentReading:  r.Present,
		Consumption:     r.Consumption,
		UnitsAdjusted:   r.UnitsAdjusted,
		ReadingDate:     r.ReadingDate.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return persistErr("insert reading", err)
	}
	r.ID = rec.ID
	return nil
}

func (s *GormStore) ReadingsForUnit(ctx context.Context, unit string) ([]model.MeterReading, error) {
	var recs []readingRecord
	if err := s.db.WithContext(ctx).Where("unit = ?", unit).Order("period DESC").Find(&recs).Error; err != nil {
		return nil, persistErr("list readings", err)
	}
	out := make([]model.MeterReading, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// Tariff

func (s *GormStore) CategoryExists(ctx context.Context, category string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&tariffRecord{}).Where("category = ?", category).Count(&n).Error; err != nil {
		return false, persistErr("count tariff category", err)
	}
	return n > 0, nil
}

func (s *GormStore) TariffEntries(ctx context.Context, category string, asOf time.Time) ([]model.TariffEntry, error) {
	var recs []tariffRecord
	err := s.db.WithContext(ctx).
		Where("category = ? AND effective_date <= ?", category, asOf.UTC()).
		Order("effective_date DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, persistErr("list tariff entries", err)
	}
	out := make([]model.TariffEntry, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// UpsertTariffEntry matches on (category, min, max, effective date) with a
// null-aware max comparison, or on ID when one is given.
func (s *GormStore) UpsertTariffEntry(ctx context.Context, e *model.TariffEntry) error {
	e.EffectiveDate = model.Day(e.EffectiveDate)
	return s.atomically(ctx, func(tx *GormStore) error {
		var match *tariffRecord
		if e.ID > 0 {
			var rec tariffRecord
			err := tx.db.WithContext(ctx).First(&rec, e.ID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewNotFoundError("tariff entry", fmt.Sprint(e.ID))
			}
			if err != nil {
				return persistErr("find tariff entry", err)
			}
			match = &rec
		} else {
			var recs []tariffRecord
			err := tx.db.WithContext(ctx).
				Where("category = ? AND effective_date = ?", e.Category, e.EffectiveDate).
				Order("id ASC").Find(&recs).Error
			if err != nil {
				return persistErr("find tariff entry", err)
			}
			for i := range recs {
				if recs[i].MinUnits.Equal(e.MinUnits) && sameBound(fromNullable(recs[i].MaxUnits), e.MaxUnits) {
					match = &recs[i]
					break
				}
			}
		}

		rec := tariffRecord{
			Category:      e.Category,
			MinUnits:      e.MinUnits,
			MaxUnits:      nullable(e.MaxUnits),
			RatePerUnit:   e.RatePerUnit,
			EffectiveDate: e.EffectiveDate,
		}
		if match != nil {
			rec.ID = match.ID
			rec.CreatedAt = match.CreatedAt
		}
		if err := tx.db.WithContext(ctx).Save(&rec).Error; err != nil {
			return persistErr("save tariff entry", err)
		}
		e.ID = rec.ID
		return nil
	})
}

// Flat rates

func (s *GormStore) FlatRates(ctx context.Context, kind model.FlatRateKind, asOf time.Time) ([]model.FlatRate, error) {
	var recs []flatRateRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND effective_date <= ?", string(kind), asOf.UTC()).
		Order("effective_date DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, persistErr("list flat rates", err)
	}
	out := make([]model.FlatRate, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

func (s *GormStore) UpsertFlatRate(ctx context.Context, r *model.FlatRate) error {
	r.EffectiveDate = model.Day(r.EffectiveDate)
	rec := flatRateRecord{Kind: string(r.Kind), Percent: r.Percent, EffectiveDate: r.EffectiveDate}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "effective_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"percent", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return persistErr("upsert flat rate", err)
	}

	var stored flatRateRecord
	err = s.db.WithContext(ctx).
		Where("kind = ? AND effective_date = ?", rec.Kind, rec.EffectiveDate).
		First(&stored).Error
	if err != nil {
		return persistErr("reload flat rate", err)
	}
	r.ID = stored.ID
	return nil
}

// Surcharge catalog

func (s *GormStore) SurchargeTypes(ctx context.Context) ([]model.SurchargeType, error) {
	var recs []surchargeTypeRecord
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&recs).Error; err != nil {
		return nil, persistErr("list surcharge types", err)
	}
	out := make([]model.SurchargeType, 0, len(recs))
	for _, r := range recs {
		out = append(out, model.SurchargeType{ID: r.ID, Name: r.Name, Resolution: model.SurchargeResolution(r.Resolution)})
	}
	return out, nil
}

func (s *GormStore) SurchargeType(ctx context.Context, id int64) (*model.SurchargeType, error) {
	var rec surchargeTypeRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.NewNotFoundError("surcharge type", fmt.Sprint(id))
	}
	if err != nil {
		return nil, persistErr("find surcharge type", err)
	}
	return &model.SurchargeType{ID: rec.ID, Name: rec.Name, Resolution: model.SurchargeResolution(rec.Resolution)}, nil
}

func (s *GormStore) SurchargeRates(ctx context.Context, typeID int64, asOf time.Time) ([]model.SurchargeRate, error) {
	var recs []surchargeRateRecord
	err := s.db.WithContext(ctx).
		Where("type_id = ? AND effective_date <= ?", typeID, asOf.UTC()).
		Order("effective_date DESC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, persistErr("list surcharge rates", err)
	}
	out := make([]model.SurchargeRate, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

func (s *GormStore) SurchargeRate(ctx context.Context, id int64) (*model.SurchargeRate, error) {
	var rec surchargeRateRecord
	err := s.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.NewNotFoundError("surcharge rate", fmt.Sprint(id))
	}
	if err != nil {
		return nil, persistErr("find surcharge rate", err)
	}
	r := rec.toModel()
	return &r, nil
}

// UpsertSurchargeRate matches on (type, effective date, from, to) with
// null-aware bounds, or on ID when one is given.
func (s *GormStore) UpsertSurchargeRate(ctx context.Context, r *model.SurchargeRate) error {
	r.EffectiveDate = model.Day(r.EffectiveDate)
	return s.atomically(ctx, func(tx *GormStore) error {
		var match *surchargeRateRecord
		if r.ID > 0 {
			var rec surchargeRateRecord
			err := tx.db.WithContext(ctx).First(&rec, r.ID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewNotFoundError("surcharge rate", fmt.Sprint(r.ID))
			}
			if err != nil {
				return persistErr("find surcharge rate", err)
			}
			match = &rec
		} else {
			var recs []surchargeRateRecord
			err := tx.db.WithContext(ctx).
				Where("type_id = ? AND effective_date = ?", r.TypeID, r.EffectiveDate).
				Order("id ASC").Find(&recs).Error
			if err != nil {
				return persistErr("find surcharge rate", err)
			}
			for i := range recs {
				if sameBound(fromNullable(recs[i].UnitsFrom), r.UnitsFrom) && sameBound(fromNullable(recs[i].UnitsTo), r.UnitsTo) {
					match = &recs[i]
					break
				}
			}
		}

		rec := surchargeRateRecord{
			TypeID:        r.TypeID,
			RatePerUnit:   r.RatePerUnit,
			UnitsFrom:     nullable(r.UnitsFrom),
			UnitsTo:       nullable(r.UnitsTo),
			EffectiveDate: r.EffectiveDate,
		}
		if match != nil {
			rec.ID = match.ID
			rec.CreatedAt = match.CreatedAt
		}
		if err := tx.db.WithContext(ctx).Save(&rec).Error; err != nil {
			return persistErr("save surcharge rate", err)
		}
		r.ID = rec.ID
		return nil
	})
}

func sameBound(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// Surcharge applications

// UpsertSurchargeApplication overwrites amount on conflict and keeps the
// stored reason unless a new one is given.
func (s *GormStore) UpsertSurchargeApplication(ctx context.Context, a *model.SurchargeApplication) error {
	rec := applicationRecord{
		ReadingID:      a.ReadingID,
		SurchargeID:    a.SurchargeID,
		BillingPeriod:  a.BillingPeriod.String(),
		AdjustedPeriod: a.AdjustedPeriod.String(),
		TypeID:         a.TypeID,
		Units:          a.Units,
		RatePerUnit:    a.RatePerUnit,
		Amount:         a.Amount,
		Reason:         a.Reason,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "reading_id"}, {Name: "surcharge_id"}, {Name: "billing_period"}, {Name: "adjusted_period"},
		},
		DoUpdates: clause.Assignments(map[string]any{
			"type_id":       gorm.Expr("excluded.type_id"),
			"units":         gorm.Expr("excluded.units"),
			"rate_per_unit": gorm.Expr("excluded.rate_per_unit"),
			"amount":        gorm.Expr("excluded.amount"),
			"updated_at":    gorm.Expr("excluded.updated_at"),
			"reason":        gorm.Expr("COALESCE(excluded.reason, surcharge_applications.reason)"),
		}),
	}).Create(&rec).Error
	if err != nil {
		return persistErr("upsert surcharge application", err)
	}
	return nil
}

func (s *GormStore) SurchargeApplications(ctx context.Context, readingID int64) ([]model.SurchargeApplication, error) {
	var recs []applicationRecord
	err := s.db.WithContext(ctx).
		Where("reading_id = ?", readingID).
		Order("adjusted_period DESC, surcharge_id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, persistErr("list surcharge applications", err)
	}
	out := make([]model.SurchargeApplication, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toModel())
	}
	return out, nil
}

// Bills

func (s *GormStore) SaveBill(ctx context.Context, b *model.Bill) error {
	if b.ReadingID == 0 {
		return model.NewValidationError("reading_id", "bill has no reading")
	}
	now := s.db.NowFunc()
	upsert := clause.OnConflict{Columns: []clause.Column{{Name: "reading_id"}}, UpdateAll: true}

	return s.atomically(ctx, func(tx *GormStore) error {
		db := tx.db.WithContext(ctx)
		charges := chargesRecord{
			ReadingID:       b.ReadingID,
			GSTRate:         b.GSTRate,
			DutyRate:        b.DutyRate,
			GSTAmount:       b.GSTAmount,
			DutyAmount:      b.DutyAmount,
			TotalAdditional: b.TotalAdditionalCharges,
			UpdatedAt:       now,
		}
		if err := db.Clauses(upsert).Create(&charges).Error; err != nil {
			return persistErr("upsert additional charges", err)
		}

		surcharges := surchargeBreakdownRecord{
			ReadingID:       b.ReadingID,
			Current:         b.CurrentSurcharge,
			Adjusted:        b.AdjustedSurcharge,
			Combined:        b.CombinedSurcharge,
			GSTOnSurcharge:  b.GSTOnSurcharge,
			DutyOnSurcharge: b.DutyOnSurcharge,
			TotalWithTax:    b.TotalSurchargeWithTax,
			UpdatedAt:       now,
		}
		if err := db.Clauses(upsert).Create(&surcharges).Error; err != nil {
			return persistErr("upsert surcharge breakdown", err)
		}

		summary := summaryRecord{
			ReadingID:       b.ReadingID,
			Category:        b.Category,
			RatePerUnit:     b.RatePerUnit,
			VariableCharges: b.VariableCharges,
			NetPayable:      b.NetPayable,
			Status:          string(b.Status),
			Remarks:         b.Remarks,
			Warnings:        datatypes.JSONSlice[string](b.Warnings),
			UpdatedAt:       now,
		}
		if err := db.Clauses(upsert).Create(&summary).Error; err != nil {
			return persistErr("upsert billing summary", err)
		}
		b.UpdatedAt = now
		return nil
	})
}

func (s *GormStore) GetBill(ctx context.Context, unit string, period model.Period) (*model.Bill, error) {
	rd, err := s.findReadingRecord(ctx, unit, period)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.NewNotFoundError("bill", billKey(unit, period))
	}
	if err != nil {
		return nil, err
	}
	bills, err := s.assemble(ctx, []readingRecord{*rd})
	if err != nil {
		return nil, err
	}
	if len(bills) == 0 {
		return nil, model.NewNotFoundError("bill", billKey(unit, period))
	}
	return &bills[0], nil
}

func (s *GormStore) BillsForPeriod(ctx context.Context, period model.Period) ([]model.Bill, error) {
	var readings []readingRecord
	err := s.db.WithContext(ctx).Where("period = ?", period.String()).Order("unit ASC").Find(&readings).Error
	if err != nil {
		return nil, persistErr("list period readings", err)
	}
	return s.assemble(ctx, readings)
}

// assemble joins readings with their sub-records, skipping readings that
// have no bill.
func (s *GormStore) assemble(ctx context.Context, readings []readingRecord) ([]model.Bill, error) {
	if len(readings) == 0 {
		return nil, nil
	}
	ids := make([]int64, 0, len(readings))
	for _, r := range readings {
		ids = append(ids, r.ID)
	}

	db := s.db.WithContext(ctx)
	var charges []chargesRecord
	if err := db.Where("reading_id IN ?", ids).Find(&charges).Error; err != nil {
		return nil, persistErr("load additional charges", err)
	}
	var surcharges []surchargeBreakdownRecord
	if err := db.Where("reading_id IN ?", ids).Find(&surcharges).Error; err != nil {
		return nil, persistErr("load surcharge breakdown", err)
	}
	var summaries []summaryRecord
	if err := db.Where("reading_id IN ?", ids).Find(&summaries).Error; err != nil {
		return nil, persistErr("load billing summaries", err)
	}

	chargeBy := make(map[int64]*chargesRecord, len(charges))
	for i := range charges {
		chargeBy[charges[i].ReadingID] = &charges[i]
	}
	surchargeBy := make(map[int64]*surchargeBreakdownRecord, len(surcharges))
	for i := range surcharges {
		surchargeBy[surcharges[i].ReadingID] = &surcharges[i]
	}
	summaryBy := make(map[int64]*summaryRecord, len(summaries))
	for i := range summaries {
		summaryBy[summaries[i].ReadingID] = &summaries[i]
	}

	bills := make([]model.Bill, 0, len(readings))
	for i := range readings {
		rd := &readings[i]
		ch, sc, sm := chargeBy[rd.ID], surchargeBy[rd.ID], summaryBy[rd.ID]
		if ch == nil || sc == nil || sm == nil {
			continue
		}
		bills = append(bills, assembleBill(rd, ch, sc, sm))
	}
	return bills, nil
}

func (s *GormStore) UpdateBillStatus(ctx context.Context, readingID int64, status model.BillStatus) error {
	res := s.db.WithContext(ctx).Model(&summaryRecord{}).
		Where("reading_id = ?", readingID).
		Updates(map[string]any{"status": string(status), "updated_at": s.db.NowFunc()})
	if res.Error != nil {
		return persistErr("update bill status", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.NewNotFoundError("bill", fmt.Sprintf("reading %d", readingID))
	}
	return nil
}

func (s *GormStore) DeleteBill(ctx context.Context, unit string, period model.Period) error {
	return s.atomically(ctx, func(tx *GormStore) error {
		rd, err := tx.findReadingRecord(ctx, unit, period)
		if errors.Is(err, model.ErrNotFound) {
			return model.NewNotFoundError("bill", billKey(unit, period))
		}
		if err != nil {
			return err
		}

		db := tx.db.WithContext(ctx)
		var n int64
		if err := db.Model(&summaryRecord{}).Where("reading_id = ?", rd.ID).Count(&n).Error; err != nil {
			return persistErr("find billing summary", err)
		}
		if n == 0 {
			return model.NewNotFoundError("bill", billKey(unit, period))
		}

		steps := []struct {
			op  string
			rec any
		}{
			{"delete surcharge applications", &applicationRecord{}},
			{"delete additional charges", &chargesRecord{}},
			{"delete surcharge breakdown", &surchargeBreakdownRecord{}},
			{"delete billing summary", &summaryRecord{}},
		}
		for _, st := range steps {
			if err := db.Where("reading_id = ?", rd.ID).Delete(st.rec).Error; err != nil {
				return persistErr(st.op, err)
			}
		}
		if err := db.Delete(&readingRecord{}, rd.ID).Error; err != nil {
			return persistErr("delete reading", err)
		}
		return nil
	})
}

// Accounts

func (s *GormStore) UpsertAccount(ctx context.Context, a *model.Account) error {
	rec := accountRecord{
		Unit:           a.Unit,
		PersonID:       a.PersonID,
		Name:           a.Name,
		Category:       a.Category,
		LoadSanctioned: a.LoadSanctioned,
		Phase:          a.Phase,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "unit"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return persistErr("upsert account", err)
	}
	return nil
}

func (s *GormStore) GetAccount(ctx context.Context, unit string) (*model.Account, error) {
	var rec accountRecord
	err := s.db.WithContext(ctx).Where("unit = ?", unit).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, model.NewNotFoundError("account", unit)
	}
	if err != nil {
		return nil, persistErr("find account", err)
	}
	a := rec.toModel()
	return &a, nil
}
