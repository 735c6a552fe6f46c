// internal/store/records.go
package store

import (
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type readingRecord struct {
	ID              int64           `gorm:"primaryKey;autoIncrement"`
	Unit            string          `gorm:"size:32;not null;uniqueIndex:idx_reading_unit_period,priority:1"`
	Period          string          `gorm:"size:7;not null;uniqueIndex:idx_reading_unit_period,priority:2;index"`
	PreviousReading decimal.Decimal `gorm:"type:numeric;not null"`
	PresentReading  decimal.Decimal `gorm:"type:numeric;not null"`
	Consumption     decimal.Decimal `gorm:"type:numeric;not null"`
	UnitsAdjusted   decimal.Decimal `gorm:"type:numeric;not null"`
	ReadingDate     time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (readingRecord) TableName() string { return "meter_readings" }

type tariffRecord struct {
	ID            int64               `gorm:"primaryKey;autoIncrement"`
	Category      string              `gorm:"size:32;not null;index"`
	MinUnits      decimal.Decimal     `gorm:"type:numeric;not null"`
	MaxUnits      decimal.NullDecimal `gorm:"type:numeric"`
	RatePerUnit   decimal.Decimal     `gorm:"type:numeric;not null"`
	EffectiveDate time.Time           `gorm:"not null;index"`
	CreatedAt     time.Time
}

func (tariffRecord) TableName() string { return "tariff_rates" }

type flatRateRecord struct {
	ID            int64           `gorm:"primaryKey;autoIncrement"`
	Kind          string          `gorm:"size:8;not null;uniqueIndex:idx_flat_rate_kind_date,priority:1"`
	Percent       decimal.Decimal `gorm:"type:numeric;not null"`
	EffectiveDate time.Time       `gorm:"not null;uniqueIndex:idx_flat_rate_kind_date,priority:2"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (flatRateRecord) TableName() string { return "flat_rates" }

type surchargeTypeRecord struct {
	ID         int64  `gorm:"primaryKey;autoIncrement:false"`
	Name       string `gorm:"size:64;not null"`
	Resolution string `gorm:"size:16;not null"`
}

func (surchargeTypeRecord) TableName() string { return "surcharge_types" }

type surchargeRateRecord struct {
	ID            int64               `gorm:"primaryKey;autoIncrement"`
	TypeID        int64               `gorm:"not null;index"`
	RatePerUnit   decimal.Decimal     `gorm:"type:numeric;not null"`
	UnitsFrom     decimal.NullDecimal `gorm:"type:numeric"`
	UnitsTo       decimal.NullDecimal `gorm:"type:numeric"`
	EffectiveDate time.Time           `gorm:"not null;index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (surchargeRateRecord) TableName() string { return "surcharge_rates" }

type applicationRecord struct {
	ID             int64           `gorm:"primaryKey;autoIncrement"`
	ReadingID      int64           `gorm:"not null;uniqueIndex:idx_application_key,priority:1"`
	SurchargeID    int64           `gorm:"not null;uniqueIndex:idx_application_key,priority:2"`
	BillingPeriod  string          `gorm:"size:7;not null;uniqueIndex:idx_application_key,priority:3"`
	AdjustedPeriod string          `gorm:"size:7;not null;uniqueIndex:idx_application_key,priority:4"`
	TypeID         int64           `gorm:"not null"`
	Units          decimal.Decimal `gorm:"type:numeric;not null"`
	RatePerUnit    decimal.Decimal `gorm:"type:numeric;not null"`
	Amount         decimal.Decimal `gorm:"type:numeric;not null"`
	Reason         *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (applicationRecord) TableName() string { return "surcharge_applications" }

type chargesRecord struct {
	ReadingID       int64           `gorm:"primaryKey;autoIncrement:false"`
	GSTRate         decimal.Decimal `gorm:"type:numeric;not null"`
	DutyRate        decimal.Decimal `gorm:"type:numeric;not null"`
	GSTAmount       decimal.Decimal `gorm:"type:numeric;not null"`
	DutyAmount      decimal.Decimal `gorm:"type:numeric;not null"`
	TotalAdditional decimal.Decimal `gorm:"type:numeric;not null"`
	UpdatedAt       time.Time
}

func (chargesRecord) TableName() string { return "bill_additional_charges" }

type surchargeBreakdownRecord struct {
	ReadingID       int64           `gorm:"primaryKey;autoIncrement:false"`
	Current         decimal.Decimal `gorm:"type:numeric;not null"`
	Adjusted        decimal.Decimal `gorm:"type:numeric;not null"`
	Combined        decimal.Decimal `gorm:"type:numeric;not null"`
	GSTOnSurcharge  decimal.Decimal `gorm:"type:numeric;not null"`
	DutyOnSurcharge decimal.Decimal `gorm:"type:numeric;not null"`
	TotalWithTax    decimal.Decimal `gorm:"type:numeric;not null"`
	UpdatedAt       time.Time
}

func (surchargeBreakdownRecord) TableName() string { return "bill_surcharges" }

type summaryRecord struct {
	ReadingID       int64                       `gorm:"primaryKey;autoIncrement:false"`
	Category        string                      `gorm:"size:32"`
	RatePerUnit     decimal.Decimal             `gorm:"type:numeric;not null"`
	VariableCharges decimal.Decimal             `gorm:"type:numeric;not null"`
	NetPayable      decimal.Decimal             `gorm:"type:numeric;not null"`
	Status          string                      `gorm:"size:16;not null"`
	Remarks         string                      `gorm:"size:255"`
	Warnings        datatypes.JSONSlice[string]
	UpdatedAt       time.Time
}

func (summaryRecord) TableName() string { return "bill_summaries" }

type accountRecord struct {
	Unit           string `gorm:"primaryKey;size:32"`
	PersonID       string `gorm:"size:32"`
	Name           string `gorm:"size:128"`
	Category       string `gorm:"size:32;not null"`
	LoadSanctioned string `gorm:"size:32"`
	Phase          string `gorm:"size:16"`
	UpdatedAt      time.Time
}

func (accountRecord) TableName() string { return "accounts" }

func allRecords() []any {
	return []any{
		&readingRecord{},
		&tariffRecord{},
		&flatRateRecord{},
		&surchargeTypeRecord{},
		&surchargeRateRecord{},
		&applicationRecord{},
		&chargesRecord{},
		&surchargeBreakdownRecord{},
		&summaryRecord{},
		&accountRecord{},
	}
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullable(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func mustPeriod(s string) model.Period {
	p, _ := model.ParsePeriod(s)
	return p
}

func (r *readingRecord) toModel() model.MeterReading {
	return model.MeterReading{
		ID:            r.ID,
		Unit:          r.Unit,
		Period:        mustPeriod(r.Period),
		Previous:      r.PreviousReading,
		Present:       r.PresentReading,
		Consumption:   r.Consumption,
		UnitsAdjusted: r.UnitsAdjusted,
		ReadingDate:   r.ReadingDate.UTC(),
	}
}

func (r *tariffRecord) toModel() model.TariffEntry {
	return model.TariffEntry{
		ID:            r.ID,
		Category:      r.Category,
		MinUnits:      r.MinUnits,
		MaxUnits:      fromNullable(r.MaxUnits),
		RatePerUnit:   r.RatePerUnit,
		EffectiveDate: r.EffectiveDate.UTC(),
	}
}

func (r *flatRateRecord) toModel() model.FlatRate {
	return model.FlatRate{
		ID:            r.ID,
		Kind:          model.FlatRateKind(r.Kind),
		Percent:       r.Percent,
		EffectiveDate: r.EffectiveDate.UTC(),
	}
}

func (r *surchargeRateRecord) toModel() model.SurchargeRate {
	return model.SurchargeRate{
		ID:            r.ID,
		TypeID:        r.TypeID,
		RatePerUnit:   r.RatePerUnit,
		UnitsFrom:     fromNullable(r.UnitsFrom),
		UnitsTo:       fromNullable(r.UnitsTo),
		EffectiveDate: r.EffectiveDate.UTC(),
	}
}

func (r *applicationRecord) toModel() model.SurchargeApplication {
	return model.SurchargeApplication{
		ReadingID:      r.ReadingID,
		SurchargeID:    r.SurchargeID,
		TypeID:         r.TypeID,
		BillingPeriod:  mustPeriod(r.BillingPeriod),
		AdjustedPeriod: mustPeriod(r.AdjustedPeriod),
		Units:          r.Units,
		RatePerUnit:    r.RatePerUnit,
		Amount:         r.Amount,
		Reason:         r.Reason,
	}
}

func (r *accountRecord) toModel() model.Account {
	return model.Account{
		Unit:           r.Unit,
		PersonID:       r.PersonID,
		Name:           r.Name,
		Category:       r.Category,
		LoadSanctioned: r.LoadSanctioned,
		Phase:          r.Phase,
	}
}

func assembleBill(rd *readingRecord, ch *chargesRecord, sc *surchargeBreakdownRecord, sm *summaryRecord) model.Bill {
	return model.Bill{
		ReadingID:              rd.ID,
		Unit:                   rd.Unit,
		Period:                 mustPeriod(rd.Period),
		Category:               sm.Category,
		PreviousReading:        rd.PreviousReading,
		PresentReading:         rd.PresentReading,
		Consumption:            rd.Consumption,
		UnitsAdjusted:          rd.UnitsAdjusted,
		ReadingDate:            rd.ReadingDate.UTC(),
		RatePerUnit:            sm.RatePerUnit,
		GSTRate:                ch.GSTRate,
		DutyRate:               ch.DutyRate,
		VariableCharges:        sm.VariableCharges,
		DutyAmount:             ch.DutyAmount,
		GSTAmount:              ch.GSTAmount,
		CurrentSurcharge:       sc.Current,
		AdjustedSurcharge:      sc.Adjusted,
		CombinedSurcharge:      sc.Combined,
		GSTOnSurcharge:         sc.GSTOnSurcharge,
		DutyOnSurcharge:        sc.DutyOnSurcharge,
		TotalSurchargeWithTax:  sc.TotalWithTax,
		TotalAdditionalCharges: ch.TotalAdditional,
		NetPayable:             sm.NetPayable,
		Status:                 model.BillStatus(sm.Status),
		Remarks:                sm.Remarks,
		Warnings:               []string(sm.Warnings),
		UpdatedAt:              sm.UpdatedAt.UTC(),
	}
}
