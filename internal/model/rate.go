// internal/model/rate.go
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TariffEntry is a per-unit energy rate for a consumer category within a
// consumption band, valid from EffectiveDate until superseded.
type TariffEntry struct {
	ID       int64           `json:"id"`
	Category string          `json:"category"`
	MinUnits decimal.Decimal `json:"min_units"`
	// MaxUnits nil means the band is unbounded above.
	MaxUnits      *decimal.Decimal `json:"max_units,omitempty"`
	RatePerUnit   decimal.Decimal  `json:"rate_per_unit"`
	EffectiveDate time.Time        `json:"effective_date"`
}

// Covers reports whether units falls inside the inclusive band.
func (e *TariffEntry) Covers(units decimal.Decimal) bool {
	return inBand(units, &e.MinUnits, e.MaxUnits)
}

func (e *TariffEntry) Validate() error {
	if e.Category == "" {
		return NewValidationError("category", "cannot be empty")
	}
	if e.MinUnits.IsNegative() {
		return NewValidationError("min_units", "cannot be negative")
	}
	if e.MaxUnits != nil && e.MaxUnits.LessThan(e.MinUnits) {
		return NewValidationError("max_units", "must not be below min_units")
	}
	if e.RatePerUnit.IsNegative() {
		return NewValidationError("rate_per_unit", "cannot be negative")
	}
	if e.EffectiveDate.IsZero() {
		return NewValidationError("effective_date", "cannot be empty")
	}
	return nil
}

// FlatRateKind distinguishes the two flat percentage rates.
type FlatRateKind string

const (
	FlatRateGST  FlatRateKind = "gst"
	FlatRateDuty FlatRateKind = "duty"
)

// ParseFlatRateKind accepts "gst" or "duty".
func ParseFlatRateKind(s string) (FlatRateKind, error) {
	switch k := FlatRateKind(s); k {
	case FlatRateGST, FlatRateDuty:
		return k, nil
	default:
		return "", NewValidationError("kind", "unknown flat rate kind %q", s)
	}
}

// FlatRate is a GST or electric duty percentage effective from a date.
type FlatRate struct {
	ID            int64           `json:"id"`
	Kind          FlatRateKind    `json:"kind"`
	Percent       decimal.Decimal `json:"percent"`
	EffectiveDate time.Time       `json:"effective_date"`
}

func (r *FlatRate) Validate() error {
	if _, err := ParseFlatRateKind(string(r.Kind)); err != nil {
		return err
	}
	if r.Percent.IsNegative() {
		return NewValidationError("percent", "cannot be negative")
	}
	if r.EffectiveDate.IsZero() {
		return NewValidationError("effective_date", "cannot be empty")
	}
	return nil
}

// SurchargeResolution selects how a surcharge type picks its rate row.
type SurchargeResolution string

const (
	// ResolveFlatByDate picks the row by effective date and consumption band.
	ResolveFlatByDate SurchargeResolution = "flat_by_date"
	// ResolveBanded uses the row chosen by the operator.
	ResolveBanded SurchargeResolution = "banded"
)

// Seeded surcharge type ids.
const (
	SurchargeAdditional       int64 = 1
	SurchargeUniformQuarterly int64 = 2
	SurchargeFuel             int64 = 3
)

// SurchargeType is one entry of the fixed surcharge enumeration.
type SurchargeType struct {
	ID         int64               `json:"id"`
	Name       string              `json:"name"`
	Resolution SurchargeResolution `json:"resolution"`
}

// DefaultSurchargeTypes is the enumeration seeded on migration.
func DefaultSurchargeTypes() []SurchargeType {
	return []SurchargeType{
		{ID: SurchargeAdditional, Name: "Additional Per-Unit", Resolution: ResolveFlatByDate},
		{ID: SurchargeUniformQuarterly, Name: "Uniform Quarterly", Resolution: ResolveBanded},
		{ID: SurchargeFuel, Name: "Fuel Charge", Resolution: ResolveBanded},
	}
}

// SurchargeRate is a per-unit surcharge rate row.
type SurchargeRate struct {
	ID          int64           `json:"id"`
	TypeID      int64           `json:"surcharge_type_id"`
	RatePerUnit decimal.Decimal `json:"rate_per_unit"`
	// nil bounds are unbounded on that side.
	UnitsFrom     *decimal.Decimal `json:"units_from,omitempty"`
	UnitsTo       *decimal.Decimal `json:"units_to,omitempty"`
	EffectiveDate time.Time        `json:"effective_date"`
}

// Covers reports whether units falls inside the null-aware inclusive band.
func (r *SurchargeRate) Covers(units decimal.Decimal) bool {
	return inBand(units, r.UnitsFrom, r.UnitsTo)
}

func (r *SurchargeRate) Validate() error {
	if r.TypeID <= 0 {
		return NewValidationError("surcharge_type_id", "must be positive")
	}
	if r.RatePerUnit.IsNegative() {
		return NewValidationError("rate_per_unit", "cannot be negative")
	}
	if r.UnitsFrom != nil && r.UnitsTo != nil && r.UnitsTo.LessThan(*r.UnitsFrom) {
		return NewValidationError("units_to", "must not be below units_from")
	}
	if r.EffectiveDate.IsZero() {
		return NewValidationError("effective_date", "cannot be empty")
	}
	return nil
}

// SurchargeApplication is one surcharge line charged on a bill. The key is
// (ReadingID, SurchargeID, BillingPeriod, AdjustedPeriod).
type SurchargeApplication struct {
	ReadingID      int64           `json:"reading_id"`
	SurchargeID    int64           `json:"surcharge_id"`
	TypeID         int64           `json:"surcharge_type_id"`
	BillingPeriod  Period          `json:"billing_period"`
	AdjustedPeriod Period          `json:"adjusted_period"`
	Units          decimal.Decimal `json:"units"`
	RatePerUnit    decimal.Decimal `json:"rate_per_unit"`
	Amount         decimal.Decimal `json:"amount"`
	Reason         *string         `json:"reason,omitempty"`
}

// IsAdjustment reports whether the line charges a prior period.
func (a *SurchargeApplication) IsAdjustment() bool {
	return a.AdjustedPeriod != a.BillingPeriod
}

// Key identifies the line for upserts.
func (a *SurchargeApplication) Key() string {
	return fmt.Sprintf("%d/%d/%s/%s", a.ReadingID, a.SurchargeID, a.BillingPeriod, a.AdjustedPeriod)
}

func inBand(units decimal.Decimal, from, to *decimal.Decimal) bool {
	if from != nil && units.LessThan(*from) {
		return false
	}
	if to != nil && units.GreaterThan(*to) {
		return false
	}
	return true
}
