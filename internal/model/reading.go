// internal/model/reading.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MeterReading is one reading per unit per billing period.
type MeterReading struct {
	ID     int64  `json:"id"`
	Unit   string `json:"unit"`
	Period Period `json:"period"`
	// Previous is the present reading of the predecessor period, or zero.
	Previous decimal.Decimal `json:"previous_reading"`
	Present  decimal.Decimal `json:"present_reading"`
	// Consumption is max(0, |Present - Previous|).
	Consumption decimal.Decimal `json:"consumption"`
	// UnitsAdjusted is displayed on the bill but does not enter any formula.
	UnitsAdjusted decimal.Decimal `json:"units_adjusted"`
	ReadingDate   time.Time       `json:"reading_date"`
}

// Consumption computes |present - previous|, which is never negative.
func Consumption(previous, present decimal.Decimal) decimal.Decimal {
	return present.Sub(previous).Abs()
}

// Validate checks the caller-supplied fields.
func (r *MeterReading) Validate() error {
	if r.Unit == "" {
		return NewValidationError("unit", "cannot be empty")
	}
	if r.Period.IsZero() {
		return NewValidationError("period", "cannot be empty")
	}
	if r.Present.IsNegative() {
		return NewValidationError("present_reading", "cannot be negative")
	}
	if r.UnitsAdjusted.IsNegative() {
		return NewValidationError("units_adjusted", "cannot be negative")
	}
	return nil
}
