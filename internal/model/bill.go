// internal/model/bill.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillStatus tracks payment state.
type BillStatus string

const (
	BillDue       BillStatus = "Due"
	BillPaid      BillStatus = "Paid"
	BillCancelled BillStatus = "Cancelled"
)

// ParseBillStatus accepts one of the known statuses.
func ParseBillStatus(s string) (BillStatus, error) {
	switch st := BillStatus(s); st {
	case BillDue, BillPaid, BillCancelled:
		return st, nil
	default:
		return "", NewValidationError("status", "unknown bill status %q", s)
	}
}

// Bill is the computed charge set for one reading. Every amount is derived;
// recomputation regenerates all of them.
type Bill struct {
	ReadingID int64  `json:"reading_id"`
	Unit      string `json:"unit"`
	Period    Period `json:"period"`
	Category  string `json:"category"`

	PreviousReading decimal.Decimal `json:"previous_reading"`
	PresentReading  decimal.Decimal `json:"present_reading"`
	Consumption     decimal.Decimal `json:"consumption"`
	UnitsAdjusted   decimal.Decimal `json:"units_adjusted"`
	ReadingDate     time.Time       `json:"reading_date"`

	RatePerUnit decimal.Decimal `json:"rate_per_unit"`
	GSTRate     decimal.Decimal `json:"gst_rate"`
	DutyRate    decimal.Decimal `json:"duty_rate"`

	VariableCharges decimal.Decimal `json:"variable_charges"`
	DutyAmount      decimal.Decimal `json:"duty_amount"`
	GSTAmount       decimal.Decimal `json:"gst_amount"`

	CurrentSurcharge      decimal.Decimal `json:"current_surcharge"`
	AdjustedSurcharge     decimal.Decimal `json:"adjusted_surcharge"`
	CombinedSurcharge     decimal.Decimal `json:"combined_surcharge"`
	GSTOnSurcharge        decimal.Decimal `json:"gst_on_surcharge"`
	DutyOnSurcharge       decimal.Decimal `json:"duty_on_surcharge"`
	TotalSurchargeWithTax decimal.Decimal `json:"total_surcharge_with_tax"`

	TotalAdditionalCharges decimal.Decimal `json:"total_additional_charges"`
	NetPayable             decimal.Decimal `json:"net_payable"`

	Status   BillStatus `json:"status"`
	Remarks  string     `json:"remarks,omitempty"`
	Warnings []string   `json:"warnings,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Account is the unit master record shown on a bill.
type Account struct {
	Unit           string `json:"unit"`
	PersonID       string `json:"person_id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	LoadSanctioned string `json:"load_sanctioned"`
	Phase          string `json:"phase"`
}

func (a *Account) Validate() error {
	if a.Unit == "" {
		return NewValidationError("unit", "cannot be empty")
	}
	if a.Category == "" {
		return NewValidationError("category", "cannot be empty")
	}
	return nil
}

// BillEventType names a bill lifecycle change.
type BillEventType string

const (
	BillFinalized     BillEventType = "bill.finalized"
	BillUpdated       BillEventType = "bill.updated"
	BillDeleted       BillEventType = "bill.deleted"
	BillStatusChanged BillEventType = "bill.status_changed"
)

// BillEvent is emitted after a bill write commits.
type BillEvent struct {
	EventID    string          `json:"event_id"`
	Type       BillEventType   `json:"type"`
	Unit       string          `json:"unit"`
	Period     Period          `json:"period"`
	ReadingID  int64           `json:"reading_id"`
	NetPayable decimal.Decimal `json:"net_payable"`
	Status     BillStatus      `json:"status,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
