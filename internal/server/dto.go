package server

import (
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/billing"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/surcharge"
	"github.com/shopspring/decimal"
)

// Dates travel as YYYY-MM-DD strings and periods as YYYY-MM.

type readingRequest struct {
	Unit           string          `json:"unit"`
	Period         model.Period    `json:"period"`
	PresentReading decimal.Decimal `json:"present_reading"`
}

type selectionRequest struct {
	TypeID        int64            `json:"surcharge_type_id"`
	EffectiveDate string           `json:"effective_date,omitempty"`
	SurchargeID   int64            `json:"surcharge_id,omitempty"`
	RateOverride  *decimal.Decimal `json:"rate_override,omitempty"`
	Reason        *string          `json:"reason,omitempty"`
}

func (r selectionRequest) selection() (surcharge.Selection, error) {
	sel := surcharge.Selection{
		TypeID:       r.TypeID,
		SurchargeID:  r.SurchargeID,
		RateOverride: r.RateOverride,
		Reason:       r.Reason,
	}
	if r.EffectiveDate != "" {
		d, err := optionalDate(r.EffectiveDate)
		if err != nil {
			return surcharge.Selection{}, err
		}
		sel.EffectiveDate = d
	}
	return sel, nil
}

func selections(in []selectionRequest) ([]surcharge.Selection, error) {
	out := make([]surcharge.Selection, 0, len(in))
	for _, r := range in {
		sel, err := r.selection()
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

type adjustmentRequest struct {
	Period     model.Period       `json:"period"`
	Surcharges []selectionRequest `json:"surcharges"`
}

type enterBillRequest struct {
	Unit           string              `json:"unit"`
	Period         model.Period        `json:"period"`
	PresentReading decimal.Decimal     `json:"present_reading"`
	Category       string              `json:"category,omitempty"`
	UnitsAdjusted  *decimal.Decimal    `json:"units_adjusted,omitempty"`
	GSTRate        *decimal.Decimal    `json:"gst_rate,omitempty"`
	DutyRate       *decimal.Decimal    `json:"duty_rate,omitempty"`
	Surcharges     []selectionRequest  `json:"surcharges,omitempty"`
	Adjustments    []adjustmentRequest `json:"adjustments,omitempty"`
	Remarks        string              `json:"remarks,omitempty"`
}

func (r enterBillRequest) toService() (billing.EnterBillRequest, error) {
	current, err := selections(r.Surcharges)
	if err != nil {
		return billing.EnterBillRequest{}, err
	}
	adjustments := make([]surcharge.Adjustment, 0, len(r.Adjustments))
	for _, a := range r.Adjustments {
		sels, err := selections(a.Surcharges)
		if err != nil {
			return billing.EnterBillRequest{}, err
		}
		adjustments = append(adjustments, surcharge.Adjustment{Period: a.Period, Selections: sels})
	}
	return billing.EnterBillRequest{
		Unit:           r.Unit,
		Period:         r.Period,
		PresentReading: r.PresentReading,
		Category:       r.Category,
		UnitsAdjusted:  r.UnitsAdjusted,
		GSTRate:        r.GSTRate,
		DutyRate:       r.DutyRate,
		Surcharges:     current,
		Adjustments:    adjustments,
		Remarks:        r.Remarks,
	}, nil
}

type statusRequest struct {
	Status string `json:"status"`
}

type accountRequest struct {
	PersonID       string `json:"person_id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	LoadSanctioned string `json:"load_sanctioned"`
	Phase          string `json:"phase"`
}

type tariffRequest struct {
	Category      string           `json:"category"`
	MinUnits      decimal.Decimal  `json:"min_units"`
	MaxUnits      *decimal.Decimal `json:"max_units,omitempty"`
	RatePerUnit   decimal.Decimal  `json:"rate_per_unit"`
	EffectiveDate string           `json:"effective_date"`
}

type flatRateRequest struct {
	Percent       decimal.Decimal `json:"percent"`
	EffectiveDate string          `json:"effective_date"`
}

type surchargeRateRequest struct {
	ID            int64            `json:"id,omitempty"`
	TypeID        int64            `json:"surcharge_type_id"`
	RatePerUnit   decimal.Decimal  `json:"rate_per_unit"`
	UnitsFrom     *decimal.Decimal `json:"units_from,omitempty"`
	UnitsTo       *decimal.Decimal `json:"units_to,omitempty"`
	EffectiveDate string           `json:"effective_date"`
}

type tariffResponse struct {
	Category string             `json:"category"`
	Units    decimal.Decimal    `json:"units"`
	AsOf     string             `json:"as_of"`
	Rate     decimal.Decimal    `json:"rate_per_unit"`
	Entry    *model.TariffEntry `json:"entry,omitempty"`
	Warning  string             `json:"warning,omitempty"`
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func requiredDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, model.NewValidationError(field, "is required")
	}
	return model.ParseDate(s)
}
