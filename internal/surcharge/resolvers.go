// internal/surcharge/resolvers.go
package surcharge

import (
	"context"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/shopspring/decimal"
)

// flatByDate resolves by effective date and consumption band.
type flatByDate struct {
	catalog *rates.Catalog
}

func (f flatByDate) resolve(ctx context.Context, t *model.SurchargeType, sel Selection, units decimal.Decimal, asOf time.Time) (*model.SurchargeRate, *model.RateWarning, error) {
	res, err := f.catalog.ResolveSurcharge(ctx, t.ID, units, sel.EffectiveDate, asOf)
	if err != nil {
		return nil, nil, err
	}
	if res.Warning != nil {
		return nil, res.Warning, nil
	}
	return res.Entry, nil, nil
}

// banded uses the operator's row, falling back to band resolution when none
// is named.
type banded struct {
	catalog *rates.Catalog
}

func (b banded) resolve(ctx context.Context, t *model.SurchargeType, sel Selection, units decimal.Decimal, asOf time.Time) (*model.SurchargeRate, *model.RateWarning, error) {
	if sel.SurchargeID == 0 {
		return flatByDate(b).resolve(ctx, t, sel, units, asOf)
	}
	row, err := b.catalog.SurchargeRow(ctx, t.ID, sel.SurchargeID)
	if err != nil {
		return nil, nil, err
	}
	return row, nil, nil
}
