// internal/rates/manage.go
package rates

import (
	"context"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"go.uber.org/zap"
)

// UpsertTariff adds or replaces a tariff slab.
func (c *Catalog) UpsertTariff(ctx context.Context, e *model.TariffEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := c.repo.UpsertTariffEntry(ctx, e); err != nil {
		return err
	}
	c.log.Info("tariff entry saved",
		zap.Int64("id", e.ID),
		zap.String("category", e.Category),
		zap.String("rate_per_unit", e.RatePerUnit.String()),
		zap.Time("effective_date", e.EffectiveDate),
	)
	return nil
}

// UpsertFlatRate adds or replaces the GST or duty percentage effective on a date.
func (c *Catalog) UpsertFlatRate(ctx context.Context, r *model.FlatRate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if err := c.repo.UpsertFlatRate(ctx, r); err != nil {
		return err
	}
	c.log.Info("flat rate saved",
		zap.String("kind", string(r.Kind)),
		zap.String("percent", r.Percent.String()),
		zap.Time("effective_date", r.EffectiveDate),
	)
	return nil
}

// UpsertSurchargeRate adds or replaces a surcharge row.
func (c *Catalog) UpsertSurchargeRate(ctx context.Context, r *model.SurchargeRate) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if _, err := c.repo.SurchargeType(ctx, r.TypeID); err != nil {
		return err
	}
	if err := c.repo.UpsertSurchargeRate(ctx, r); err != nil {
		return err
	}
	c.log.Info("surcharge rate saved",
		zap.Int64("id", r.ID),
		zap.Int64("surcharge_type_id", r.TypeID),
		zap.String("rate_per_unit", r.RatePerUnit.String()),
		zap.Time("effective_date", r.EffectiveDate),
	)
	return nil
}
