// internal/store/store.go
package store

import (
	"context"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
)

// Repository is the persistence boundary of the billing core. Lookups of a
// single entity return a *model.NotFoundError when it is absent.
type Repository interface {
	// Transaction runs fn against a repository bound to one transaction.
	// Any error returned by fn rolls the whole unit back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	FindReading(ctx context.Context, unit string, period model.Period) (*model.MeterReading, error)
	UpsertReading(ctx context.Context, r *model.MeterReading) error
	ReadingsForUnit(ctx context.Context, unit string) ([]model.MeterReading, error)

	CategoryExists(ctx context.Context, category string) (bool, error)
	TariffEntries(ctx context.Context, category string, asOf time.Time) ([]model.TariffEntry, error)
	UpsertTariffEntry(ctx context.Context, e *model.TariffEntry) error

	FlatRates(ctx context.Context, kind model.FlatRateKind, asOf time.Time) ([]model.FlatRate, error)
	UpsertFlatRate(ctx context.Context, r *model.FlatRate) error

	SurchargeTypes(ctx context.Context) ([]model.SurchargeType, error)
	SurchargeType(ctx context.Context, id int64) (*model.SurchargeType, error)
	SurchargeRates(ctx context.Context, typeID int64, asOf time.Time) ([]model.SurchargeRate, error)
	SurchargeRate(ctx context.Context, id int64) (*model.SurchargeRate, error)
	UpsertSurchargeRate(ctx context.Context, r *model.SurchargeRate) error

	UpsertSurchargeApplication(ctx context.Context, a *model.SurchargeApplication) error
	SurchargeApplications(ctx context.Context, readingID int64) ([]model.SurchargeApplication, error)

	// SaveBill upserts the charge, surcharge and summary sub-records.
	SaveBill(ctx context.Context, b *model.Bill) error
	GetBill(ctx context.Context, unit string, period model.Period) (*model.Bill, error)
	BillsForPeriod(ctx context.Context, period model.Period) ([]model.Bill, error)
	UpdateBillStatus(ctx context.Context, readingID int64, status model.BillStatus) error
	// DeleteBill removes surcharge lines, sub-records and the reading.
	DeleteBill(ctx context.Context, unit string, period model.Period) error

	UpsertAccount(ctx context.Context, a *model.Account) error
	GetAccount(ctx context.Context, unit string) (*model.Account, error)
}
