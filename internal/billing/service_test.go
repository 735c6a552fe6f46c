package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/ledger"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"github.com/deannos/billing-engine-nuvaris/internal/store/storetest"
	"github.com/deannos/billing-engine-nuvaris/internal/surcharge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.BillEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.BillEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) types() []model.BillEventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.BillEventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	repo      store.Repository
	catalog   *rates.Catalog
	ledger    *ledger.Ledger
	svc       *Service
	publisher *recordingPublisher
	fuel      *model.SurchargeRate
}

var (
	june = model.Period{Year: 2024, Month: time.June}
	july = model.Period{Year: 2024, Month: time.July}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo := storetest.New(t)
	log := zap.NewNop()
	h := &harness{
		repo:      repo,
		catalog:   rates.NewCatalog(repo, log),
		ledger:    ledger.New(repo, log),
		publisher: &recordingPublisher{},
	}
	clock := func() time.Time { return time.Date(2024, time.August, 5, 0, 0, 0, 0, time.UTC) }
	h.svc = NewService(repo, h.catalog, h.ledger, log, WithClock(clock), WithPublisher(h.publisher))

	ctx := context.Background()
	require.NoError(t, h.catalog.UpsertTariff(ctx, &model.TariffEntry{
		Category: "A", MinUnits: dec("0"), RatePerUnit: dec("10"), EffectiveDate: day("2024-01-01"),
	}))
	require.NoError(t, h.catalog.UpsertFlatRate(ctx, &model.FlatRate{Kind: model.FlatRateGST, Percent: dec("5"), EffectiveDate: day("2024-01-01")}))
	require.NoError(t, h.catalog.UpsertFlatRate(ctx, &model.FlatRate{Kind: model.FlatRateDuty, Percent: dec("1"), EffectiveDate: day("2024-01-01")}))
	h.fuel = &model.SurchargeRate{TypeID: model.SurchargeFuel, RatePerUnit: dec("2"), UnitsFrom: decp("0"), EffectiveDate: day("2024-01-01")}
	require.NoError(t, h.catalog.UpsertSurchargeRate(ctx, h.fuel))
	require.NoError(t, h.svc.SaveAccount(ctx, &model.Account{Unit: "A-1", Name: "R. Sharma", Category: "A"}))
	return h
}

func TestEnterBill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RecordReading(ctx, "A-1", june, dec("100"))
	require.NoError(t, err)

	bill, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("180")})
	require.NoError(t, err)

	assertDec(t, "100", bill.PreviousReading)
	assertDec(t, "80", bill.Consumption)
	assertDec(t, "10", bill.RatePerUnit)
	assertDec(t, "800", bill.VariableCharges)
	assertDec(t, "8", bill.DutyAmount)
	assertDec(t, "40", bill.GSTAmount)
	assertDec(t, "848", bill.NetPayable)
	assert.Equal(t, model.BillDue, bill.Status)
	assert.Equal(t, "A", bill.Category)
	assert.Empty(t, bill.Warnings)

	stored, err := h.svc.GetBill(ctx, "A-1", july)
	require.NoError(t, err)
	assertDec(t, "848", stored.NetPayable)
	assert.Equal(t, bill.ReadingID, stored.ReadingID)

	assert.Equal(t, []model.BillEventType{model.BillFinalized}, h.publisher.types())
}

func TestEnterBillWithAdjustment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RecordReading(ctx, "A-1", june, dec("50"))
	require.NoError(t, err)

	req := EnterBillRequest{
		Unit: "A-1", Period: july, PresentReading: dec("130"),
		Surcharges: []surcharge.Selection{{TypeID: model.SurchargeFuel, SurchargeID: h.fuel.ID}},
		Adjustments: []surcharge.Adjustment{{
			Period:     june,
			Selections: []surcharge.Selection{{TypeID: model.SurchargeFuel, SurchargeID: h.fuel.ID}},
		}},
	}
	bill, err := h.svc.EnterBill(ctx, req)
	require.NoError(t, err)

	// current 80 units * 2, adjustment 50 prior units * 2
	assertDec(t, "160", bill.CurrentSurcharge)
	assertDec(t, "100", bill.AdjustedSurcharge)
	assertDec(t, "260", bill.CombinedSurcharge)
	assertDec(t, "13", bill.GSTOnSurcharge)
	assertDec(t, "2.6", bill.DutyOnSurcharge)
	assertDec(t, "275.6", bill.TotalSurchargeWithTax)
	assertDec(t, "1123.6", bill.NetPayable)

	lines, err := h.svc.BillLines(ctx, "A-1", july)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	adjusted := lines[1]
	assert.Equal(t, july, adjusted.BillingPeriod)
	assert.Equal(t, june, adjusted.AdjustedPeriod)
	assertDec(t, "100", adjusted.Amount)

	t.Run("re-entering is idempotent", func(t *testing.T) {
		again, err := h.svc.EnterBill(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, bill.ReadingID, again.ReadingID)
		assertDec(t, bill.NetPayable.String(), again.NetPayable)

		lines, err := h.svc.BillLines(ctx, "A-1", july)
		require.NoError(t, err)
		assert.Len(t, lines, 2)
	})
}

func TestEnterBillWarnings(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bill, err := h.svc.EnterBill(ctx, EnterBillRequest{
		Unit: "B-2", Period: july, PresentReading: dec("40"), Category: "Z",
		Surcharges: []surcharge.Selection{{TypeID: model.SurchargeAdditional}},
	})
	require.NoError(t, err)
	assert.True(t, bill.RatePerUnit.IsZero())
	assert.True(t, bill.VariableCharges.IsZero())
	require.Len(t, bill.Warnings, 2)
	assert.Contains(t, bill.Warnings[0], "type 1")
	assert.Contains(t, bill.Warnings[1], "category Z")
}

func TestEnterBillValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var verr *model.ValidationError

	_, err := h.svc.EnterBill(ctx, EnterBillRequest{Period: july, PresentReading: dec("1")})
	assert.ErrorAs(t, err, &verr)

	_, err = h.svc.EnterBill(ctx, EnterBillRequest{Unit: "NO-MASTER", Period: july, PresentReading: dec("1")})
	assert.ErrorAs(t, err, &verr)

	_, err = h.svc.EnterBill(ctx, EnterBillRequest{
		Unit: "A-1", Period: july, PresentReading: dec("1"),
		Adjustments: []surcharge.Adjustment{{Period: july, Selections: []surcharge.Selection{{TypeID: 1}}}},
	})
	assert.ErrorAs(t, err, &verr)

	// failed writes leave nothing behind
	_, err = h.svc.Reading(ctx, "A-1", july)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Empty(t, h.publisher.types())
}

func TestUpdateBill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.RecordReading(ctx, "A-1", june, dec("100"))
	require.NoError(t, err)
	original, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("180")})
	require.NoError(t, err)

	t.Run("no edits is stable", func(t *testing.T) {
		got, err := h.svc.UpdateBill(ctx, "A-1", july, BillUpdate{})
		require.NoError(t, err)
		assertDec(t, original.NetPayable.String(), got.NetPayable)
		assertDec(t, original.GSTAmount.String(), got.GSTAmount)
		assertDec(t, original.DutyAmount.String(), got.DutyAmount)
		assertDec(t, original.RatePerUnit.String(), got.RatePerUnit)
	})

	t.Run("rate stays pinned after tariff change", func(t *testing.T) {
		require.NoError(t, h.catalog.UpsertTariff(ctx, &model.TariffEntry{
			Category: "A", MinUnits: dec("0"), RatePerUnit: dec("12"), EffectiveDate: day("2024-08-01"),
		}))
		got, err := h.svc.UpdateBill(ctx, "A-1", july, BillUpdate{PresentReading: decp("200")})
		require.NoError(t, err)
		assertDec(t, "10", got.RatePerUnit)
		assertDec(t, "100", got.Consumption)
		assertDec(t, "1000", got.VariableCharges)
		assertDec(t, "1060", got.NetPayable)
	})

	t.Run("overrides", func(t *testing.T) {
		got, err := h.svc.UpdateBill(ctx, "A-1", july, BillUpdate{
			DutyRate:         decp("2"),
			CurrentSurcharge: decp("50"),
			UnitsAdjusted:    decp("4"),
		})
		require.NoError(t, err)
		assertDec(t, "20", got.DutyAmount)
		assertDec(t, "50", got.CombinedSurcharge)
		assertDec(t, "4", got.UnitsAdjusted)
		// 1000 + (50 + 2.5 + 1) + (50 + 20)
		assertDec(t, "1123.5", got.NetPayable)
	})

	t.Run("missing bill", func(t *testing.T) {
		_, err := h.svc.UpdateBill(ctx, "A-1", june, BillUpdate{})
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestDeleteAndStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("80")})
	require.NoError(t, err)

	paid, err := h.svc.SetStatus(ctx, "A-1", july, model.BillPaid)
	require.NoError(t, err)
	assert.Equal(t, model.BillPaid, paid.Status)

	// status survives a recompute
	again, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("80")})
	require.NoError(t, err)
	assert.Equal(t, model.BillPaid, again.Status)

	_, err = h.svc.SetStatus(ctx, "A-1", july, "Overdue")
	var verr *model.ValidationError
	assert.ErrorAs(t, err, &verr)

	require.NoError(t, h.svc.DeleteBill(ctx, "A-1", july))
	_, err = h.svc.GetBill(ctx, "A-1", july)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, h.svc.DeleteBill(ctx, "A-1", july), model.ErrNotFound)

	assert.Equal(t, []model.BillEventType{
		model.BillFinalized, model.BillStatusChanged, model.BillFinalized, model.BillDeleted,
	}, h.publisher.types())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("event channel full")

	bill, err := h.svc.EnterBill(context.Background(), EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("10")})
	require.NoError(t, err)
	assertDec(t, "106", bill.NetPayable)
}

func TestConcurrentWritesSameKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: "A-1", Period: july, PresentReading: dec("80")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := h.svc.History(ctx, "A-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
	bills, err := h.svc.BillsForPeriod(ctx, july)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assertDec(t, "848", bills[0].NetPayable)
}

func TestBillsForPeriodAndPriorPeriods(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.SaveAccount(ctx, &model.Account{Unit: "B-2", Category: "A"}))

	for _, unit := range []string{"B-2", "A-1"} {
		_, err := h.svc.EnterBill(ctx, EnterBillRequest{Unit: unit, Period: june, PresentReading: dec("20")})
		require.NoError(t, err)
		_, err = h.svc.EnterBill(ctx, EnterBillRequest{Unit: unit, Period: july, PresentReading: dec("50")})
		require.NoError(t, err)
	}

	bills, err := h.svc.BillsForPeriod(ctx, july)
	require.NoError(t, err)
	require.Len(t, bills, 2)
	assert.Equal(t, "A-1", bills[0].Unit)
	assertDec(t, "30", bills[0].Consumption)

	prior, err := h.svc.PriorPeriods(ctx, "A-1", july)
	require.NoError(t, err)
	assert.Equal(t, []model.Period{june}, prior)
}
