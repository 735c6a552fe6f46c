package billing

import (
	"testing"

	"github.com/deannos/billing-engine-nuvaris/internal/store/storetest"
	"github.com/stretchr/testify/assert"
)

var (
	dec       = storetest.Dec
	decp      = storetest.DecP
	day       = storetest.Day
	assertDec = storetest.AssertDec
)

func TestComputeTotals(t *testing.T) {
	t.Run("energy only", func(t *testing.T) {
		got := ComputeTotals(dec("80"), dec("10"), dec("5"), dec("1"), dec("0"), dec("0"))
		assertDec(t, "800", got.VariableCharges)
		assertDec(t, "8", got.DutyAmount)
		assertDec(t, "40", got.GSTAmount)
		assertDec(t, "48", got.TotalAdditionalCharges)
		assertDec(t, "0", got.TotalSurchargeWithTax)
		assertDec(t, "848", got.NetPayable)
	})

	t.Run("with surcharges", func(t *testing.T) {
		got := ComputeTotals(dec("80"), dec("10"), dec("5"), dec("1"), dec("120"), dec("100"))
		assertDec(t, "220", got.CombinedSurcharge)
		assertDec(t, "11", got.GSTOnSurcharge)
		assertDec(t, "2.2", got.DutyOnSurcharge)
		assertDec(t, "233.2", got.TotalSurchargeWithTax)
		assertDec(t, "1081.2", got.NetPayable)
	})

	t.Run("no rounding of fractional percents", func(t *testing.T) {
		got := ComputeTotals(dec("33"), dec("7.37"), dec("18"), dec("0.5"), dec("0"), dec("0"))
		assertDec(t, "243.21", got.VariableCharges)
		assertDec(t, "43.7778", got.GSTAmount)
		assertDec(t, "1.21605", got.DutyAmount)
	})

	t.Run("net identity", func(t *testing.T) {
		got := ComputeTotals(dec("412.5"), dec("6.25"), dec("5"), dec("2"), dec("19.75"), dec("3.1"))
		sum := got.VariableCharges.Add(got.TotalSurchargeWithTax).Add(got.TotalAdditionalCharges)
		assert.True(t, sum.Equal(got.NetPayable))
	})
}
