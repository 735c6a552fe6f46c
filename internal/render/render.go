// internal/render/render.go
package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/metrics"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

// Options holds the fixed text of the printed bill.
type Options struct {
	TitleLines  []string
	FooterNotes []string
	Currency    string
}

// BillContext is everything printed on one page.
type BillContext struct {
	Bill        model.Bill
	Account     model.Account
	GeneratedAt time.Time
}

// Renderer turns bills into PDF documents. It does not touch storage.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render produces a single-page PDF for one bill.
func (r *Renderer) Render(bc BillContext) ([]byte, error) {
	pdf := r.newDocument(fmt.Sprintf("Electricity bill %s %s", bc.Bill.Unit, bc.Bill.Period))
	r.page(pdf, bc)
	return output(pdf)
}

// RenderBatch produces one page per bill for a billing period.
func (r *Renderer) RenderBatch(period model.Period, bills []BillContext) ([]byte, error) {
	if len(bills) == 0 {
		return nil, model.NewNotFoundError("bills for period", period.String())
	}
	pdf := r.newDocument(fmt.Sprintf("Electricity bills %s", period))
	for _, bc := range bills {
		r.page(pdf, bc)
	}
	return output(pdf)
}

func (r *Renderer) newDocument(title string) *fpdf.Fpdf {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(false)
	pdf.SetTitle(title, false)
	pdf.SetCreator("billing-engine", false)
	pdf.SetMargins(18, 15, 18)
	pdf.SetAutoPageBreak(false, 15)
	return pdf
}

func output(pdf *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) page(pdf *fpdf.Fpdf, bc BillContext) {
	b := bc.Bill
	a := bc.Account
	if a.Unit == "" {
		a.Unit = b.Unit
	}
	generated := bc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	pdf.AddPage()
	metrics.RenderedPages.Inc()

	pdf.SetFont("Helvetica", "B", 13)
	for _, line := range r.opts.TitleLines {
		pdf.CellFormat(0, 7, line, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 10)
	pair := func(l1, v1, l2, v2 string) {
		pdf.CellFormat(40, 6, l1, "", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, v1, "", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, l2, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, v2, "", 1, "L", false, 0, "")
	}
	pair("Flat No:", a.Unit, "Pers No:", a.PersonID)
	pair("Name:", a.Name, "Category:", a.Category)
	pair("Load Sanctioned:", a.LoadSanctioned, "Phase:", a.Phase)
	pair("Billing Month:", monthName(b.Period), "Reading Date:", b.ReadingDate.Format("02-Jan-2006"))
	pair("Status:", string(b.Status), "", "")
	pdf.Ln(3)

	row := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(110, 7, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, value, "1", 1, "R", false, 0, "")
	}

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 8, "Meter Reading", "", 1, "L", false, 0, "")
	row("Previous Reading", units(b.PreviousReading), false)
	row("Present Reading", units(b.PresentReading), false)
	row("Units Consumed", units(b.Consumption), false)
	row("Units Adjusted", units(b.UnitsAdjusted), false)
	row("Billing Units", units(b.Consumption), true)
	pdf.Ln(3)

	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 8, "Charges", "", 1, "L", false, 0, "")
	row(fmt.Sprintf("Variable Charges (@ %s per unit)", r.money(b.RatePerUnit)), r.money(b.VariableCharges), false)
	row(fmt.Sprintf("Electric Duty (%s%%)", b.DutyRate.String()), r.money(b.DutyAmount), false)
	row(fmt.Sprintf("GST (%s%%)", b.GSTRate.String()), r.money(b.GSTAmount), false)
	row("Surcharge", r.money(b.CurrentSurcharge), false)
	if !b.AdjustedSurcharge.IsZero() {
		row("Surcharge Adjustment", r.money(b.AdjustedSurcharge), false)
	}
	row("Tax on Surcharge", r.money(b.GSTOnSurcharge.Add(b.DutyOnSurcharge)), false)
	row("Net Amount", r.money(b.NetPayable), true)
	row("Payable Amount", r.money(b.NetPayable.Round(0)), true)

	if b.Remarks != "" {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "I", 9)
		pdf.MultiCell(0, 5, "Remarks: "+b.Remarks, "", "L", false)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "", 8)
	for i, note := range r.opts.FooterNotes {
		pdf.MultiCell(0, 4.5, fmt.Sprintf("%d. %s", i+1, note), "", "L", false)
	}
	pdf.Ln(2)
	pdf.CellFormat(0, 5, "Bill Generated on "+generated.Format("02-Jan-2006 15:04"), "", 1, "R", false, 0, "")
}

func (r *Renderer) money(d decimal.Decimal) string {
	if r.opts.Currency == "" {
		return d.StringFixed(2)
	}
	return r.opts.Currency + " " + d.StringFixed(2)
}

func units(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func monthName(p model.Period) string {
	return p.Start().Format("January 2006")
}
