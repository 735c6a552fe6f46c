package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/deannos/billing-engine-nuvaris/internal/billing"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/render"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (s *HTTPServer) writeError(c *gin.Context, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *HTTPServer) bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid JSON payload: %v", err)})
		return false
	}
	return true
}

// billKey reads the :unit and :period path parameters.
func billKey(c *gin.Context) (string, model.Period, error) {
	period, err := model.ParsePeriod(c.Param("period"))
	if err != nil {
		return "", model.Period{}, err
	}
	return c.Param("unit"), period, nil
}

func (s *HTTPServer) handleRecordReading(c *gin.Context) {
	var req readingRequest
	if !s.bind(c, &req) {
		return
	}
	if req.Unit == "" {
		s.writeError(c, model.NewValidationError("unit", "is required"))
		return
	}
	if req.Period.IsZero() {
		s.writeError(c, model.NewValidationError("period", "is required"))
		return
	}
	reading, err := s.bills.RecordReading(c.Request.Context(), req.Unit, req.Period, req.PresentReading)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reading": reading})
}

func (s *HTTPServer) handleGetReading(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	reading, err := s.bills.Reading(c.Request.Context(), unit, period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reading": reading})
}

func (s *HTTPServer) handleHistory(c *gin.Context) {
	history, err := s.bills.History(c.Request.Context(), c.Param("unit"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": c.Param("unit"), "readings": history})
}

func (s *HTTPServer) handlePriorPeriods(c *gin.Context) {
	before := model.PeriodOf(s.clock()).Next()
	if q := c.Query("before"); q != "" {
		p, err := model.ParsePeriod(q)
		if err != nil {
			s.writeError(c, err)
			return
		}
		before = p
	}
	periods, err := s.bills.PriorPeriods(c.Request.Context(), c.Param("unit"), before)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unit": c.Param("unit"), "before": before, "periods": periods})
}

func (s *HTTPServer) handleSaveAccount(c *gin.Context) {
	var req accountRequest
	if !s.bind(c, &req) {
		return
	}
	a := &model.Account{
		Unit:           c.Param("unit"),
		PersonID:       req.PersonID,
		Name:           req.Name,
		Category:       req.Category,
		LoadSanctioned: req.LoadSanctioned,
		Phase:          req.Phase,
	}
	if err := s.bills.SaveAccount(c.Request.Context(), a); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

func (s *HTTPServer) handleGetAccount(c *gin.Context) {
	a, err := s.bills.Account(c.Request.Context(), c.Param("unit"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": a})
}

func (s *HTTPServer) handleEnterBill(c *gin.Context) {
	var req enterBillRequest
	if !s.bind(c, &req) {
		return
	}
	svcReq, err := req.toService()
	if err != nil {
		s.writeError(c, err)
		return
	}
	bill, err := s.bills.EnterBill(c.Request.Context(), svcReq)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"bill": bill})
}

func (s *HTTPServer) handleGetBill(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	bill, err := s.bills.GetBill(c.Request.Context(), unit, period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	lines, err := s.bills.BillLines(c.Request.Context(), unit, period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bill": bill, "surcharges": lines})
}

func (s *HTTPServer) handleUpdateBill(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var upd billing.BillUpdate
	if !s.bind(c, &upd) {
		return
	}
	bill, err := s.bills.UpdateBill(c.Request.Context(), unit, period, upd)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bill": bill})
}

func (s *HTTPServer) handleDeleteBill(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.bills.DeleteBill(c.Request.Context(), unit, period); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *HTTPServer) handleSetStatus(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	var req statusRequest
	if !s.bind(c, &req) {
		return
	}
	bill, err := s.bills.SetStatus(c.Request.Context(), unit, period, model.BillStatus(req.Status))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bill": bill})
}

func (s *HTTPServer) handlePeriodBills(c *gin.Context) {
	period, err := model.ParsePeriod(c.Param("period"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	bills, err := s.bills.BillsForPeriod(c.Request.Context(), period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"period": period, "bills": bills})
}

func (s *HTTPServer) billContext(c *gin.Context, bill model.Bill) (render.BillContext, error) {
	account, err := s.bills.Account(c.Request.Context(), bill.Unit)
	switch {
	case errors.Is(err, model.ErrNotFound):
		account = &model.Account{Unit: bill.Unit, Category: bill.Category}
	case err != nil:
		return render.BillContext{}, err
	}
	return render.BillContext{Bill: bill, Account: *account, GeneratedAt: s.clock()}, nil
}

func (s *HTTPServer) handleBillPDF(c *gin.Context) {
	unit, period, err := billKey(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	bill, err := s.bills.GetBill(c.Request.Context(), unit, period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	bc, err := s.billContext(c, *bill)
	if err != nil {
		s.writeError(c, err)
		return
	}
	pdf, err := s.renderer.Render(bc)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="bill-%s-%s.pdf"`, unit, period))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *HTTPServer) handlePeriodPDF(c *gin.Context) {
	period, err := model.ParsePeriod(c.Param("period"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	bills, err := s.bills.BillsForPeriod(c.Request.Context(), period)
	if err != nil {
		s.writeError(c, err)
		return
	}
	contexts := make([]render.BillContext, 0, len(bills))
	for _, b := range bills {
		bc, err := s.billContext(c, b)
		if err != nil {
			s.writeError(c, err)
			return
		}
		contexts = append(contexts, bc)
	}
	pdf, err := s.renderer.RenderBatch(period, contexts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="bills-%s.pdf"`, period))
	c.Data(http.StatusOK, "application/pdf", pdf)
}

func (s *HTTPServer) handleTariffLookup(c *gin.Context) {
	category := c.Query("category")
	if category == "" {
		s.writeError(c, model.NewValidationError("category", "is required"))
		return
	}
	units, err := decimal.NewFromString(c.DefaultQuery("units", "0"))
	if err != nil {
		s.writeError(c, model.NewValidationError("units", "invalid number %q", c.Query("units")))
		return
	}
	asOf := s.clock()
	if q := c.Query("as_of"); q != "" {
		if asOf, err = model.ParseDate(q); err != nil {
			s.writeError(c, err)
			return
		}
	}

	res, err := s.rates.TariffRate(c.Request.Context(), category, units, asOf)
	if err != nil {
		s.writeError(c, err)
		return
	}
	resp := tariffResponse{
		Category: category,
		Units:    units,
		AsOf:     asOf.Format(model.DateLayout),
		Rate:     res.Rate,
		Entry:    res.Entry,
	}
	if res.Warning != nil {
		resp.Warning = res.Warning.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) handleUpsertTariff(c *gin.Context) {
	var req tariffRequest
	if !s.bind(c, &req) {
		return
	}
	date, err := requiredDate("effective_date", req.EffectiveDate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	e := &model.TariffEntry{
		Category:      req.Category,
		MinUnits:      req.MinUnits,
		MaxUnits:      req.MaxUnits,
		RatePerUnit:   req.RatePerUnit,
		EffectiveDate: date,
	}
	if err := s.rates.UpsertTariff(c.Request.Context(), e); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tariff": e})
}

func (s *HTTPServer) handleUpsertFlatRate(kind model.FlatRateKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req flatRateRequest
		if !s.bind(c, &req) {
			return
		}
		date, err := requiredDate("effective_date", req.EffectiveDate)
		if err != nil {
			s.writeError(c, err)
			return
		}
		r := &model.FlatRate{Kind: kind, Percent: req.Percent, EffectiveDate: date}
		if err := s.rates.UpsertFlatRate(c.Request.Context(), r); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"rate": r})
	}
}

func (s *HTTPServer) handleUpsertSurchargeRate(c *gin.Context) {
	var req surchargeRateRequest
	if !s.bind(c, &req) {
		return
	}
	date, err := requiredDate("effective_date", req.EffectiveDate)
	if err != nil {
		s.writeError(c, err)
		return
	}
	r := &model.SurchargeRate{
		ID:            req.ID,
		TypeID:        req.TypeID,
		RatePerUnit:   req.RatePerUnit,
		UnitsFrom:     req.UnitsFrom,
		UnitsTo:       req.UnitsTo,
		EffectiveDate: date,
	}
	if err := s.rates.UpsertSurchargeRate(c.Request.Context(), r); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rate": r})
}

func (s *HTTPServer) handleSurchargeTypes(c *gin.Context) {
	types, err := s.rates.SurchargeTypes(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"surcharge_types": types})
}

func (s *HTTPServer) handleSurchargeDates(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		s.writeError(c, model.NewValidationError("id", "invalid surcharge type id %q", c.Param("id")))
		return
	}
	dates, err := s.rates.SurchargeDates(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = d.Format(model.DateLayout)
	}
	c.JSON(http.StatusOK, gin.H{"surcharge_type_id": id, "dates": out})
}
