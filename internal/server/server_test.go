package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/billing"
	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"github.com/deannos/billing-engine-nuvaris/internal/ledger"
	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/render"
	"github.com/deannos/billing-engine-nuvaris/internal/store/storetest"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testAPI struct {
	t       *testing.T
	handler http.Handler
}

func newTestAPI(t *testing.T, rateLimit int) *testAPI {
	t.Helper()
	repo := storetest.New(t)
	log := zap.NewNop()
	clock := func() time.Time { return time.Date(2024, time.August, 5, 0, 0, 0, 0, time.UTC) }

	catalog := rates.NewCatalog(repo, log)
	svc := billing.NewService(repo, catalog, ledger.New(repo, log), log, billing.WithClock(clock))
	cfg := &config.Config{
		Server:  config.ServerConfig{RateLimitPerSecond: rateLimit, Mode: gin.TestMode},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	srv := NewHTTPServer(cfg, svc, catalog, render.New(render.Options{TitleLines: []string{"ELECTRICITY BILL"}}), log)
	srv.clock = clock
	return &testAPI{t: t, handler: srv.Handler()}
}

func (a *testAPI) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(a.t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) seedRates() {
	a.t.Helper()
	for path, body := range map[string]any{
		"/api/v1/rates/tariff": gin.H{"category": "A", "min_units": 0, "rate_per_unit": 10, "effective_date": "2024-01-01"},
		"/api/v1/rates/gst":    gin.H{"percent": 5, "effective_date": "2024-01-01"},
		"/api/v1/rates/duty":   gin.H{"percent": 1, "effective_date": "2024-01-01"},
		"/api/v1/rates/surcharge": gin.H{
			"surcharge_type_id": model.SurchargeFuel, "rate_per_unit": 2, "units_from": 0, "effective_date": "2024-01-01",
		},
	} {
		rec := a.do(http.MethodPost, path, body)
		require.Equal(a.t, http.StatusOK, rec.Code, "%s: %s", path, rec.Body.String())
	}
}

type billResponse struct {
	Bill       model.Bill                   `json:"bill"`
	Surcharges []model.SurchargeApplication `json:"surcharges"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestBillLifecycle(t *testing.T) {
	api := newTestAPI(t, 1000)
	api.seedRates()

	rec := api.do(http.MethodPut, "/api/v1/units/A-1", gin.H{"name": "R Sharma", "category": "A", "person_id": "P-77"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/v1/bills", gin.H{"unit": "A-1", "period": "2024-07", "present_reading": 80})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[billResponse](t, rec)
	storetest.AssertDec(t, "848", created.Bill.NetPayable)
	assert.Equal(t, model.BillDue, created.Bill.Status)

	rec = api.do(http.MethodGet, "/api/v1/bills/A-1/2024-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[billResponse](t, rec)
	storetest.AssertDec(t, "800", got.Bill.VariableCharges)
	assert.Empty(t, got.Surcharges)

	rec = api.do(http.MethodPatch, "/api/v1/bills/A-1/2024-07", gin.H{"duty_rate": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	storetest.AssertDec(t, "856", decode[billResponse](t, rec).Bill.NetPayable)

	rec = api.do(http.MethodPut, "/api/v1/bills/A-1/2024-07/status", gin.H{"status": "Paid"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.BillPaid, decode[billResponse](t, rec).Bill.Status)

	rec = api.do(http.MethodPut, "/api/v1/bills/A-1/2024-07/status", gin.H{"status": "Overdue"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/bills/A-1/2024-07/pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))
	assert.True(t, bytes.Contains(rec.Body.Bytes(), []byte("R Sharma")))

	rec = api.do(http.MethodGet, "/api/v1/periods/2024-07/bills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"unit":"A-1"`)

	rec = api.do(http.MethodGet, "/api/v1/periods/2024-07/bills.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = api.do(http.MethodDelete, "/api/v1/bills/A-1/2024-07", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/bills/A-1/2024-07", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = api.do(http.MethodGet, "/api/v1/periods/2024-07/bills.pdf", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBillWithSurchargeAdjustment(t *testing.T) {
	api := newTestAPI(t, 1000)
	api.seedRates()
	require.Equal(t, http.StatusOK, api.do(http.MethodPut, "/api/v1/units/B-2", gin.H{"category": "A"}).Code)

	rec := api.do(http.MethodPost, "/api/v1/readings", gin.H{"unit": "B-2", "period": "2024-06", "present_reading": 50})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/api/v1/bills", gin.H{
		"unit":            "B-2",
		"period":          "2024-07",
		"present_reading": 130,
		"surcharges":      []gin.H{{"surcharge_type_id": model.SurchargeFuel}},
		"adjustments": []gin.H{{
			"period":     "2024-06",
			"surcharges": []gin.H{{"surcharge_type_id": model.SurchargeFuel, "effective_date": "2024-01-01"}},
		}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	bill := decode[billResponse](t, rec).Bill
	storetest.AssertDec(t, "160", bill.CurrentSurcharge)
	storetest.AssertDec(t, "100", bill.AdjustedSurcharge)
	storetest.AssertDec(t, "1123.6", bill.NetPayable)

	rec = api.do(http.MethodGet, "/api/v1/bills/B-2/2024-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[billResponse](t, rec).Surcharges, 2)

	rec = api.do(http.MethodGet, "/api/v1/readings/B-2/2024-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	reading := decode[struct {
		Reading model.MeterReading `json:"reading"`
	}](t, rec).Reading
	storetest.AssertDec(t, "80", reading.Consumption)

	rec = api.do(http.MethodGet, "/api/v1/units/B-2/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Readings []model.MeterReading `json:"readings"`
	}](t, rec).Readings, 2)

	rec = api.do(http.MethodGet, "/api/v1/units/B-2/periods?before=2024-07", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.Period{{Year: 2024, Month: time.June}}, decode[struct {
		Periods []model.Period `json:"periods"`
	}](t, rec).Periods)
}

func TestBadRequests(t *testing.T) {
	api := newTestAPI(t, 1000)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"malformed json", http.MethodPost, "/api/v1/bills", `{"unit":`, http.StatusBadRequest},
		{"bad period in body", http.MethodPost, "/api/v1/bills", `{"unit":"A-1","period":"July"}`, http.StatusBadRequest},
		{"bad period in path", http.MethodGet, "/api/v1/bills/A-1/July", nil, http.StatusBadRequest},
		{"missing category", http.MethodPost, "/api/v1/bills", gin.H{"unit": "Z-9", "period": "2024-07", "present_reading": 5}, http.StatusBadRequest},
		{"unknown bill", http.MethodGet, "/api/v1/bills/A-1/2024-08", nil, http.StatusNotFound},
		{"reading without unit", http.MethodPost, "/api/v1/readings", gin.H{"period": "2024-07"}, http.StatusBadRequest},
		{"missing effective date", http.MethodPost, "/api/v1/rates/gst", gin.H{"percent": 5}, http.StatusBadRequest},
		{"bad effective date", http.MethodPost, "/api/v1/rates/duty", gin.H{"percent": 1, "effective_date": "01/01/2024"}, http.StatusBadRequest},
		{"bad surcharge type id", http.MethodGet, "/api/v1/surcharge-types/x/dates", nil, http.StatusBadRequest},
		{"unknown surcharge type", http.MethodGet, "/api/v1/surcharge-types/99/dates", nil, http.StatusNotFound},
		{"tariff without category", http.MethodGet, "/api/v1/rates/tariff?units=10", nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(tc.method, tc.path, tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRateCatalogEndpoints(t *testing.T) {
	api := newTestAPI(t, 1000)
	api.seedRates()

	rec := api.do(http.MethodGet, "/api/v1/rates/tariff?category=A&units=50&as_of=2024-07-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[tariffResponse](t, rec)
	storetest.AssertDec(t, "10", res.Rate)
	assert.Empty(t, res.Warning)
	assert.Equal(t, "2024-07-31", res.AsOf)

	rec = api.do(http.MethodGet, "/api/v1/rates/tariff?category=Z&units=50", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res = decode[tariffResponse](t, rec)
	assert.True(t, res.Rate.IsZero())
	assert.NotEmpty(t, res.Warning)

	rec = api.do(http.MethodGet, "/api/v1/surcharge-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[struct {
		Types []model.SurchargeType `json:"surcharge_types"`
	}](t, rec).Types, 3)

	rec = api.do(http.MethodPost, "/api/v1/rates/surcharge", gin.H{
		"surcharge_type_id": model.SurchargeFuel, "rate_per_unit": 3, "units_from": 0, "effective_date": "2024-04-01",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/surcharge-types/3/dates", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2024-04-01", "2024-01-01"}, decode[struct {
		Dates []string `json:"dates"`
	}](t, rec).Dates)
}

func TestHealthMetricsAndRequestID(t *testing.T) {
	api := newTestAPI(t, 1000)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = api.do(http.MethodGet, "/api/v1/surcharge-types", nil)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = api.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "billing_http_requests_total"))
}

func TestRateLimit(t *testing.T) {
	api := newTestAPI(t, 1)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, api.do(http.MethodGet, "/api/v1/surcharge-types", nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Health checks bypass the limiter.
	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/health", nil).Code)
}

func TestStartStop(t *testing.T) {
	repo := storetest.New(t)
	log := zap.NewNop()
	catalog := rates.NewCatalog(repo, log)
	svc := billing.NewService(repo, catalog, ledger.New(repo, log), log)
	cfg := &config.Config{Server: config.ServerConfig{Port: 0, RateLimitPerSecond: 10, Mode: gin.TestMode}}

	srv := NewHTTPServer(cfg, svc, catalog, render.New(render.Options{}), log)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Stop(ctx))
}
