// cmd/datagen/main.go
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// GenConfig controls the load generator.
type GenConfig struct {
	BaseURL       string
	NumClients    int
	NumUnits      int
	NumPeriods    int
	StartPeriod   model.Period
	Categories    []string
	RatePerSecond int
}

type result struct {
	ok   bool
	line string
}

type client struct {
	id      int
	cfg     GenConfig
	http    *http.Client
	limiter *rate.Limiter
	results chan<- result
}

func (c *client) send(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// billUnit registers the unit and bills consecutive periods so each reading
// chains onto the previous one.
func (c *client) billUnit(ctx context.Context, unit string) {
	category := c.cfg.Categories[rand.Intn(len(c.cfg.Categories))]
	account := map[string]string{
		"person_id":       fmt.Sprintf("P-%05d", rand.Intn(100000)),
		"name":            fmt.Sprintf("Resident %s", unit),
		"category":        category,
		"load_sanctioned": fmt.Sprintf("%d kW", 2+rand.Intn(8)),
		"phase":           []string{"single", "three"}[rand.Intn(2)],
	}
	if err := c.send(ctx, http.MethodPut, "/api/v1/units/"+unit, account); err != nil {
		c.results <- result{line: fmt.Sprintf("Client %d, unit %s: account failed: %v", c.id, unit, err)}
		return
	}

	reading := decimal.NewFromFloat(rand.Float64() * 5000).Round(2)
	period := c.cfg.StartPeriod
	for i := 0; i < c.cfg.NumPeriods; i++ {
		reading = reading.Add(decimal.NewFromFloat(20 + rand.Float64()*400).Round(2))
		bill := map[string]any{
			"unit":            unit,
			"period":          period,
			"present_reading": reading,
		}
		if rand.Intn(3) == 0 {
			bill["surcharges"] = []map[string]any{{"surcharge_type_id": model.SurchargeFuel}}
		}

		if err := c.send(ctx, http.MethodPost, "/api/v1/bills", bill); err != nil {
			c.results <- result{line: fmt.Sprintf("Client %d, %s %s: failed: %v", c.id, unit, period, err)}
		} else {
			c.results <- result{ok: true, line: fmt.Sprintf("Client %d, %s %s: billed at %s", c.id, unit, period, reading)}
		}
		period = period.Next()
	}
}

func (c *client) run(ctx context.Context, units <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()
	for unit := range units {
		c.billUnit(ctx, unit)
	}
}

func main() {
	var cfg GenConfig
	var start, categories string
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "Base URL of the billing service")
	flag.IntVar(&cfg.NumClients, "clients", 10, "Number of concurrent client goroutines")
	flag.IntVar(&cfg.NumUnits, "units", 100, "Number of units to bill")
	flag.IntVar(&cfg.NumPeriods, "periods", 12, "Consecutive periods billed per unit")
	flag.StringVar(&start, "start", "2024-01", "First billing period (YYYY-MM)")
	flag.StringVar(&categories, "categories", "A,B", "Comma separated tariff categories")
	flag.IntVar(&cfg.RatePerSecond, "rate", 0, "Overall request rate cap (0 for no limit)")
	flag.Parse()

	p, err := model.ParsePeriod(start)
	if err != nil {
		fmt.Printf("Invalid -start: %v\n", err)
		return
	}
	cfg.StartPeriod = p
	cfg.Categories = strings.Split(categories, ",")

	fmt.Printf("Starting data generator with config:\n")
	fmt.Printf("  Base URL: %s\n", cfg.BaseURL)
	fmt.Printf("  Clients: %d\n", cfg.NumClients)
	fmt.Printf("  Units: %d x %d periods from %s\n", cfg.NumUnits, cfg.NumPeriods, cfg.StartPeriod)
	fmt.Printf("  Target Rate: %d req/sec\n", cfg.RatePerSecond)
	fmt.Println("-------------------------------------")

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond)
	}

	ctx := context.Background()
	startTime := time.Now()
	units := make(chan string)
	results := make(chan result, cfg.NumClients*4)
	httpClient := &http.Client{Timeout: 30 * time.Second}

	var wg sync.WaitGroup
	for i := 0; i < cfg.NumClients; i++ {
		wg.Add(1)
		c := &client{id: i + 1, cfg: cfg, http: httpClient, limiter: limiter, results: results}
		go c.run(ctx, units, &wg)
	}
	go func() {
		for i := 0; i < cfg.NumUnits; i++ {
			units <- fmt.Sprintf("U-%04d", i+1)
		}
		close(units)
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	var successCount, failureCount int
	for res := range results {
		fmt.Println(res.line)
		if res.ok {
			successCount++
		} else {
			failureCount++
		}
	}

	duration := time.Since(startTime)
	fmt.Println("-------------------------------------")
	fmt.Printf("Data generation finished.\n")
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Bills entered: %d\n", successCount)
	fmt.Printf("Failures: %d\n", failureCount)
	if duration.Seconds() > 0 {
		fmt.Printf("Approximate Throughput: %.2f bills/sec\n", float64(successCount)/duration.Seconds())
	}
}
