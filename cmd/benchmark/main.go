// Benchmark tool for measuring Kestrel evaluation throughput.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -records 10000
//
// This tool:
//  1. Generates synthetic records (amount, risk score, region, flags)
//  2. Sends each record to POST /evaluate with an inline ruleset
//     (or to POST /evaluate/dmn when -dmn points at a model file)
//  3. Reports match rate, latency percentiles, and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Rule mirrors the API's inline rule shape.
type Rule struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Expression   string  `json:"expression"`
	Priority     int     `json:"priority"`
	Weight       float64 `json:"weight"`
	Points       float64 `json:"points"`
	ActionResult string  `json:"actionResult"`
	Enabled      bool    `json:"enabled"`
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	Rules  []Rule         `json:"rules,omitempty"`
	XML    string         `json:"xml,omitempty"`
	Record map[string]any `json:"record"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	EvaluationID string  `json:"evaluationId"`
	Status       string  `json:"status"`
	TotalPoints  float64 `json:"totalPoints"`
	Pattern      string  `json:"pattern"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TotalProcessed int64
	TotalMatched   int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []int64 // microseconds
}

func (m *Metrics) addLatency(us int64) {
	m.mu.Lock()
	m.latencies = append(m.latencies, us)
	m.mu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	records := flag.Int("records", 10000, "Number of synthetic records")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	ruleCount := flag.Int("rules", 8, "Number of synthetic rules per request")
	dmnPath := flag.String("dmn", "", "Optional DMN file; benchmarks /evaluate/dmn instead")
	seed := flag.Int64("seed", 42, "Random seed for record generation")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	endpoint := "/evaluate"
	var dmnXML string
	if *dmnPath != "" {
		data, err := os.ReadFile(*dmnPath)
		if err != nil {
			fmt.Printf("ERROR: failed to read DMN file: %v\n", err)
			os.Exit(1)
		}
		dmnXML = string(data)
		endpoint = "/evaluate/dmn"
	}

	fmt.Println("KESTREL BENCHMARK")
	fmt.Printf("  URL:       %s\n", *baseURL)
	fmt.Printf("  Endpoint:  %s\n", endpoint)
	fmt.Printf("  Tenant:    %s\n", *tenantID)
	fmt.Printf("  Records:   %d\n", *records)
	fmt.Printf("  Workers:   %d\n", *workers)
	if dmnXML == "" {
		fmt.Printf("  Rules:     %d\n", *ruleCount)
	}
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	ruleList := syntheticRules(*ruleCount)
	input := generateRecords(*records, *seed)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(input, ruleList, dmnXML, *baseURL+endpoint, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// syntheticRules builds a ruleset exercising comparisons, membership, and
// boolean checks over the generated record fields.
func syntheticRules(n int) []Rule {
	base := []Rule{
		{ID: "high_amount", Expression: "amount > 7500.0", Points: 40, ActionResult: "H"},
		{ID: "medium_amount", Expression: "amount > 2500.0 && amount <= 7500.0", Points: 15, ActionResult: "M"},
		{ID: "risk_score", Expression: "score >= 80", Points: 30, ActionResult: "R"},
		{ID: "watch_region", Expression: "region in [\"alpha\", \"omega\"]", Points: 20, ActionResult: "W"},
		{ID: "flagged", Expression: "flagged == true", Points: 25, ActionResult: "F"},
		{ID: "new_account", Expression: "account_age_days < 30", Points: 10, ActionResult: "N"},
		{ID: "round_amount", Expression: "amount == 1000.0 || amount == 5000.0", Points: 5, ActionResult: "O"},
		{ID: "low_score", Expression: "score < 10", Points: 1, ActionResult: "L"},
	}
	if n > len(base) {
		n = len(base)
	}
	ruleList := base[:n]
	for i := range ruleList {
		ruleList[i].Name = ruleList[i].ID
		ruleList[i].Priority = i + 1
		ruleList[i].Weight = 1.0
		ruleList[i].Enabled = true
	}
	return ruleList
}

func generateRecords(n int, seed int64) []map[string]any {
	rng := rand.New(rand.NewSource(seed))
	regions := []string{"alpha", "beta", "gamma", "delta", "omega"}

	out := make([]map[string]any, n)
	for i := 0; i < n; i++ {
		out[i] = map[string]any{
			"amount":           rng.Float64() * 10000,
			"score":            rng.Intn(100),
			"region":           regions[rng.Intn(len(regions))],
			"flagged":          rng.Intn(10) == 0,
			"account_age_days": rng.Intn(3650),
		}
	}
	return out
}

func runBenchmark(input []map[string]any, ruleList []Rule, dmnXML, url, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan map[string]any, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for record := range work {
				start := time.Now()
				result, err := evaluateRecord(client, url, tenantID, ruleList, dmnXML, record)
				elapsed := time.Since(start).Microseconds()

				metrics.addLatency(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %v\n", err)
					}
					continue
				}

				if result.Status == "MATCH" {
					atomic.AddInt64(&metrics.TotalMatched, 1)
				}

				if verbose {
					fmt.Printf("%-8s | points: %7.1f | pattern: %s\n",
						result.Status, result.TotalPoints, result.Pattern)
				}
			}
		}()
	}

	for _, record := range input {
		work <- record
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateRecord(client *http.Client, url, tenantID string, ruleList []Rule, dmnXML string, record map[string]any) (*EvaluateResponse, error) {
	req := EvaluateRequest{Record: record}
	if dmnXML != "" {
		req.XML = dmnXML
	} else {
		req.Rules = ruleList
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\n  Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("  Matched:          %d\n", m.TotalMatched)
	fmt.Printf("  Errors:           %d\n", m.TotalErrors)
	if m.TotalProcessed > 0 {
		fmt.Printf("  Match Rate:       %.2f%%\n", 100*float64(m.TotalMatched)/float64(m.TotalProcessed))
	}

	m.mu.Lock()
	lat := append([]int64(nil), m.latencies...)
	m.mu.Unlock()
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	if len(lat) > 0 {
		var sum int64
		for _, v := range lat {
			sum += v
		}
		pct := func(p float64) float64 {
			idx := int(p * float64(len(lat)-1))
			return float64(lat[idx]) / 1000.0
		}
		fmt.Printf("\n  Avg Latency:      %.2f ms\n", float64(sum)/float64(len(lat))/1000.0)
		fmt.Printf("  p50 Latency:      %.2f ms\n", pct(0.50))
		fmt.Printf("  p95 Latency:      %.2f ms\n", pct(0.95))
		fmt.Printf("  p99 Latency:      %.2f ms\n", pct(0.99))
	}

	fmt.Printf("\n  Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("  Throughput:       %.2f records/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
