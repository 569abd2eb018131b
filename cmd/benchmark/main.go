package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	prefix      string
)

// Metrics
var (
	totalRequests uint64
	tierFull      uint64
	tierReduced   uint64
	anonymous     uint64
	ledgerWarns   uint64
	fail4xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot | mixed")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts")
	flag.StringVar(&prefix, "prefix", "bench-", "Seeded user id prefix")
}

// The server must run with AUTH_MODE=dev so dev-<uid> tokens are accepted.
func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

type diagnosisResponse struct {
	AcessoCompleto bool `json:"acessoCompleto"`
	LedgerWarning  bool `json:"ledger_warning"`
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 60 * time.Second}

	for time.Since(start) < duration {
		body, _ := json.Marshal(map[string]string{"produto": "Curso online de fotografia para iniciantes"})

		req, _ := http.NewRequest("POST", targetURL+"/api/diagnosis", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		uid := pickUser()
		if uid != "" {
			req.Header.Set("Authorization", "Bearer dev-"+uid)
		} else {
			atomic.AddUint64(&anonymous, 1)
		}

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch {
		case resp.StatusCode == http.StatusOK:
			var out diagnosisResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				atomic.AddUint64(&failOther, 1)
				break
			}
			countTier(out)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			atomic.AddUint64(&fail4xx, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func countTier(out diagnosisResponse) {
	if out.LedgerWarning {
		atomic.AddUint64(&ledgerWarns, 1)
	}
	if out.AcessoCompleto {
		atomic.AddUint64(&tierFull, 1)
	} else {
		atomic.AddUint64(&tierReduced, 1)
	}
}

// pickUser returns the seeded account to spend from; "" sends an anonymous request.
func pickUser() string {
	switch workload {
	case "hotspot":
		// 90% of traffic drains the same two balances
		if rand.Float32() < 0.90 {
			return fmt.Sprintf("%s%04d", prefix, rand.Intn(2)+1)
		}
	case "mixed":
		if rand.Float32() < 0.2 {
			return ""
		}
	}
	return fmt.Sprintf("%s%04d", prefix, rand.Intn(accounts)+1)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	full := atomic.LoadUint64(&tierFull)

	results := map[string]interface{}{
		"workload":        workload,
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_rps":  float64(total) / d.Seconds(),
		"tier_full":       full,
		"tier_reduced":    atomic.LoadUint64(&tierReduced),
		"anonymous_sent":  atomic.LoadUint64(&anonymous),
		"ledger_warnings": atomic.LoadUint64(&ledgerWarns),
		"client_errors":   atomic.LoadUint64(&fail4xx),
		"errors":          atomic.LoadUint64(&failOther),
	}
	if total > 0 {
		results["full_rate_pct"] = float64(full) / float64(total) * 100
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("could not save results: %v", err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
