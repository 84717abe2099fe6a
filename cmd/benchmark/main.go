package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Replays PerformTransaction webhook deliveries against a running API to
// exercise the exactly-once boundary under concurrent duplicates: for a
// single gateway ref, exactly one delivery should win the credit and every
// other should come back as an idempotent success observation.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	gatewayRef  string
	authHeader  string
)

var (
	totalRequests uint64
	successOK     uint64 // success envelopes (winner + idempotent replays)
	failNotFound  uint64 // -31003
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 10*time.Second, "Test duration")
	flag.StringVar(&gatewayRef, "ref", "bench-ref-1", "Gateway transaction ref to hammer")
	flag.StringVar(&authHeader, "auth", "", "Authorization header value for the Payme endpoint")
}

func main() {
	flag.Parse()
	log.Printf("Starting replay benchmark | Workers: %d | Duration: %s | Ref: %s", concurrency, duration, gatewayRef)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int `json:"code"`
	} `json:"error"`
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		payload := map[string]interface{}{
			"method": "PerformTransaction",
			"params": map[string]interface{}{"id": gatewayRef},
			"id":     time.Now().UnixNano(),
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/payments/payme", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)

		var parsed rpcResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			atomic.AddUint64(&failOther, 1)
		} else if parsed.Error == nil {
			atomic.AddUint64(&successOK, 1)
		} else if parsed.Error.Code == -31003 {
			atomic.AddUint64(&failNotFound, 1)
		} else {
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&successOK)
	nf := atomic.LoadUint64(&failNotFound)
	fErr := atomic.LoadUint64(&failOther)

	results := map[string]interface{}{
		"duration_sec":    d.Seconds(),
		"total_requests":  total,
		"throughput_tps":  float64(total) / d.Seconds(),
		"success_ok":      ok,
		"not_found_31003": nf,
		"errors":          fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", gatewayRef)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
