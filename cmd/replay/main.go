// Replay tool for measuring RationGuard against a labelled distribution log.
//
// Usage:
//   go run cmd/replay/main.go -csv /path/to/log.csv -url http://localhost:8000
//
// The CSV must have a header with card_number, shop_id, image_path and
// is_fraud columns. image_path is resolved relative to the CSV file.
// Each row is sent to POST /api/verify; a row is predicted as fraud when the
// verification fails or returns alerts. Rows for the same card are replayed
// in file order by the same worker, since duplicate detection depends on it.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Attempt is one row of the distribution log.
type Attempt struct {
	Line       int
	CardNumber string
	ShopID     string
	ImagePath  string
	IsFraud    bool
}

// VerifyRequest is the RationGuard API request format
type VerifyRequest struct {
	CardNumber    string `json:"card_number"`
	ShopID        string `json:"shop_id"`
	CapturedImage string `json:"captured_image_base64"`
}

// VerifyResponse is the RationGuard API response format
type VerifyResponse struct {
	Success    bool     `json:"success"`
	Message    string   `json:"message"`
	Confidence *float64 `json:"confidence"`
	Alerts     []struct {
		AlertType string `json:"alert_type"`
		Severity  string `json:"severity"`
	} `json:"alerts"`
}

// Flagged reports whether the response should count as a fraud prediction.
func (r *VerifyResponse) Flagged() bool {
	return !r.Success || len(r.Alerts) > 0
}

// Metrics tracks replay results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64

	mu         sync.Mutex
	AlertTypes map[string]int64
}

func (m *Metrics) countAlert(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AlertTypes == nil {
		m.AlertTypes = make(map[string]int64)
	}
	m.AlertTypes[alertType]++
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labelled distribution log")
	baseURL := flag.String("url", "http://localhost:8000", "RationGuard base URL")
	limit := flag.Int("limit", 0, "Maximum attempts to replay (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each attempt result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/log.csv [-url http://localhost:8000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *workers < 1 {
		*workers = 1
	}

	fmt.Println("RationGuard replay")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Server URL:  %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: RationGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/rationguard serve")
		os.Exit(1)
	}
	fmt.Println("Server is healthy")

	attempts, err := readAttempts(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d attempts\n", len(attempts))

	start := time.Now()
	m := replay(attempts, *baseURL, *workers, *verbose)
	printResults(m, time.Since(start))
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

func readAttempts(path string, limit int) ([]Attempt, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"card_number", "shop_id", "image_path", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	dir := filepath.Dir(path)
	var attempts []Attempt
	line := 1
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		image := record[colIndex["image_path"]]
		if !filepath.IsAbs(image) {
			image = filepath.Join(dir, image)
		}
		label := strings.ToLower(record[colIndex["is_fraud"]])

		attempts = append(attempts, Attempt{
			Line:       line,
			CardNumber: record[colIndex["card_number"]],
			ShopID:     record[colIndex["shop_id"]],
			ImagePath:  image,
			IsFraud:    label == "1" || label == "true",
		})

		if limit > 0 && len(attempts) >= limit {
			break
		}
	}

	return attempts, nil
}

// shard picks the worker for a card so one card's attempts stay ordered.
func shard(card string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(card))
	return int(h.Sum32() % uint32(n))
}

func replay(attempts []Attempt, baseURL string, numWorkers int, verbose bool) *Metrics {
	m := &Metrics{}

	queues := make([]chan Attempt, numWorkers)
	var wg sync.WaitGroup

	for i := range queues {
		queues[i] = make(chan Attempt, 100)
		wg.Add(1)
		go func(work <-chan Attempt) {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for a := range work {
				start := time.Now()
				result, err := verify(client, baseURL, a)
				atomic.AddInt64(&m.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&m.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&m.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: line %d %s -> %v\n", a.Line, a.CardNumber, err)
					}
					continue
				}

				if a.IsFraud {
					atomic.AddInt64(&m.TotalFraud, 1)
				} else {
					atomic.AddInt64(&m.TotalNonFraud, 1)
				}
				for _, alert := range result.Alerts {
					m.countAlert(alert.AlertType)
				}

				predicted := result.Flagged()
				switch {
				case predicted && a.IsFraud:
					atomic.AddInt64(&m.TruePositives, 1)
				case predicted && !a.IsFraud:
					atomic.AddInt64(&m.FalsePositives, 1)
				case !predicted && !a.IsFraud:
					atomic.AddInt64(&m.TrueNegatives, 1)
				default:
					atomic.AddInt64(&m.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok "
					if predicted != a.IsFraud {
						mark = "MISS"
					}
					fmt.Printf("%s line %-5d | Card: %-12s | Shop: %-8s | Fraud: %-5v | Alerts: %d | %s\n",
						mark, a.Line, a.CardNumber, a.ShopID, a.IsFraud, len(result.Alerts), result.Message)
				}
			}
		}(queues[i])
	}

	for _, a := range attempts {
		queues[shard(a.CardNumber, numWorkers)] <- a
	}
	for _, q := range queues {
		close(q)
	}

	wg.Wait()
	return m
}

func verify(client *http.Client, baseURL string, a Attempt) (*VerifyResponse, error) {
	image, err := os.ReadFile(a.ImagePath)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(VerifyRequest{
		CardNumber:    a.CardNumber,
		ShopID:        a.ShopID,
		CapturedImage: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/api/verify", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result VerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nREPLAY RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                     Predicted")
	fmt.Println("                  flagged     clean")
	fmt.Printf("   Actual  F   %10d %10d  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF   %10d %10d  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	fmt.Printf("\nDETECTION\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	if len(m.AlertTypes) > 0 {
		fmt.Printf("\nALERTS BY TYPE\n")
		for alertType, n := range m.AlertTypes {
			fmt.Printf("   %-20s %d\n", alertType, n)
		}
	}

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		fmt.Printf("   Avg Latency:      %.2f ms\n", float64(m.ProcessingTimeMs)/float64(m.TotalProcessed))
		fmt.Printf("   Throughput:       %.2f req/sec\n", float64(m.TotalProcessed)/duration.Seconds())
	}
	fmt.Println()
}
