package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/creditline/internal/importer"
	"github.com/spf13/cobra"
)

func benchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench <requests-file>",
		Short: "Replay loan requests against a running server",
		Long: `Send every row of a .csv or .xlsx file to POST /check-eligibility and
report throughput, latency and the approval rate.

Columns: customer_id, loan_amount, interest_rate, tenure and an optional
expected outcome (approved, true or 1 for an approval). When the expected
column is present the report includes an agreement matrix.`,
		Example: `  creditctl bench requests.csv --url http://localhost:8080 --tenant acme --workers 20`,
		Args:    cobra.ExactArgs(1),
		RunE:    runBenchCmd,
	}

	cmd.Flags().String("url", "http://localhost:8080", "creditline base URL")
	cmd.Flags().String("tenant", "benchmark-test", "tenant ID for requests")
	cmd.Flags().Int("workers", 10, "number of concurrent workers")
	cmd.Flags().Int("limit", 0, "maximum rows to send (0 = all)")
	cmd.Flags().Bool("verbose", false, "print each request result")

	return cmd
}

// benchRequest is one replayed row.
type benchRequest struct {
	Row          int    `json:"-"`
	CustomerID   string `json:"customer_id"`
	LoanAmount   string `json:"loan_amount"`
	InterestRate string `json:"interest_rate"`
	Tenure       int    `json:"tenure"`

	// Expected is nil when the file carries no expected outcome.
	Expected *bool `json:"-"`
}

type eligibilityReply struct {
	Approval      bool   `json:"approval"`
	CorrectedRate string `json:"corrected_interest_rate"`
	CreditScore   string `json:"credit_score"`
	Reason        string `json:"reason"`
}

// benchStats tracks replay results.
type benchStats struct {
	Processed int64
	Approved  int64
	Rejected  int64
	Errors    int64

	// Agreement with the expected outcome
	BothApproved    int64
	BothRejected    int64
	UnexpectedYes   int64
	UnexpectedNo    int64
	LabelledResults int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (s *benchStats) observe(d time.Duration) {
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.mu.Unlock()
}

// percentile returns the p-th latency percentile (0 < p <= 100).
func (s *benchStats) percentile(p float64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.latencies) == 0 {
		return 0
	}
	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	idx := int(float64(len(sorted))*p/100+0.5) - 1
	idx = max(0, min(idx, len(sorted)-1))
	return sorted[idx]
}

func runBenchCmd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	baseURL, _ := flags.GetString("url")
	tenantID, _ := flags.GetString("tenant")
	workers, _ := flags.GetInt("workers")
	limit, _ := flags.GetInt("limit")
	verbose, _ := flags.GetBool("verbose")

	out := cmd.OutOrStdout()
	client := &http.Client{Timeout: 10 * time.Second}

	if err := checkHealth(cmd.Context(), client, baseURL); err != nil {
		return fmt.Errorf("creditline not reachable at %s: %w", baseURL, err)
	}

	requests, err := readBenchRequests(args[0], limit)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "loaded %d requests from %s\n", len(requests), args[0])

	start := time.Now()
	var progress io.Writer
	if verbose {
		progress = out
	}
	stats := runBench(cmd.Context(), client, baseURL, tenantID, workers, requests, progress)
	printBenchResults(out, stats, time.Since(start))
	return nil
}

func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readBenchRequests(path string, limit int) ([]benchRequest, error) {
	rows, err := importer.ReadRows(path)
	if err != nil {
		return nil, err
	}

	var requests []benchRequest
	for i, row := range rows {
		if i == 0 || len(row) < 4 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		tenure, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: invalid tenure %q", path, i+1, row[3])
		}
		req := benchRequest{
			Row:          i + 1,
			CustomerID:   strings.TrimSpace(row[0]),
			LoanAmount:   strings.TrimSpace(row[1]),
			InterestRate: strings.TrimSpace(row[2]),
			Tenure:       tenure,
		}
		if len(row) > 4 && strings.TrimSpace(row[4]) != "" {
			expected := parseExpected(row[4])
			req.Expected = &expected
		}
		requests = append(requests, req)

		if limit > 0 && len(requests) >= limit {
			break
		}
	}
	return requests, nil
}

func parseExpected(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "approved", "approve":
		return true
	}
	return false
}

func runBench(ctx context.Context, client *http.Client, baseURL, tenantID string, numWorkers int, requests []benchRequest, progress io.Writer) *benchStats {
	stats := &benchStats{}
	if numWorkers < 1 {
		numWorkers = 1
	}

	work := make(chan benchRequest, 100)
	var wg sync.WaitGroup
	var printMu sync.Mutex

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range work {
				start := time.Now()
				reply, err := checkEligibility(ctx, client, baseURL, tenantID, req)
				stats.observe(time.Since(start))
				atomic.AddInt64(&stats.Processed, 1)

				if err != nil {
					atomic.AddInt64(&stats.Errors, 1)
					if progress != nil {
						printMu.Lock()
						fmt.Fprintf(progress, "row %d: error: %v\n", req.Row, err)
						printMu.Unlock()
					}
					continue
				}

				if reply.Approval {
					atomic.AddInt64(&stats.Approved, 1)
				} else {
					atomic.AddInt64(&stats.Rejected, 1)
				}

				if req.Expected != nil {
					atomic.AddInt64(&stats.LabelledResults, 1)
					switch {
					case reply.Approval && *req.Expected:
						atomic.AddInt64(&stats.BothApproved, 1)
					case !reply.Approval && !*req.Expected:
						atomic.AddInt64(&stats.BothRejected, 1)
					case reply.Approval:
						atomic.AddInt64(&stats.UnexpectedYes, 1)
					default:
						atomic.AddInt64(&stats.UnexpectedNo, 1)
					}
				}

				if progress != nil {
					printMu.Lock()
					fmt.Fprintf(progress, "row %d: customer %s amount %s -> approved=%v rate=%s score=%s %s\n",
						req.Row, req.CustomerID, req.LoanAmount,
						reply.Approval, reply.CorrectedRate, reply.CreditScore, reply.Reason)
					printMu.Unlock()
				}
			}
		}()
	}

	for _, req := range requests {
		if ctx.Err() != nil {
			break
		}
		work <- req
	}
	close(work)
	wg.Wait()

	return stats
}

func checkEligibility(ctx context.Context, client *http.Client, baseURL, tenantID string, req benchRequest) (*eligibilityReply, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/check-eligibility", bytes.NewReader(body))
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
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var reply eligibilityReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func printBenchResults(w io.Writer, s *benchStats, duration time.Duration) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "results")
	fmt.Fprintf(w, "  processed:  %d\n", s.Processed)
	fmt.Fprintf(w, "  approved:   %d\n", s.Approved)
	fmt.Fprintf(w, "  rejected:   %d\n", s.Rejected)
	fmt.Fprintf(w, "  errors:     %d\n", s.Errors)
	if decided := s.Approved + s.Rejected; decided > 0 {
		fmt.Fprintf(w, "  approval rate: %.2f%%\n", 100*float64(s.Approved)/float64(decided))
	}

	if s.LabelledResults > 0 {
		agreement := float64(s.BothApproved+s.BothRejected) / float64(s.LabelledResults)
		fmt.Fprintln(w)
		fmt.Fprintln(w, "agreement with expected outcome")
		fmt.Fprintln(w, "                   expected yes  expected no")
		fmt.Fprintf(w, "  approved        %12d %12d\n", s.BothApproved, s.UnexpectedYes)
		fmt.Fprintf(w, "  rejected        %12d %12d\n", s.UnexpectedNo, s.BothRejected)
		fmt.Fprintf(w, "  agreement:      %.4f\n", agreement)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "performance")
	fmt.Fprintf(w, "  duration:   %v\n", duration.Round(time.Millisecond))
	if s.Processed > 0 && duration > 0 {
		fmt.Fprintf(w, "  throughput: %.2f req/sec\n", float64(s.Processed)/duration.Seconds())
		fmt.Fprintf(w, "  p50: %v  p95: %v  p99: %v\n",
			s.percentile(50).Round(time.Microsecond),
			s.percentile(95).Round(time.Microsecond),
			s.percentile(99).Round(time.Microsecond),
		)
	}
}
