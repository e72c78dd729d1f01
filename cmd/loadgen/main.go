// Command loadgen drives concurrent purchases against the HTTP API. Buyers
// need native funds, e.g. through native.genesis, and the server must run
// with auth.issue_tokens enabled.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tokendist.org/internal/sim"
)

func main() {
	var (
		baseURL  = flag.String("base-url", "http://localhost:8080", "API base URL")
		workers  = flag.Int("workers", 4, "Concurrent worker count")
		buyers   = flag.Int("buyers", 20, "Number of simulated buyers (buyer-001 ...)")
		duration = flag.Duration("duration", 30*time.Second, "Duration of the run")
		seed     = flag.Int64("seed", 0, "Random seed (0 picks one)")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	gen := sim.NewGenerator(sim.CrowdScenario(*buyers), *seed)
	client := &http.Client{Timeout: 10 * time.Second}

	tokens := make(map[string]string, *buyers)
	for _, b := range gen.Scenario().Buyers {
		tok, err := issueToken(ctx, client, *baseURL, b.Address)
		if err != nil {
			log.Fatalf("issue token for %s: %v", b.Address, err)
		}
		tokens[b.Address] = tok
	}

	log.Printf("Launching load: base=%s workers=%d buyers=%d duration=%s", *baseURL, *workers, *buyers, *duration)

	var counter sim.Counter
	var wg sync.WaitGroup
	deadline := time.Now().Add(*duration)

	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id*9973)))
			for time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return
				default:
				}
				p := gen.NextPurchase()
				got, status, err := purchase(ctx, client, *baseURL, tokens[p.Sender], p)
				switch {
				case err != nil:
					if errors.Is(err, context.Canceled) {
						return
					}
					log.Printf("worker %d purchase: %v", id, err)
					counter.Reject("transport")
				case status == http.StatusCreated:
					counter.Add(p, got)
				case status == http.StatusConflict:
					counter.Reject("conflict")
				case status == http.StatusTooManyRequests:
					counter.Reject("rate_limited")
					time.Sleep(250 * time.Millisecond)
				default:
					counter.Reject(http.StatusText(status))
					log.Printf("worker %d purchase failed: %d", id, status)
					time.Sleep(200 * time.Millisecond)
				}
				time.Sleep(time.Duration(50+rnd.Intn(120)) * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	s := counter.Summary()
	log.Printf("Run complete: %d purchases for %d beneficiaries, %s paid, %s tokens granted",
		s.Accepted, s.Beneficiaries, humanize.Comma(s.Value), humanize.BigComma(s.Tokens.BigInt()))
	reasons := make([]string, 0, len(s.Rejected))
	for r := range s.Rejected {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	for _, r := range reasons {
		log.Printf("  rejected %-12s %d", r, s.Rejected[r])
	}
}

func purchase(ctx context.Context, client *http.Client, baseURL, token string, p sim.Purchase) (decimal.Decimal, int, error) {
	body, _ := json.Marshal(map[string]any{
		"beneficiary": p.Beneficiary,
		"value":       p.Value,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/sale/purchases", bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	resp, err := client.Do(req)
	if err != nil {
		return decimal.Zero, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return decimal.Zero, resp.StatusCode, nil
	}
	var out struct {
		Tokens decimal.Decimal `json:"tokens"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, resp.StatusCode, fmt.Errorf("decode purchase: %w", err)
	}
	return out.Tokens, resp.StatusCode, nil
}

func issueToken(ctx context.Context, client *http.Client, baseURL, address string) (string, error) {
	body, _ := json.Marshal(map[string]any{"address": address})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token endpoint: %s", resp.Status)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("empty token returned")
	}
	return out.Token, nil
}
