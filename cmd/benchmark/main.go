package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

	"github.com/jackc/pgx/v5"
)

// Config holds the benchmark settings
var (
	targetURL   string
	secret      string
	concurrency int
	sessions    int
	replays     int
	productID   string
	sellerID    string
	amountCents int64
	dbURL       string
)

// Metrics
var (
	totalRequests uint64
	fulfilled     uint64
	duplicates    uint64
	skipped       uint64 // Acknowledged business skips
	fail4xx       uint64
	fail5xx       uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&secret, "secret", os.Getenv("STRIPE_WEBHOOK_SECRET"), "Webhook signing secret")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.IntVar(&sessions, "sessions", 100, "Distinct checkout sessions")
	flag.IntVar(&replays, "replays", 5, "Deliveries per session")
	flag.StringVar(&productID, "product", "", "Product the sessions belong to")
	flag.StringVar(&sellerID, "seller", "", "Owner of the product")
	flag.Int64Var(&amountCents, "amount", 1000, "Amount total in cents")
	flag.StringVar(&dbURL, "db", os.Getenv("DB_SOURCE"), "When set, payment sessions are seeded before replaying")
}

type delivery struct {
	session string
	payload []byte
}

func main() {
	flag.Parse()
	if secret == "" || productID == "" || sellerID == "" {
		log.Fatal("-secret, -product and -seller are required")
	}

	run := fmt.Sprintf("bench-%d", time.Now().UnixNano())
	ids := make([]string, sessions)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s-%d", run, i)
	}
	if dbURL != "" {
		if err := seedSessions(context.Background(), ids); err != nil {
			log.Fatalf("Session seeding failed: %v", err)
		}
	}

	// Every session is delivered `replays` times in shuffled order, as an
	// at-least-once gateway would under retries.
	queue := make([]delivery, 0, sessions*replays)
	for _, id := range ids {
		payload := eventPayload(id)
		for r := 0; r < replays; r++ {
			queue = append(queue, delivery{session: id, payload: payload})
		}
	}
	rand.Shuffle(len(queue), func(i, j int) { queue[i], queue[j] = queue[j], queue[i] })

	log.Printf("Starting replay: %d sessions x %d deliveries | Workers: %d", sessions, replays, concurrency)

	work := make(chan delivery)
	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, work)
	}
	for _, d := range queue {
		work <- d
	}
	close(work)
	wg.Wait()
	printResults(time.Since(start))
}

func seedSessions(ctx context.Context, ids []string) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	now := time.Now().UTC()
	rows := make([][]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []any{id, productID, "bench@example.com", "card", now})
	}
	n, err := conn.CopyFrom(ctx,
		pgx.Identifier{"payment_sessions"},
		[]string{"id", "product_id", "buyer_email", "channel", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return err
	}
	log.Printf("Seeded %d payment sessions.", n)
	return nil
}

func eventPayload(sessionID string) []byte {
	body, _ := json.Marshal(map[string]any{
		"id":     "evt_" + sessionID,
		"object": "event",
		"type":   "checkout.session.completed",
		"data": map[string]any{
			"object": map[string]any{
				"id":           "cs_" + sessionID,
				"object":       "checkout.session",
				"amount_total": amountCents,
				"metadata": map[string]string{
					"session_id":  sessionID,
					"product_id":  productID,
					"seller_id":   sellerID,
					"title":       "Benchmark",
					"buyer_email": "bench@example.com",
					"channel":     "card",
				},
			},
		},
	})
	return body
}

func sign(payload []byte) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func worker(wg *sync.WaitGroup, work <-chan delivery) {
	defer wg.Done()
	client := &http.Client{Timeout: 10 * time.Second}

	for d := range work {
		req, _ := http.NewRequest("POST", targetURL+"/api/v1/webhooks/stripe", bytes.NewReader(d.payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Stripe-Signature", sign(d.payload))

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)

		var body struct {
			Status string `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 500:
			atomic.AddUint64(&fail5xx, 1)
		case resp.StatusCode >= 400:
			atomic.AddUint64(&fail4xx, 1)
		case body.Status == "fulfilled":
			atomic.AddUint64(&fulfilled, 1)
		case body.Status == "duplicate":
			atomic.AddUint64(&duplicates, 1)
		default:
			atomic.AddUint64(&skipped, 1)
		}
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&fulfilled)

	results := map[string]any{
		"duration_sec":   d.Seconds(),
		"sessions":       sessions,
		"replays":        replays,
		"total_requests": total,
		"throughput_rps": float64(total) / d.Seconds(),
		"fulfilled":      ok,
		"duplicates":     atomic.LoadUint64(&duplicates),
		"skipped":        atomic.LoadUint64(&skipped),
		"errors_4xx":     atomic.LoadUint64(&fail4xx),
		"errors_5xx":     atomic.LoadUint64(&fail5xx),
		"errors_network": atomic.LoadUint64(&failOther),
		// More fulfilled responses than sessions means a sale was credited twice.
		"exactly_once": ok <= uint64(sessions),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	file, err := os.Create("results_replay.json")
	if err != nil {
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
