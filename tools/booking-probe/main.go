package main

// Fires identical concurrent booking requests at one slot and reports the
// outcome distribution. A healthy deployment admits exactly one request and
// rejects the rest with a slot conflict, which makes this a quick smoke
// test for the locking protocol against a real database.

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type probe struct {
	tenantID  string
	clientID  string
	serviceID string
	staffID   string
	source    string
	startAt   time.Time
	endAt     time.Time
	workers   int
}

func main() {
	var (
		mode     = flag.String("mode", getenv("PROBE_MODE", "http"), "http or grpc")
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8083"), "booking service base url (http mode)")
		grpcAddr = flag.String("grpc-addr", getenv("GRPC_ADDR", "localhost:9090"), "booking service grpc address (grpc mode)")
		tenant   = flag.String("tenant-id", getenv("TENANT_ID", ""), "tenant uuid")
		client   = flag.String("client-id", getenv("CLIENT_ID", ""), "client uuid")
		service  = flag.String("service-id", getenv("SERVICE_ID", ""), "service uuid")
		staff    = flag.String("staff-id", getenv("STAFF_ID", ""), "staff uuid")
		source   = flag.String("source", getenv("SOURCE", "dashboard"), "booking source tag")
		startIn  = flag.Duration("start-in", time.Hour, "window start offset from now")
		length   = flag.Duration("length", 30*time.Minute, "window length")
		workers  = flag.Int("workers", 8, "concurrent requests")
	)
	flag.Parse()

	required := map[string]string{
		"TENANT_ID":  *tenant,
		"CLIENT_ID":  *client,
		"SERVICE_ID": *service,
		"STAFF_ID":   *staff,
	}
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			fatal(name + " is required")
		}
	}
	if *workers < 2 {
		fatal("workers must be at least 2")
	}

	startAt := time.Now().UTC().Add(*startIn).Truncate(time.Minute)
	p := probe{
		tenantID:  *tenant,
		clientID:  *client,
		serviceID: *service,
		staffID:   *staff,
		source:    *source,
		startAt:   startAt,
		endAt:     startAt.Add(*length),
		workers:   *workers,
	}

	var (
		wins int
		dist map[string]int
		err  error
	)
	switch *mode {
	case "http":
		wins, dist, err = runHTTPProbe(*baseURL, p)
	case "grpc":
		wins, dist, err = runGrpcProbe(*grpcAddr, p)
	default:
		fatal("unsupported mode: " + *mode)
	}
	if err != nil {
		fatal(err.Error())
	}

	fmt.Printf("window=[%s, %s) workers=%d\n",
		p.startAt.Format(time.RFC3339), p.endAt.Format(time.RFC3339), p.workers)
	for outcome, n := range dist {
		fmt.Printf("outcome=%q count=%d\n", outcome, n)
	}
	if wins != 1 {
		fatal(fmt.Sprintf("expected exactly one winner, got %d", wins))
	}
	fmt.Println("ok: one winner, rest rejected")
}

func runHTTPProbe(baseURL string, p probe) (int, map[string]int, error) {
	payload, err := json.Marshal(map[string]string{
		"tenant_id":  p.tenantID,
		"client_id":  p.clientID,
		"service_id": p.serviceID,
		"staff_id":   p.staffID,
		"start_at":   p.startAt.Format(time.RFC3339),
		"end_at":     p.endAt.Format(time.RFC3339),
		"source":     p.source,
	})
	if err != nil {
		return 0, nil, err
	}

	url := strings.TrimRight(baseURL, "/") + "/api/v1/appointments/book"
	outcomes := make([]string, p.workers)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				outcomes[i] = "error: " + err.Error()
				return
			}
			defer resp.Body.Close()
			outcomes[i] = fmt.Sprintf("http %d", resp.StatusCode)
		}(i)
	}
	wg.Wait()

	created := fmt.Sprintf("http %d", http.StatusCreated)
	wins := 0
	dist := map[string]int{}
	for _, o := range outcomes {
		dist[o]++
		if o == created {
			wins++
		}
	}
	return wins, dist, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
