// Cbtest walks the dashboard through an upstream outage against flakymarine
// and prints how each request was answered: fresh, cached, stale, 502 or a
// fail-fast 503.
//
// Usage:
//
//	go run ./scripts/cbtest -api http://localhost:8080 -upstream http://localhost:8091
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

func main() {
	var (
		apiURL      = flag.String("api", "http://localhost:8080", "Dashboard API URL")
		upstreamURL = flag.String("upstream", "http://localhost:8091", "flakymarine URL")
		port        = flag.String("port", "AEJEA", "Port code to request")
		requests    = flag.Int("requests", 6, "Requests per phase")
	)
	flag.Parse()

	client := &http.Client{Timeout: 30 * time.Second}
	target := *apiURL + "/api/marine?port=" + *port

	fmt.Println(colorCyan + "━━━ CIRCUIT BREAKER & STALE FALLBACK TEST ━━━" + colorReset)
	fmt.Println()

	fmt.Println(colorBlue + "PHASE 1: Normal operation" + colorReset)
	if err := forceStatus(client, *upstreamURL, 0); err != nil {
		fmt.Printf(colorRed+"  Could not reach flakymarine: %v\n"+colorReset, err)
		os.Exit(1)
	}
	runPhase(client, target, *requests)

	fmt.Println(colorBlue + "PHASE 2: Upstream outage with a cached snapshot" + colorReset)
	fmt.Println("  Requests are answered from cache until the TTL expires, then served stale.")
	_ = forceStatus(client, *upstreamURL, http.StatusInternalServerError)
	runPhase(client, target, *requests)

	fmt.Println(colorBlue + "PHASE 3: Outage on an uncached port" + colorReset)
	fmt.Println("  Expect 502 until the circuit opens, then 503 with Retry-After.")
	runPhase(client, *apiURL+"/api/marine?port=AEFJR", *requests)

	fmt.Println(colorBlue + "PHASE 4: Health" + colorReset)
	printHealth(client, *apiURL+"/health")

	_ = forceStatus(client, *upstreamURL, 0)
	fmt.Println()
	fmt.Println("Upstream restored. The next request after the cooldown probes the circuit.")
}

func runPhase(client *http.Client, url string, n int) {
	for i := 0; i < n; i++ {
		start := time.Now()
		resp, err := client.Get(url)
		if err != nil {
			fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
			continue
		}

		var body map[string]any
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		_ = json.Unmarshal(data, &body)

		took := time.Since(start).Round(time.Millisecond)
		switch {
		case resp.StatusCode == http.StatusOK && body["stale"] == true:
			fmt.Printf(colorYellow+"  Request %d: 200 stale (fetchedAt %v) %v\n"+colorReset, i+1, body["fetchedAt"], took)
		case resp.StatusCode == http.StatusOK:
			fmt.Printf(colorGreen+"  Request %d: 200 cached=%v ioi=%v %v\n"+colorReset, i+1, body["cached"], body["ioi"], took)
		case resp.StatusCode == http.StatusServiceUnavailable:
			fmt.Printf(colorYellow+"  Request %d: 503 circuit open, Retry-After=%s %v\n"+colorReset,
				i+1, resp.Header.Get("Retry-After"), took)
		default:
			fmt.Printf(colorRed+"  Request %d: %d %v %v\n"+colorReset, i+1, resp.StatusCode, body["error"], took)
		}
	}
	fmt.Println()
}

func forceStatus(client *http.Client, upstreamURL string, status int) error {
	resp, err := client.Post(fmt.Sprintf("%s/control?status=%d", upstreamURL, status), "text/plain", nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("control returned %d", resp.StatusCode)
	}
	return nil
}

func printHealth(client *http.Client, url string) {
	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf(colorRed+"  Could not fetch health: %v\n"+colorReset, err)
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status   string `json:"status"`
		Circuits map[string]struct {
			State        string `json:"state"`
			FailureCount int    `json:"failure_count"`
		} `json:"circuits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fmt.Printf(colorRed+"  Could not decode health: %v\n"+colorReset, err)
		return
	}

	fmt.Printf("  status: %s\n", health.Status)
	for key, c := range health.Circuits {
		color := colorGreen
		if c.State != "CLOSED" {
			color = colorRed
		}
		fmt.Printf("    %s → %s%s%s (failures: %d)\n", key, color, c.State, colorReset, c.FailureCount)
	}
}
