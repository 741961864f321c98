// http-loadgen is a tiny, dependency-free HTTP load generator for exercising
// the control plane's edge gateway. It reuses HTTP connections (keep-alive)
// and supports concurrency so demo scripts run fast on Windows (Git Bash),
// Ubuntu (WSL), and macOS without relying on external tools.
//
// Modes:
//   - single: send N requests for a single episode kind
//   - zipf:   approximate 80/20 skew (hot/cold) without PRNG: send the hot
//     kind 4/5 of the time
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8080 -mode=single -kind=deploy.request -n=5000 -c=16
//	http-loadgen -base=http://127.0.0.1:8080 -mode=zipf -hot_kind=alert.triage -cold_kinds=50 -n=8000 -c=16 -api_key=$CYBERNETIC_SYSTEM_API_KEY
//
// Notes:
//   - Posts a JSON episode body to /v1/generate (kind, title, priority).
//   - Authenticates with -api_key (X-API-Key) when set; otherwise relies on
//     the gateway's development-mode default tenant.
//   - Prints a one-line summary with duration and approximate throughput.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modeSingle modeType = "single"
	modeZipf   modeType = "zipf"
)

func main() {
	var (
		base      = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		path      = flag.String("path", "/v1/generate", "Request path")
		apiKey    = flag.String("api_key", "", "X-API-Key header value; empty relies on dev-mode default tenant")
		tenant    = flag.String("tenant", "", "Optional X-Tenant-Id header")
		modeS     = flag.String("mode", string(modeSingle), "Mode: single|zipf")
		kind      = flag.String("kind", "demo.episode", "Episode kind for single mode")
		hotKind   = flag.String("hot_kind", "alert.triage", "Hot episode kind for zipf mode")
		coldN     = flag.Int("cold_kinds", 50, "Number of cold episode kinds to round-robin in zipf mode")
		N         = flag.Int("n", 5000, "Total requests to send")
		conc      = flag.Int("c", 8, "Number of concurrent workers")
		// Deterministic skew: hotEvery=5 means 4/5 go to the hot kind, 1/5 to a cold kind.
		hotEvery = flag.Int("hot_every", 5, "Zipf-like skew period (4 of this period go to hot; minimum 2)")
		// Timeouts & transport tuning
		timeout    = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle   = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle    = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePer = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modeSingle && m != modeZipf {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want single|zipf)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeZipf {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_kinds must be > 0 in zipf mode")
			os.Exit(2)
		}
		if *hotEvery < 2 { // at least 1 hot : 1 cold
			*hotEvery = 2
		}
	}

	baseURL := strings.TrimRight(*base, "/")
	p := *path
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	fullPath := baseURL + p

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePer,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done, failed int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			var k string
			if m == modeSingle {
				k = *kind
			} else {
				// 80/20-ish deterministic skew: (i+id)%hotEvery != 0 => hot kind
				if ((i + id) % *hotEvery) != 0 {
					k = *hotKind
				} else {
					idx := ((i + id) % *coldN) + 1
					k = fmt.Sprintf("cold.%d", idx)
				}
			}

			body := []byte(fmt.Sprintf(`{"kind":%q,"title":"loadgen","priority":1}`, k))
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, fullPath, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			if *apiKey != "" {
				req.Header.Set("X-API-Key", *apiKey)
			}
			if *tenant != "" {
				req.Header.Set("X-Tenant-Id", *tenant)
			}

			resp, err := client.Do(req)
			if err == nil {
				if resp.StatusCode >= 400 {
					atomic.AddInt64(&failed, 1)
				}
				// Drain and close body to enable connection reuse
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			} else {
				atomic.AddInt64(&failed, 1)
				// Brief backoff on errors to avoid hot spinning
				time.Sleep(200 * time.Microsecond)
			}
		}
	}

	// Split N across conc workers
	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s Failed=%d\n",
		m, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops, atomic.LoadInt64(&failed))
}
