package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/whisper/reveal/loadtest/client"
	"github.com/whisper/reveal/loadtest/stats"
)

// runSaturate opens idle connections at a steady rate and holds them,
// reporting how many the server drops.
func runSaturate(args []string) {
	fs := flag.NewFlagSet("saturate", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Server metrics URL to scrape (empty disables)")
	connections := fs.Int("connections", 1000, "Number of connections to open")
	rampUp := fs.Duration("ramp", 10*time.Second, "Ramp-up duration")
	hold := fs.Duration("hold", 30*time.Second, "Hold duration after all connections are open")
	concurrency := fs.Int("concurrency", 50, "Maximum simultaneous connection attempts")
	fs.Parse(args)

	fmt.Printf("Saturate test: %d connections to %s (ramp=%s, hold=%s, concurrency=%d)\n",
		*connections, *url, *rampUp, *hold, *concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	var (
		mu      sync.Mutex
		clients = make([]*client.Client, 0, *connections)
	)

	fmt.Println("\n--- Ramp-up ---")
	progress := startProgress(collector, *connections)
	rampStart := time.Now()

	interrupted := ramp(ctx, *connections, *rampUp, *concurrency, func(ctx context.Context) {
		c, err := dial(ctx, *url, collector)
		if err != nil {
			return
		}
		mu.Lock()
		clients = append(clients, c)
		mu.Unlock()
	})
	progress()

	fmt.Printf("\nRamp-up complete: %d/%d connections in %s (%d errors)\n",
		collector.ConnectionCount(), *connections,
		time.Since(rampStart).Round(time.Millisecond), collector.ErrorCount())

	dropped := 0
	if !interrupted {
		mu.Lock()
		held := append([]*client.Client(nil), clients...)
		mu.Unlock()
		dropped = holdOpen(ctx, held, *hold)
	}

	fmt.Println("\n--- Cleanup ---")
	mu.Lock()
	fmt.Printf("Closing %d connections...\n", len(clients))
	for _, c := range clients {
		c.Close()
	}
	mu.Unlock()

	if dropped > 0 {
		fmt.Printf("\nConnections dropped during hold: %d\n", dropped)
	}
	collector.Report()
}

// ramp launches n calls of fn spread over d, at most concurrency at a time.
// It reports whether ctx was cancelled before all were launched.
func ramp(ctx context.Context, n int, d time.Duration, concurrency int, fn func(context.Context)) bool {
	interval := d / time.Duration(n)
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for launched := 0; launched < n; launched++ {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during ramp-up.")
			return true
		case <-ticker.C:
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx)
		}()
	}
	return false
}

// dial connects and waits for session_created, recording the outcome.
func dial(ctx context.Context, url string, collector *stats.Collector) (*client.Client, error) {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.New(connCtx, url)
	if err != nil {
		collector.AddError()
		return nil, err
	}
	if err := c.WaitForSession(connCtx); err != nil {
		collector.AddError()
		c.Close()
		return nil, err
	}
	collector.AddConnect(c.GetMetrics().ConnectLatency)
	return c, nil
}

// startProgress prints connection progress every second until the
// returned func is called.
func startProgress(collector *stats.Collector, target int) func() {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		last, lastTime := 0, time.Now()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				conns := collector.ConnectionCount()
				rate := float64(conns-last) / now.Sub(lastTime).Seconds()
				fmt.Printf("  [ramp] connections: %d/%d  errors: %d  rate: %.1f conn/s\n",
					conns, target, collector.ErrorCount(), rate)
				last, lastTime = conns, now
			case <-stop:
				return
			}
		}
	}()
	return func() {
		close(stop)
		wg.Wait()
	}
}

// holdOpen waits for d and returns how many clients disconnected meanwhile.
func holdOpen(ctx context.Context, clients []*client.Client, d time.Duration) int {
	fmt.Println("\n--- Hold ---")
	fmt.Printf("Holding %d connections for %s...\n", len(clients), d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	status := time.NewTicker(5 * time.Second)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted during hold.")
			return countDropped(clients)
		case <-timer.C:
			fmt.Println("\nHold period complete.")
			return countDropped(clients)
		case <-status.C:
			dropped := countDropped(clients)
			fmt.Printf("  [hold] alive: %d/%d  dropped: %d\n",
				len(clients)-dropped, len(clients), dropped)
		}
	}
}

func countDropped(clients []*client.Client) int {
	dropped := 0
	for _, c := range clients {
		select {
		case <-c.Done():
			dropped++
		default:
		}
	}
	return dropped
}
