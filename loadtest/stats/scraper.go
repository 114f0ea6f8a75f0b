package stats

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// trackedSeries are the server series shown in the report, in order.
// Labeled series are summed across label sets.
var trackedSeries = []struct {
	label, name string
}{
	{"Connections", "reveal_connections_total"},
	{"Active Reveals", "reveal_active_sessions"},
	{"Completed", "reveal_completed_total"},
	{"Effects", "reveal_effects_total"},
	{"Messages Total", "reveal_messages_total"},
}

// trackedHistograms are reported as averages over the test window.
var trackedHistograms = []struct {
	label, name string
}{
	{"Msg Latency", "reveal_message_latency_seconds"},
	{"Reveal Duration", "reveal_duration_seconds"},
}

// sample is one scrape: series name to value.
type sample struct {
	at     time.Time
	values map[string]float64
}

// Scraper polls the server's /metrics endpoint during a test so the report
// can show how server-side series moved.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	samples []sample

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a Scraper for url polling every interval.
func NewScraper(url string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes once immediately and then every interval until ctx ends or
// Stop is called. A final scrape is taken on the way out.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrape()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrape()
				return
			case <-ticker.C:
				s.scrape()
			}
		}
	}()
}

// Stop ends the scrape loop and waits for it.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// scrape records one sample. Failures are ignored; the server may not be
// up yet.
func (s *Scraper) scrape() {
	resp, err := s.client.Get(s.url)
	if err != nil {
		return
	}
	defer resp.Body.Close()

	values, err := parseExposition(resp.Body)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.samples = append(s.samples, sample{at: time.Now(), values: values})
	s.mu.Unlock()
}

// parseExposition sums every series in Prometheus text format by name,
// dropping labels.
func parseExposition(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if name, v, ok := parseMetricLine(scanner.Text()); ok {
			values[name] += v
		}
	}
	return values, scanner.Err()
}

// parseMetricLine splits `name{labels} value` or `name value` into the bare
// name and its value.
func parseMetricLine(line string) (name string, value float64, ok bool) {
	if len(line) == 0 || line[0] == '#' {
		return "", 0, false
	}

	rest := line
	if open := strings.IndexByte(line, '{'); open != -1 {
		end := strings.LastIndexByte(line, '}')
		if end < open {
			return "", 0, false
		}
		name, rest = line[:open], line[end+1:]
	} else {
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return "", 0, false
		}
		name, rest = line[:i], line[i:]
	}

	fields := strings.Fields(rest)
	if name == "" || len(fields) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

// Report prints the first, last, delta and peak of each tracked series and
// the average of each tracked histogram over the test.
func (s *Scraper) Report() {
	s.mu.Lock()
	samples := append([]sample(nil), s.samples...)
	s.mu.Unlock()

	if len(samples) == 0 {
		fmt.Println("\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := samples[0], samples[len(samples)-1]

	fmt.Println("\n--- Server Metrics (Prometheus) ---")
	fmt.Printf("  Scrape count:  %d snapshots over %s\n",
		len(samples), last.at.Sub(first.at).Round(time.Second))

	fmt.Println()
	fmt.Printf("  %-16s %10s %10s %10s %10s\n", "Metric", "Initial", "Final", "Delta", "Peak")
	for _, series := range trackedSeries {
		a, b := first.values[series.name], last.values[series.name]
		fmt.Printf("  %-16s %10.0f %10.0f %10.0f %10.0f\n",
			series.label, a, b, b-a, peak(samples, series.name))
	}

	fmt.Println()
	for _, h := range trackedHistograms {
		sum := last.values[h.name+"_sum"] - first.values[h.name+"_sum"]
		count := last.values[h.name+"_count"] - first.values[h.name+"_count"]
		if count > 0 {
			fmt.Printf("  %-16s avg: %.4fs  (%.0f observations)\n", h.label, sum/count, count)
		} else {
			fmt.Printf("  %-16s avg: N/A  (no observations)\n", h.label)
		}
	}
}

func peak(samples []sample, name string) float64 {
	p := math.Inf(-1)
	for _, s := range samples {
		p = math.Max(p, s.values[name])
	}
	return p
}
