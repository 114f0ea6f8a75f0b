package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/whisper/reveal/loadtest/client"
	"github.com/whisper/reveal/loadtest/stats"
)

// runWatch connects clients that each watch a series of streams and
// records how long the first reveal and the completion take.
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	metricsURL := fs.String("metrics", "", "Server metrics URL to scrape (empty disables)")
	clients := fs.Int("clients", 100, "Number of concurrent clients")
	streams := fs.Int("streams", 5, "Streams watched by each client, one after another")
	words := fs.Int("words", 40, "Words of text per stream")
	rampUp := fs.Duration("ramp", 5*time.Second, "Ramp-up duration")
	skipAfter := fs.Duration("skip-after", 0, "Skip each stream after this long (0 never skips)")
	priority := fs.Bool("priority", false, "Watch at priority speed")
	timeout := fs.Duration("timeout", 2*time.Minute, "Per-stream completion timeout")
	fs.Parse(args)

	fmt.Printf("Watch test: %d clients x %d streams of %d words against %s\n",
		*clients, *streams, *words, *url)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := stats.NewCollector()
	if *metricsURL != "" {
		scraper := stats.NewScraper(*metricsURL, 2*time.Second)
		scraper.Start(ctx)
		defer scraper.Stop()
		collector.SetScraper(scraper)
	}

	text := sampleText(*words)
	start := time.Now()

	ramp(ctx, *clients, *rampUp, *clients, func(ctx context.Context) {
		c, err := dial(ctx, *url, collector)
		if err != nil {
			return
		}
		defer c.Close()

		for i := 0; i < *streams; i++ {
			if ctx.Err() != nil {
				return
			}
			streamID := fmt.Sprintf("%s-%d", c.SessionID(), i)
			if err := watchOne(ctx, c, streamID, text, *priority, *skipAfter, *timeout, collector); err != nil {
				collector.AddError()
				return
			}
		}
	})

	fmt.Printf("\nFinished in %s: %d reveals completed, %d errors\n",
		time.Since(start).Round(time.Millisecond), collector.CompletedCount(), collector.ErrorCount())
	collector.Report()
}

// watchOne watches a single stream until its complete message arrives.
func watchOne(ctx context.Context, c *client.Client, streamID, text string, priority bool,
	skipAfter, timeout time.Duration, collector *stats.Collector) error {

	firstReveal := make(chan struct{}, 1)
	complete := make(chan client.Complete, 1)
	failed := make(chan string, 1)

	c.On(client.TypeReveal, func(raw json.RawMessage) {
		var r client.Reveal
		if json.Unmarshal(raw, &r) == nil && r.StreamID == streamID {
			select {
			case firstReveal <- struct{}{}:
			default:
			}
		}
	})
	c.On(client.TypeComplete, func(raw json.RawMessage) {
		var m client.Complete
		if json.Unmarshal(raw, &m) == nil && m.StreamID == streamID {
			select {
			case complete <- m:
			default:
			}
		}
	})
	c.On(client.TypeError, func(raw json.RawMessage) {
		select {
		case failed <- string(raw):
		default:
		}
	})

	start := time.Now()
	if err := c.Watch(streamID, text, priority); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	var skip <-chan time.Time
	if skipAfter > 0 {
		t := time.NewTimer(skipAfter)
		defer t.Stop()
		skip = t.C
	}

	gotFirst := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.Done():
			return fmt.Errorf("connection closed")
		case <-deadline.C:
			return fmt.Errorf("stream %s: no completion after %s", streamID, timeout)
		case msg := <-failed:
			return fmt.Errorf("stream %s: %s", streamID, msg)
		case <-skip:
			skip = nil
			if err := c.Skip(streamID); err != nil {
				return err
			}
		case <-firstReveal:
			if !gotFirst {
				gotFirst = true
				collector.AddFirstReveal(time.Since(start))
			}
		case m := <-complete:
			collector.AddComplete(time.Since(start), m.Truncated)
			return nil
		}
	}
}

var lorem = strings.Fields("the quick brown fox jumps over a lazy dog while streaming tokens arrive one after another")

func sampleText(words int) string {
	out := make([]string, words)
	for i := range out {
		out[i] = lorem[i%len(lorem)]
	}
	return strings.Join(out, " ")
}
