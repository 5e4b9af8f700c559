// Command streamload opens many concurrent subscriptions to the vault event
// stream and reports how many events of each kind every subscriber received.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type counters struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	events      atomic.Int64

	mu     sync.Mutex
	byKind map[string]int64
}

func (c *counters) record(kind string) {
	c.events.Add(1)
	c.mu.Lock()
	c.byKind[kind]++
	c.mu.Unlock()
}

func (c *counters) kinds() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.byKind))
	for k := range c.byKind {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, c.byKind[k]))
	}
	return strings.Join(parts, " ")
}

func main() {
	var (
		baseURL      string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
		after        uint64
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080/v1/events/stream", "event stream URL")
	flag.IntVar(&connections, "conns", 100, "number of concurrent subscribers")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread subscriber starts across this window")
	flag.Uint64Var(&after, "after", 0, "replay events after this journal index")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}

	target, err := url.Parse(baseURL)
	if err != nil {
		logger.Fatal("invalid url", zap.Error(err))
	}
	if after > 0 {
		q := target.Query()
		q.Set("after", strconv.FormatUint(after, 10))
		target.RawQuery = q.Encode()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 10,
			MaxIdleConnsPerHost: connections + 10,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	logger.Info("starting stream load",
		zap.String("url", target.String()),
		zap.Int("conns", connections),
		zap.Duration("duration", testDuration),
		zap.Duration("ramp", rampUp))

	stats := &counters{byKind: make(map[string]int64)}
	start := time.Now()

	go report(ctx, logger, stats, start)

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	var g errgroup.Group
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		g.Go(func() error {
			subscribe(ctx, client, target.String(), stats)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	logger.Info("done",
		zap.Int64("connected", stats.connected.Load()),
		zap.Int64("connect_errs", stats.connectErrs.Load()),
		zap.Int64("stream_errs", stats.streamErrs.Load()),
		zap.Int64("events", stats.events.Load()),
		zap.String("by_kind", stats.kinds()),
		zap.Float64("events_per_sec", float64(stats.events.Load())/elapsed.Seconds()),
		zap.Duration("elapsed", elapsed.Truncate(time.Millisecond)))
}

func subscribe(ctx context.Context, client *http.Client, target string, stats *counters) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		stats.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		stats.connectErrs.Add(1)
		return
	}
	stats.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if kind, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			stats.record(kind)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		stats.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, stats *counters, start time.Time) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status",
				zap.Int64("connected", stats.connected.Load()),
				zap.Int64("connect_errs", stats.connectErrs.Load()),
				zap.Int64("stream_errs", stats.streamErrs.Load()),
				zap.Int64("events", stats.events.Load()),
				zap.Duration("elapsed", time.Since(start).Truncate(time.Second)))
		}
	}
}
