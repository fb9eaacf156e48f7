// Command guard-loadtest measures refresh rotation and rate counter
// throughput against Redis and checks that concurrent rotations of one
// refresh token produce a single winner.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/refresh"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type subjectState struct {
	mu    sync.Mutex
	value string
}

func main() {
	var (
		subjects    = flag.Int("subjects", 10000, "number of subjects to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		racers      = flag.Int("racers", 16, "concurrent rotations of the same token in the race phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, GUARD_REDIS_ADDR or miniredis is used")
		prefix      = flag.String("prefix", "loadtest:", "key prefix")
	)
	flag.Parse()

	if *subjects <= 0 || *concurrency <= 0 || *ops <= 0 || *racers <= 1 {
		fmt.Fprintln(os.Stderr, "subjects, concurrency and ops must be > 0, racers > 1")
		os.Exit(2)
	}

	ctx := context.Background()
	client, cleanup, err := connect(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	store := refresh.NewRedisStore(client, *prefix+"rt:", time.Hour, nil)
	states := make([]subjectState, *subjects)

	fmt.Printf("seeding %d subjects...\n", *subjects)
	seedStart := time.Now()
	for i := range states {
		tok, err := store.Create(ctx, fmt.Sprintf("subject-%d", i))
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		states[i].value = tok.Value
	}
	fmt.Printf("seeded in %s\n", time.Since(seedStart).Round(time.Millisecond))

	rotateStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		st := &states[r.Intn(len(states))]
		st.mu.Lock()
		defer st.mu.Unlock()
		next, err := store.Rotate(ctx, st.value)
		if err != nil {
			return err
		}
		st.value = next.Value
		return nil
	})

	counter := rate.NewRedisCounter(client, *prefix, nil)
	admitStats := runPhase(*ops, *concurrency, func(r *rand.Rand, _ int) error {
		_, err := counter.Admit(ctx, fmt.Sprintf("rl:ip:10.0.%d.%d", r.Intn(256), r.Intn(256)), time.Minute, 100)
		return err
	})

	violations := racePhase(ctx, store, states, *racers)

	fmt.Println("---- results ----")
	printStats("rotate", rotateStats)
	printStats("admit", admitStats)
	fmt.Printf("race: tokens=%d racers=%d violations=%d\n", min(len(states), 1000), *racers, violations)
	if violations > 0 {
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("GUARD_REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// racePhase rotates up to 1000 seeded tokens from racers goroutines each
// and counts tokens that did not end with exactly one successful rotation
// and racers-1 replay rejections.
func racePhase(ctx context.Context, store refresh.Store, states []subjectState, racers int) int {
	n := min(len(states), 1000)
	violations := 0
	for i := 0; i < n; i++ {
		value := states[i].value
		var wins, replays atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for j := 0; j < racers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := store.Rotate(ctx, value)
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, refresh.ErrReplayDetected):
					replays.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if wins.Load() != 1 || replays.Load() != int64(racers-1) {
			violations++
		}
	}
	return violations
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		mu        sync.Mutex
		latencies = make([]time.Duration, 0, ops)
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			local := make([]time.Duration, 0, ops/concurrency+1)
			for {
				i := int(cursor.Add(1)) - 1
				if i >= ops {
					break
				}
				t0 := time.Now()
				if err := op(r, i); err != nil {
					failures.Add(1)
				}
				local = append(local, time.Since(t0))
			}
			mu.Lock()
			latencies = append(latencies, local...)
			mu.Unlock()
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

// percentile expects sorted samples.
func percentile(samples []time.Duration, p int) time.Duration {
	switch {
	case len(samples) == 0:
		return 0
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
