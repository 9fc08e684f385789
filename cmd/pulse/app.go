package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/pgvanniekerk/pulse/internal/config"
	"github.com/pgvanniekerk/pulse/internal/metrics"
	"github.com/pgvanniekerk/pulse/internal/stats"
	"github.com/pgvanniekerk/pulse/pkg/pulse"
)

// app is a configured pool plus the observers wired into it.
type app struct {
	cfg config.Config
	out io.Writer

	pool     *pulse.Pool[time.Duration, string]
	metrics  *metrics.Collector
	store    *stats.MemoryStore
	recorder *stats.Recorder
	rdb      *redis.Client

	stopMetrics context.CancelFunc
	metricsDone chan error
}

func newApp(ctx context.Context, cfg config.Config, out io.Writer) (*app, error) {
	a := &app{
		cfg:     cfg,
		out:     out,
		metrics: metrics.New(nil),
	}

	var store stats.Store
	if cfg.Stats.RedisAddr != "" {
		rdb, err := stats.NewRedisClient(ctx, cfg.Stats.RedisAddr, cfg.Stats.RedisPassword, cfg.Stats.RedisDB)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
		store = stats.NewRedisStore(rdb,
			stats.WithRedisPrefix(cfg.Stats.Prefix),
			stats.WithRedisTTL(cfg.Stats.TTL),
			stats.WithRedisTrackNames(cfg.Stats.TrackNames),
		)
		log.Notice("Recording stats to redis at %s", cfg.Stats.RedisAddr)
	} else {
		a.store = stats.NewMemoryStore(stats.WithTrackNames(cfg.Stats.TrackNames))
		store = a.store
	}
	a.recorder = stats.NewRecorder(store,
		stats.WithTimeout(cfg.Stats.Timeout),
		stats.WithBuffer(cfg.Stats.Buffer),
	)

	if cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		a.stopMetrics = cancel
		a.metricsDone = make(chan error, 1)
		go func() {
			a.metricsDone <- a.metrics.Serve(metricsCtx, cfg.MetricsAddr)
		}()
	}

	a.pool = pulse.New[time.Duration, string](
		pulse.WithCapacity(cfg.Capacity),
		pulse.WithObserver(a.metrics),
		pulse.WithObserver(a.recorder),
	)
	return a, nil
}

// Close shuts the pool down and stops everything newApp started.
func (a *app) Close() error {
	var result *multierror.Error

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.pool.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	a.recorder.Close()
	if a.recorder.Failed() > 0 || a.recorder.Dropped() > 0 {
		log.Warning("Lost %d stats event(s): %d failed, %d dropped",
			a.recorder.Failed()+a.recorder.Dropped(), a.recorder.Failed(), a.recorder.Dropped())
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing redis: %w", err))
		}
	}

	if a.stopMetrics != nil {
		a.stopMetrics()
		if err := <-a.metricsDone; err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// sleeper is the work run by every CLI worker.
func sleeper(ctx context.Context, d time.Duration) (string, error) {
	select {
	case <-time.After(d):
		return "doing work!", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// demo spawns a single worker, looks it up by name and joins it.
func (a *app) demo(ctx context.Context, name string) error {
	if _, err := a.pool.Spawn(name, sleeper, 0); err != nil {
		return fmt.Errorf("spawning %q: %s", name, pulse.Describe(pulse.CodeOf(err)))
	}

	a.printSlots()

	h, ok := a.pool.FindByName(name)
	if !ok {
		fmt.Fprintln(a.out, "null thread!")
		return nil
	}

	fmt.Fprintln(a.out, "joining thread!")
	msg, err := a.pool.Join(h)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	a.printStats(ctx)
	return nil
}

// printSlots lists every occupied slot.
func (a *app) printSlots() {
	slots := a.pool.Slots()
	fmt.Fprintf(a.out, "%d/%d slots in use\n", len(slots), a.pool.Capacity())
	for _, s := range slots {
		state := "running"
		if s.Terminating {
			state = "terminating"
		}
		fmt.Fprintf(a.out, "  %-10s %-40s %s since %s\n", s.Handle, s.Name, state, s.StartedAt.Format("15:04:05.000"))
	}
}

// printStats prints the lifecycle totals once every queued event is stored.
// Nothing is printed when stats go to redis.
func (a *app) printStats(ctx context.Context) {
	if a.store == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(ctx, a.cfg.Stats.Timeout)
	defer cancel()
	if err := a.recorder.Flush(flushCtx); err != nil {
		log.Warning("Stats may be incomplete: %s", err)
	}

	total := a.store.Total()
	fmt.Fprintf(a.out, "stats: %s spawned, %s rejected, %s released\n",
		humanize.Comma(total.Spawned), humanize.Comma(total.Rejected), humanize.Comma(total.Released))
	hows := make([]string, 0, len(total.ByHow))
	for how := range total.ByHow {
		hows = append(hows, how)
	}
	sort.Strings(hows)
	for _, how := range hows {
		fmt.Fprintf(a.out, "  released by %s: %s\n", how, humanize.Comma(total.ByHow[how]))
	}
	if total.Released > 0 {
		avg := total.Lifetime / time.Duration(total.Released)
		fmt.Fprintf(a.out, "  average slot lifetime: %s\n", avg.Round(time.Microsecond))
	}

	byName := a.store.ByName()
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := byName[name]
		fmt.Fprintf(a.out, "  %s: %d spawned, %d rejected, %d released\n", name, c.Spawned, c.Rejected, c.Released)
	}
}

// describe prints the description of each code.
func (a *app) describe(codes []int32) {
	for _, code := range codes {
		fmt.Fprintf(a.out, "%d: %s\n", code, pulse.Describe(pulse.ErrorCode(code)))
	}
}

type loadOptions struct {
	Workers  int
	Rate     float64
	Duration time.Duration
	Sleep    time.Duration
	Wait     bool
}

type loadReport struct {
	Attempts int64
	Spawned  int64
	Rejected int64
	Joined   int64
	Elapsed  time.Duration
}

// load spawns sleeping workers from opts.Workers goroutines, paced to
// opts.Rate attempts per second overall, for opts.Duration. Every spawned
// worker is joined before it returns.
func (a *app) load(ctx context.Context, opts loadOptions) (loadReport, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Rate <= 0 {
		return loadReport{}, fmt.Errorf("invalid rate %v: must be positive", opts.Rate)
	}

	var attempts, spawned, rejected, joined atomic.Int64
	limiter := rate.NewLimiter(rate.Limit(opts.Rate), opts.Workers)
	start := time.Now()

	loadCtx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var g errgroup.Group
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for {
				if err := limiter.Wait(loadCtx); err != nil {
					return nil
				}
				attempts.Add(1)

				name := "load-" + uuid.NewString()
				h, err := a.spawn(loadCtx, name, opts)
				if errors.Is(err, pulse.ErrMaxThreadsReached) {
					rejected.Add(1)
					continue
				} else if err != nil {
					if loadCtx.Err() != nil {
						return nil
					}
					return err
				}
				spawned.Add(1)

				g.Go(func() error {
					if _, err := a.pool.Join(h); err != nil {
						return fmt.Errorf("joining %s: %w", name, err)
					}
					joined.Add(1)
					return nil
				})
			}
		})
	}
	err := g.Wait()

	report := loadReport{
		Attempts: attempts.Load(),
		Spawned:  spawned.Load(),
		Rejected: rejected.Load(),
		Joined:   joined.Load(),
		Elapsed:  time.Since(start),
	}
	a.printReport(report)
	a.printStats(ctx)
	return report, err
}

func (a *app) spawn(ctx context.Context, name string, opts loadOptions) (pulse.Handle, error) {
	if opts.Wait {
		return a.pool.SpawnWait(ctx, name, sleeper, opts.Sleep)
	}
	return a.pool.Spawn(name, sleeper, opts.Sleep)
}

func (a *app) printReport(r loadReport) {
	rejectedPct := 0.0
	if r.Attempts > 0 {
		rejectedPct = 100 * float64(r.Rejected) / float64(r.Attempts)
	}
	fmt.Fprintf(a.out, "%s attempts in %s on %d slots\n", humanize.Comma(r.Attempts), r.Elapsed.Round(time.Millisecond), a.pool.Capacity())
	fmt.Fprintf(a.out, "  spawned:  %s\n", humanize.Comma(r.Spawned))
	fmt.Fprintf(a.out, "  joined:   %s\n", humanize.Comma(r.Joined))
	fmt.Fprintf(a.out, "  rejected: %s (%s%%) %s\n", humanize.Comma(r.Rejected),
		humanize.Ftoa(math.Round(rejectedPct*10)/10), pulse.Describe(pulse.ErrorMaxThreadsReached))
}
