// Package main implements pulse, a small command line driver for the worker
// pool. It runs the canonical spawn/find/join example, generates paced load
// against a pool, and decodes error codes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thought-machine/go-flags"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/op/go-logging.v1"

	"github.com/pgvanniekerk/pulse/internal/config"
	internallog "github.com/pgvanniekerk/pulse/internal/logging"
)

var log = logging.MustGetLogger("main")

type options struct {
	Usage string

	Config      string `short:"c" long:"config" description:"YAML or JSON config file"`
	Capacity    int    `long:"capacity" description:"Number of worker slots; overrides the config file"`
	Verbose     []bool `short:"v" long:"verbose" description:"Increase log verbosity; may be repeated"`
	MetricsAddr string `long:"metrics-addr" description:"Serve Prometheus metrics on this address, e.g. :9100"`
	RedisAddr   string `long:"redis-addr" description:"Record lifecycle stats in Redis at this address"`

	Demo struct {
		Name string `short:"n" long:"name" default:"my_thread" description:"Name to spawn the worker under"`
	} `command:"demo" description:"Spawns one named worker, finds it by name and joins it"`

	Load struct {
		Workers  int           `short:"w" long:"workers" default:"4" description:"Number of concurrent spawners"`
		Rate     float64       `short:"r" long:"rate" default:"50" description:"Spawn attempts per second across all spawners"`
		Duration time.Duration `short:"d" long:"duration" default:"5s" description:"How long to generate load for"`
		Sleep    time.Duration `long:"sleep" default:"100ms" description:"How long each worker runs"`
		Wait     bool          `long:"wait" description:"Wait for a free slot instead of counting a rejection"`
	} `command:"load" description:"Spawns sleeping workers at a fixed rate and reports rejections"`

	Describe struct {
		Args struct {
			Codes []int32 `positional-arg-name:"code" required:"true" description:"Error codes to describe"`
		} `positional-args:"true"`
	} `command:"describe" description:"Prints the description of one or more error codes"`
}

var opts = options{
	Usage: `
pulse drives a fixed-capacity pool of named worker slots.

A pool never queues: once every slot is taken, spawning fails with
MAX_THREADS_REACHED until a worker is joined, detached or cancelled.
`,
}

// commands maps the active command to the function that runs it.
var commands = map[string]func(ctx context.Context, a *app) error{
	"demo": func(ctx context.Context, a *app) error {
		return a.demo(ctx, opts.Demo.Name)
	},
	"load": func(ctx context.Context, a *app) error {
		_, err := a.load(ctx, loadOptions{
			Workers:  opts.Load.Workers,
			Rate:     opts.Load.Rate,
			Duration: opts.Load.Duration,
			Sleep:    opts.Load.Sleep,
			Wait:     opts.Load.Wait,
		})
		return err
	},
	"describe": func(ctx context.Context, a *app) error {
		a.describe(opts.Describe.Args.Codes)
		return nil
	},
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.LongDescription = opts.Usage
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		internallog.Init(internallog.MaxVerbosity)
		log.Fatalf("%s", err)
	}
	internallog.Init(internallog.Verbosity(cfg.Verbosity))

	if _, err := maxprocs.Set(maxprocs.Logger(log.Debugf)); err != nil {
		log.Warning("Failed to set GOMAXPROCS: %s", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, os.Stdout)
	if err != nil {
		log.Fatalf("%s", err)
	}

	runErr := commands[parser.Active.Name](ctx, a)
	if err := a.Close(); err != nil {
		log.Error("%s", err)
	}
	if runErr != nil {
		log.Fatalf("%s", runErr)
	}
}

// resolveConfig loads the config file and applies command line overrides.
func resolveConfig(o options) (config.Config, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return cfg, err
	}
	if o.Capacity > 0 {
		cfg.Capacity = o.Capacity
	}
	cfg.Verbosity += len(o.Verbose)
	if o.MetricsAddr != "" {
		cfg.MetricsAddr = o.MetricsAddr
	}
	if o.RedisAddr != "" {
		cfg.Stats.RedisAddr = o.RedisAddr
	}
	return cfg, nil
}
