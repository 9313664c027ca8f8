// Command picture runs the tactical picture pipeline over a detection source
// and persists its audit log.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tactical.picture/internal/config"
	"github.com/banshee-data/tactical.picture/internal/monitoring"
	"github.com/banshee-data/tactical.picture/internal/picture/pipeline"
	"github.com/banshee-data/tactical.picture/internal/picture/report"
	"github.com/banshee-data/tactical.picture/internal/picture/source"
	"github.com/banshee-data/tactical.picture/internal/picture/storage/sqlite"
	"github.com/banshee-data/tactical.picture/internal/timeutil"
	"github.com/banshee-data/tactical.picture/internal/version"
)

var (
	configPath    = flag.String("config", config.DefaultConfigPath, "Path to tuning JSON")
	sourceKind    = flag.String("source", "sim", "Detection source: sim, replay or serial")
	replayPath    = flag.String("replay", "", "JSON-lines recording for -source replay")
	port          = flag.String("port", "/dev/ttyUSB0", "Serial device for -source serial")
	baud          = flag.Int("baud", 19200, "Serial baud rate")
	dbPath        = flag.String("db", "", "SQLite audit database (empty disables persistence)")
	reportDir     = flag.String("report", "", "Directory for the run report (empty disables it)")
	reportTicks   = flag.Int("report-max-ticks", report.DefaultMaxTicks, "Most recent ticks kept for the report")
	ticks         = flag.Int("ticks", 0, "Stop after this many ticks (0 runs until the source ends)")
	zoom          = flag.Float64("zoom", 1.0, "Default view zoom for frames that carry none")
	backend       = flag.String("backend", "gpu", "Default render backend for frames that carry none")
	simInterval   = flag.Duration("sim-interval", 0, "Wall time between simulated frames (0 runs flat out)")
	flushInterval = flag.Duration("flush-interval", 5*time.Second, "How often the audit log is flushed to -db")
	debug         = flag.Bool("debug", false, "Enable debug logging")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// runOptions carries the parsed flags into run.
type runOptions struct {
	ConfigPath    string
	Source        string
	ReplayPath    string
	Port          string
	Baud          int
	DBPath        string
	ReportDir     string
	ReportTicks   int
	Ticks         int
	Zoom          float64
	Backend       string
	SimInterval   time.Duration
	FlushInterval time.Duration
}

func optionsFromFlags() runOptions {
	return runOptions{
		ConfigPath:    *configPath,
		Source:        *sourceKind,
		ReplayPath:    *replayPath,
		Port:          *port,
		Baud:          *baud,
		DBPath:        *dbPath,
		ReportDir:     *reportDir,
		ReportTicks:   *reportTicks,
		Ticks:         *ticks,
		Zoom:          *zoom,
		Backend:       *backend,
		SimInterval:   *simInterval,
		FlushInterval: *flushInterval,
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.EmptyTuningConfig(), nil
	}
	cfg, err := config.LoadTuningConfig(path)
	if err != nil && path == config.DefaultConfigPath && errors.Is(err, os.ErrNotExist) {
		log.Printf("%s not found, using built-in defaults", path)
		return config.EmptyTuningConfig(), nil
	}
	return cfg, err
}

func buildSource(o runOptions, clock timeutil.Clock) (source.Source, error) {
	dec := source.LineDecoder{Zoom: o.Zoom, Backend: o.Backend}
	switch o.Source {
	case "sim":
		sim := source.DefaultSimConfig()
		sim.Interval = o.SimInterval
		sim.Frames = o.Ticks
		sim.Zoom = o.Zoom
		sim.Backend = o.Backend
		return source.NewSimSource(sim, clock), nil
	case "replay":
		if o.ReplayPath == "" {
			return nil, errors.New("-source replay requires -replay")
		}
		return source.NewReplaySource(o.ReplayPath, dec)
	case "serial":
		return source.NewSerialSource(o.Port, source.PortOptions{BaudRate: o.Baud}, dec, nil)
	default:
		return nil, fmt.Errorf("unknown source %q: expected sim, replay or serial", o.Source)
	}
}

// runResult summarises a finished run.
type runResult struct {
	Ticks    int
	Recorded int // tick summaries held for the report
}

// newRecorder returns nil when no report was requested, so a long-running
// source accumulates nothing.
func newRecorder(o runOptions) *report.Recorder {
	if o.ReportDir == "" {
		return nil
	}
	return report.NewRecorder(o.ReportTicks, 0)
}

func run(ctx context.Context, o runOptions) (runResult, error) {
	var res runResult
	tuning, err := loadConfig(o.ConfigPath)
	if err != nil {
		return res, fmt.Errorf("load config: %w", err)
	}
	clock := timeutil.RealClock{}

	p, err := pipeline.New(pipeline.ConfigFromTuning(tuning), pipeline.WithClock(clock))
	if err != nil {
		return res, err
	}

	src, err := buildSource(o, clock)
	if err != nil {
		return res, err
	}
	defer src.Close()

	var store *sqlite.Store
	if o.DBPath != "" {
		store, err = sqlite.Open(o.DBPath)
		if err != nil {
			return res, err
		}
		defer store.Close()
		if err := store.MigrateUp(); err != nil {
			return res, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Flush the audit log periodically so a crash loses at most one interval.
	var wg sync.WaitGroup
	if store != nil && o.FlushInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			t := clock.NewTicker(o.FlushInterval)
			defer t.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-t.C():
					if n, err := store.Flush(p.Sink()); err != nil {
						log.Printf("audit flush failed: %v", err)
					} else if n > 0 {
						monitoring.Debugf("flushed %d audit record(s)", n)
					}
				}
			}
		}()
	}

	rec := newRecorder(o)
	n := 0
	for o.Ticks <= 0 || n < o.Ticks {
		frame, err := src.Next(runCtx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Printf("source exhausted after %d tick(s)", n)
			} else if !errors.Is(err, context.Canceled) {
				cancel()
				wg.Wait()
				return res, fmt.Errorf("read frame: %w", err)
			}
			break
		}
		snap := p.Tick(frame)
		if rec != nil {
			rec.Add(snap)
		}
		n++
		for _, d := range snap.Deltas {
			log.Printf("tick %d: %s %s %s", snap.Seq, d.Kind, d.Situation.Type, d.Situation.Severity)
		}
	}
	cancel()
	wg.Wait()

	if store != nil {
		if _, err := store.Flush(p.Sink()); err != nil {
			return res, fmt.Errorf("final audit flush: %w", err)
		}
		total, err := store.CountEvents()
		if err == nil {
			log.Printf("audit database %s holds %d record(s)", o.DBPath, total)
		}
	}
	if dropped := p.Sink().Dropped(); dropped > 0 {
		log.Printf("audit sink overwrote %d record(s)", dropped)
	}
	res.Ticks = n
	if rec != nil {
		res.Recorded = rec.Len()
		if err := rec.WriteFiles(o.ReportDir); err != nil {
			return res, fmt.Errorf("write report: %w", err)
		}
		log.Printf("report written to %s", o.ReportDir)
	}
	log.Printf("processed %d tick(s)", n)
	return res, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("picture %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	monitoring.SetDebug(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, optionsFromFlags()); err != nil {
		log.Fatalf("picture: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
