// Package pipeline drives the observer: it pulls frames from a source, runs
// one estimation cycle per frame and hands the output to the recorder and
// the health reporter.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/floatbase/internal/fusion"
	"github.com/banshee-data/floatbase/internal/measurements"
	"github.com/banshee-data/floatbase/internal/monitoring"
	"github.com/banshee-data/floatbase/internal/sensorio"
	"github.com/banshee-data/floatbase/internal/timeutil"
)

// Observer runs one estimation cycle.
type Observer interface {
	Tick(frame measurements.Frame) (fusion.Output, error)
}

// Sink records cycle outputs.
type Sink interface {
	Record(out fusion.Output) error
}

// HealthReporter is told the fusion state after every cycle.
type HealthReporter interface {
	SetState(s fusion.State)
}

// Config contains configuration for Runner.
type Config struct {
	// Source is closed when the run's context is cancelled if it is an
	// io.Closer, which unblocks a Next waiting on an idle link.
	Source   sensorio.Source
	Observer Observer
	// Sink and Health are optional.
	Sink   Sink
	Health HealthReporter
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
	// Pace is the cycle period. Zero runs frames back to back.
	Pace time.Duration
}

// Stats summarises a run.
type Stats struct {
	Frames     int64
	Faults     int64
	Overruns   int64
	SinkErrors int64
	Last       fusion.Output
}

// Runner executes the estimation loop.
type Runner struct {
	cfg Config

	mu    sync.Mutex
	stats Stats
}

// NewRunner checks cfg and returns a runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Source == nil {
		return nil, errors.New("pipeline: no frame source")
	}
	if cfg.Observer == nil {
		return nil, errors.New("pipeline: no observer")
	}
	if cfg.Pace < 0 {
		return nil, fmt.Errorf("pipeline: negative pace %v", cfg.Pace)
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Runner{cfg: cfg}, nil
}

// Run processes frames until the source is exhausted or ctx is cancelled,
// both of which return nil. Source errors and contact overflow stop the run.
func (r *Runner) Run(ctx context.Context) error {
	if c, ok := r.cfg.Source.(io.Closer); ok {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
				if err := c.Close(); err != nil {
					monitoring.Logf("[pipeline] closing source: %v", err)
				}
			case <-stop:
			}
		}()
	}

	var tick <-chan time.Time
	if r.cfg.Pace > 0 {
		ticker := r.cfg.Clock.NewTicker(r.cfg.Pace)
		defer ticker.Stop()
		tick = ticker.C()
	}

	for {
		if tick != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-tick:
			}
		} else if ctx.Err() != nil {
			return nil
		}

		start := r.cfg.Clock.Now()
		frame, err := r.cfg.Source.Next()
		if err != nil && ctx.Err() != nil {
			// the source was closed under a blocked read
			return nil
		}
		if errors.Is(err, io.EOF) {
			monitoring.Logf("[pipeline] source exhausted after %d frames", r.Stats().Frames)
			return nil
		}
		if err != nil {
			return fmt.Errorf("pipeline: read frame: %w", err)
		}

		out, err := r.cfg.Observer.Tick(frame)
		r.publish(out)
		if err != nil {
			return fmt.Errorf("pipeline: %w", err)
		}

		if r.cfg.Pace > 0 {
			if over := timeutil.Overrun(start, r.cfg.Clock.Now(), r.cfg.Pace); over > 0 {
				r.mu.Lock()
				r.stats.Overruns++
				r.mu.Unlock()
				monitoring.CycleOverrunsTotal.Inc()
				monitoring.Logf("[pipeline] tick %d overran the cycle by %v", out.Tick, over)
			}
		}
	}
}

func (r *Runner) publish(out fusion.Output) {
	var sinkErr error
	if r.cfg.Sink != nil {
		sinkErr = r.cfg.Sink.Record(out)
	}
	if r.cfg.Health != nil {
		r.cfg.Health.SetState(out.State)
	}

	for _, ev := range out.Events {
		monitoring.Debugf("[pipeline] tick %d %s %s%s", ev.Tick, ev.Kind, ev.Contact, ev.Detail)
	}

	r.mu.Lock()
	r.stats.Frames++
	if out.State == fusion.StateFaultDetected {
		r.stats.Faults++
	}
	if sinkErr != nil {
		r.stats.SinkErrors++
	}
	r.stats.Last = out
	r.mu.Unlock()

	if sinkErr != nil {
		monitoring.SinkErrorsTotal.Inc()
		monitoring.Warnf("[pipeline] tick %d not recorded: %v", out.Tick, sinkErr)
	}
}

// Stats returns a snapshot of the run counters.
func (r *Runner) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
