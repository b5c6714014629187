package meter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/itohio/gorc/pkg/config"
	"github.com/itohio/gorc/pkg/fit"
	"github.com/itohio/gorc/pkg/sample"
)

var _ Analyzer = (*Meter)(nil)

// Analyzer reduces a captured waveform to a time constant estimate.
type Analyzer interface {
	Analyze(ctx context.Context, points []sample.Point, count int) (Estimate, error)
	OnFit(func(res fit.Result, err error)) // Register callback for per-segment results
}

// Meter splits a waveform into segments, fits each one and aggregates the
// time constants. Fits run on a bounded worker pool; results are always
// reported and aggregated in segment order.
type Meter struct {
	fitter  *fit.Fitter
	workers int
	verbose bool

	callbacks []func(res fit.Result, err error)
	cbMu      sync.RWMutex
}

// Options holds configuration for creating a new Meter.
type Options struct {
	Verbose bool // log every dropped segment instead of a summary
}

// New creates a Meter from the fit configuration.
func New(cfg *config.FitConfig, opts Options) (*Meter, error) {
	fitter, err := fit.New(cfg)
	if err != nil {
		return nil, err
	}

	workers := 1
	if cfg != nil && cfg.Workers > 1 {
		workers = cfg.Workers
	}

	return &Meter{
		fitter:  fitter,
		workers: workers,
		verbose: opts.Verbose,
	}, nil
}

// OnFit registers a callback invoked for every segment, in segment order,
// after all fits have finished.
func (m *Meter) OnFit(callback func(res fit.Result, err error)) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks = append(m.callbacks, callback)
}

// Analyze splits points into count segments, fits them and aggregates the
// resulting time constants. Segments that fail to converge are logged and
// excluded; if none converge ErrInsufficientData is returned.
func (m *Meter) Analyze(ctx context.Context, points []sample.Point, count int) (Estimate, error) {
	segments, err := sample.Split(points, count)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: %w", ErrInsufficientData, err)
	}

	results, errs := m.fitAll(ctx, segments)
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}

	m.notify(results, errs)

	taus := make([]float64, 0, len(results))
	dropped := 0
	for i, res := range results {
		if err := errs[i]; err != nil {
			if !errors.Is(err, fit.ErrNoConvergence) {
				return Estimate{}, err
			}
			dropped++
			if m.verbose {
				log.Printf("Dropping %s segment %d: %v", segments[i].Kind, i, err)
			}
			continue
		}
		taus = append(taus, res.TimeConstant)
	}

	if dropped > 0 {
		log.Printf("%d of %d segments did not converge", dropped, len(segments))
	}

	est, err := Aggregate(taus)
	if err != nil {
		return Estimate{}, fmt.Errorf("%w: none of %d segments converged", err, len(segments))
	}
	return est, nil
}

// fitAll fits every segment and returns results indexed like segments.
func (m *Meter) fitAll(ctx context.Context, segments []sample.Segment) ([]fit.Result, []error) {
	results := make([]fit.Result, len(segments))
	errs := make([]error, len(segments))

	workers := min(m.workers, len(segments))
	if workers <= 1 {
		for i, seg := range segments {
			if ctx.Err() != nil {
				break
			}
			results[i], errs[i] = m.fitter.Fit(seg)
		}
		return results, errs
	}

	jobs := make(chan int, workers*2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i], errs[i] = m.fitter.Fit(segments[i])
			}
		}()
	}

feed:
	for i := range segments {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return results, errs
}

// notify invokes all registered callbacks in segment order.
func (m *Meter) notify(results []fit.Result, errs []error) {
	m.cbMu.RLock()
	callbacks := make([]func(res fit.Result, err error), len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.cbMu.RUnlock()

	if len(callbacks) == 0 {
		return
	}
	for i := range results {
		for _, cb := range callbacks {
			cb(results[i], errs[i])
		}
	}
}
