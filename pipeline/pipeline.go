// Package pipeline runs URLs through fetch, extraction and persistence, then
// exports the records collected during the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-products/models"
	"github.com/aluiziolira/go-scrape-products/parser"
)

var (
	// ErrNoURLs is returned by Start when the URL list is empty.
	ErrNoURLs = errors.New("pipeline: no urls to process")
	// ErrAlreadyStarted is returned when Start is called on a used pipeline.
	ErrAlreadyStarted = errors.New("pipeline: already started")
	// ErrNotStarted is returned by Cancel before Start.
	ErrNotStarted = errors.New("pipeline: not started")
)

// State is the lifecycle of a run.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Fetcher returns the body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// RecordStore persists one product.
type RecordStore interface {
	Upsert(ctx context.Context, p *models.Product) error
}

// Exporter writes the run's rows to their final artifacts.
type Exporter interface {
	Export(rows []models.ExportRow) (*models.ExportPaths, error)
}

// Metrics counts extraction and persistence outcomes.
type Metrics interface {
	IncItems()
	IncSkipped(reason string)
	IncPersistError()
}

// ExtractFunc turns a page body into per-block results.
type ExtractFunc func(body, pageURL string, capturedAt time.Time) ([]parser.Result, error)

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithWorkers sets how many URLs are processed at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithObserver registers the receiver of progress, status and completion events.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithMetrics records extraction and persistence counters.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithExtractor replaces the page extractor.
func WithExtractor(fn ExtractFunc) Option {
	return func(p *Pipeline) { p.extract = fn }
}

// WithClock sets the clock used for capture and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the base logger; run logs carry the run id on top of it.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline processes a single run: Idle -> Running -> Completed, Failed or
// Cancelled. A Pipeline is not reusable; build a new one per run.
type Pipeline struct {
	fetcher  Fetcher
	store    RecordStore
	exporter Exporter
	extract  ExtractFunc
	observer Observer
	metrics  Metrics
	workers  int
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex // guards state, progress, result, cancel
	emitMu   sync.Mutex // orders progress callbacks; never held with mu
	state    State
	progress models.RunProgress
	result   *models.RunResult
	cancel   context.CancelFunc

	done chan struct{}
}

// NewPipeline wires the run collaborators together.
func NewPipeline(fetcher Fetcher, store RecordStore, exporter Exporter, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:  fetcher,
		store:    store,
		exporter: exporter,
		extract:  parser.Extract,
		observer: ObserverFuncs{},
		metrics:  nopMetrics{},
		workers:  1,
		now:      time.Now,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins processing urls on a dedicated goroutine and returns at once.
// An empty list is rejected without any state change or callback.
func (p *Pipeline) Start(ctx context.Context, urls []string) error {
	if len(urls) == 0 {
		return ErrNoURLs
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateIdle {
		return ErrAlreadyStarted
	}

	targets := make([]string, len(urls))
	copy(targets, urls)

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StateRunning
	p.progress = models.RunProgress{Total: len(targets)}
	p.result = &models.RunResult{
		RunID:     uuid.New().String(),
		StartTime: p.now(),
		TotalURLs: len(targets),
	}

	logger := p.logger.With(slog.String("run_id", p.result.RunID))
	logger.Info("run started", slog.Int("urls", len(targets)), slog.Int("workers", p.workers))

	go p.run(runCtx, logger, targets)
	return nil
}

// Run starts the pipeline and blocks until it finishes.
func (p *Pipeline) Run(ctx context.Context, urls []string) (*models.RunResult, error) {
	if err := p.Start(ctx, urls); err != nil {
		return nil, err
	}
	return p.Wait(), nil
}

// Wait blocks until the run finishes and returns its result. It returns nil
// if the pipeline was never started.
func (p *Pipeline) Wait() *models.RunResult {
	if p.State() == StateIdle {
		return nil
	}
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// Done is closed once the run has finished.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Cancel asks the run to stop. In-flight URLs finish their current step and
// no export happens unless every URL had already finished.
func (p *Pipeline) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateIdle {
		return ErrNotStarted
	}
	p.cancel()
	return nil
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Progress returns the latest progress snapshot.
func (p *Pipeline) Progress() models.RunProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// RunID returns the id of the current run, or "" before Start.
func (p *Pipeline) RunID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result == nil {
		return ""
	}
	return p.result.RunID
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, urls []string) {
	defer close(p.done)
	defer p.cancel()

	// One slot per URL keeps the export in input order with parallel workers.
	rows := make([][]models.ExportRow, len(urls))

	if p.workers <= 1 {
		for i, url := range urls {
			if ctx.Err() != nil {
				break
			}
			rows[i] = p.processURL(ctx, logger, url)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.workers)
		for i, url := range urls {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				rows[i] = p.processURL(ctx, logger, url)
				return nil
			})
		}
		_ = g.Wait()
	}

	p.mu.Lock()
	finishedAll := p.progress.Completed == p.progress.Total
	p.mu.Unlock()

	// A cancel that lands after the last URL finished still exports.
	var final State
	if ctx.Err() != nil && !finishedAll {
		final = StateCancelled
		logger.Warn("run cancelled", slog.Any("error", ctx.Err()))
		p.observer.Status("run cancelled")
	} else {
		final = p.export(logger, flatten(rows))
	}

	p.mu.Lock()
	p.state = final
	p.result.EndTime = p.now()
	p.result.Cancelled = final == StateCancelled
	result := p.result
	p.mu.Unlock()

	logger.Info("run finished",
		slog.String("state", final.String()),
		slog.Int("processed", result.Processed),
		slog.Int("records", result.Records),
		slog.Duration("duration", result.EndTime.Sub(result.StartTime)),
	)
	p.observer.Finished(result)
}

func (p *Pipeline) export(logger *slog.Logger, rows []models.ExportRow) State {
	paths, err := p.exporter.Export(rows)

	p.mu.Lock()
	p.result.Export = paths
	p.result.ExportErr = err
	p.mu.Unlock()

	if err != nil {
		logger.Error("export failed", slog.Any("error", err))
		p.observer.Status(fmt.Sprintf("error saving data: %v", err))
		return StateFailed
	}
	logger.Info("export written",
		slog.String("csv", paths.CSV),
		slog.String("xlsx", paths.XLSX),
		slog.String("json", paths.JSON),
	)
	p.observer.Status(fmt.Sprintf("data saved to:\n%s\n%s\n%s", paths.CSV, paths.XLSX, paths.JSON))
	return StateCompleted
}

// processURL fetches, extracts and persists one URL and returns its export
// rows. Failures are logged and never stop the run.
func (p *Pipeline) processURL(ctx context.Context, logger *slog.Logger, url string) []models.ExportRow {
	p.observer.Status("processing URL: " + url)
	log := logger.With(slog.String("url", url))

	body, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		log.Error("fetch failed", slog.Any("error", err))
		p.update(func(r *models.RunResult) {
			r.FetchFailed++
			r.FailedURLs = append(r.FailedURLs, url)
		})
		p.advance()
		return nil
	}

	results, err := p.extract(body, url, p.now())
	if err != nil {
		log.Error("extraction failed", slog.Any("error", err))
		p.update(func(r *models.RunResult) { r.Fetched++ })
		p.advance()
		return nil
	}

	var (
		rows          []models.ExportRow
		skipped       int
		persistErrors int
	)
	for _, res := range results {
		if !res.OK() {
			skipped++
			p.metrics.IncSkipped(skipLabel(res.Skip))
			log.Warn("product skipped", slog.Int("block", res.Index), slog.String("reason", res.Skip))
			continue
		}

		if err := p.store.Upsert(ctx, res.Product); err != nil {
			persistErrors++
			p.metrics.IncPersistError()
			log.Error("persist failed", slog.Int("block", res.Index), slog.Any("error", err))
			p.observer.Status(fmt.Sprintf("error saving record from %s: %v", url, err))
		}
		p.metrics.IncItems()
		rows = append(rows, res.Product.Row())
	}

	if len(results) == 0 {
		log.Warn("no products found")
	}

	p.update(func(r *models.RunResult) {
		r.Fetched++
		r.Records += len(rows)
		r.Skipped += skipped
		r.PersistErrors += persistErrors
	})
	p.advance()
	return rows
}

func (p *Pipeline) update(fn func(r *models.RunResult)) {
	p.mu.Lock()
	fn(p.result)
	p.mu.Unlock()
}

// advance counts one finished URL. emitMu keeps callbacks in counter order;
// mu is released first so observers may call back into the pipeline.
func (p *Pipeline) advance() {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	p.mu.Lock()
	p.progress.Completed++
	p.result.Processed = p.progress.Completed
	snapshot := p.progress
	p.mu.Unlock()

	p.observer.Progress(snapshot)
}

// skipLabel drops the detail after ':' to keep metric labels bounded.
func skipLabel(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		return reason[:i]
	}
	return reason
}

func flatten(rows [][]models.ExportRow) []models.ExportRow {
	var n int
	for _, r := range rows {
		n += len(r)
	}
	out := make([]models.ExportRow, 0, n)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

type nopMetrics struct{}

func (nopMetrics) IncItems()         {}
func (nopMetrics) IncSkipped(string) {}
func (nopMetrics) IncPersistError()  {}
