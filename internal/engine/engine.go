package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/knhk/internal/beat"
	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/ir"
	"github.com/roach88/knhk/internal/reconcile"
	"github.com/roach88/knhk/internal/ring"
)

// Defaults.
const (
	DefaultDomains      = 1
	DefaultShards       = 1
	MaxShards           = ir.MaxLanes
	DefaultTickInterval = time.Millisecond
)

// Engine owns the beat, the ring pairs of every domain and the shard
// fibers, and runs them one tick at a time.
type Engine struct {
	sched    *beat.Scheduler
	registry *hooks.Registry
	rec      *reconcile.Reconciler
	pairs    []*ring.Pair
	fibers   []*Fiber
	runID    string

	provenance ProvenanceLog
	emitter    ActionEmitter
	overflow   OverflowSink
	onMismatch MismatchHandler

	logger   *slog.Logger
	interval time.Duration

	// options collected before validation
	budget  uint8
	domains int
	shards  int
	counter *beat.Counter
	runIDs  RunIDGenerator

	stepMu sync.Mutex // Step is serialized; the beat is sequential
}

// Option configures an Engine.
type Option func(*Engine)

// WithBudget sets the tick budget of each reconciliation (1..8).
func WithBudget(ticks uint8) Option {
	return func(e *Engine) { e.budget = ticks }
}

// WithDomains sets the number of reconciliation domains (ring pairs).
func WithDomains(n int) Option {
	return func(e *Engine) { e.domains = n }
}

// WithShards sets the number of shard fibers (1..8).
func WithShards(n int) Option {
	return func(e *Engine) { e.shards = n }
}

// WithCounter resumes from an existing cycle counter.
func WithCounter(c *beat.Counter) Option {
	return func(e *Engine) { e.counter = c }
}

// WithProvenanceLog sets where committed cycles are appended.
func WithProvenanceLog(l ProvenanceLog) Option {
	return func(e *Engine) { e.provenance = l }
}

// WithActionEmitter sets where committed actions are delivered.
func WithActionEmitter(em ActionEmitter) Option {
	return func(e *Engine) { e.emitter = em }
}

// WithOverflowSink sets where parked deltas go.
func WithOverflowSink(s OverflowSink) Option {
	return func(e *Engine) { e.overflow = s }
}

// WithMismatchHandler sets the provenance mismatch alarm.
func WithMismatchHandler(h MismatchHandler) Option {
	return func(e *Engine) { e.onMismatch = h }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTickInterval sets how often Run advances the beat.
func WithTickInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithRunIDGenerator sets the run ID source. Defaults to UUIDv7.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// New creates an engine serving hooks from registry.
func New(registry *hooks.Registry, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("engine: nil hook registry")
	}

	e := &Engine{
		registry: registry,
		budget:   reconcile.DefaultBudget,
		domains:  DefaultDomains,
		shards:   DefaultShards,
		interval: DefaultTickInterval,
		runIDs:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.domains < 1 {
		return nil, fmt.Errorf("engine: domains must be >= 1, got %d", e.domains)
	}
	if e.shards < 1 || e.shards > MaxShards {
		return nil, fmt.Errorf("engine: shards must be 1..%d, got %d", MaxShards, e.shards)
	}
	if e.interval <= 0 {
		return nil, fmt.Errorf("engine: tick interval must be positive, got %s", e.interval)
	}

	rec, err := reconcile.New(reconcile.WithBudget(e.budget))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	e.rec = rec

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.sched = beat.NewScheduler(e.counter)
	e.runID = e.runIDs.Generate()

	e.pairs = make([]*ring.Pair, e.domains)
	for d := range e.pairs {
		e.pairs[d] = ring.NewPair()
	}
	e.fibers = make([]*Fiber, e.shards)
	for s := range e.fibers {
		e.fibers[s] = NewFiber(uint8(s), rec)
	}

	return e, nil
}

// RunID returns the identifier stamped on this engine's cycle records.
func (e *Engine) RunID() string {
	return e.runID
}

// Domains returns the number of reconciliation domains.
func (e *Engine) Domains() int {
	return len(e.pairs)
}

// Cycle returns the last issued cycle.
func (e *Engine) Cycle() uint64 {
	return e.sched.Current()
}

// Pair exposes a domain's ring pair.
func (e *Engine) Pair(domain int) (*ring.Pair, error) {
	if domain < 0 || domain >= len(e.pairs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnknownDomain, domain, len(e.pairs))
	}
	return e.pairs[domain], nil
}

// Enqueue writes a delta into domain's delta ring at tick, tagged with
// cycle. cycle must be one of the next eight cycles the beat issues
// (ErrCycleOutOfWindow otherwise), so a tag always names the cycle that
// runs it. Returns ring.ErrTickMismatch if cycle does not map to tick and
// ring.ErrSlotBusy if the slot is full; never blocks.
func (e *Engine) Enqueue(domain int, tick uint8, delta ir.Batch, cycle uint64) error {
	pair, err := e.Pair(domain)
	if err != nil {
		return err
	}
	if err := delta.CheckBound(); err != nil {
		return err
	}
	next := e.sched.Next()
	if cycle < next || cycle-next >= beat.TicksPerEpoch {
		return fmt.Errorf("%w: cycle %d, next %d", ErrCycleOutOfWindow, cycle, next)
	}
	if err := pair.Delta.Enqueue(tick, delta, cycle); err != nil {
		if ring.IsSlotBusy(err) {
			ringBusyTotal.WithLabelValues("delta").Inc()
		}
		return err
	}
	return nil
}

// Submit enqueues delta at the earliest upcoming cycle whose slot is free,
// looking at most one epoch ahead. Returns the cycle it was tagged with.
func (e *Engine) Submit(domain int, delta ir.Batch) (uint64, error) {
	pair, err := e.Pair(domain)
	if err != nil {
		return 0, err
	}
	if err := delta.CheckBound(); err != nil {
		return 0, err
	}
	next := e.sched.Next()
	for i := uint64(0); i < beat.TicksPerEpoch; i++ {
		cycle := next + i
		err = pair.Delta.Enqueue(beat.Tick(cycle), delta, cycle)
		if err == nil {
			return cycle, nil
		}
		if !ring.IsSlotBusy(err) {
			return 0, err
		}
	}
	ringBusyTotal.WithLabelValues("delta").Inc()
	return 0, err
}

// StepReport describes one Step.
type StepReport struct {
	Beat    beat.Beat       `json:"beat"`
	Commit  *ir.CycleRecord `json:"commit,omitempty"`
	Results []FiberResult   `json:"results,omitempty"`
}

// Step advances the beat by one tick. On a pulse it first commits the epoch
// that just closed; then every shard fiber runs the tick for its domains.
//
// The returned error joins commit failures (*CommitError), provenance
// mismatches and overflow sink failures. Recoverable rejections are only
// reported in the StepReport.
func (e *Engine) Step(ctx context.Context) (*StepReport, error) {
	e.stepMu.Lock()
	defer e.stepMu.Unlock()

	b := e.sched.Advance()
	report := &StepReport{Beat: b}

	if epoch, ok := b.Closes(); ok {
		rec, err := e.commit(ctx, epoch)
		report.Commit = rec
		if err != nil {
			return report, err
		}
	}

	snap := e.registry.Load()
	results := make([]FiberResult, len(e.pairs))

	// Fiber for domain d at tick t is (d + t) mod shards; each shard runs
	// its domains in order on one goroutine.
	g, _ := errgroup.WithContext(ctx)
	shards := len(e.fibers)
	for s := 0; s < shards; s++ {
		s := s
		fiber := e.fibers[s]
		g.Go(func() error {
			for d := range e.pairs {
				if (d+int(b.Tick))%shards == s {
					results[d] = fiber.Step(d, e.pairs[d], b.Cycle, snap)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i := range results {
		res := &results[i]
		if res.Status == FiberIdle {
			continue
		}
		report.Results = append(report.Results, *res)
		if err := e.observe(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

// observe logs, counts and routes a non-idle fiber result.
func (e *Engine) observe(ctx context.Context, res *FiberResult) error {
	fiberStepsTotal.WithLabelValues(res.Status.String()).Inc()

	switch res.Status {
	case FiberCompleted:
		actionsTotal.Add(float64(res.Actions))
		tickCost.Observe(float64(res.Receipt.TickCost))
		e.logger.Debug("tick reconciled",
			"domain", res.Domain,
			"cycle", res.Cycle,
			"shard", res.Shard,
			"actions", res.Actions,
			"cost", res.Receipt.TickCost,
			"digest", res.Receipt.Digest.Short())

	case FiberParked:
		parkedTotal.WithLabelValues(res.Parked.Cause.String()).Inc()
		if res.Parked.Cause == CauseAssertionRingBusy {
			ringBusyTotal.WithLabelValues("assertion").Inc()
		}
		e.logger.Info("delta parked",
			"domain", res.Domain,
			"cycle", res.Cycle,
			"cause", res.Parked.Cause.String())
		if e.overflow == nil {
			return nil
		}
		if err := e.overflow.Park(ctx, *res.Parked); err != nil {
			parkFailedTotal.Inc()
			e.logger.Error("overflow sink rejected parked delta",
				"domain", res.Domain,
				"cycle", res.Cycle,
				"error", err)
			return fmt.Errorf("park domain %d cycle %d: %w", res.Domain, res.Cycle, err)
		}

	case FiberRejected:
		e.logger.Warn("delta rejected",
			"domain", res.Domain,
			"cycle", res.Cycle,
			"error", res.Err)

	case FiberFailed:
		provenanceMismatchTotal.Inc()
		e.logger.Error("provenance mismatch",
			"domain", res.Domain,
			"cycle", res.Cycle,
			"shard", res.Shard,
			"error", res.Err)
		if e.onMismatch != nil {
			ev := MismatchEvent{Domain: res.Domain, Shard: res.Shard, Cycle: res.Cycle, Delta: res.Delta, Err: res.Err}
			var re *reconcile.Error
			if errors.As(res.Err, &re) {
				ev.Expected, ev.Actual = re.Expected, re.Actual
			}
			e.onMismatch(ev)
		}
		return fmt.Errorf("domain %d cycle %d: %w", res.Domain, res.Cycle, res.Err)
	}
	return nil
}

// Run steps the beat every tick interval until ctx is done or a commit
// fails. Provenance mismatches and overflow sink failures are counted
// and logged; Run keeps going.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting",
		"run_id", e.runID,
		"domains", len(e.pairs),
		"shards", len(e.fibers),
		"budget", e.rec.Budget(),
		"interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "cycle", e.Cycle(), "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := e.Step(ctx); err != nil {
			var ce *CommitError
			if errors.As(err, &ce) {
				return err
			}
		}
	}
}

// Settle steps until every ring of every domain is empty, so all enqueued
// work has been reconciled and committed. It gives up after maxSteps.
//
// A commit failure stops Settle at once. Other step errors (provenance
// mismatches, overflow sink failures) do not stop it; they are joined into
// the returned error once the rings are empty or the step limit is hit.
func (e *Engine) Settle(ctx context.Context, maxSteps int) ([]*StepReport, error) {
	var reports []*StepReport
	var errs []error
	for i := 0; i < maxSteps; i++ {
		if !e.busy() {
			return reports, errors.Join(errs...)
		}
		if err := ctx.Err(); err != nil {
			return reports, errors.Join(append(errs, err)...)
		}
		report, err := e.Step(ctx)
		reports = append(reports, report)
		if err != nil {
			var ce *CommitError
			if errors.As(err, &ce) {
				return reports, err
			}
			errs = append(errs, err)
		}
	}
	if e.busy() {
		errs = append(errs, fmt.Errorf("engine: not settled after %d steps", maxSteps))
	}
	return reports, errors.Join(errs...)
}

func (e *Engine) busy() bool {
	for _, p := range e.pairs {
		if p.Delta.Occupied() != 0 || p.Assertion.Occupied() != 0 {
			return true
		}
	}
	return false
}
