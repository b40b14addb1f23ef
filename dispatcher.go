package taskbatch

import (
	"context"
	"sync"
	"time"
)

type (
	// Option configures a Dispatcher constructed via New.
	Option func(*dispatcherOptions)

	dispatcherOptions struct {
		cfg         Config
		logger      *logger
		dropLimiter *dropRateLimiter
	}

	// Dispatcher accepts individually submitted Payload values (Submit) and
	// forwards them to a Sink in batches. Instances must be constructed
	// with New.
	//
	// A Dispatcher's worker goroutine is started lazily, on the first
	// Submit call, and is restarted on a later Submit if it has since
	// stopped (e.g. following Shutdown). Submit, Flush, ProcessingComplete,
	// and Shutdown are all safe to call from any goroutine, and none of
	// them ever panics or returns an error to the caller - failures are
	// logged instead.
	Dispatcher struct {
		name        string
		sink        Sink
		cfg         Config
		logger      *logger
		dropLimiter *dropRateLimiter

		intake *queue

		// bufMu guards buffer; taken by the worker around every mutation,
		// and by ProcessingComplete to read its length. Only the worker
		// ever mutates buffer (I1).
		bufMu  sync.Mutex
		buffer []Payload

		// lifecycleMu guards running and worker, i.e. the check-and-spawn
		// in ensureWorkerStarted, and the handoff to Shutdown.
		lifecycleMu sync.Mutex
		running     bool
		worker      *workerHandle
	}

	// workerHandle is the per-generation stop signal and completion
	// notification for one run of the worker goroutine.
	workerHandle struct {
		stop     chan struct{}
		done     chan struct{}
		stopOnce sync.Once
	}
)

// WithMaxBatch overrides Config.MaxBatch.
func WithMaxBatch(n int) Option {
	return func(o *dispatcherOptions) { o.cfg.MaxBatch = n }
}

// WithMaxWait overrides Config.MaxWait.
func WithMaxWait(d time.Duration) Option {
	return func(o *dispatcherOptions) { o.cfg.MaxWait = d }
}

// WithLogger overrides the default stumpy-backed logger.
func WithLogger(l *logger) Option {
	return func(o *dispatcherOptions) { o.logger = l }
}

// WithDropLogRateLimit rate-limits the QueueFull warning log line per task
// name, using the given sliding-window rates (see
// github.com/joeycumines/go-catrate.NewLimiter). It never affects whether a
// payload is dropped - only how often the drop is logged.
func WithDropLogRateLimit(rates map[time.Duration]int) Option {
	return func(o *dispatcherOptions) { o.dropLimiter = newDropRateLimiter(rates) }
}

// New constructs a Dispatcher that forwards batches to sink. name is an
// identifying label, used only in log output. New does not start the
// worker goroutine - that happens lazily, on first Submit.
//
// Panics if sink is nil.
func New(name string, sink Sink, options ...Option) *Dispatcher {
	if sink == nil {
		panic(`taskbatch: nil sink`)
	}

	o := dispatcherOptions{cfg: Config{}.withDefaults()}
	for _, option := range options {
		option(&o)
	}
	o.cfg = o.cfg.withDefaults()
	if o.logger == nil {
		o.logger = defaultLogger()
	}

	return &Dispatcher{
		name:        name,
		sink:        sink,
		cfg:         o.cfg,
		logger:      o.logger,
		dropLimiter: o.dropLimiter,
		intake:      newQueue(o.cfg.intakeCapacity()),
	}
}

// Submit enqueues payload for batching, lazily starting the worker if
// needed. Submit never blocks for more than the cost of one enqueue
// attempt, plus, on the first call (or the first call after a Shutdown),
// the cost of starting the worker goroutine.
//
// If the intake queue is full, payload is dropped and a warning is logged;
// Submit never returns an error, matching the fire-and-forget contract of
// the whole package.
func (d *Dispatcher) Submit(payload Payload) {
	d.ensureWorkerStarted()

	if err := d.intake.tryPut(payload); err != nil {
		if _, ok := d.dropLimiter.Allow(payload.Task); ok {
			d.logger.Warning().
				Str(`dispatcher`, d.name).
				Str(`task`, payload.Task).
				Log(`taskbatch: intake queue full, dropping payload`)
		}
		return
	}
}

// ProcessingComplete reports whether, at the moment of the check, the
// intake queue and the accumulation buffer were both empty. It is a
// point-in-time snapshot: callers needing a durable guarantee should use
// Flush instead.
func (d *Dispatcher) ProcessingComplete() bool {
	d.bufMu.Lock()
	bufferEmpty := len(d.buffer) == 0
	d.bufMu.Unlock()
	return bufferEmpty && d.intake.empty()
}

// Flush blocks the calling goroutine until ProcessingComplete returns
// true, polling at a short interval. If no worker is currently running
// (e.g. Submit was never called), Flush returns immediately.
//
// Flush does not request shutdown, and does not coordinate with concurrent
// submitters: if new payloads are submitted after Flush returns, no
// guarantee holds about them.
func (d *Dispatcher) Flush() {
	for d.isRunning() && !d.ProcessingComplete() {
		time.Sleep(flushPollInterval)
	}
}

// Shutdown signals the worker to stop and waits for it to exit, up to a
// bounded timeout. Payloads already in the intake queue, and not yet
// delivered, are abandoned; payloads in the accumulation buffer may or may
// not be delivered, depending on the worker's progress at the moment the
// stop signal is observed. Callers who need a drain-before-exit guarantee
// should call Flush before Shutdown.
//
// Shutdown is safe to call more than once, and safe to call when no
// worker has ever been started.
func (d *Dispatcher) Shutdown() {
	d.lifecycleMu.Lock()
	w := d.worker
	d.lifecycleMu.Unlock()

	if w == nil {
		return
	}

	w.stopOnce.Do(func() { close(w.stop) })

	select {
	case <-w.done:
	case <-time.After(shutdownJoinTimeout):
		d.logger.Err().
			Str(`dispatcher`, d.name).
			Log(`taskbatch: worker did not stop within the shutdown timeout`)
	}
}

func (d *Dispatcher) isRunning() bool {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()
	return d.running
}

// ensureWorkerStarted is an atomic check-and-spawn: exactly one worker
// goroutine exists at a time, for a given Dispatcher.
func (d *Dispatcher) ensureWorkerStarted() {
	d.lifecycleMu.Lock()
	defer d.lifecycleMu.Unlock()

	if d.running {
		return
	}

	w := &workerHandle{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	d.worker = w
	d.running = true

	d.logger.Debug().
		Str(`dispatcher`, d.name).
		Log(`taskbatch: worker started`)

	go d.run(w)
}

// run is the dispatcher worker: it repeats the acquire/collect/decide/
// (wait)/deliver epoch (see epoch and waitThenDeliver), until the stop
// signal on w is observed.
func (d *Dispatcher) run(w *workerHandle) {
	defer func() {
		if r := recover(); r != nil {
			// the buffer belongs to this generation only; a panic mid-epoch
			// means its contents are lost (spec.md §7, WorkerPanic), not
			// carried over to the next generation's first epoch.
			d.bufMu.Lock()
			d.buffer = nil
			d.bufMu.Unlock()

			d.logger.Crit().
				Str(`dispatcher`, d.name).
				Any(`panic`, r).
				Log(`taskbatch: worker panic, will restart on next submit`)
		}
		d.lifecycleMu.Lock()
		d.running = false
		d.lifecycleMu.Unlock()

		d.logger.Debug().
			Str(`dispatcher`, d.name).
			Log(`taskbatch: worker stopped`)

		close(w.done)
	}()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		seed, ok := d.intake.tryGet()
		if !ok {
			time.Sleep(idlePollInterval)
			continue
		}

		d.epoch(seed, w.stop)
	}
}

// epoch runs acquire (the seed is already acquired) -> opportunistic
// collection -> decide -> optional timed batching -> deliver, exactly
// once.
func (d *Dispatcher) epoch(seed Payload, stop <-chan struct{}) {
	d.bufferAppend(seed)

	// opportunistic collection: absorb whatever already arrived, without
	// touching the timer.
	for d.bufferLen() < d.cfg.MaxBatch {
		p, ok := d.intake.tryGet()
		if !ok {
			break
		}
		d.bufferAppend(p)
	}

	switch n := d.bufferLen(); {
	case n == d.cfg.MaxBatch:
		d.deliver(`full`)
	case n == 1:
		d.deliver(`single`)
	case d.intake.empty():
		d.deliver(`drained`)
	default:
		d.waitThenDeliver(stop)
	}
}

// waitThenDeliver implements the timed-batching phase: it waits up to
// MaxWait (measured from the start of this phase, not from the seed's
// arrival) for the batch to either fill or for the intake queue to go
// quiet, whichever happens first.
func (d *Dispatcher) waitThenDeliver(stop <-chan struct{}) {
	deadline := time.Now().Add(d.cfg.MaxWait)

	for {
		if !time.Now().Before(deadline) {
			d.deliver(`timeout`)
			return
		}

		select {
		case <-stop:
			// best-effort: send whatever has accumulated so far.
			d.deliver(`shutdown`)
			return
		default:
		}

		p, ok := d.intake.tryGet()
		if !ok {
			// the source has gone quiet - preferring latency over further
			// accumulation, rather than waiting out the deadline.
			d.deliver(`drained-during-wait`)
			return
		}

		if n := d.bufferAppend(p); n >= d.cfg.MaxBatch {
			d.deliver(`full-during-wait`)
			return
		}
	}
}

func (d *Dispatcher) bufferAppend(p Payload) int {
	d.bufMu.Lock()
	d.buffer = append(d.buffer, p)
	n := len(d.buffer)
	d.bufMu.Unlock()
	return n
}

func (d *Dispatcher) bufferLen() int {
	d.bufMu.Lock()
	n := len(d.buffer)
	d.bufMu.Unlock()
	return n
}

// deliver snapshots the buffer, clears it (I3), and calls the sink. The
// buffer is cleared before the sink is called so that, regardless of how
// long the sink takes, ProcessingComplete never observes a delivered batch
// as still pending.
func (d *Dispatcher) deliver(reason string) {
	d.bufMu.Lock()
	batch := d.buffer
	d.buffer = nil
	d.bufMu.Unlock()

	if len(batch) == 0 {
		return
	}

	d.logger.Debug().
		Str(`dispatcher`, d.name).
		Str(`reason`, reason).
		Int(`size`, len(batch)).
		Log(`taskbatch: delivering batch`)

	if err := d.sink.Deliver(context.Background(), batch); err != nil {
		d.logger.Err().
			Str(`dispatcher`, d.name).
			Str(`reason`, reason).
			Int(`size`, len(batch)).
			Err(err).
			Log(`taskbatch: sink failed, batch dropped`)
	}
}
