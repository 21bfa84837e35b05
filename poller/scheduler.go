// Package poller runs the fetch, diff and publish cycle on a timer and
// hands each result to the presenter through a single-slot mailbox.
package poller

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"memsqltop/collector"
	"memsqltop/delta"
	"memsqltop/schema"
)

// DefaultInterval is the nominal time between the end of one publish and
// the start of the next fetch.
const DefaultInterval = 3 * time.Second

// DefaultTimeouts is the cycle deadline in intervals when none is configured.
const DefaultTimeouts = 10

// State is the phase of the current cycle.
type State int32

const (
	Idle State = iota
	Fetching
	Diffing
	Publishing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Diffing:
		return "diffing"
	case Publishing:
		return "publishing"
	}
	return "unknown"
}

// Packet is one published sample. It is never modified after Publish.
type Packet struct {
	Seq        uint64
	TakenAt    time.Time
	Elapsed    time.Duration
	Records    map[schema.EntityKey]delta.Record
	CPUTotal   float64
	MemoryUsed float64
	Capacity   collector.Capacity
}

// MemoryReader reads the current memory usage of the cluster.
type MemoryReader interface {
	MemoryUsed(ctx context.Context) (float64, error)
}

// Config tunes a Scheduler. Zero values take defaults.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration // deadline of one fetch, default DefaultTimeouts intervals
	Capacity collector.Capacity
	Memory   MemoryReader
	Metrics  *Metrics
}

// Scheduler owns the baseline snapshot and runs one cycle at a time.
type Scheduler struct {
	source   collector.Source
	profile  *schema.Profile
	engine   *delta.Engine
	mailbox  *Mailbox[Packet]
	interval time.Duration
	timeout  time.Duration
	capacity collector.Capacity
	memory   MemoryReader
	metrics  *Metrics
	log      *zap.Logger

	state    atomic.Int32
	baseline collector.Snapshot
	primed   bool
	seq      uint64
}

// New returns a scheduler reading from source under profile.
func New(source collector.Source, profile *schema.Profile, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeouts * cfg.Interval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	return &Scheduler{
		source:   source,
		profile:  profile,
		engine:   delta.New(profile),
		mailbox:  NewMailbox[Packet](),
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		capacity: cfg.Capacity,
		memory:   cfg.Memory,
		metrics:  cfg.Metrics,
		log:      log.Named("poller"),
	}
}

// Mailbox returns the mailbox packets are published to.
func (s *Scheduler) Mailbox() *Mailbox[Packet] { return s.mailbox }

// State returns the current phase. It is safe to call from any goroutine.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) { s.state.Store(int32(st)) }

// Prime takes the first baseline. Nothing is published.
func (s *Scheduler) Prime(ctx context.Context) error {
	s.setState(Fetching)
	defer s.setState(Idle)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "initial snapshot")
	}
	s.baseline = snap
	s.primed = true
	s.log.Debug("baseline taken", zap.Int("entities", len(snap.Records)))
	return nil
}

// Tick runs one cycle within the configured timeout, so a dead connection
// fails the cycle instead of stalling the poller. On failure the baseline is
// left as it was, so the next successful cycle spans the whole gap.
func (s *Scheduler) Tick(ctx context.Context) error {
	if !s.primed {
		return errors.New("poller: tick before prime")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		s.setState(Idle)
		s.metrics.Duration.Observe(time.Since(start).Seconds())
	}()

	s.setState(Fetching)
	snap, err := s.source.Snapshot(ctx)
	if err != nil {
		s.fail(err, reasonFetch)
		return errors.Wrap(err, "fetch")
	}
	var memory float64
	if s.memory != nil {
		if memory, err = s.memory.MemoryUsed(ctx); err != nil {
			s.fail(err, reasonMemory)
			return errors.Wrap(err, "memory usage")
		}
	}

	s.setState(Diffing)
	elapsed := snap.TakenAt.Sub(s.baseline.TakenAt)
	records, err := s.engine.Diff(snap, s.baseline, elapsed)
	if err != nil {
		s.fail(err, reasonSchema)
		return errors.Wrap(err, "diff")
	}

	s.setState(Publishing)
	s.seq++
	s.mailbox.Publish(&Packet{
		Seq:        s.seq,
		TakenAt:    snap.TakenAt,
		Elapsed:    elapsed,
		Records:    records,
		CPUTotal:   delta.Total(records, s.profile.CPUField),
		MemoryUsed: memory,
		Capacity:   s.capacity,
	})
	s.baseline = snap
	s.metrics.Cycles.Inc()
	s.metrics.Entities.Set(float64(len(records)))
	return nil
}

func (s *Scheduler) fail(err error, reason string) {
	if errors.Is(err, schema.ErrSchemaViolation) {
		reason = reasonSchema
	}
	s.metrics.Failures.WithLabelValues(reason).Inc()
}

// Run primes the scheduler if needed and ticks until ctx is done. Failed
// cycles are retried with exponential backoff and the last good packet
// stays in the mailbox. A schema violation ends Run with an error; context
// cancellation ends it with nil.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.primed {
		if err := s.Prime(ctx); err != nil {
			return err
		}
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.interval
	retry.MaxInterval = 10 * s.interval
	retry.MaxElapsedTime = 0
	retry.Reset()

	timer := time.NewTimer(s.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		wait := s.interval
		err := s.Tick(ctx)
		switch {
		case err == nil:
			retry.Reset()
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, schema.ErrSchemaViolation):
			return err
		default:
			wait = retry.NextBackOff()
			s.log.Warn("poll failed", zap.Error(err), zap.Duration("retry_in", wait))
		}
		timer.Reset(wait)
	}
}
