// Package audit times SQL statements per physical connection and reports
// each one to a set of sinks.
package audit

import (
	"context"
	"database/sql/driver"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/notas/internal/domain"
)

// Sink receives audit events. Implementations must not block for long:
// they run on the statement's goroutine.
type Sink interface {
	Start(ctx context.Context, rec domain.AuditRecord)
	Complete(ctx context.Context, rec domain.AuditRecord)
}

// Auditor keeps a LIFO stack of start times per connection so nested or
// overlapping statements on one connection pair correctly.
type Auditor struct {
	mu        sync.Mutex
	stacks    map[uint64][]time.Time
	threshold time.Duration
	sinks     []Sink
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures an Auditor.
type Option func(*Auditor)

// WithSinks appends sinks.
func WithSinks(sinks ...Sink) Option {
	return func(a *Auditor) { a.sinks = append(a.sinks, sinks...) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

// WithLogger sets the logger used to report auditor failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

// New creates an auditor flagging statements slower than threshold.
func New(threshold time.Duration, opts ...Option) *Auditor {
	a := &Auditor{
		stacks:    make(map[uint64][]time.Time),
		threshold: threshold,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Threshold returns the slow statement threshold.
func (a *Auditor) Threshold() time.Duration {
	return a.threshold
}

// Before records the start of a statement on connID.
func (a *Auditor) Before(ctx context.Context, connID uint64, statement string, args []driver.NamedValue) {
	defer a.absorb("before")

	start := a.now()
	a.mu.Lock()
	a.stacks[connID] = append(a.stacks[connID], start)
	a.mu.Unlock()

	rec := domain.AuditRecord{
		ConnID:     connID,
		Statement:  statement,
		Parameters: SanitizeArgs(args),
		StartedAt:  start,
	}
	for _, s := range a.sinks {
		a.emit(func() { s.Start(ctx, rec) })
	}
}

// After pairs the most recent Before on connID and reports the completed
// statement. An After without a matching Before is logged and dropped.
func (a *Auditor) After(ctx context.Context, connID uint64, statement string, args []driver.NamedValue, execErr error) {
	defer a.absorb("after")

	start, ok := a.pop(connID)
	if !ok {
		a.logger.Warn("sql audit: completion without start", "conn_id", connID)
		return
	}

	elapsed := a.now().Sub(start)
	rec := domain.AuditRecord{
		ConnID:     connID,
		Statement:  statement,
		Parameters: SanitizeArgs(args),
		StartedAt:  start,
		DurationMs: float64(elapsed.Microseconds()) / 1000,
		Slow:       elapsed > a.threshold,
	}
	if execErr != nil {
		rec.Err = execErr.Error()
	}
	for _, s := range a.sinks {
		a.emit(func() { s.Complete(ctx, rec) })
	}
}

// Cancel discards the most recent start on connID without reporting it.
// Used when the driver declines a statement and database/sql retries it
// another way.
func (a *Auditor) Cancel(connID uint64) {
	a.pop(connID)
}

// Release drops the stack of a closed connection.
func (a *Auditor) Release(connID uint64) {
	a.mu.Lock()
	delete(a.stacks, connID)
	a.mu.Unlock()
}

// Depth returns the number of open statements on connID.
func (a *Auditor) Depth(connID uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stacks[connID])
}

// Connections returns the number of connections with a live stack.
func (a *Auditor) Connections() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.stacks)
}

func (a *Auditor) pop(connID uint64) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stack := a.stacks[connID]
	if len(stack) == 0 {
		return time.Time{}, false
	}
	top := stack[len(stack)-1]
	stack = stack[:len(stack)-1]
	if len(stack) == 0 {
		delete(a.stacks, connID)
	} else {
		a.stacks[connID] = stack
	}
	return top, true
}

// emit runs one sink call; a failing sink never affects the others.
func (a *Auditor) emit(fn func()) {
	defer a.absorb("sink")
	fn()
}

func (a *Auditor) absorb(stage string) {
	if r := recover(); r != nil {
		a.logger.Error("sql audit failed", "stage", stage, "error", r)
	}
}
