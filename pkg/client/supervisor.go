package client

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"
)

// Runner is one session attempt. Run blocks until the attempt ends.
type Runner interface {
	Run(ctx context.Context) error
}

// SessionFactory builds the session for attempt id.
type SessionFactory func(id string) Runner

// Supervisor keeps exactly one session alive. When a session ends for any
// reason a new one is built with a fresh id, until the context is done.
// Attempts are not backed off unless a delay is set.
type Supervisor struct {
	factory SessionFactory
	delay   time.Duration
	logger  *slog.Logger
	metrics *Metrics

	attempts atomic.Uint64
}

// NewSupervisor creates a supervisor. delay is the pause between attempts.
func NewSupervisor(factory SessionFactory, delay time.Duration, logger *slog.Logger, metrics *Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		factory: factory,
		delay:   delay,
		logger:  logger,
		metrics: metrics,
	}
}

// Run builds and runs sessions until ctx is done. Session ids are "1", "2"
// and so on, unique within this supervisor.
func (sv *Supervisor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		id := strconv.FormatUint(sv.attempts.Add(1), 10)
		err := sv.runSession(ctx, id)
		if ctx.Err() != nil {
			return
		}

		sv.logger.Warn("session ended, reconnecting",
			"session_id", id,
			"error", err,
			"delay", sv.delay)
		sv.metrics.reconnect()

		if sv.delay > 0 {
			timer := time.NewTimer(sv.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// Attempts returns the number of sessions built so far.
func (sv *Supervisor) Attempts() uint64 {
	return sv.attempts.Load()
}

func (sv *Supervisor) runSession(ctx context.Context, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			sv.logger.Error("session panic",
				"session_id", id,
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrSessionPanic, r)
		}
	}()
	return sv.factory(id).Run(ctx)
}
