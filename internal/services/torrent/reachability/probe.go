// Package reachability checks whether the listen port accepts inbound peer
// connections by briefly swapping the primary engine for a listen-only one.
package reachability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
)

const DefaultTimeout = 60 * time.Second

var errSuperseded = errors.New("probe superseded by a newer check")

// EngineHost owns the primary engine. The probe suspends it to free the
// port and resumes it with the configured settings afterwards.
type EngineHost interface {
	SuspendEngine(ctx context.Context) error
	ResumeEngine(ctx context.Context) error
}

type Probe struct {
	host    EngineHost
	factory ports.ProbeFactory
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	done   chan struct{}
}

type Option func(*Probe)

func WithTimeout(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Probe) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(host EngineHost, factory ports.ProbeFactory, opts ...Option) *Probe {
	p := &Probe{
		host:    host,
		factory: factory,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check reports whether a remote peer connected to port before the timeout.
// A check already in flight is cancelled and awaited first. The primary
// engine is resumed whatever the outcome.
func (p *Probe) Check(ctx context.Context, port int) (bool, error) {
	if port < 0 || port > 65535 {
		return false, fmt.Errorf("%w: port %d", domain.ErrInvalidInput, port)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})

	p.mu.Lock()
	prevCancel, prevDone := p.cancel, p.done
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	defer func() {
		cancel(nil)
		p.mu.Lock()
		if p.done == done {
			p.cancel, p.done = nil, nil
		}
		p.mu.Unlock()
		close(done)
	}()

	if prevCancel != nil {
		prevCancel(errSuperseded)
		<-prevDone
	}

	reachable, err := p.run(runCtx, port)
	switch {
	case err != nil:
		metrics.ProbeResultsTotal.WithLabelValues("error").Inc()
	case reachable:
		metrics.ProbeResultsTotal.WithLabelValues("reachable").Inc()
	default:
		metrics.ProbeResultsTotal.WithLabelValues("unreachable").Inc()
	}
	return reachable, err
}

func (p *Probe) run(ctx context.Context, port int) (bool, error) {
	if err := p.host.SuspendEngine(ctx); err != nil {
		return false, fmt.Errorf("%w: suspend engine: %v", domain.ErrEngine, err)
	}

	var (
		once      sync.Once
		engine    ports.ProbeEngine
		resumeErr error
	)
	cleanup := func() {
		once.Do(func() {
			if engine != nil {
				if err := engine.Close(); err != nil {
					p.logger.Warn("probe engine close failed", slog.String("error", err.Error()))
				}
			}
			if err := p.host.ResumeEngine(context.WithoutCancel(ctx)); err != nil {
				resumeErr = fmt.Errorf("%w: resume engine: %v", domain.ErrEngine, err)
			}
		})
	}
	defer cleanup()

	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var err error
	engine, err = p.factory(waitCtx, port)
	if err != nil {
		cleanup()
		return false, errors.Join(err, resumeErr)
	}

	p.logger.Info("reachability probe listening", slog.Int("port", port), slog.Duration("timeout", p.timeout))
	waitErr := engine.WaitInbound(waitCtx)
	cleanup()

	switch {
	case waitErr == nil:
		return true, resumeErr
	case errors.Is(context.Cause(ctx), errSuperseded):
		return false, resumeErr
	case ctx.Err() != nil:
		return false, errors.Join(ctx.Err(), resumeErr)
	case errors.Is(waitErr, context.DeadlineExceeded):
		p.logger.Info("reachability probe timed out", slog.Int("port", port))
		return false, resumeErr
	default:
		return false, errors.Join(fmt.Errorf("%w: probe: %v", domain.ErrEngine, waitErr), resumeErr)
	}
}
