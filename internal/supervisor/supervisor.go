package supervisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// DefaultDelay is the wait between restart attempts with the constant policy.
const DefaultDelay = 5 * time.Second

var ErrGaveUp = errors.New("supervisor gave up restarting")

// Restartable is a service that reports failures after a successful start.
type Restartable interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Errors() <-chan error
}

type Options struct {
	// Backoff yields the delay before each restart. Defaults to a constant DefaultDelay.
	Backoff backoff.BackOff
	// MaxAttempts bounds consecutive failed starts. Zero retries forever.
	MaxAttempts int
	// OnRunning is told whenever the service goes up or down.
	OnRunning func(running bool)
	// OnRestart is told about every failure raised by the running service.
	OnRestart func(err error)
	// Wait sleeps for d or until ctx is done. Defaults to a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// ConstantBackoff waits the same delay before every attempt.
func ConstantBackoff(d time.Duration) backoff.BackOff {
	return backoff.NewConstantBackOff(d)
}

// ExponentialBackoff grows the delay from initial up to max with jitter and
// never stops on its own.
func ExponentialBackoff(initial, max time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Supervisor keeps a Restartable running: failed starts and failures raised
// afterwards are logged and followed by another start after a backoff delay.
type Supervisor struct {
	svc         Restartable
	backoff     backoff.BackOff
	maxAttempts int
	onRunning   func(bool)
	onRestart   func(error)
	wait        func(ctx context.Context, d time.Duration) error
	logger      *zerolog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
	failed   chan struct{}
	failOnce sync.Once
	running  atomic.Bool
	restarts atomic.Int64
}

func New(svc Restartable, opts Options, logger *zerolog.Logger) *Supervisor {
	if opts.Backoff == nil {
		opts.Backoff = ConstantBackoff(DefaultDelay)
	}
	if opts.Wait == nil {
		opts.Wait = sleep
	}
	return &Supervisor{
		svc:         svc,
		backoff:     opts.Backoff,
		maxAttempts: opts.MaxAttempts,
		onRunning:   opts.OnRunning,
		onRestart:   opts.OnRestart,
		wait:        opts.Wait,
		logger:      logger,
		failed:      make(chan struct{}),
	}
}

func (s *Supervisor) String() string {
	return "supervisor"
}

// Start launches the supervision loop and returns immediately.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx, s.done)
	return nil
}

// Shutdown stops the loop and shuts the supervised service down.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.setRunning(false)
	return s.svc.Shutdown(ctx)
}

// Running reports whether the supervised service is currently up.
func (s *Supervisor) Running() bool {
	return s.running.Load()
}

// Restarts counts the failures raised by the service after it was up.
func (s *Supervisor) Restarts() int64 {
	return s.restarts.Load()
}

// Failed is closed when the loop gives up on its own.
func (s *Supervisor) Failed() <-chan struct{} {
	return s.failed
}

// Err returns why the loop stopped on its own, if it did.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if err := s.startWithRetry(ctx); err != nil {
			if ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("Supervisor stopped restarting")
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				s.failOnce.Do(func() { close(s.failed) })
			}
			return
		}
		s.setRunning(true)

		select {
		case <-ctx.Done():
			return
		case err := <-s.svc.Errors():
			s.setRunning(false)
			s.restarts.Add(1)
			if s.onRestart != nil {
				s.onRestart(err)
			}
			delay := s.backoff.NextBackOff()
			s.logger.Error().
				Err(err).
				Dur("retryIn", delay).
				Msg("Balance monitor failed, restarting")
			if err := s.sleep(ctx, delay); err != nil {
				return
			}
		}
	}
}

func (s *Supervisor) startWithRetry(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := s.svc.Start(ctx)
		if err == nil {
			s.backoff.Reset()
			s.logger.Info().Int("attempt", attempt).Msg("Balance monitor started")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.maxAttempts > 0 && attempt >= s.maxAttempts {
			return errors.Join(ErrGaveUp, err)
		}

		delay := s.backoff.NextBackOff()
		s.logger.Error().
			Err(err).
			Int("attempt", attempt).
			Dur("retryIn", delay).
			Msg("Failed to start balance monitor, retrying")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	if d == backoff.Stop {
		return ErrGaveUp
	}
	return s.wait(ctx, d)
}

func (s *Supervisor) setRunning(running bool) {
	if s.running.Swap(running) == running {
		return
	}
	if s.onRunning != nil {
		s.onRunning(running)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
