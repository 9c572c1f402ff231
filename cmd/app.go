package main

import (
	"balance-keeper/internal/config"
	"balance-keeper/internal/emitters"
	"balance-keeper/internal/events"
	"balance-keeper/internal/health"
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/lifecycle"
	"balance-keeper/internal/logger"
	"balance-keeper/internal/metrics"
	"balance-keeper/internal/models"
	"balance-keeper/internal/monitors"
	"balance-keeper/internal/monitors/evm"
	"balance-keeper/internal/policy"
	"balance-keeper/internal/rpc"
	"balance-keeper/internal/supervisor"
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// app is the wiring shared by the collect and maintain commands.
type app struct {
	cfg        *config.Config
	logger     *zerolog.Logger
	client     *rpc.Client
	monitor    *evm.BalanceMonitor
	transferer *policy.Transferer
	supervisor *supervisor.Supervisor
	group      *lifecycle.Group
}

func newApp(name string, cfg *config.Config, endpoint string, watch []common.Address) *app {
	log := logger.Component(name)

	// The node is dialed by the monitor's first Start so that an unreachable
	// node goes through the supervisor's retry loop.
	client := rpc.NewLazyClient(endpoint, rpc.Options{
		RateLimit:           cfg.RPC.RateLimit,
		MaxRetries:          cfg.RPC.MaxRetries,
		RetryDelay:          cfg.RPC.RetryDelay,
		ReceiptPollInterval: cfg.RPC.ReceiptPollInterval,
		ConfirmTimeout:      cfg.RPC.ConfirmTimeout,
	}, logger.Component("rpc"))

	group := lifecycle.NewGroup(lifecycle.Func{
		Name: "rpc client",
		ShutdownFn: func(context.Context) error {
			client.Close()
			return nil
		},
	})

	var sink interfaces.EventEmitter
	if cfg.Kafka.Enabled {
		kafka := emitters.NewKafkaEmitter(emitters.KafkaOptions{
			BrokerAddress: cfg.Kafka.BrokerAddress,
			Topic:         cfg.Kafka.Topic,
			BatchSize:     cfg.Kafka.BatchSize,
			BatchTimeout:  cfg.Kafka.BatchTimeout,
		}, logger.Component("kafka"))
		group.Add(kafka)
		sink = kafka
	}
	stats := metrics.New()
	emitter := events.NewLogEmitter(stats.Emitter(sink), logger.Component("events"))

	monitor := evm.NewBalanceMonitor(
		monitors.NewBaseMonitor(logger.Component("monitor"), watch...),
		client,
		evm.Options{
			Dispatch:         evm.DispatchMode(cfg.Monitor.Dispatch),
			QueryConcurrency: cfg.Monitor.QueryConcurrency,
		},
	)

	status := health.NewStatus()
	monitor.OnNewBlock(status)
	monitor.OnNewBlock(stats)
	monitor.OnNewBlock(interfaces.BlockObserverFunc(func(_ context.Context, header models.BlockHeader) error {
		log.Debug().
			Uint64("number", header.Number).
			Str("hash", header.Hash.Hex()).
			Msg("New block")
		return nil
	}))
	monitor.OnBalanceChange(stats)
	monitor.OnBalanceChange(events.NewBalanceReporter(emitter, log))

	if cfg.HealthAddr != "" {
		mux := status.Handler()
		mux.Handle("/metrics", stats.Handler())
		group.Add(health.NewServer(cfg.HealthAddr, mux, logger.Component("health")))
	}

	var inflight *policy.Inflight
	if cfg.Monitor.DedupeInflight {
		inflight = policy.NewInflight()
	}
	transferer := policy.NewTransferer(client, emitter, inflight, log)

	sup := supervisor.New(monitor, supervisor.Options{
		Backoff:     restartBackoff(cfg.Restart),
		MaxAttempts: cfg.Restart.MaxAttempts,
		OnRunning:   status.SetReady,
		OnRestart: func(error) {
			status.RecordRestart()
			stats.RecordRestart()
		},
	}, logger.Component("supervisor"))
	group.Add(sup)

	return &app{
		cfg:        cfg,
		logger:     log,
		client:     client,
		monitor:    monitor,
		transferer: transferer,
		supervisor: sup,
		group:      group,
	}
}

// run starts everything and blocks until ctx is cancelled or the supervisor
// gives up, then shuts down within the configured timeout.
func (a *app) run(ctx context.Context) error {
	a.logger.Info().
		Strs("addresses", a.monitor.WatchedAddresses()).
		Msg("Starting...")

	if err := a.group.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info().Msg("Shutting down")
	case <-a.supervisor.Failed():
		runErr = a.supervisor.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := a.group.Shutdown(shutdownCtx); err != nil {
		if errors.Is(err, models.ErrUnsubscribeFailed) {
			a.logger.Warn().Err(err).Msg("Failed to unsubscribe from new block headers")
		} else {
			a.logger.Error().Err(err).Msg("Error during shutdown")
		}
	}
	a.logger.Info().Msg("Balance monitor stopped")

	return runErr
}

func restartBackoff(cfg config.RestartConfig) backoff.BackOff {
	if cfg.Backoff == "exponential" {
		return supervisor.ExponentialBackoff(cfg.Delay, cfg.MaxDelay)
	}
	return supervisor.ConstantBackoff(cfg.Delay)
}
