package main

import (
	"context"
	"fmt"
	"time"

	"onionchat/internal/config"
	"onionchat/internal/constants"
	"onionchat/internal/database"
	"onionchat/internal/metrics"
	"onionchat/internal/models"
	"onionchat/internal/retry"
	"onionchat/internal/service"
	"onionchat/internal/tracing"
	"onionchat/pkg/attachment"
	"onionchat/pkg/circuitbreaker"
	pkgconstants "onionchat/pkg/constants"
	"onionchat/pkg/daemon"

	"github.com/sirupsen/logrus"
)

// engine is the chat session together with everything it talks to.
type engine struct {
	cfg      *models.Config
	logger   *logrus.Logger
	tracing  *tracing.TracingManager
	db       *database.Database
	client   *daemon.DaemonClient
	contacts *service.ContactService
	session  *service.ChatSession
}

func newLogger(formatter logrus.Formatter) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(formatter)
	return logger
}

// loadConfig reads the config file and sets the logger level from it, or to
// debug when --verbose is given.
func loadConfig(logger *logrus.Logger) (*models.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if verbose {
		logger.SetLevel(logrus.DebugLevel)
		logger.Info("Verbose logging enabled - contact addresses and message text will be logged")
	} else if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
		logger.SetLevel(logrus.InfoLevel)
	}
	return cfg, nil
}

func newEngine(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*engine, error) {
	e := &engine{cfg: cfg, logger: logger}

	e.tracing = tracing.NewTracingManager(cfg.Tracing, logger)
	if err := e.tracing.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}

	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	err := retry.NewBackoff(backoffConfig).Retry(ctx, func() error {
		var initErr error
		e.db, initErr = database.New(cfg.Database.Path)
		if initErr != nil {
			logger.Warnf("Failed to initialize database: %v", initErr)
		}
		return initErr
	})
	if err != nil {
		e.shutdownTracing()
		return nil, fmt.Errorf("failed to initialize database after retries: %w", err)
	}

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:        "daemon",
		MaxFailures: uint32(cfg.Breaker.MaxFailures),
		Timeout:     time.Duration(cfg.Breaker.ResetTimeoutSec) * time.Second,
		IsFailure:   daemon.IsBreakerFailure,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
		Logger: logger,
	})
	metrics.BreakerState.WithLabelValues("daemon").Set(float64(circuitbreaker.StateClosed))

	timeout := time.Duration(cfg.Daemon.TimeoutMs) * time.Millisecond
	e.client, err = daemon.NewClient(daemon.ClientConfig{
		RPCURL:    cfg.Daemon.RPCURL,
		AuthToken: cfg.Daemon.AuthToken,
		Timeout:   timeout,
		Breaker:   breaker,
		Logger:    logger,
	})
	if err != nil {
		e.close()
		return nil, fmt.Errorf("failed to create daemon client: %w", err)
	}

	events := daemon.NewEventStream(daemon.EventStreamConfig{
		URL:       cfg.Daemon.EventsURL,
		AuthToken: cfg.Daemon.AuthToken,
		Backoff:   retry.FromRetryConfig(cfg.Retry),
		Logger:    logger,
	})

	e.contacts = service.NewContactService(e.client, logger)

	validator := attachment.NewValidator(attachment.Config{
		MaxSizeBytes: int64(cfg.Attachments.MaxSizeKB) * pkgconstants.BytesPerKilobyte,
		AllowedTypes: cfg.Attachments.AllowedTypes,
	})

	e.session = service.NewChatSession(service.ChatSessionDeps{
		Gateway:     e.client,
		Events:      events,
		Contacts:    e.contacts,
		Outbox:      e.db,
		Attachments: validator,
		Logger:      logger,
	}, cfg.Session, timeout)

	return e, nil
}

// start launches the session and fetches the contact directory once.
func (e *engine) start(ctx context.Context) error {
	if err := e.session.Start(service.WithVerbose(ctx, verbose)); err != nil {
		return fmt.Errorf("failed to start chat session: %w", err)
	}

	if err := e.contacts.Refresh(ctx); err != nil {
		e.logger.Warnf("Failed to load contacts on startup: %v. Contact names may not be available immediately.", err)
	}
	return nil
}

// close stops the session, waits for its daemon calls and releases the
// database and tracer.
func (e *engine) close() {
	if e.session != nil {
		e.session.Stop()
		e.session.Wait()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Warnf("Failed to close database: %v", err)
		}
	}
	e.shutdownTracing()
}

func (e *engine) shutdownTracing() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	if err := e.tracing.Shutdown(ctx); err != nil {
		e.logger.Warnf("Failed to shutdown tracing: %v", err)
	}
}
