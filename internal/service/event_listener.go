package service

import (
	"context"
	"fmt"
	"sync"

	"onionchat/internal/metrics"
	"onionchat/pkg/daemon"
	"onionchat/pkg/daemon/types"

	"github.com/sirupsen/logrus"
)

// IncomingHandler receives the contact named by an incoming-message event.
type IncomingHandler func(onionID string)

// LiveUpdateListener subscribes to the daemon push channel once and hands
// every incoming-message event to its handler.
type LiveUpdateListener struct {
	source  daemon.EventSource
	handler IncomingHandler
	logger  *logrus.Logger

	mu          sync.Mutex
	running     bool
	unsubscribe func()
	wg          sync.WaitGroup
}

func NewLiveUpdateListener(source daemon.EventSource, handler IncomingHandler, logger *logrus.Logger) *LiveUpdateListener {
	return &LiveUpdateListener{
		source:  source,
		handler: handler,
		logger:  logger,
	}
}

// Start subscribes to the push channel. It fails when already running.
func (l *LiveUpdateListener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return fmt.Errorf("live update listener is already running")
	}

	events, unsubscribe := l.source.Subscribe(ctx)
	l.unsubscribe = unsubscribe
	l.running = true

	l.wg.Add(1)
	go l.loop(ctx, events)

	l.logger.WithField(LogFieldComponent, "live_listener").Info("Live update listener started")
	return nil
}

// Stop unsubscribes and waits for the dispatch loop to exit.
func (l *LiveUpdateListener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return
	}

	l.unsubscribe()
	l.wg.Wait()
	l.running = false
	l.logger.WithField(LogFieldComponent, "live_listener").Info("Live update listener stopped")
}

// IsRunning returns whether the listener is currently subscribed
func (l *LiveUpdateListener) IsRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *LiveUpdateListener) loop(ctx context.Context, events <-chan types.Event) {
	defer l.wg.Done()

	for event := range events {
		l.dispatch(ctx, event)
	}
}

func (l *LiveUpdateListener) dispatch(ctx context.Context, event types.Event) {
	if event.Event != types.EventIncomingMessage {
		metrics.PushEventsTotal.WithLabelValues(event.Event, "ignored").Inc()
		l.logger.WithField(LogFieldEvent, event.Event).Debug("Skipping push event: not handled")
		return
	}

	payload, err := types.ParseIncomingMessage(event.Payload)
	if err != nil {
		metrics.PushEventsTotal.WithLabelValues(event.Event, "malformed").Inc()
		l.logger.WithError(err).WithField(LogFieldEvent, event.Event).Warn("Skipping malformed push payload")
		return
	}

	LogPushEvent(ctx, l.logger, event.Event, payload.OnionID)
	metrics.PushEventsTotal.WithLabelValues(event.Event, "dispatched").Inc()
	l.handler(payload.OnionID)
}
