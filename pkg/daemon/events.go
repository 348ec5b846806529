package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"onionchat/internal/metrics"
	"onionchat/internal/retry"
	"onionchat/pkg/constants"
	"onionchat/pkg/daemon/types"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// EventSource is the push side of the Remote Session Gateway.
type EventSource interface {
	// Subscribe delivers push events until ctx ends or cancel is called.
	// cancel closes the connection and the channel and is safe to call twice.
	Subscribe(ctx context.Context) (<-chan types.Event, func())
}

// EventStreamConfig configures an EventStream.
type EventStreamConfig struct {
	URL        string
	AuthToken  string
	Backoff    retry.BackoffConfig
	BufferSize int
	ReadLimit  int64
	Logger     *logrus.Logger
}

// EventStream reads daemon push events from a websocket, reconnecting with
// backoff when the connection drops.
type EventStream struct {
	cfg    EventStreamConfig
	logger *logrus.Logger
}

func NewEventStream(cfg EventStreamConfig) *EventStream {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
		cfg.Logger.SetLevel(logrus.WarnLevel)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = constants.DefaultEventBufferSize
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = constants.DefaultEventReadLimitBytes
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = constants.DefaultBackoffInitialMs * time.Millisecond
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = constants.DefaultBackoffMaxSec * time.Second
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = 2
		cfg.Backoff.Jitter = true
	}
	// Reconnect until cancelled.
	cfg.Backoff.MaxAttempts = 0

	return &EventStream{cfg: cfg, logger: cfg.Logger}
}

func (s *EventStream) Subscribe(ctx context.Context) (<-chan types.Event, func()) {
	ctx, cancelCtx := context.WithCancel(ctx)
	events := make(chan types.Event, s.cfg.BufferSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(events)
		s.run(ctx, events)
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			cancelCtx()
			<-done
		})
	}
	return events, cancel
}

func (s *EventStream) run(ctx context.Context, events chan<- types.Event) {
	backoff := retry.NewBackoff(s.cfg.Backoff)
	attempt := 0

	for {
		connected, err := s.consume(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}
		attempt++

		s.logger.WithError(err).WithField("attempt", attempt).Warn("Push channel disconnected, reconnecting")
		metrics.PushReconnectsTotal.Inc()

		if err := backoff.Wait(ctx, attempt); err != nil {
			return
		}
	}
}

// consume holds one connection open and forwards its events. It reports
// whether the dial succeeded so the backoff can start over.
func (s *EventStream) consume(ctx context.Context, events chan<- types.Event) (bool, error) {
	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}

	conn, _, err := websocket.Dial(ctx, s.cfg.URL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return false, fmt.Errorf("failed to connect push channel: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(s.cfg.ReadLimit)

	s.logger.WithField("url", s.cfg.URL).Info("Push channel connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return true, fmt.Errorf("push channel read failed: %w", err)
		}

		var event types.Event
		if err := sonic.Unmarshal(data, &event); err != nil || event.Event == "" {
			s.logger.WithError(err).WithField("frame_bytes", len(data)).Warn("Skipping malformed push frame")
			metrics.PushEventsTotal.WithLabelValues("unknown", "malformed").Inc()
			continue
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}
