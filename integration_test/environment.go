package integration_test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"onionchat/internal/database"
	"onionchat/internal/models"
	"onionchat/internal/retry"
	"onionchat/internal/service"
	"onionchat/pkg/circuitbreaker"
	"onionchat/pkg/daemon"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const (
	alice     = "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
	bob       = "bbcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
	testToken = "integration-token"

	eventually = 5 * time.Second
	tick       = 10 * time.Millisecond
)

// TestEnvironment is a chat session wired to a fake daemon and a temporary
// database, the way serve wires it.
type TestEnvironment struct {
	Daemon   *FakeDaemon
	DB       *database.Database
	Contacts *service.ContactService
	Session  *service.ChatSession
	DBPath   string
}

// EnvironmentOptions tweak a TestEnvironment.
type EnvironmentOptions struct {
	Session models.SessionConfig
	// Seed runs against the daemon before the session starts.
	Seed func(d *FakeDaemon)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// NewTestEnvironment starts everything and registers cleanup in teardown
// order: session, database, daemon.
func NewTestEnvironment(t *testing.T, opts EnvironmentOptions) *TestEnvironment {
	t.Helper()
	logger := quietLogger()

	env := &TestEnvironment{
		Daemon: NewFakeDaemon(testToken),
		DBPath: filepath.Join(t.TempDir(), "onionchat.db"),
	}
	t.Cleanup(env.Daemon.Close)
	if opts.Seed != nil {
		opts.Seed(env.Daemon)
	}

	var err error
	env.DB, err = database.New(env.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.DB.Close() })

	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:      "daemon",
		IsFailure: daemon.IsBreakerFailure,
		Logger:    logger,
	})
	client, err := daemon.NewClient(daemon.ClientConfig{
		RPCURL:    env.Daemon.RPCURL(),
		AuthToken: testToken,
		Timeout:   2 * time.Second,
		Breaker:   breaker,
		Logger:    logger,
	})
	require.NoError(t, err)

	events := daemon.NewEventStream(daemon.EventStreamConfig{
		URL:       env.Daemon.EventsURL(),
		AuthToken: testToken,
		Backoff: retry.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2,
		},
		Logger: logger,
	})

	env.Contacts = service.NewContactService(client, logger)

	cfg := opts.Session
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 25
		cfg.DropStaleReloads = true
	}
	env.Session = service.NewChatSession(service.ChatSessionDeps{
		Gateway:  client,
		Events:   events,
		Contacts: env.Contacts,
		Outbox:   env.DB,
		Logger:   logger,
	}, cfg, 2*time.Second)

	require.NoError(t, env.Session.Start(context.Background()))
	t.Cleanup(func() {
		env.Session.Stop()
		env.Session.Wait()
	})

	require.Eventually(t, func() bool { return env.Daemon.Subscribers() == 1 }, eventually, tick,
		"session never subscribed to push events")
	return env
}

// Open switches to contactID and waits for the first reload to land.
func (env *TestEnvironment) Open(t *testing.T, contactID string) models.View {
	t.Helper()
	require.NoError(t, env.Session.SetActiveContact(context.Background(), contactID))
	return env.WaitView(t, "first reload", func(v models.View) bool {
		return v.ContactID == contactID && v.Generation > 0 && v.History != models.HistoryUnknown
	})
}

// WaitView polls the session until cond holds and returns that view.
func (env *TestEnvironment) WaitView(t *testing.T, what string, cond func(models.View) bool) models.View {
	t.Helper()
	var last models.View
	require.Eventually(t, func() bool {
		last = env.Session.View()
		return cond(last)
	}, eventually, tick, "timed out waiting for %s", what)
	return last
}

func countText(v models.View, text string) (authoritative, optimistic int) {
	for _, m := range v.Messages {
		if m.Content().Text != text {
			continue
		}
		if m.Optimistic {
			optimistic++
		} else {
			authoritative++
		}
	}
	return authoritative, optimistic
}
