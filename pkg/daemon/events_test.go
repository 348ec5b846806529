package daemon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"onionchat/internal/retry"
	"onionchat/pkg/daemon/types"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pushServer accepts websocket connections and writes frames to each one.
func pushServer(t *testing.T, frames []string, closeAfter bool, connections *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if connections != nil {
			atomic.AddInt32(connections, 1)
		}
		assert.Equal(t, "Bearer push-token", r.Header.Get("Authorization"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		for _, frame := range frames {
			if err := conn.Write(r.Context(), websocket.MessageText, []byte(frame)); err != nil {
				return
			}
		}
		if closeAfter {
			conn.Close(websocket.StatusNormalClosure, "bye")
			return
		}
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func fastBackoff() retry.BackoffConfig {
	return retry.BackoffConfig{InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, Multiplier: 2}
}

func receive(t *testing.T, events <-chan types.Event) types.Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		require.True(t, ok, "event channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for push event")
	}
	return types.Event{}
}

func TestEventStream_DeliversEventsAndSkipsMalformed(t *testing.T) {
	server := pushServer(t, []string{
		`{"event":"incoming-message","payload":"{\"onion_id\":\"abc\"}"}`,
		`not json`,
		`{"payload":{}}`,
		`{"event":"incoming-message","payload":{"onion_id":"def"}}`,
	}, false, nil)

	stream := NewEventStream(EventStreamConfig{URL: wsURL(server), AuthToken: "push-token", Backoff: fastBackoff()})
	events, cancel := stream.Subscribe(context.Background())
	defer cancel()

	first := receive(t, events)
	assert.Equal(t, types.EventIncomingMessage, first.Event)
	payload, err := types.ParseIncomingMessage(first.Payload)
	require.NoError(t, err)
	assert.Equal(t, "abc", payload.OnionID)

	second := receive(t, events)
	payload, err = types.ParseIncomingMessage(second.Payload)
	require.NoError(t, err)
	assert.Equal(t, "def", payload.OnionID)
}

func TestEventStream_ReconnectsAfterDisconnect(t *testing.T) {
	var connections int32
	server := pushServer(t, []string{`{"event":"incoming-message","payload":{"onion_id":"abc"}}`}, true, &connections)

	stream := NewEventStream(EventStreamConfig{URL: wsURL(server), AuthToken: "push-token", Backoff: fastBackoff()})
	events, cancel := stream.Subscribe(context.Background())
	defer cancel()

	receive(t, events)
	receive(t, events)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&connections), int32(2))
}

func TestEventStream_CancelClosesChannel(t *testing.T) {
	server := pushServer(t, nil, false, nil)

	stream := NewEventStream(EventStreamConfig{URL: wsURL(server), AuthToken: "push-token", Backoff: fastBackoff()})
	events, cancel := stream.Subscribe(context.Background())

	cancel()
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestEventStream_RetriesWhenDaemonDown(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(server)
	server.Close()

	stream := NewEventStream(EventStreamConfig{URL: url, Backoff: fastBackoff()})
	ctx, stop := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer stop()

	events, cancel := stream.Subscribe(ctx)
	defer cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop with its context")
	}
}
