package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"onionchat/internal/errors"
	"onionchat/internal/models"
	"onionchat/internal/viewport"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testOnion = "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"

type mockSession struct {
	mock.Mock
}

func (m *mockSession) IsRunning() bool {
	return m.Called().Bool(0)
}

func (m *mockSession) View() models.View {
	return m.Called().Get(0).(models.View)
}

func (m *mockSession) Watch(ctx context.Context) (<-chan models.View, func(), error) {
	args := m.Called(ctx)
	var cancel func()
	if f, ok := args.Get(1).(func()); ok {
		cancel = f
	}
	if ch, ok := args.Get(0).(chan models.View); ok {
		return ch, cancel, args.Error(2)
	}
	return nil, cancel, args.Error(2)
}

func (m *mockSession) SetActiveContact(ctx context.Context, contactID string) error {
	return m.Called(ctx, contactID).Error(0)
}

func (m *mockSession) Send(ctx context.Context, text string) (models.Message, error) {
	args := m.Called(ctx, text)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *mockSession) SendAttachment(ctx context.Context, path string) (models.Message, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(models.Message), args.Error(1)
}

func (m *mockSession) RequestMoreHistory(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockSession) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSession) OnScroll(ctx context.Context, metrics viewport.Metrics, markers []viewport.Marker) (viewport.ScrollResult, error) {
	args := m.Called(ctx, metrics, markers)
	return args.Get(0).(viewport.ScrollResult), args.Error(1)
}

func (m *mockSession) CommitLayout(ctx context.Context, scrollHeight float64) (float64, bool, error) {
	args := m.Called(ctx, scrollHeight)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}

func (m *mockSession) Retry(ctx context.Context, localRef string) error {
	return m.Called(ctx, localRef).Error(0)
}

func (m *mockSession) Discard(ctx context.Context, localRef string) error {
	return m.Called(ctx, localRef).Error(0)
}

type stubContacts struct {
	contacts    []models.Contact
	refreshedAt time.Time
}

func (s stubContacts) Contacts() []models.Contact { return s.contacts }
func (s stubContacts) RefreshedAt() time.Time     { return s.refreshedAt }

type stubHealth struct {
	err error
}

func (s stubHealth) HealthCheck(ctx context.Context) error { return s.err }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(session *mockSession, db healthChecker) *Server {
	contacts := stubContacts{
		contacts: []models.Contact{
			{OnionID: testOnion, Nickname: "alice", UnreadMessages: 2},
			{OnionID: "bbcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"},
		},
		refreshedAt: time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
	return NewServer("127.0.0.1:0", session, contacts, db, quietLogger())
}

// serve runs one request from a loopback peer.
func serve(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "127.0.0.1:50000"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errors.HTTPErrorResponse {
	t.Helper()
	var resp errors.HTTPErrorResponse
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestServer_HandleHealth(t *testing.T) {
	session := new(mockSession)
	session.On("IsRunning").Return(true)
	session.On("View").Return(models.View{ContactID: testOnion, Generation: 4})

	w := serve(newTestServer(session, stubHealth{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp healthResponse
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, uint64(4), resp.TimelineGeneration)
	assert.Equal(t, "2026-10-16T09:00:00Z", resp.ContactsRefreshed)
	assert.NotEqual(t, testOnion, resp.ActiveContact, "contact address must be masked")
}

func TestServer_HandleHealth_Unhealthy(t *testing.T) {
	session := new(mockSession)
	session.On("IsRunning").Return(false)
	session.On("View").Return(models.View{})

	w := serve(newTestServer(session, stubHealth{err: assert.AnError}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthResponse
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "stopped", resp.Session)
	assert.Equal(t, "unavailable", resp.Database)
}

func TestServer_RejectsRemoteCallers(t *testing.T) {
	session := new(mockSession)
	s := newTestServer(session, stubHealth{})

	req := httptest.NewRequest(http.MethodGet, "/view", nil)
	req.RemoteAddr = "192.0.2.10:40000"
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	session.AssertNotCalled(t, "View")
}

func TestServer_HandleView(t *testing.T) {
	session := new(mockSession)
	session.On("View").Return(models.View{
		ContactID:   testOnion,
		BatchNumber: 2,
		History:     models.HistoryMore,
		Messages:    []models.Message{{ID: 7, Body: models.NewTextBody("hi"), Timestamp: 1700000000}},
	})

	w := serve(newTestServer(session, stubHealth{}), http.MethodGet, "/view", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var view models.View
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 2, view.BatchNumber)
	assert.Equal(t, models.HistoryMore, view.History)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, int64(7), view.Messages[0].ID)
}

func TestServer_HandleSetContact(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		sessionErr error
		wantStatus int
		wantCode   errors.ErrorCode
	}{
		{
			name:       "switches contact",
			body:       `{"contact_id":"` + testOnion + `"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed body",
			body:       `{"contact_id":`,
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeInvalidInput,
		},
		{
			name:       "invalid contact",
			body:       `{"contact_id":"nope"}`,
			sessionErr: errors.NewValidationError("onion_id", "nope", "must be a v3 onion address"),
			wantStatus: http.StatusBadRequest,
			wantCode:   errors.ErrCodeValidationFailed,
		},
		{
			name:       "session stopped",
			body:       `{"contact_id":"` + testOnion + `"}`,
			sessionErr: errors.NewSessionClosedError("set_active_contact"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   errors.ErrCodeSessionClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := new(mockSession)
			session.On("SetActiveContact", mock.Anything, mock.Anything).Return(tt.sessionErr)
			session.On("View").Return(models.View{ContactID: testOnion})

			w := serve(newTestServer(session, stubHealth{}), http.MethodPut, "/contact", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeError(t, w).Error.Code)
			}
			assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		})
	}
}

func TestServer_HandleSend(t *testing.T) {
	session := new(mockSession)
	placeholder := models.Message{
		ID:         100,
		Body:       models.NewTextBody("hello"),
		Optimistic: true,
		LocalRef:   "ref-1",
		SendState:  models.SendStatePending,
	}
	session.On("Send", mock.Anything, "hello").Return(placeholder, nil)

	w := serve(newTestServer(session, stubHealth{}), http.MethodPost, "/messages", `{"text":"hello"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	var msg models.Message
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &msg))
	assert.True(t, msg.Optimistic)
	assert.Equal(t, "ref-1", msg.LocalRef)
	assert.Equal(t, models.SendStatePending, msg.SendState)
}

func TestServer_HandleSend_Errors(t *testing.T) {
	session := new(mockSession)
	session.On("Send", mock.Anything, "").Return(models.Message{}, errors.NewValidationError("text", "", "message text is empty"))

	w := serve(newTestServer(session, stubHealth{}), http.MethodPost, "/messages", `{"text":""}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, errors.ErrCodeValidationFailed, resp.Error.Code)
	assert.NotEmpty(t, resp.RequestID)
}

func TestServer_HandleSendAttachment(t *testing.T) {
	session := new(mockSession)
	session.On("SendAttachment", mock.Anything, "/tmp/cat.png").
		Return(models.Message{LocalRef: "ref-2", Optimistic: true, AttachmentPath: "/tmp/cat.png"}, nil)

	w := serve(newTestServer(session, stubHealth{}), http.MethodPost, "/attachments", `{"path":"/tmp/cat.png"}`)

	assert.Equal(t, http.StatusAccepted, w.Code)
	session.AssertExpectations(t)
}

func TestServer_HandleHistoryAndReload(t *testing.T) {
	session := new(mockSession)
	session.On("RequestMoreHistory", mock.Anything).Return(true, nil).Once()
	session.On("Reload", mock.Anything).Return(nil).Once()
	s := newTestServer(session, stubHealth{})

	w := serve(s, http.MethodPost, "/history", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"requested":true}`, w.Body.String())

	w = serve(s, http.MethodPost, "/reload", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	session.AssertExpectations(t)
}

func TestServer_HandleScroll(t *testing.T) {
	session := new(mockSession)
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	session.On("OnScroll", mock.Anything,
		viewport.Metrics{ScrollTop: 10, ScrollHeight: 3000, ClientHeight: 600},
		mock.MatchedBy(func(markers []viewport.Marker) bool {
			return len(markers) == 1 && markers[0].Offset == 0 && markers[0].Day.Equal(day)
		}),
	).Return(viewport.ScrollResult{NearTop: true, Label: viewport.Label{Text: "Yesterday", Visible: true}}, nil)

	body := `{"scroll_top":10,"scroll_height":3000,"client_height":600,"markers":[{"offset":0,"day":"2026-10-15T00:00:00Z"}]}`
	w := serve(newTestServer(session, stubHealth{}), http.MethodPost, "/viewport/scroll", body)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"near_top":true,"at_bottom":false,"day_label":"Yesterday","day_label_visible":true}`, w.Body.String())
}

func TestServer_HandleLayout(t *testing.T) {
	session := new(mockSession)
	session.On("CommitLayout", mock.Anything, float64(3500)).Return(float64(500), true, nil)

	w := serve(newTestServer(session, stubHealth{}), http.MethodPost, "/viewport/layout", `{"scroll_height":3500}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scroll_top":500,"changed":true}`, w.Body.String())
}

func TestServer_HandleOutbox(t *testing.T) {
	session := new(mockSession)
	session.On("Retry", mock.Anything, "ref-1").Return(nil)
	session.On("Discard", mock.Anything, "ref-1").Return(nil)
	session.On("Discard", mock.Anything, "missing").Return(errors.NewNotFoundError("failed send", "missing"))
	s := newTestServer(session, stubHealth{})

	assert.Equal(t, http.StatusAccepted, serve(s, http.MethodPost, "/outbox/ref-1/retry", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(s, http.MethodDelete, "/outbox/ref-1", "").Code)

	w := serve(s, http.MethodDelete, "/outbox/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrCodeNotFound, decodeError(t, w).Error.Code)
	session.AssertExpectations(t)
}

func TestServer_HandleContacts(t *testing.T) {
	w := serve(newTestServer(new(mockSession), stubHealth{}), http.MethodGet, "/contacts", "")

	require.Equal(t, http.StatusOK, w.Code)
	var contacts []contactResponse
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &contacts))
	require.Len(t, contacts, 2)
	assert.Equal(t, "alice", contacts[0].DisplayName)
	assert.Equal(t, 2, contacts[0].UnreadMessages)
	assert.Equal(t, contacts[1].OnionID, contacts[1].DisplayName)
}

func TestServer_HandleMetrics(t *testing.T) {
	w := serve(newTestServer(new(mockSession), stubHealth{}), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_ViewStream(t *testing.T) {
	views := make(chan models.View, 2)
	cancelled := make(chan struct{})
	session := new(mockSession)
	session.On("Watch", mock.Anything).Return(views, func() { close(cancelled) }, nil)

	ts := httptest.NewServer(newTestServer(session, stubHealth{}).router)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	views <- models.View{ContactID: testOnion, Generation: 1, Messages: []models.Message{}}
	views <- models.View{ContactID: testOnion, Generation: 2, Messages: []models.Message{}}

	for _, want := range []uint64{1, 2} {
		typ, data, err := conn.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, websocket.MessageText, typ)
		var view models.View
		require.NoError(t, sonic.Unmarshal(data, &view))
		assert.Equal(t, want, view.Generation)
	}

	close(views)
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	select {
	case <-cancelled:
	case <-ctx.Done():
		t.Fatal("watch was not cancelled")
	}
}

func TestServer_ViewStream_SessionClosed(t *testing.T) {
	session := new(mockSession)
	session.On("Watch", mock.Anything).Return(nil, nil, errors.NewSessionClosedError("watch"))

	w := serve(newTestServer(session, stubHealth{}), http.MethodGet, "/ws", "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
