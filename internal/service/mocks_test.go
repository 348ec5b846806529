package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"onionchat/internal/models"
	"onionchat/pkg/daemon/types"

	"github.com/stretchr/testify/mock"
)

const (
	alice = "abcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
	bob   = "bbcdefghijklmnopqrstuvwxyz234567abcdefghijklmnopqrstuvwx"
)

type loadCall struct {
	onionID string
	offset  int
	limit   int
}

// fakeDaemon is an in-memory chat daemon. Messages are kept oldest first per
// contact; LoadChat answers newest first like the real daemon.
type fakeDaemon struct {
	mu        sync.Mutex
	chats     map[string][]types.Message
	nextID    int64
	clock     int64
	loadCalls []loadCall
	sendCalls int

	hasMore *bool
	loadErr error
	sendErr error
	attach  *types.SendAttachmentResponse

	// When set, calls block until the gate is closed or receives.
	loadGate chan struct{}
	sendGate chan struct{}
	// deferStore makes SendMessage store the message only after its gate opens.
	deferStore bool
	// lostReply makes SendMessage store the message and still fail, like a
	// call that timed out after the daemon accepted it.
	lostReply error
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{chats: make(map[string][]types.Message), clock: 1700000000}
}

func (f *fakeDaemon) add(onionID, text string, incoming bool) types.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(onionID, text, incoming)
}

func (f *fakeDaemon) addLocked(onionID, text string, incoming bool) types.Message {
	f.nextID++
	f.clock += 60
	msg := types.Message{
		ID:             f.nextID,
		Body:           models.NewTextBody(text),
		Timestamp:      f.clock,
		IsIncoming:     incoming,
		SentStatus:     true,
		VerifiedStatus: true,
	}
	f.chats[onionID] = append(f.chats[onionID], msg)
	return msg
}

func (f *fakeDaemon) seed(onionID string, n int) {
	for i := 0; i < n; i++ {
		f.add(onionID, "seed", i%2 == 0)
	}
}

func (f *fakeDaemon) LoadChat(ctx context.Context, onionID string, offset, limit int) (*types.LoadChatResponse, error) {
	f.mu.Lock()
	f.loadCalls = append(f.loadCalls, loadCall{onionID: onionID, offset: offset, limit: limit})
	gate := f.loadGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}

	chat := f.chats[onionID]
	page := make([]types.Message, 0, limit)
	for i := len(chat) - 1 - offset; i >= 0 && len(page) < limit; i-- {
		page = append(page, chat[i])
	}
	return &types.LoadChatResponse{Messages: page, HasMore: f.hasMore}, nil
}

func (f *fakeDaemon) SendMessage(ctx context.Context, to, text string) error {
	f.mu.Lock()
	f.sendCalls++
	if f.lostReply != nil {
		f.addLocked(to, text, false)
		err := f.lostReply
		f.mu.Unlock()
		return err
	}
	err := f.sendErr
	deferStore := f.deferStore
	if err == nil && !deferStore {
		f.addLocked(to, text, false)
	}
	gate := f.sendGate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err == nil && deferStore {
		f.add(to, text, false)
	}
	return err
}

func (f *fakeDaemon) SendAttachment(ctx context.Context, to, path string) (*types.SendAttachmentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	if f.attach != nil {
		return f.attach, nil
	}
	f.addLocked(to, "[image]", false)
	return &types.SendAttachmentResponse{Success: true}, nil
}

func (f *fakeDaemon) LoadContacts(ctx context.Context) ([]types.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Contact
	for onion := range f.chats {
		out = append(out, types.Contact{Onion: onion})
	}
	return out, nil
}

func (f *fakeDaemon) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeDaemon) setLostReply(err error) {
	f.mu.Lock()
	f.lostReply = err
	f.mu.Unlock()
}

func (f *fakeDaemon) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *fakeDaemon) setLoadGate(gate chan struct{}) {
	f.mu.Lock()
	f.loadGate = gate
	f.mu.Unlock()
}

func (f *fakeDaemon) setSendGate(gate chan struct{}) {
	f.mu.Lock()
	f.sendGate = gate
	f.mu.Unlock()
}

func (f *fakeDaemon) loads() []loadCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]loadCall(nil), f.loadCalls...)
}

func (f *fakeDaemon) lastLoad() loadCall {
	calls := f.loads()
	if len(calls) == 0 {
		return loadCall{}
	}
	return calls[len(calls)-1]
}

func (f *fakeDaemon) sends() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCalls
}

// fakeEvents is a push channel driven by the test.
type fakeEvents struct {
	mu            sync.Mutex
	ch            chan types.Event
	subscriptions int
	cancels       int
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{}
}

func (f *fakeEvents) Subscribe(ctx context.Context) (<-chan types.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions++
	ch := make(chan types.Event, 16)
	f.ch = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			f.cancels++
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeEvents) push(event string, payload string) {
	f.mu.Lock()
	ch := f.ch
	f.mu.Unlock()
	ch <- types.Event{Event: event, Payload: json.RawMessage(payload)}
}

func (f *fakeEvents) incoming(onionID string) {
	f.push(types.EventIncomingMessage, `{"onion_id":"`+onionID+`"}`)
}

func (f *fakeEvents) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscriptions, f.cancels
}

// mockContactDirectory records contact refreshes.
type mockContactDirectory struct {
	mock.Mock
	refreshes atomic.Int32
}

func (m *mockContactDirectory) Refresh(ctx context.Context) error {
	m.refreshes.Add(1)
	args := m.Called(ctx)
	return args.Error(0)
}

// memOutbox is an in-memory OutboxStore.
type memOutbox struct {
	mu      sync.Mutex
	sends   map[string]models.FailedSend
	markers map[string]int64
}

func newMemOutbox() *memOutbox {
	return &memOutbox{sends: make(map[string]models.FailedSend), markers: make(map[string]int64)}
}

func (o *memOutbox) SaveFailedSend(ctx context.Context, send *models.FailedSend) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if send.Attempts <= 0 {
		send.Attempts = 1
	}
	send.UpdatedAt = time.Now()
	o.sends[send.LocalRef] = *send
	return nil
}

func (o *memOutbox) GetFailedSend(ctx context.Context, localRef string) (*models.FailedSend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sends[localRef]; ok {
		return &s, nil
	}
	return nil, nil
}

func (o *memOutbox) ListFailedSends(ctx context.Context, contactID string) ([]models.FailedSend, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []models.FailedSend
	for _, s := range o.sends {
		if s.ContactID == contactID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (o *memOutbox) DeleteFailedSend(ctx context.Context, localRef string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sends, localRef)
	return nil
}

func (o *memOutbox) SaveReadMarker(ctx context.Context, contactID string, lastSeenID int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if lastSeenID > o.markers[contactID] {
		o.markers[contactID] = lastSeenID
	}
	return nil
}

func (o *memOutbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sends)
}

func (o *memOutbox) marker(contactID string) int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.markers[contactID]
}

// mockRecordCleaner records cleanup runs.
type mockRecordCleaner struct {
	mock.Mock
}

func (m *mockRecordCleaner) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	args := m.Called(ctx, retentionDays)
	return args.Get(0).(int64), args.Error(1)
}
