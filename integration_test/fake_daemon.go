package integration_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"onionchat/internal/models"
	"onionchat/pkg/daemon/types"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"
)

// FakeDaemon speaks the chat daemon's RPC and push protocols over HTTP and a
// websocket. Messages are kept oldest first per contact.
type FakeDaemon struct {
	mu          sync.Mutex
	token       string
	chats       map[string][]types.Message
	nicknames   map[string]string
	unread      map[string]int
	nextID      int64
	clock       int64
	rejectSends string
	rpcCalls    map[string]int
	subscribers map[*websocket.Conn]context.CancelFunc

	server *httptest.Server
}

// NewFakeDaemon starts a fake daemon that requires token as a bearer token.
func NewFakeDaemon(token string) *FakeDaemon {
	d := &FakeDaemon{
		token:       token,
		chats:       make(map[string][]types.Message),
		nicknames:   make(map[string]string),
		unread:      make(map[string]int),
		clock:       time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC).Unix(),
		rpcCalls:    make(map[string]int),
		subscribers: make(map[*websocket.Conn]context.CancelFunc),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", d.handleRPC)
	mux.HandleFunc("/events", d.handleEvents)
	d.server = httptest.NewServer(mux)
	return d
}

func (d *FakeDaemon) RPCURL() string {
	return d.server.URL
}

func (d *FakeDaemon) EventsURL() string {
	return "ws" + strings.TrimPrefix(d.server.URL, "http") + "/events"
}

// Close drops push subscribers and stops the server.
func (d *FakeDaemon) Close() {
	d.DropSubscribers()
	d.server.Close()
}

// AddContact registers a contact with a nickname.
func (d *FakeDaemon) AddContact(onionID, nickname string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nicknames[onionID] = nickname
	if _, ok := d.chats[onionID]; !ok {
		d.chats[onionID] = nil
	}
}

// Seed stores n alternating messages for onionID without pushing events.
func (d *FakeDaemon) Seed(onionID string, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := 0; i < n; i++ {
		d.storeLocked(onionID, models.NewTextBody("seed"), i%2 == 0)
	}
}

// Deliver stores an incoming message and pushes an incoming-message event to
// every subscriber.
func (d *FakeDaemon) Deliver(onionID, text string) {
	d.mu.Lock()
	d.storeLocked(onionID, models.NewTextBody(text), true)
	d.unread[onionID]++
	conns := make([]*websocket.Conn, 0, len(d.subscribers))
	for c := range d.subscribers {
		conns = append(conns, c)
	}
	d.mu.Unlock()

	inner, _ := sonic.MarshalString(types.IncomingMessagePayload{OnionID: onionID})
	frame, _ := sonic.Marshal(map[string]string{"event": types.EventIncomingMessage, "payload": inner})

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Write(ctx, websocket.MessageText, frame)
		cancel()
	}
}

// RejectSends makes SendMessage fail with reason; an empty reason accepts
// sends again.
func (d *FakeDaemon) RejectSends(reason string) {
	d.mu.Lock()
	d.rejectSends = reason
	d.mu.Unlock()
}

// DropSubscribers closes every push connection.
func (d *FakeDaemon) DropSubscribers() {
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.subscribers))
	for _, cancel := range d.subscribers {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (d *FakeDaemon) Subscribers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscribers)
}

func (d *FakeDaemon) Calls(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rpcCalls[cmd]
}

// Count returns how many stored messages of onionID carry text.
func (d *FakeDaemon) Count(onionID, text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.chats[onionID] {
		if models.DecodeBody(m.Body).Text == text {
			n++
		}
	}
	return n
}

func (d *FakeDaemon) storeLocked(onionID, body string, incoming bool) {
	d.nextID++
	d.clock += 60
	d.chats[onionID] = append(d.chats[onionID], types.Message{
		ID:             d.nextID,
		Body:           body,
		Timestamp:      d.clock,
		IsIncoming:     incoming,
		SentStatus:     true,
		VerifiedStatus: true,
	})
}

func (d *FakeDaemon) authorized(r *http.Request) bool {
	return d.token == "" || r.Header.Get("Authorization") == "Bearer "+d.token
}

func (d *FakeDaemon) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !d.authorized(r) {
		writeRPCError(w, http.StatusUnauthorized, "UNAUTHORIZED", "bad token")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeRPCError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	var head struct {
		Cmd string `json:"cmd"`
	}
	if err := sonic.Unmarshal(body, &head); err != nil {
		writeRPCError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid json")
		return
	}

	d.mu.Lock()
	d.rpcCalls[head.Cmd]++
	d.mu.Unlock()

	switch head.Cmd {
	case types.CmdLoadChat:
		var req types.LoadChatRequest
		_ = sonic.Unmarshal(body, &req)
		writeRPC(w, d.loadChat(req))
	case types.CmdSendMessage:
		var req types.SendMessageRequest
		_ = sonic.Unmarshal(body, &req)
		if reason := d.sendMessage(req); reason != "" {
			// The daemon reports rejections inside a 200 reply.
			writeRPCError(w, http.StatusOK, "SEND_FAILED", reason)
			return
		}
		writeRPC(w, struct{}{})
	case types.CmdSendAttachment:
		var req types.SendAttachmentRequest
		_ = sonic.Unmarshal(body, &req)
		d.mu.Lock()
		d.storeLocked(req.To, models.NewTextBody("[image "+req.Path+"]"), false)
		d.mu.Unlock()
		writeRPC(w, types.SendAttachmentResponse{Success: true})
	case types.CmdLoadContacts:
		writeRPC(w, d.loadContacts())
	default:
		writeRPCError(w, http.StatusBadRequest, "UNKNOWN_CMD", head.Cmd)
	}
}

func (d *FakeDaemon) loadChat(req types.LoadChatRequest) types.LoadChatResponse {
	d.mu.Lock()
	defer d.mu.Unlock()

	chat := d.chats[req.OnionID]
	page := make([]types.Message, 0, req.Limit)
	for i := len(chat) - 1 - req.Offset; i >= 0 && len(page) < req.Limit; i-- {
		page = append(page, chat[i])
	}
	hasMore := req.Offset+len(page) < len(chat)
	d.unread[req.OnionID] = 0
	return types.LoadChatResponse{Messages: page, HasMore: &hasMore}
}

func (d *FakeDaemon) sendMessage(req types.SendMessageRequest) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rejectSends != "" {
		return d.rejectSends
	}
	d.storeLocked(req.To, models.NewTextBody(req.Text), false)
	return ""
}

func (d *FakeDaemon) loadContacts() types.LoadContactsResponse {
	d.mu.Lock()
	defer d.mu.Unlock()
	var resp types.LoadContactsResponse
	for onion := range d.chats {
		resp.Contacts = append(resp.Contacts, types.Contact{
			Onion:          onion,
			Nickname:       d.nicknames[onion],
			UnreadMessages: d.unread[onion],
		})
	}
	return resp
}

func (d *FakeDaemon) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !d.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	d.mu.Lock()
	d.subscribers[conn] = cancel
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.subscribers, conn)
		d.mu.Unlock()
	}()

	ctx = conn.CloseRead(ctx)
	<-ctx.Done()
}

func writeRPC(w http.ResponseWriter, v interface{}) {
	data, err := sonic.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func writeRPCError(w http.ResponseWriter, status int, code, message string) {
	data, _ := sonic.Marshal(types.ErrorResponse{Error: &types.RPCError{Code: code, Message: message}})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
