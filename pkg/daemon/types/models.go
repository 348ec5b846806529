package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// RPC command names understood by the chat daemon.
const (
	CmdLoadChat       = "LoadChat"
	CmdSendMessage    = "SendMessage"
	CmdSendAttachment = "SendAttachment"
	CmdLoadContacts   = "LoadContacts"
)

// Push event names.
const (
	EventIncomingMessage = "incoming-message"
)

// Message is a chat message as stored by the daemon.
type Message struct {
	ID             int64  `json:"id"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"`
	IsIncoming     bool   `json:"is_incoming"`
	SentStatus     bool   `json:"sent_status"`
	VerifiedStatus bool   `json:"verified_status"`
}

// Contact is a contact directory entry.
type Contact struct {
	Onion          string `json:"onion"`
	Nickname       string `json:"nickname"`
	UnreadMessages int    `json:"unread_messages"`
}

type LoadChatRequest struct {
	Cmd     string `json:"cmd"`
	ID      string `json:"id"`
	OnionID string `json:"onion_id"`
	Offset  int    `json:"offset"`
	Limit   int    `json:"limit"`
}

// LoadChatResponse carries a page of messages, newest first. HasMore is only
// set by daemons that know whether older messages exist.
type LoadChatResponse struct {
	Messages []Message `json:"messages"`
	HasMore  *bool     `json:"has_more,omitempty"`
}

type SendMessageRequest struct {
	Cmd  string `json:"cmd"`
	ID   string `json:"id"`
	To   string `json:"to"`
	Text string `json:"text"`
}

type SendAttachmentRequest struct {
	Cmd  string `json:"cmd"`
	ID   string `json:"id"`
	To   string `json:"to"`
	Path string `json:"path"`
}

type SendAttachmentResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type LoadContactsRequest struct {
	Cmd string `json:"cmd"`
	ID  string `json:"id"`
}

type LoadContactsResponse struct {
	Contacts []Contact `json:"contacts"`
}

// RPCError is the error envelope returned by the daemon.
type RPCError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error *RPCError `json:"error"`
}

// Event is one frame of the push channel.
type Event struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// IncomingMessagePayload is the payload of an incoming-message event.
type IncomingMessagePayload struct {
	OnionID string `json:"onion_id"`
}

// ParseIncomingMessage decodes an incoming-message payload. The daemon sends
// the payload either as a JSON object or as a string holding one.
func ParseIncomingMessage(raw json.RawMessage) (*IncomingMessagePayload, error) {
	data := strings.TrimSpace(string(raw))
	if data == "" || data == "null" {
		return nil, fmt.Errorf("empty payload")
	}

	if data[0] == '"' {
		var inner string
		if err := sonic.UnmarshalString(data, &inner); err != nil {
			return nil, fmt.Errorf("invalid payload string: %w", err)
		}
		data = inner
	}

	var payload IncomingMessagePayload
	if err := sonic.UnmarshalString(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if payload.OnionID == "" {
		return nil, fmt.Errorf("payload has no onion_id")
	}
	return &payload, nil
}
