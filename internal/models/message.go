package models

import "time"

// SendState tracks a locally authored message that the daemon has not yet
// reflected back in a chat page.
type SendState string

const (
	// SendStateNone marks an authoritative message loaded from the daemon.
	SendStateNone SendState = ""
	// SendStatePending marks an optimistic placeholder awaiting its send call.
	SendStatePending SendState = "pending"
	// SendStateFailed marks a placeholder whose send call was rejected. It stays
	// visible until retried or discarded.
	SendStateFailed SendState = "delivery_failed"
)

// Message is one entry of a contact's timeline.
type Message struct {
	ID             int64  `json:"id"`
	Body           string `json:"body"`
	Timestamp      int64  `json:"timestamp"` // seconds since epoch
	IsIncoming     bool   `json:"is_incoming"`
	SentStatus     bool   `json:"sent_status"`
	VerifiedStatus bool   `json:"verified_status"`

	// Client-local fields, never sent by the daemon.
	Optimistic     bool      `json:"optimistic,omitempty"`
	LocalRef       string    `json:"local_ref,omitempty"`
	SendState      SendState `json:"send_state,omitempty"`
	AttachmentPath string    `json:"attachment_path,omitempty"`
	SendError      string    `json:"send_error,omitempty"`
}

// Time returns the message timestamp in loc.
func (m Message) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(m.Timestamp, 0).In(loc)
}

// Content decodes the message body envelope.
func (m Message) Content() Content {
	return DecodeBody(m.Body)
}

// HasError reports whether the message should be rendered with an error
// indicator: unverified incoming messages, Error bodies and bodies that could
// not be decoded.
func (m Message) HasError() bool {
	if m.IsIncoming && !m.VerifiedStatus {
		return true
	}
	c := m.Content()
	return c.Type == BodyError || c.Undecodable
}

// ErrorText is the text shown next to the error indicator.
func (m Message) ErrorText() string {
	c := m.Content()
	switch {
	case c.Undecodable:
		return "Message could not be displayed"
	case c.Type == BodyError:
		return c.ErrorMessage
	case m.IsIncoming && !m.VerifiedStatus:
		return "Message could not be verified"
	}
	return ""
}

// IsDeliveryFailed reports whether this is a rejected local send.
func (m Message) IsDeliveryFailed() bool {
	return m.Optimistic && m.SendState == SendStateFailed
}
