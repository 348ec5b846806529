package models

import "time"

// SendKind distinguishes text sends from attachment sends.
type SendKind string

const (
	SendKindText       SendKind = "text"
	SendKindAttachment SendKind = "attachment"
)

// FailedSend is a rejected local send kept in the outbox so it can be
// retried after a restart.
type FailedSend struct {
	LocalRef       string   `json:"local_ref"`
	ContactID      string   `json:"contact_id"`
	Kind           SendKind `json:"kind"`
	Text           string   `json:"text,omitempty"`
	AttachmentPath string   `json:"attachment_path,omitempty"`
	Error          string   `json:"error"`
	Timestamp      int64    `json:"timestamp"`
	Attempts       int      `json:"attempts"`
	// BaselineID is the highest authoritative message id when the send was
	// issued.
	BaselineID int64     `json:"baseline_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Placeholder rebuilds the timeline entry shown for this send.
func (f FailedSend) Placeholder(body string) Message {
	return Message{
		Body:           body,
		Timestamp:      f.Timestamp,
		VerifiedStatus: true,
		Optimistic:     true,
		LocalRef:       f.LocalRef,
		SendState:      SendStateFailed,
		AttachmentPath: f.AttachmentPath,
		SendError:      f.Error,
	}
}

// ReadMarker is the newest authoritative message id seen for a contact.
type ReadMarker struct {
	ContactID  string    `json:"contact_id"`
	LastSeenID int64     `json:"last_seen_id"`
	UpdatedAt  time.Time `json:"updated_at"`
}
