package models

// HistoryState tells whether older messages are known to exist.
type HistoryState string

const (
	HistoryUnknown   HistoryState = "unknown"
	HistoryMore      HistoryState = "more"
	HistoryExhausted HistoryState = "exhausted"
)

// View is an immutable snapshot of a chat session as presented to a renderer.
type View struct {
	ContactID      string       `json:"contact_id"`
	Messages       []Message    `json:"messages"`
	BatchNumber    int          `json:"batch_number"`
	HistoryPending bool         `json:"history_pending"`
	History        HistoryState `json:"history"`
	Generation     uint64       `json:"generation"`
	LastError      string       `json:"last_error,omitempty"`

	DayLabel        string `json:"day_label"`
	DayLabelVisible bool   `json:"day_label_visible"`
}

// Failed returns the rejected local sends in the view.
func (v View) Failed() []Message {
	var out []Message
	for _, m := range v.Messages {
		if m.IsDeliveryFailed() {
			out = append(out, m)
		}
	}
	return out
}
