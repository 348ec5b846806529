package models

// Contact is an entry of the daemon's contact directory.
type Contact struct {
	OnionID        string `json:"onion"`
	Nickname       string `json:"nickname"`
	UnreadMessages int    `json:"unread_messages"`
}

// DisplayName returns the nickname, falling back to the onion address.
func (c Contact) DisplayName() string {
	if c.Nickname != "" {
		return c.Nickname
	}
	return c.OnionID
}
