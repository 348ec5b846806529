package timeline

import (
	"slices"
	"sort"
	"sync"

	"onionchat/internal/models"
)

// Store holds the ordered message timeline of the active contact.
//
// Authoritative messages are kept sorted by timestamp (ties keep the order
// they were given in) with unique ids. Optimistic placeholders always follow
// them, in insertion order, numbered above the highest authoritative id.
// Every mutation publishes a new slice, so snapshots handed out earlier never
// change.
type Store struct {
	mu       sync.RWMutex
	messages []models.Message
	version  uint64
}

func NewStore() *Store {
	return &Store{}
}

// Snapshot is an immutable view of the timeline.
type Snapshot struct {
	Messages []models.Message
	Version  uint64
}

// Len returns the number of messages in the snapshot.
func (s Snapshot) Len() int { return len(s.Messages) }

// Last returns the final message, if any.
func (s Snapshot) Last() (models.Message, bool) {
	if len(s.Messages) == 0 {
		return models.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Snapshot returns the current timeline.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{Messages: s.messages, Version: s.version}
}

// Replace sets the whole timeline. Optimistic entries in msgs are moved to
// the tail.
func (s *Store) Replace(msgs []models.Message) Snapshot {
	var authoritative, optimistic []models.Message
	for _, m := range msgs {
		if m.Optimistic {
			optimistic = append(optimistic, m)
		} else {
			authoritative = append(authoritative, m)
		}
	}

	next := normalize(authoritative)
	next = appendRenumbered(next, optimistic)

	return s.publish(next)
}

// AppendOptimistic adds a placeholder at the tail with provisional id
// (last id or 0) + 1 and returns it.
func (s *Store) AppendOptimistic(msg models.Message) (models.Message, Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Optimistic = true
	msg.ID = lastID(s.messages) + 1
	if max := maxID(s.messages); msg.ID <= max {
		msg.ID = max + 1
	}
	if msg.SendState == models.SendStateNone {
		msg.SendState = models.SendStatePending
	}

	next := make([]models.Message, 0, len(s.messages)+1)
	next = append(next, s.messages...)
	next = append(next, msg)
	return msg, s.publishLocked(next)
}

// UpdateOptimistic applies fn to the placeholder with the given local ref.
// It reports whether one was found.
func (s *Store) UpdateOptimistic(localRef string, fn func(*models.Message)) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOfRef(s.messages, localRef)
	if i < 0 {
		return Snapshot{Messages: s.messages, Version: s.version}, false
	}

	next := slices.Clone(s.messages)
	fn(&next[i])
	next[i].Optimistic = true
	return s.publishLocked(next), true
}

// RemoveOptimistic drops the placeholder with the given local ref.
func (s *Store) RemoveOptimistic(localRef string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOfRef(s.messages, localRef)
	if i < 0 {
		return Snapshot{Messages: s.messages, Version: s.version}, false
	}

	next := make([]models.Message, 0, len(s.messages)-1)
	next = append(next, s.messages[:i]...)
	next = append(next, s.messages[i+1:]...)
	return s.publishLocked(next), true
}

// Optimistic returns the current placeholders.
func (s *Store) Optimistic() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, m := range s.messages {
		if m.Optimistic {
			out = append(out, m)
		}
	}
	return out
}

// Clear empties the timeline.
func (s *Store) Clear() Snapshot {
	return s.publish(nil)
}

func (s *Store) publish(next []models.Message) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publishLocked(next)
}

func (s *Store) publishLocked(next []models.Message) Snapshot {
	s.messages = next
	s.version++
	return Snapshot{Messages: s.messages, Version: s.version}
}

// normalize sorts authoritative messages by timestamp and drops duplicate
// ids, keeping the last copy of each.
func normalize(msgs []models.Message) []models.Message {
	if len(msgs) == 0 {
		return nil
	}

	seen := make(map[int64]int, len(msgs))
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if i, ok := seen[m.ID]; ok {
			out[i] = m
			continue
		}
		seen[m.ID] = len(out)
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// appendRenumbered appends placeholders after base, giving them consecutive
// ids above every id in base.
func appendRenumbered(base, optimistic []models.Message) []models.Message {
	if len(optimistic) == 0 {
		return base
	}

	next := maxID(base)
	for _, m := range optimistic {
		next++
		m.ID = next
		m.Optimistic = true
		base = append(base, m)
	}
	return base
}

func lastID(msgs []models.Message) int64 {
	if len(msgs) == 0 {
		return 0
	}
	return msgs[len(msgs)-1].ID
}

func maxID(msgs []models.Message) int64 {
	var max int64
	for _, m := range msgs {
		if m.ID > max {
			max = m.ID
		}
	}
	return max
}

func indexOfRef(msgs []models.Message, localRef string) int {
	if localRef == "" {
		return -1
	}
	for i, m := range msgs {
		if m.Optimistic && m.LocalRef == localRef {
			return i
		}
	}
	return -1
}
