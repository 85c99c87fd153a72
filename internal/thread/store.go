package thread

import (
	"sort"
	"sync"

	"github.com/dmoroz/marketchat/internal/model"
)

// Store is the ordered, deduplicated message snapshot for one
// conversation: the single source of truth for rendering the thread.
//
// Presentation order is always (createdAt, id), independent of arrival
// order. Entries are inserted or replaced in place, never re-built
// wholesale, so a consumer anchored to an entry keeps its position.
type Store struct {
	mu       sync.Mutex
	msgs     []model.Message
	byClient map[string]int64 // clientMessageId -> id currently in snapshot
	ids      map[int64]struct{}
}

// NewStore creates an empty snapshot.
func NewStore() *Store {
	return &Store{
		byClient: make(map[string]int64),
		ids:      make(map[int64]struct{}),
	}
}

// Snapshot returns a copy of the ordered messages.
func (s *Store) Snapshot() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages in the snapshot.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Get returns the message with the given id.
func (s *Store) Get(id int64) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.msgs[i], true
	}
	return model.Message{}, false
}

// OldestID returns the lowest server-assigned id in the snapshot, or 0
// if only pending entries (or nothing) are present. Used as the backward
// pagination cursor.
func (s *Store) OldestID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldest := int64(0)
	for i := range s.msgs {
		if s.msgs[i].ID > 0 && (oldest == 0 || s.msgs[i].ID < oldest) {
			oldest = s.msgs[i].ID
		}
	}
	return oldest
}

// InsertPending adds an optimistic placeholder. The placeholder carries
// a negative synthetic id and a clientMessageId in meta.
func (s *Store) InsertPending(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[m.ID]; ok {
		return
	}
	s.insertSorted(m)
	if cid := m.ClientMessageID(); cid != "" {
		s.byClient[cid] = m.ID
	}
}

// MarkState updates the send state of an entry in place. Returns false
// if the id is not present.
func (s *Store) MarkState(id int64, state model.SendState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.msgs[i].State = state
	return true
}

// Merge integrates a batch of server-confirmed messages. For each entry:
// a registered placeholder with the same clientMessageId is replaced by
// the confirmed message at its sorted position; an already-confirmed
// entry with the same clientMessageId or id means duplicate delivery and
// the incoming copy is discarded; anything else is a genuinely new
// remote message. Returns the number of entries added or replaced.
func (s *Store) Merge(incoming []model.Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := 0
	for _, m := range incoming {
		if m.ID <= 0 {
			continue
		}
		m.State = model.StateSent

		cid := m.ClientMessageID()
		if cid != "" {
			if curID, ok := s.byClient[cid]; ok {
				if curID < 0 {
					// Pending placeholder: retire it, insert the
					// confirmed entry.
					s.removeLocked(curID)
					s.insertSorted(m)
					s.byClient[cid] = m.ID
					changed++
				}
				// Already confirmed: duplicate delivery (e.g. a poll
				// racing a push). Discard.
				continue
			}
		}
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		s.insertSorted(m)
		if cid != "" {
			s.byClient[cid] = m.ID
		}
		changed++
	}

	// Arrival order never leaks into presentation order.
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return s.msgs[i].Before(&s.msgs[j])
	})
	return changed
}

// insertSorted places m at its (createdAt, id) position. Caller holds mu.
func (s *Store) insertSorted(m model.Message) {
	i := sort.Search(len(s.msgs), func(i int) bool {
		return m.Before(&s.msgs[i])
	})
	s.msgs = append(s.msgs, model.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.ids[m.ID] = struct{}{}
}

// removeLocked deletes the entry with the given id. Caller holds mu.
func (s *Store) removeLocked(id int64) {
	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
	delete(s.ids, id)
}

// indexOf returns the slice position of id, or -1. Caller holds mu.
func (s *Store) indexOf(id int64) int {
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			return i
		}
	}
	return -1
}
