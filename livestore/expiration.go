package livestore

import (
	"time"

	nostr "github.com/nostrhq/nostrmem"
)

// trackExpiry records an event's absolute expiry and keeps the single shared
// timer pointed at the soonest pending one. Lock held.
func (s *Store) trackExpiry(id nostr.ID, at nostr.Timestamp) {
	s.expiries[id] = at

	if s.nextExpiry == 0 || at < s.nextExpiry {
		s.nextExpiry = at
		d := max(time.Until(at.Time()), 0)
		if s.expireTimer == nil {
			s.expireTimer = time.AfterFunc(d, s.expire)
		} else {
			s.expireTimer.Reset(d)
		}
	}
}

// expire fires when the soonest expiry is due: it evicts everything now
// expired and re-arms the timer against the next soonest, if any.
func (s *Store) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nostr.Now()
	var next nostr.Timestamp
	for id, at := range s.expiries {
		if at <= now {
			delete(s.expiries, id)
			s.remove(id)
		} else if next == 0 || at < next {
			next = at
		}
	}

	s.nextExpiry = next
	if next != 0 {
		s.expireTimer.Reset(max(time.Until(next.Time()), 0))
	}
}
