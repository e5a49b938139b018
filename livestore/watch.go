package livestore

import (
	"bytes"
	"cmp"
	"context"
	"slices"

	nostr "github.com/nostrhq/nostrmem"
)

// Inserts streams every genuinely new event accepted by the store, in the
// order it was applied, until ctx is torn down.
func (s *Store) Inserts(ctx context.Context) <-chan *nostr.Event {
	return s.changes(ctx, changeInsert)
}

// Updates streams events re-saved through Update.
func (s *Store) Updates(ctx context.Context) <-chan *nostr.Event {
	return s.changes(ctx, changeUpdate)
}

// Removes streams events as they leave the store, whether explicitly
// removed, superseded, tombstoned or expired.
func (s *Store) Removes(ctx context.Context) <-chan *nostr.Event {
	return s.changes(ctx, changeRemove)
}

func (s *Store) changes(ctx context.Context, kind changeKind) <-chan *nostr.Event {
	ch := make(chan *nostr.Event)
	sub, unsub := s.bus.subscribe()

	go func() {
		defer close(ch)
		defer unsub()

		sub.forward(ctx, func(c change) bool {
			if c.kind != kind {
				return true
			}
			return send(ctx, ch, c.evt)
		})
	}()

	return ch
}

// Watch is a live point query: it emits the current value for the id (nil if
// absent) immediately, then the latest value on every change affecting it. A
// removal emits nil but does not close the channel; only ctx teardown does.
// On a local miss the configured loaders are kicked off once.
func (s *Store) Watch(ctx context.Context, id nostr.ID) <-chan *nostr.Event {
	ch := make(chan *nostr.Event, 1)

	s.mu.Lock()
	sub, unsub := s.bus.subscribe()
	current := s.mem.GetEvent(id)
	s.mu.Unlock()

	if current == nil {
		s.loadEvent(ctx, id)
	}

	go func() {
		defer close(ch)
		defer unsub()

		if !send(ctx, ch, current) {
			return
		}

		sub.forward(ctx, func(c change) bool {
			if c.evt.ID != id {
				return true
			}
			if c.kind == changeRemove {
				return send(ctx, ch, nil)
			}
			return send(ctx, ch, c.evt)
		})
	}()

	return ch
}

// WatchReplaceable is a live query for the current version at the
// (kind, pubkey) address.
func (s *Store) WatchReplaceable(ctx context.Context, kind nostr.Kind, pk nostr.PubKey) <-chan *nostr.Event {
	return s.watchAddress(ctx, nostr.Address{Kind: kind, PubKey: pk})
}

// WatchAddressable is a live query for the current version at the
// (kind, pubkey, identifier) address.
func (s *Store) WatchAddressable(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) <-chan *nostr.Event {
	return s.watchAddress(ctx, nostr.Address{Kind: kind, PubKey: pk, Identifier: identifier})
}

// watchAddress resolves the address head, claims it for the lifetime of the
// subscription (re-claiming whenever a newer version takes over) and emits
// the head on every change to the address.
func (s *Store) watchAddress(ctx context.Context, addr nostr.Address) <-chan *nostr.Event {
	ch := make(chan *nostr.Event, 1)

	s.mu.Lock()
	sub, unsub := s.bus.subscribe()
	current := s.mem.GetReplaceable(addr.Kind, addr.PubKey, addr.Identifier)
	if current != nil {
		s.mem.Claim(current.ID)
	}
	s.mu.Unlock()

	if current == nil {
		s.loadReplaceable(ctx, addr)
	}

	go func() {
		defer close(ch)
		defer unsub()
		defer func() {
			if current != nil {
				s.mem.RemoveClaim(current.ID)
			}
		}()

		if !send(ctx, ch, current) {
			return
		}

		sub.forward(ctx, func(c change) bool {
			if nostr.AddressOf(c.evt) != addr {
				return true
			}

			head := s.mem.GetReplaceable(addr.Kind, addr.PubKey, addr.Identifier)
			if head == current && c.kind != changeUpdate {
				return true
			}

			if head != current {
				if head != nil {
					s.mem.Claim(head.ID)
				}
				if current != nil {
					s.mem.RemoveClaim(current.ID)
				}
				current = head
			}

			return send(ctx, ch, head)
		})
	}()

	return ch
}

// WatchTimeline is a live filter query: it emits the current newest-first
// match list immediately, then applies each incoming change against the
// filters instead of rescanning. Every emission is a freshly allocated
// slice, so consumers may rely on slice identity for change detection.
// Filter limits bound the initial snapshot only; live inserts grow the list.
func (s *Store) WatchTimeline(ctx context.Context, filters ...nostr.Filter) <-chan []*nostr.Event {
	ch := make(chan []*nostr.Event, 1)

	s.mu.Lock()
	sub, unsub := s.bus.subscribe()
	timeline := s.mem.GetTimeline(filters...)
	s.mu.Unlock()

	go func() {
		defer close(ch)
		defer unsub()

		if !send(ctx, ch, timeline) {
			return
		}

		sub.forward(ctx, func(c change) bool {
			matches := c.kind != changeRemove && matchesAny(filters, c.evt)
			pos := slices.IndexFunc(timeline, func(e *nostr.Event) bool { return e.ID == c.evt.ID })

			switch {
			case !matches:
				if pos < 0 {
					return true
				}
				timeline = slices.Delete(slices.Clone(timeline), pos, pos+1)
			case pos >= 0:
				if c.kind != changeUpdate {
					return true
				}
				timeline = slices.Clone(timeline)
			default:
				timeline = insertIntoTimeline(timeline, c.evt)
			}

			return send(ctx, ch, timeline)
		})
	}()

	return ch
}

// Removed never emits a value: it closes exactly once if and when the given
// id is removed from the store. If the id is already tombstoned by an "e"
// deletion it closes immediately. Only id tombstones feed the immediate
// path: an id purged by an address tombstone before the subscription began
// left no per-id record and is indistinguishable from an id never seen.
func (s *Store) Removed(ctx context.Context, id nostr.ID) <-chan struct{} {
	ch := make(chan struct{})

	s.mu.Lock()
	sub, unsub := s.bus.subscribe()
	_, alreadyGone := s.deletedIDs[id]
	s.mu.Unlock()

	if alreadyGone {
		unsub()
		close(ch)
		return ch
	}

	go func() {
		defer unsub()

		sub.forward(ctx, func(c change) bool {
			if c.kind == changeRemove && c.evt.ID == id {
				close(ch)
				return false
			}
			return true
		})
	}()

	return ch
}

// Updated is the view of the update notification stream for one id.
func (s *Store) Updated(ctx context.Context, id nostr.ID) <-chan *nostr.Event {
	ch := make(chan *nostr.Event, 1)
	sub, unsub := s.bus.subscribe()

	go func() {
		defer close(ch)
		defer unsub()

		sub.forward(ctx, func(c change) bool {
			if c.kind != changeUpdate || c.evt.ID != id {
				return true
			}
			return send(ctx, ch, c.evt)
		})
	}()

	return ch
}

// loadEvent kicks off the on-miss fallbacks for a point query: the backing
// database first, then the caller-supplied loader. Results come back through
// Add and reach watchers via the notification path.
func (s *Store) loadEvent(ctx context.Context, id nostr.ID) {
	go func() {
		if s.backing != nil {
			evt, err := s.backing.GetEvent(ctx, id)
			if err != nil {
				s.log.Debug().Err(err).Stringer("id", id).Msg("backing database read failed")
			} else if evt != nil {
				s.addFromCache(evt)
				return
			}
		}

		if s.eventLoader != nil {
			evt, err := s.eventLoader(ctx, id)
			if err != nil {
				s.log.Debug().Err(err).Stringer("id", id).Msg("event loader failed")
				return
			}
			if evt != nil {
				s.Add(evt)
			}
		}
	}()
}

func (s *Store) loadReplaceable(ctx context.Context, addr nostr.Address) {
	go func() {
		if s.backing != nil {
			evt, err := s.backing.GetReplaceable(ctx, addr.Kind, addr.PubKey, addr.Identifier)
			if err != nil {
				s.log.Debug().Err(err).Stringer("address", addr).Msg("backing database read failed")
			} else if evt != nil {
				s.addFromCache(evt)
				return
			}
		}

		if s.replaceableLoader != nil {
			evt, err := s.replaceableLoader(ctx, addr.Kind, addr.PubKey, addr.Identifier)
			if err != nil {
				s.log.Debug().Err(err).Stringer("address", addr).Msg("replaceable loader failed")
				return
			}
			if evt != nil {
				s.Add(evt)
			}
		}
	}()
}

func send[T any](ctx context.Context, ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func matchesAny(filters []nostr.Filter, evt *nostr.Event) bool {
	for _, filter := range filters {
		if filter.Search != "" {
			// matching against a search filter is delegated externally
			continue
		}
		if filter.Matches(evt) {
			return true
		}
	}
	return false
}

// insertIntoTimeline returns a new slice with evt placed at its
// newest-first position.
func insertIntoTimeline(timeline []*nostr.Event, evt *nostr.Event) []*nostr.Event {
	pos, _ := slices.BinarySearchFunc(timeline, evt, func(a, b *nostr.Event) int {
		if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
			return c
		}
		return bytes.Compare(b.ID[:], a.ID[:])
	})

	next := make([]*nostr.Event, 0, len(timeline)+1)
	next = append(next, timeline[:pos]...)
	next = append(next, evt)
	next = append(next, timeline[pos:]...)
	return next
}
