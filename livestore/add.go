package livestore

import (
	"context"

	nostr "github.com/nostrhq/nostrmem"
)

// Add runs an incoming event through the acceptance pipeline and returns the
// canonical stored instance, or nil if the event was rejected (tombstoned,
// expired, stale, or failed verification). Rejections are routine outcomes,
// not errors. The optional seenOn relay URLs are recorded as provenance
// annotations on whatever instance survives.
func (s *Store) Add(evt *nostr.Event, seenOn ...string) *nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(evt, seenOn, false)
}

// addFromCache is Add for events resurrected from the durable cache: they
// carry cache provenance and are excluded from the write-back batch.
func (s *Store) addFromCache(evt *nostr.Event) *nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(evt, nil, true)
}

func (s *Store) add(evt *nostr.Event, seenOn []string, fromCache bool) *nostr.Event {
	// deletion events mutate tombstone state before anything else, so
	// they can reject themselves-adjacent events in the same call
	if evt.Kind == nostr.KindDeletion {
		s.processDeletion(evt)
	}

	// tombstoned by id: permanent, regardless of timestamps, but only for
	// the author whose deletion recorded it
	if authors, ok := s.deletedIDs[evt.ID]; ok {
		if _, gone := authors[evt.PubKey]; gone {
			return nil
		}
	}

	replaceable := evt.Kind.IsReplaceable() || evt.Kind.IsAddressable()
	var addr nostr.Address
	if replaceable {
		addr = nostr.AddressOf(evt)

		// tombstoned by address: rejected up to and including the
		// deletion's timestamp
		if until, ok := s.deletedAddrs[addr]; ok && evt.CreatedAt <= until {
			return nil
		}
	}

	// already expired on arrival
	expiry := evt.Tags.Expiration()
	if expiry != 0 && !s.keepExpired && expiry <= nostr.Now() {
		return nil
	}

	// a newer-or-equal version of the same address wins; the incoming
	// sighting still contributes its provenance to the survivor
	if replaceable && !s.keepOld {
		if existing := s.mem.GetReplaceable(addr.Kind, addr.PubKey, addr.Identifier); existing != nil &&
			existing.ID != evt.ID && existing.CreatedAt >= evt.CreatedAt {
			s.annotations.merge(existing.ID, seenOn, fromCache)
			return existing
		}
	}

	if s.verify != nil && !s.verify(evt) {
		s.log.Debug().Stringer("id", evt.ID).Msg("event failed verification")
		return nil
	}

	// a duplicate id resolves to the pre-existing canonical instance,
	// which absorbs the annotations; no re-insert, no notification
	if existing := s.mem.GetEvent(evt.ID); existing != nil {
		s.annotations.merge(existing.ID, seenOn, fromCache)
		return existing
	}

	s.mem.Add(evt)
	s.annotations.merge(evt.ID, seenOn, fromCache)

	if s.backing != nil {
		s.backingWrites.push(func(ctx context.Context) {
			if _, err := s.backing.Add(ctx, evt); err != nil {
				s.log.Warn().Err(err).Stringer("id", evt.ID).Msg("backing database insert failed")
			}
		})
	}

	s.bus.publish(change{changeInsert, evt})

	// evict the versions this one supersedes
	if replaceable && !s.keepOld {
		for _, old := range s.mem.GetReplaceableHistory(addr.Kind, addr.PubKey, addr.Identifier) {
			if old.ID != evt.ID && old.CreatedAt < evt.CreatedAt {
				s.remove(old.ID)
			}
		}
	}

	if expiry != 0 && !s.keepExpired {
		s.trackExpiry(evt.ID, expiry)
	}

	if !fromCache && s.batcher != nil {
		s.batcher.enqueue(evt)
	}

	return evt
}

// processDeletion applies a kind-5 event's tombstones: "e" tags delete plain
// ids regardless of timestamps, "a" tags raise the per-address tombstone to
// the deletion's timestamp and purge stored versions strictly older than it.
// Deletions only reach events and addresses of their own author.
func (s *Store) processDeletion(del *nostr.Event) {
	for tag := range del.Tags.FindAll("e") {
		id, err := nostr.IDFromHex(tag[1])
		if err != nil {
			continue
		}
		if stored := s.mem.GetEvent(id); stored != nil && stored.PubKey != del.PubKey {
			continue
		}
		authors, ok := s.deletedIDs[id]
		if !ok {
			authors = make(map[nostr.PubKey]struct{}, 1)
			s.deletedIDs[id] = authors
		}
		authors[del.PubKey] = struct{}{}
		s.remove(id)
	}

	for tag := range del.Tags.FindAll("a") {
		addr, err := nostr.ParseAddress(tag[1])
		if err != nil || addr.PubKey != del.PubKey {
			continue
		}

		if existing, ok := s.deletedAddrs[addr]; !ok || del.CreatedAt > existing {
			s.deletedAddrs[addr] = del.CreatedAt
		}

		// versions at exactly the deletion's timestamp survive: the
		// tombstone boundary is inclusive only for future inserts
		for _, version := range s.mem.GetReplaceableHistory(addr.Kind, addr.PubKey, addr.Identifier) {
			if version.CreatedAt < del.CreatedAt {
				s.remove(version.ID)
			}
		}
	}
}
