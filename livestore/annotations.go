package livestore

import (
	"slices"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	nostr "github.com/nostrhq/nostrmem"
)

// annotations is the out-of-band bag attached to a stored event: which
// relays it was seen on and whether it came out of the durable cache. It
// lives in a side table keyed by event id, never on the event value itself,
// so merging duplicate sightings and stripping are explicit operations.
type annotations struct {
	mu        sync.Mutex
	seenOn    []string
	fromCache bool
}

type annotationTable struct {
	bags *xsync.MapOf[nostr.ID, *annotations]
}

func newAnnotationTable() *annotationTable {
	return &annotationTable{bags: xsync.NewMapOf[nostr.ID, *annotations]()}
}

// merge folds a new sighting's provenance into the bag for id, creating the
// bag if needed. Both duplicate inserts and stale-version sightings land
// here, so annotations survive identity merges.
func (t *annotationTable) merge(id nostr.ID, seenOn []string, fromCache bool) {
	if len(seenOn) == 0 && !fromCache {
		return
	}

	bag, _ := t.bags.LoadOrStore(id, &annotations{})
	bag.mu.Lock()
	for _, relay := range seenOn {
		if !slices.Contains(bag.seenOn, relay) {
			bag.seenOn = append(bag.seenOn, relay)
		}
	}
	bag.fromCache = bag.fromCache || fromCache
	bag.mu.Unlock()
}

// seenOn returns a copy of the relays the event was seen on.
func (t *annotationTable) getSeenOn(id nostr.ID) []string {
	bag, ok := t.bags.Load(id)
	if !ok {
		return nil
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	return slices.Clone(bag.seenOn)
}

func (t *annotationTable) isFromCache(id nostr.ID) bool {
	bag, ok := t.bags.Load(id)
	if !ok {
		return false
	}
	bag.mu.Lock()
	defer bag.mu.Unlock()
	return bag.fromCache
}

// strip drops the bag; protocol identity is untouched.
func (t *annotationTable) strip(id nostr.ID) {
	t.bags.Delete(id)
}

// SeenOn returns the relay URLs the event with this id is known to have
// arrived from.
func (s *Store) SeenOn(id nostr.ID) []string {
	return s.annotations.getSeenOn(id)
}

// FromCache says whether the event with this id was loaded out of the
// durable cache rather than received fresh.
func (s *Store) FromCache(id nostr.ID) bool {
	return s.annotations.isFromCache(id)
}

// StripAnnotations discards all out-of-band metadata for the event with this
// id.
func (s *Store) StripAnnotations(id nostr.ID) {
	s.annotations.strip(id)
}
