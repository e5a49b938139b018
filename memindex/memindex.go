// Package memindex implements a synchronous in-process multi-index over a
// set of nostr events: by id, kind, author, kind+author, indexable tag value,
// timestamp and replaceable address. It holds no protocol-level replacement
// logic; callers drive removals explicitly.
package memindex

import (
	"container/list"
	"iter"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	nostr "github.com/nostrhq/nostrmem"
)

type idSet = map[nostr.ID]struct{}

type kindAuthor struct {
	kind   nostr.Kind
	author nostr.PubKey
}

type entry struct {
	evt    *nostr.Event
	claims int
	elem   *list.Element
}

// Index is the in-memory event index. All methods are safe for use from
// multiple goroutines, but iterators returned by Unclaimed are not: mutating
// the index while iterating is undefined behavior.
type Index struct {
	sync.Mutex

	entries map[nostr.ID]*entry
	lru     *list.List // of *entry, front = least recently used

	kinds       map[nostr.Kind]idSet
	authors     map[nostr.PubKey]idSet
	kindAuthors map[kindAuthor]idSet

	// all events sorted by CreatedAt, newest first
	timeline []*nostr.Event

	// per-address version arrays, newest first; the head is the
	// authoritative current version
	addresses map[nostr.Address][]*nostr.Event

	// lazily materialized "name:value" -> id set indexes, built on first
	// query for a tag and updated on insert/remove only while cached
	tagSets *ristretto.Cache[string, idSet]
}

// MaxTagIndexes bounds how many distinct tag name:value indexes are kept
// materialized at any time.
const MaxTagIndexes = 2048

func New() *Index {
	tagSets, _ := ristretto.NewCache(&ristretto.Config[string, idSet]{
		NumCounters: MaxTagIndexes * 10,
		MaxCost:     MaxTagIndexes,
		BufferItems: 64,
	})

	return &Index{
		entries:     make(map[nostr.ID]*entry, 1000),
		lru:         list.New(),
		kinds:       make(map[nostr.Kind]idSet),
		authors:     make(map[nostr.PubKey]idSet),
		kindAuthors: make(map[kindAuthor]idSet),
		timeline:    make([]*nostr.Event, 0, 1000),
		addresses:   make(map[nostr.Address][]*nostr.Event),
		tagSets:     tagSets,
	}
}

// Close releases the resources held by the index.
func (idx *Index) Close() {
	idx.tagSets.Close()
}

// Size returns the number of events currently indexed.
func (idx *Index) Size() int {
	idx.Lock()
	defer idx.Unlock()
	return len(idx.entries)
}

// Add indexes an event. It is idempotent by id: if an event with the same id
// is already present the stored instance is returned unchanged and nothing
// else happens.
func (idx *Index) Add(evt *nostr.Event) *nostr.Event {
	idx.Lock()
	defer idx.Unlock()

	if e, ok := idx.entries[evt.ID]; ok {
		return e.evt
	}

	e := &entry{evt: evt}
	e.elem = idx.lru.PushBack(e)
	idx.entries[evt.ID] = e

	addToSet(idx.kinds, evt.Kind, evt.ID)
	addToSet(idx.authors, evt.PubKey, evt.ID)
	addToSet(idx.kindAuthors, kindAuthor{evt.Kind, evt.PubKey}, evt.ID)

	// only update tag indexes that were already materialized by a query;
	// the others will pick this event up when they're built
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && len(tag[0]) == 1 {
			if set, ok := idx.tagSets.Get(tag[0] + ":" + tag[1]); ok {
				set[evt.ID] = struct{}{}
			}
		}
	}

	idx.timeline = insertDescending(idx.timeline, evt)

	if evt.Kind.IsReplaceable() || evt.Kind.IsAddressable() {
		addr := nostr.AddressOf(evt)
		idx.addresses[addr] = insertDescending(idx.addresses[addr], evt)
	}

	return evt
}

// Update re-indexes an event without any replacement side-effects. It exists
// to satisfy the reactive store's database contract; for an in-memory index
// it is the same as an idempotent Add.
func (idx *Index) Update(evt *nostr.Event) *nostr.Event {
	return idx.Add(evt)
}

// Remove drops the event with the given id from every index, clearing any
// claims on it. It returns false if the id is unknown.
func (idx *Index) Remove(id nostr.ID) bool {
	idx.Lock()
	defer idx.Unlock()
	return idx.remove(id)
}

func (idx *Index) remove(id nostr.ID) bool {
	e, ok := idx.entries[id]
	if !ok {
		return false
	}
	evt := e.evt

	delete(idx.entries, id)
	idx.lru.Remove(e.elem)

	removeFromSet(idx.kinds, evt.Kind, id)
	removeFromSet(idx.authors, evt.PubKey, id)
	removeFromSet(idx.kindAuthors, kindAuthor{evt.Kind, evt.PubKey}, id)

	for _, tag := range evt.Tags {
		if len(tag) >= 2 && len(tag[0]) == 1 {
			if set, ok := idx.tagSets.Get(tag[0] + ":" + tag[1]); ok {
				delete(set, id)
			}
		}
	}

	idx.timeline = removeDescending(idx.timeline, evt)

	if evt.Kind.IsReplaceable() || evt.Kind.IsAddressable() {
		addr := nostr.AddressOf(evt)
		if versions := removeDescending(idx.addresses[addr], evt); len(versions) > 0 {
			idx.addresses[addr] = versions
		} else {
			delete(idx.addresses, addr)
		}
	}

	return true
}

// RemoveByFilters removes every event matched by any of the filters and
// returns how many were removed.
func (idx *Index) RemoveByFilters(filters ...nostr.Filter) int {
	matches := idx.GetByFilters(filters...)

	idx.Lock()
	defer idx.Unlock()

	removed := 0
	for _, evt := range matches {
		if idx.remove(evt.ID) {
			removed++
		}
	}
	return removed
}

// HasEvent says whether an event with this id is indexed.
func (idx *Index) HasEvent(id nostr.ID) bool {
	idx.Lock()
	defer idx.Unlock()
	_, ok := idx.entries[id]
	return ok
}

// GetEvent returns the stored instance for this id, or nil. Access promotes
// the event's recency.
func (idx *Index) GetEvent(id nostr.ID) *nostr.Event {
	idx.Lock()
	defer idx.Unlock()

	e, ok := idx.entries[id]
	if !ok {
		return nil
	}
	idx.lru.MoveToBack(e.elem)
	return e.evt
}

// HasReplaceable says whether any version is stored for the given address.
func (idx *Index) HasReplaceable(kind nostr.Kind, pk nostr.PubKey, identifier string) bool {
	idx.Lock()
	defer idx.Unlock()
	_, ok := idx.addresses[nostr.Address{Kind: kind, PubKey: pk, Identifier: identifier}]
	return ok
}

// GetReplaceable returns the newest stored version for the given address, or nil.
func (idx *Index) GetReplaceable(kind nostr.Kind, pk nostr.PubKey, identifier string) *nostr.Event {
	idx.Lock()
	defer idx.Unlock()

	versions := idx.addresses[nostr.Address{Kind: kind, PubKey: pk, Identifier: identifier}]
	if len(versions) == 0 {
		return nil
	}
	if e, ok := idx.entries[versions[0].ID]; ok {
		idx.lru.MoveToBack(e.elem)
	}
	return versions[0]
}

// GetReplaceableHistory returns all stored versions for the given address,
// newest first. The returned slice is a copy.
func (idx *Index) GetReplaceableHistory(kind nostr.Kind, pk nostr.PubKey, identifier string) []*nostr.Event {
	idx.Lock()
	defer idx.Unlock()

	versions := idx.addresses[nostr.Address{Kind: kind, PubKey: pk, Identifier: identifier}]
	if versions == nil {
		return nil
	}
	out := make([]*nostr.Event, len(versions))
	copy(out, versions)
	return out
}

// Claim increments the claim count for an event, marking it as held live by a
// subscription and thus ineligible for pruning.
func (idx *Index) Claim(id nostr.ID) {
	idx.Lock()
	defer idx.Unlock()
	if e, ok := idx.entries[id]; ok {
		e.claims++
	}
}

// RemoveClaim decrements the claim count, flooring at zero.
func (idx *Index) RemoveClaim(id nostr.ID) {
	idx.Lock()
	defer idx.Unlock()
	if e, ok := idx.entries[id]; ok && e.claims > 0 {
		e.claims--
	}
}

// ClearClaim zeroes the claim count.
func (idx *Index) ClearClaim(id nostr.ID) {
	idx.Lock()
	defer idx.Unlock()
	if e, ok := idx.entries[id]; ok {
		e.claims = 0
	}
}

// IsClaimed says whether the event has at least one claim on it.
func (idx *Index) IsClaimed(id nostr.ID) bool {
	idx.Lock()
	defer idx.Unlock()
	e, ok := idx.entries[id]
	return ok && e.claims > 0
}

// Touch promotes the event's recency without altering claims.
func (idx *Index) Touch(id nostr.ID) {
	idx.Lock()
	defer idx.Unlock()
	if e, ok := idx.entries[id]; ok {
		idx.lru.MoveToBack(e.elem)
	}
}

// Unclaimed yields the events with no claims on them, least recently used
// first. Each call restarts from the coldest event. Mutating the index while
// iterating is undefined behavior.
func (idx *Index) Unclaimed() iter.Seq[*nostr.Event] {
	return func(yield func(*nostr.Event) bool) {
		for elem := idx.lru.Front(); elem != nil; elem = elem.Next() {
			e := elem.Value.(*entry)
			if e.claims == 0 {
				if !yield(e.evt) {
					return
				}
			}
		}
	}
}

// Prune removes up to limit unclaimed events, least recently used first, and
// returns how many were removed. A limit of zero or less removes all
// unclaimed events. Claimed events are never touched.
func (idx *Index) Prune(limit int) int {
	idx.Lock()
	defer idx.Unlock()

	victims := make([]nostr.ID, 0, 16)
	for elem := idx.lru.Front(); elem != nil; elem = elem.Next() {
		if limit > 0 && len(victims) == limit {
			break
		}
		if e := elem.Value.(*entry); e.claims == 0 {
			victims = append(victims, e.evt.ID)
		}
	}

	for _, id := range victims {
		idx.remove(id)
	}
	return len(victims)
}

func addToSet[K comparable](sets map[K]idSet, key K, id nostr.ID) {
	set, ok := sets[key]
	if !ok {
		set = make(idSet, 8)
		sets[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet[K comparable](sets map[K]idSet, key K, id nostr.ID) {
	if set, ok := sets[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(sets, key)
		}
	}
}
