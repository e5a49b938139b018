package memindex

import (
	"bytes"
	"cmp"
	"slices"
	"sort"

	nostr "github.com/nostrhq/nostrmem"
)

// compositeFanoutMax bounds how many kind+author pairs we're willing to look
// up on the composite index before falling back to intersecting the separate
// kind and author sets.
const compositeFanoutMax = 20

// GetByFilters returns the events matched by any of the filters, deduplicated
// by id. Order is unspecified; use GetTimeline for a sorted result.
func (idx *Index) GetByFilters(filters ...nostr.Filter) []*nostr.Event {
	idx.Lock()
	defer idx.Unlock()

	if len(filters) == 1 {
		return idx.getByFilter(filters[0])
	}

	seen := make(idSet, 64)
	out := make([]*nostr.Event, 0, 64)
	for _, filter := range filters {
		for _, evt := range idx.getByFilter(filter) {
			if _, dup := seen[evt.ID]; !dup {
				seen[evt.ID] = struct{}{}
				out = append(out, evt)
			}
		}
	}
	return out
}

// GetTimeline returns the union of the filters' matches as a single
// newest-first sequence with no duplicates. The returned slice is freshly
// allocated on every call.
func (idx *Index) GetTimeline(filters ...nostr.Filter) []*nostr.Event {
	out := idx.GetByFilters(filters...)
	slices.SortFunc(out, compareDescending)
	return out
}

// getByFilter evaluates one filter, lock held. The result comes out
// newest-first and truncated to the filter's limit.
func (idx *Index) getByFilter(filter nostr.Filter) []*nostr.Event {
	// full-text search is delegated to an external engine; limit:0 asks
	// for nothing
	if filter.Search != "" || filter.LimitZero {
		return nil
	}

	// ids are the most selective constraint there is
	if filter.IDs != nil {
		out := make([]*nostr.Event, 0, len(filter.IDs))
		for _, id := range filter.IDs {
			if e, ok := idx.entries[id]; ok && filter.Matches(e.evt) {
				out = append(out, e.evt)
			}
		}
		return truncate(out, filter.Limit)
	}

	sets := make([]idSet, 0, 3+len(filter.Tags))

	// each tag constraint is a disjunction over its values, and a
	// conjunction with everything else
	for name, values := range filter.Tags {
		if values == nil {
			continue
		}
		if len(values) == 0 {
			return nil
		}
		if len(name) != 1 {
			// not indexable; checked by Matches during materialization
			continue
		}
		union := make(idSet, 16)
		for _, value := range values {
			for id := range idx.tagSet(name, value) {
				union[id] = struct{}{}
			}
		}
		sets = append(sets, union)
	}

	// a combined kind+author constraint with small fanout can use the
	// composite index directly instead of intersecting two large sets
	if filter.Kinds != nil && filter.Authors != nil &&
		len(filter.Kinds)*len(filter.Authors) <= compositeFanoutMax {
		union := make(idSet, 16)
		for _, kind := range filter.Kinds {
			for _, author := range filter.Authors {
				for id := range idx.kindAuthors[kindAuthor{kind, author}] {
					union[id] = struct{}{}
				}
			}
		}
		sets = append(sets, union)
	} else {
		if filter.Kinds != nil {
			union := make(idSet, 64)
			for _, kind := range filter.Kinds {
				for id := range idx.kinds[kind] {
					union[id] = struct{}{}
				}
			}
			sets = append(sets, union)
		}
		if filter.Authors != nil {
			union := make(idSet, 64)
			for _, author := range filter.Authors {
				for id := range idx.authors[author] {
					union[id] = struct{}{}
				}
			}
			sets = append(sets, union)
		}
	}

	// nothing set-based to go on: scan the time-bounded window
	if len(sets) == 0 {
		return idx.scanTimeline(filter)
	}

	// intersect starting from the smallest set
	slices.SortFunc(sets, func(a, b idSet) int { return cmp.Compare(len(a), len(b)) })
	if len(sets[0]) == 0 {
		return nil
	}

	out := make([]*nostr.Event, 0, len(sets[0]))
outer:
	for id := range sets[0] {
		for _, other := range sets[1:] {
			if _, ok := other[id]; !ok {
				continue outer
			}
		}
		if e, ok := idx.entries[id]; ok && filter.Matches(e.evt) {
			out = append(out, e.evt)
		}
	}

	// the limit takes the newest matches, so it can only be applied after
	// everything else has been intersected
	return truncate(out, filter.Limit)
}

// scanTimeline walks the sorted time array between the filter's bounds. The
// binary searches give the window over a newest-first array; bound checks are
// exact because the search predicates are inclusive.
func (idx *Index) scanTimeline(filter nostr.Filter) []*nostr.Event {
	start := 0
	end := len(idx.timeline)

	if filter.Until != 0 {
		start = sort.Search(len(idx.timeline), func(i int) bool {
			return idx.timeline[i].CreatedAt <= filter.Until
		})
	}
	if filter.Since != 0 {
		end = sort.Search(len(idx.timeline), func(i int) bool {
			return idx.timeline[i].CreatedAt < filter.Since
		})
	}
	if end <= start {
		return nil
	}

	out := make([]*nostr.Event, 0, 32)
	for _, evt := range idx.timeline[start:end] {
		if filter.MatchesIgnoringTimestampConstraints(evt) {
			out = append(out, evt)
			if filter.Limit != 0 && len(out) == filter.Limit {
				break
			}
		}
	}
	return out
}

// tagSet returns the id set for one "name:value" pair, materializing it with
// a full scan if it isn't cached. Lock held.
func (idx *Index) tagSet(name, value string) idSet {
	key := name + ":" + value
	if set, ok := idx.tagSets.Get(key); ok {
		return set
	}

	values := []string{value}
	set := make(idSet, 16)
	for id, e := range idx.entries {
		if e.evt.Tags.ContainsAny(name, values) {
			set[id] = struct{}{}
		}
	}

	// Set is buffered; Wait makes the entry visible before the lock is
	// released, otherwise an insert landing behind the buffer would miss
	// the set and every later query for it would under-report
	idx.tagSets.Set(key, set, 1)
	idx.tagSets.Wait()
	return set
}

func truncate(out []*nostr.Event, limit int) []*nostr.Event {
	slices.SortFunc(out, compareDescending)
	if limit != 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func compareDescending(a, b *nostr.Event) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return bytes.Compare(b.ID[:], a.ID[:])
}

// insertDescending places evt in a newest-first array, after any events that
// share its timestamp, so earlier inserts keep their relative position.
func insertDescending(arr []*nostr.Event, evt *nostr.Event) []*nostr.Event {
	pos := sort.Search(len(arr), func(i int) bool {
		return arr[i].CreatedAt < evt.CreatedAt
	})
	return slices.Insert(arr, pos, evt)
}

// removeDescending locates evt by binary search on its timestamp. Since many
// events can share a timestamp the search may land on a neighbor, so it
// linearly scans the run of equal timestamps for the exact id.
func removeDescending(arr []*nostr.Event, evt *nostr.Event) []*nostr.Event {
	i, found := slices.BinarySearchFunc(arr, evt, func(a, b *nostr.Event) int {
		return cmp.Compare(b.CreatedAt, a.CreatedAt)
	})
	if !found {
		return arr
	}

	for i > 0 && arr[i-1].CreatedAt == evt.CreatedAt {
		i--
	}
	for ; i < len(arr) && arr[i].CreatedAt == evt.CreatedAt; i++ {
		if arr[i].ID == evt.ID {
			return slices.Delete(arr, i, i+1)
		}
	}
	return arr
}
