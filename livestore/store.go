// Package livestore implements the reactive event store applications talk
// to: it wraps an in-memory event index (plus an optional durable backing
// database with the same contract) and layers replaceable-event resolution,
// deletion tombstones, expiration, pluggable verification and live
// subscription streams on top of it.
package livestore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	nostr "github.com/nostrhq/nostrmem"
	"github.com/nostrhq/nostrmem/memindex"
)

var _ Database = (*memindex.Index)(nil)

// Options configures a Store. The zero value is usable: no verification, no
// backing database, no loaders, superseded and expired events evicted.
type Options struct {
	// KeepOldVersions retains superseded versions of replaceable and
	// addressable events instead of evicting them.
	KeepOldVersions bool

	// KeepExpired disables eviction (and insert-time rejection) of events
	// carrying an "expiration" tag in the past.
	KeepExpired bool

	// Verify, when set, is consulted before any event is inserted; a false
	// return rejects the event silently. A common choice is
	// (*nostr.Event).CheckID plus a signature check from whatever crypto
	// library the application already carries.
	Verify func(*nostr.Event) bool

	// EventLoader is called in a goroutine when a Watch query finds
	// nothing locally. Whatever it returns is fed back through Add; the
	// watcher picks it up through the normal notification path. The store
	// does not retry or deduplicate invocations.
	EventLoader func(ctx context.Context, id nostr.ID) (*nostr.Event, error)

	// ReplaceableLoader is the address-keyed analog of EventLoader.
	ReplaceableLoader func(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (*nostr.Event, error)

	// Backing is an optional durable database kept behind the memory tier.
	// Use WrapDatabase to pass a synchronous one.
	Backing AsyncDatabase

	// WriteToCache, when set, receives batches of newly inserted events
	// that did not themselves come from the cache. Failures are logged and
	// the batch is dropped.
	WriteToCache func(ctx context.Context, events []*nostr.Event) error

	// BatchWindow and BatchMaxSize bound the cache-write buffering: a
	// batch is flushed after a quiet window or upon reaching the max size,
	// whichever comes first. Defaults: 200ms and 256 events.
	BatchWindow  time.Duration
	BatchMaxSize int

	Logger *zerolog.Logger
}

// Store is the reactive event store. All mutations are serialized through an
// internal mutex; subscribers observe them in application order.
type Store struct {
	mu sync.Mutex

	mem           *memindex.Index
	backing       AsyncDatabase
	backingWrites *backingWriter

	bus bus

	keepOld     bool
	keepExpired bool

	verify            func(*nostr.Event) bool
	eventLoader       func(ctx context.Context, id nostr.ID) (*nostr.Event, error)
	replaceableLoader func(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (*nostr.Event, error)

	// id tombstones, keyed by id then by the deleting author: a deletion
	// only suppresses events signed by the same author
	deletedIDs   map[nostr.ID]map[nostr.PubKey]struct{}
	deletedAddrs map[nostr.Address]nostr.Timestamp

	expiries    map[nostr.ID]nostr.Timestamp
	nextExpiry  nostr.Timestamp
	expireTimer *time.Timer

	annotations *annotationTable
	batcher     *cacheBatcher

	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

func New(opts Options) *Store {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Store{
		mem:               memindex.New(),
		backing:           opts.Backing,
		keepOld:           opts.KeepOldVersions,
		keepExpired:       opts.KeepExpired,
		verify:            opts.Verify,
		eventLoader:       opts.EventLoader,
		replaceableLoader: opts.ReplaceableLoader,
		deletedIDs:        make(map[nostr.ID]map[nostr.PubKey]struct{}),
		deletedAddrs:      make(map[nostr.Address]nostr.Timestamp),
		expiries:          make(map[nostr.ID]nostr.Timestamp),
		annotations:       newAnnotationTable(),
		log:               logger,
		ctx:               ctx,
		cancel:            cancel,
	}

	if opts.Backing != nil {
		s.backingWrites = newBackingWriter()
		go s.backingWrites.run(ctx)
	}

	if opts.WriteToCache != nil {
		s.batcher = newCacheBatcher(ctx, opts.WriteToCache, opts.BatchWindow, opts.BatchMaxSize, logger)
	}

	return s
}

// Close tears the store down: pending cache writes are flushed, the
// expiration timer is stopped and background operations are cancelled.
func (s *Store) Close() {
	s.mu.Lock()
	if s.expireTimer != nil {
		s.expireTimer.Stop()
	}
	s.mu.Unlock()

	if s.batcher != nil {
		s.batcher.flush()
	}
	s.cancel()
	s.mem.Close()
}

// Memory exposes the underlying memory-tier index, mostly so applications
// can drive Prune and claims directly.
func (s *Store) Memory() *memindex.Index { return s.mem }

// HasEvent says whether the memory tier holds an event with this id.
func (s *Store) HasEvent(id nostr.ID) bool { return s.mem.HasEvent(id) }

// GetEvent returns the canonical stored instance for this id from the memory
// tier, or nil. It never consults the backing database; see FetchEvent.
func (s *Store) GetEvent(id nostr.ID) *nostr.Event { return s.mem.GetEvent(id) }

// GetReplaceable returns the newest stored version for the address, or nil.
func (s *Store) GetReplaceable(kind nostr.Kind, pk nostr.PubKey, identifier string) *nostr.Event {
	return s.mem.GetReplaceable(kind, pk, identifier)
}

// GetReplaceableHistory returns all stored versions for the address, newest
// first.
func (s *Store) GetReplaceableHistory(kind nostr.Kind, pk nostr.PubKey, identifier string) []*nostr.Event {
	return s.mem.GetReplaceableHistory(kind, pk, identifier)
}

// GetByFilters returns the events matched by any of the filters.
func (s *Store) GetByFilters(filters ...nostr.Filter) []*nostr.Event {
	return s.mem.GetByFilters(filters...)
}

// GetTimeline returns the union of the filters' matches, newest first, no
// duplicates.
func (s *Store) GetTimeline(filters ...nostr.Filter) []*nostr.Event {
	return s.mem.GetTimeline(filters...)
}

// FetchEvent is GetEvent with a backing-database fallback: on a memory miss
// it waits for the backing database and promotes whatever it finds into the
// memory tier.
func (s *Store) FetchEvent(ctx context.Context, id nostr.ID) (*nostr.Event, error) {
	if evt := s.mem.GetEvent(id); evt != nil {
		return evt, nil
	}
	if s.backing == nil {
		return nil, nil
	}

	evt, err := s.backing.GetEvent(ctx, id)
	if err != nil || evt == nil {
		return nil, err
	}
	return s.addFromCache(evt), nil
}

// FetchReplaceable is GetReplaceable with a backing-database fallback.
func (s *Store) FetchReplaceable(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (*nostr.Event, error) {
	if evt := s.mem.GetReplaceable(kind, pk, identifier); evt != nil {
		return evt, nil
	}
	if s.backing == nil {
		return nil, nil
	}

	evt, err := s.backing.GetReplaceable(ctx, kind, pk, identifier)
	if err != nil || evt == nil {
		return nil, err
	}
	return s.addFromCache(evt), nil
}

// Remove drops the event from the memory tier and the backing database,
// notifying subscribers only if something was actually removed.
func (s *Store) Remove(id nostr.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(id)
}

// RemoveByFilters removes every event matched by any of the filters and
// returns how many were removed.
func (s *Store) RemoveByFilters(filters ...nostr.Filter) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, evt := range s.mem.GetByFilters(filters...) {
		if s.remove(evt.ID) {
			removed++
		}
	}
	return removed
}

// Update re-saves an event without any replacement side-effects and notifies
// subscribers with an "updated" change, so that views re-derive after
// external code mutated the event's annotations.
func (s *Store) Update(evt *nostr.Event) *nostr.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.mem.Update(evt)

	if s.backing != nil {
		s.backingWrites.push(func(ctx context.Context) {
			if _, err := s.backing.Update(ctx, stored); err != nil {
				s.log.Warn().Err(err).Stringer("id", stored.ID).Msg("backing database update failed")
			}
		})
	}

	s.bus.publish(change{changeUpdate, stored})
	return stored
}

// remove is the lock-held removal path shared by deletions, supersedes and
// expirations.
func (s *Store) remove(id nostr.ID) bool {
	evt := s.mem.GetEvent(id)
	if evt == nil {
		return false
	}

	s.mem.Remove(id)
	delete(s.expiries, id)
	s.annotations.strip(id)

	if s.backing != nil {
		s.backingWrites.push(func(ctx context.Context) {
			if _, err := s.backing.Remove(ctx, id); err != nil {
				s.log.Warn().Err(err).Stringer("id", id).Msg("backing database remove failed")
			}
		})
	}

	s.bus.publish(change{changeRemove, evt})
	return true
}
