package livestore

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	nostr "github.com/nostrhq/nostrmem"
	"github.com/nostrhq/nostrmem/memindex"
)

func makeEvent(id byte, kind nostr.Kind, author byte, ts nostr.Timestamp, tags ...nostr.Tag) *nostr.Event {
	evt := &nostr.Event{Kind: kind, CreatedAt: ts, Tags: nostr.Tags(tags)}
	evt.ID[0] = id
	evt.PubKey[0] = author
	return evt
}

func deletionEvent(id byte, author byte, ts nostr.Timestamp, tags ...nostr.Tag) *nostr.Event {
	return makeEvent(id, nostr.KindDeletion, author, ts, tags...)
}

func TestAddIdempotentMergesAnnotations(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	evt := makeEvent(1, nostr.KindTextNote, 1, 100)
	stored := s.Add(evt, "wss://relay-a")
	require.Same(t, evt, stored)

	duplicate := makeEvent(1, nostr.KindTextNote, 1, 100)
	stored = s.Add(duplicate, "wss://relay-b", "wss://relay-a")
	require.Same(t, evt, stored, "a duplicate id resolves to the canonical instance")

	require.ElementsMatch(t, []string{"wss://relay-a", "wss://relay-b"}, s.SeenOn(evt.ID))
	require.False(t, s.FromCache(evt.ID))

	s.StripAnnotations(evt.ID)
	require.Empty(t, s.SeenOn(evt.ID))
}

func TestReplaceableLatestWins(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	v1 := makeEvent(1, nostr.KindProfileMetadata, 9, 100)
	v2 := makeEvent(2, nostr.KindProfileMetadata, 9, 200)

	require.Same(t, v1, s.Add(v1))
	require.Same(t, v2, s.Add(v2))

	require.Same(t, v2, s.GetReplaceable(nostr.KindProfileMetadata, v1.PubKey, ""))
	require.False(t, s.HasEvent(v1.ID), "the superseded version is evicted")

	history := s.GetReplaceableHistory(nostr.KindProfileMetadata, v1.PubKey, "")
	require.Equal(t, []*nostr.Event{v2}, history)
}

func TestStaleReplaceableRejectedWithProvenanceMerge(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	v2 := makeEvent(2, nostr.KindProfileMetadata, 9, 200)
	s.Add(v2, "wss://relay-a")

	v1 := makeEvent(1, nostr.KindProfileMetadata, 9, 100)
	stored := s.Add(v1, "wss://relay-b")
	require.Same(t, v2, stored, "a stale version resolves to the current one")
	require.False(t, s.HasEvent(v1.ID))

	// the stale sighting still tells us where the address was seen
	require.ElementsMatch(t, []string{"wss://relay-a", "wss://relay-b"}, s.SeenOn(v2.ID))
}

func TestReplaceableTieKeepsExisting(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	first := makeEvent(1, nostr.KindProfileMetadata, 9, 100)
	second := makeEvent(2, nostr.KindProfileMetadata, 9, 100)

	s.Add(first)
	stored := s.Add(second)
	require.Same(t, first, stored, "on a timestamp tie the stored version wins")
	require.False(t, s.HasEvent(second.ID))
}

func TestKeepOldVersionsRetainsHistory(t *testing.T) {
	s := New(Options{KeepOldVersions: true})
	defer s.Close()

	v1 := makeEvent(1, nostr.KindArticle, 9, 100, nostr.Tag{"d", "post"})
	v2 := makeEvent(2, nostr.KindArticle, 9, 200, nostr.Tag{"d", "post"})
	s.Add(v1)
	s.Add(v2)

	require.True(t, s.HasEvent(v1.ID))
	require.Same(t, v2, s.GetReplaceable(nostr.KindArticle, v1.PubKey, "post"))
	require.Len(t, s.GetReplaceableHistory(nostr.KindArticle, v1.PubKey, "post"), 2)
}

func TestDeletionByIDIsPermanent(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	note := makeEvent(1, nostr.KindTextNote, 1, 100)
	s.Add(note)

	del := deletionEvent(50, 1, 150, nostr.Tag{"e", note.ID.Hex()})
	require.Same(t, del, s.Add(del), "the deletion event itself is stored")
	require.False(t, s.HasEvent(note.ID))

	// the tombstone outlives the event and ignores timestamps entirely
	require.Nil(t, s.Add(note))
	later := makeEvent(1, nostr.KindTextNote, 1, 900)
	require.Nil(t, s.Add(later))
}

func TestDeletionByAddress(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	pk := nostr.PubKey{9}
	v1 := makeEvent(1, nostr.KindArticle, 9, 100, nostr.Tag{"d", "post"})
	s.Add(v1)

	coord := nostr.Address{Kind: nostr.KindArticle, PubKey: pk, Identifier: "post"}.String()
	del := deletionEvent(50, 9, 150, nostr.Tag{"a", coord})
	s.Add(del)

	require.False(t, s.HasEvent(v1.ID), "versions older than the deletion are purged")

	// anything up to and including the deletion's timestamp stays out
	require.Nil(t, s.Add(makeEvent(2, nostr.KindArticle, 9, 120, nostr.Tag{"d", "post"})))
	require.Nil(t, s.Add(makeEvent(3, nostr.KindArticle, 9, 150, nostr.Tag{"d", "post"})))

	// a genuinely newer version supersedes the tombstone
	v4 := makeEvent(4, nostr.KindArticle, 9, 151, nostr.Tag{"d", "post"})
	require.Same(t, v4, s.Add(v4))
	require.Same(t, v4, s.GetReplaceable(nostr.KindArticle, pk, "post"))
}

func TestDeletionRequiresMatchingAuthor(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	note := makeEvent(1, nostr.KindTextNote, 1, 100)
	s.Add(note)

	// another author's deletion must not touch it, by id or by coordinate
	s.Add(deletionEvent(50, 2, 150, nostr.Tag{"e", note.ID.Hex()}))
	require.True(t, s.HasEvent(note.ID))

	pk := nostr.PubKey{1}
	profile := makeEvent(3, nostr.KindProfileMetadata, 1, 100)
	s.Add(profile)
	coord := nostr.Address{Kind: nostr.KindProfileMetadata, PubKey: pk}.String()
	s.Add(deletionEvent(51, 2, 200, nostr.Tag{"a", coord}))
	require.True(t, s.HasEvent(profile.ID))
	require.Same(t, profile, s.GetReplaceable(nostr.KindProfileMetadata, pk, ""))

	// the foreign tombstone must not block the author's own events either
	require.Same(t, note, s.Add(note), "still stored, resolves idempotently")

	// the author's own deletion applies as usual
	s.Add(deletionEvent(52, 1, 150, nostr.Tag{"e", note.ID.Hex()}))
	require.False(t, s.HasEvent(note.ID))
	require.Nil(t, s.Add(note))
}

func TestDeletionTimestampIsMonotonic(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	pk := nostr.PubKey{9}
	coord := nostr.Address{Kind: nostr.KindRelayListMetadata, PubKey: pk}.String()

	s.Add(deletionEvent(50, 9, 200, nostr.Tag{"a", coord}))
	s.Add(deletionEvent(51, 9, 150, nostr.Tag{"a", coord}))

	// the older deletion must not lower the bar set by the newer one
	require.Nil(t, s.Add(makeEvent(1, nostr.KindRelayListMetadata, 9, 180)))

	v := makeEvent(2, nostr.KindRelayListMetadata, 9, 201)
	require.Same(t, v, s.Add(v))
}

func TestVerifyHookRejectsSilently(t *testing.T) {
	s := New(Options{
		Verify: func(evt *nostr.Event) bool { return evt.Content != "forged" },
	})
	defer s.Close()

	forged := makeEvent(1, nostr.KindTextNote, 1, 100)
	forged.Content = "forged"
	require.Nil(t, s.Add(forged))
	require.False(t, s.HasEvent(forged.ID))

	honest := makeEvent(2, nostr.KindTextNote, 1, 100)
	require.Same(t, honest, s.Add(honest))
}

func TestExpiredOnArrivalRejected(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	past := strconv.FormatInt(int64(nostr.Now()-10), 10)
	expired := makeEvent(1, nostr.KindTextNote, 1, 100, nostr.Tag{"expiration", past})
	require.Nil(t, s.Add(expired))
	require.False(t, s.HasEvent(expired.ID))

	keeper := New(Options{KeepExpired: true})
	defer keeper.Close()
	require.Same(t, expired, keeper.Add(expired))
}

func TestExpirationEvictsWhenDue(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	at := strconv.FormatInt(int64(nostr.Now()+1), 10)
	evt := makeEvent(1, nostr.KindTextNote, 1, 100, nostr.Tag{"expiration", at})

	require.Same(t, evt, s.Add(evt))
	require.True(t, s.HasEvent(evt.ID))

	require.Eventually(t, func() bool { return !s.HasEvent(evt.ID) },
		5*time.Second, 50*time.Millisecond, "the event should expire on schedule")
}

func TestCacheWriteBatching(t *testing.T) {
	var mu sync.Mutex
	var batches [][]*nostr.Event

	s := New(Options{
		BatchWindow:  30 * time.Millisecond,
		WriteToCache: func(_ context.Context, events []*nostr.Event) error {
			mu.Lock()
			batches = append(batches, events)
			mu.Unlock()
			return nil
		},
	})
	defer s.Close()

	for i := byte(1); i <= 3; i++ {
		s.Add(makeEvent(i, nostr.KindTextNote, 1, nostr.Timestamp(i)*100))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1 && len(batches[0]) == 3
	}, 2*time.Second, 10*time.Millisecond, "a quiet window should flush one batch of three")
}

func TestCacheWriteFlushesOnFullBatch(t *testing.T) {
	written := make(chan int, 4)

	s := New(Options{
		BatchWindow:  time.Hour, // only the size bound can trigger the flush
		BatchMaxSize: 2,
		WriteToCache: func(_ context.Context, events []*nostr.Event) error {
			written <- len(events)
			return nil
		},
	})
	defer s.Close()

	s.Add(makeEvent(1, nostr.KindTextNote, 1, 100))
	s.Add(makeEvent(2, nostr.KindTextNote, 1, 200))

	select {
	case n := <-written:
		require.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("full batch never flushed")
	}
}

func TestCachedEventsSkipWriteBack(t *testing.T) {
	written := make(chan int, 4)

	s := New(Options{
		BatchWindow:  20 * time.Millisecond,
		WriteToCache: func(_ context.Context, events []*nostr.Event) error {
			written <- len(events)
			return nil
		},
	})
	defer s.Close()

	s.addFromCache(makeEvent(1, nostr.KindTextNote, 1, 100))
	require.True(t, s.HasEvent(nostr.ID{1}))
	require.True(t, s.FromCache(nostr.ID{1}))

	select {
	case <-written:
		t.Fatal("cache-sourced events must not be written back")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestFetchEventPromotesFromBacking(t *testing.T) {
	backing := memindex.New()
	defer backing.Close()

	s := New(Options{Backing: WrapDatabase(backing)})
	defer s.Close()

	evt := makeEvent(1, nostr.KindTextNote, 1, 100)
	backing.Add(evt)
	require.False(t, s.HasEvent(evt.ID))

	got, err := s.FetchEvent(context.Background(), evt.ID)
	require.NoError(t, err)
	require.Same(t, evt, got)
	require.True(t, s.HasEvent(evt.ID), "backing hits are promoted to the memory tier")
	require.True(t, s.FromCache(evt.ID))

	got, err = s.FetchEvent(context.Background(), nostr.ID{99})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFetchReplaceablePromotesFromBacking(t *testing.T) {
	backing := memindex.New()
	defer backing.Close()

	s := New(Options{Backing: WrapDatabase(backing)})
	defer s.Close()

	profile := makeEvent(1, nostr.KindProfileMetadata, 9, 100)
	backing.Add(profile)

	got, err := s.FetchReplaceable(context.Background(), nostr.KindProfileMetadata, profile.PubKey, "")
	require.NoError(t, err)
	require.Same(t, profile, got)
	require.Same(t, profile, s.GetReplaceable(nostr.KindProfileMetadata, profile.PubKey, ""))
}

// slowBacking delays inserts so that a racing remove would overtake them if
// backing writes were not ordered.
type slowBacking struct {
	AsyncDatabase
	delay time.Duration
}

func (b slowBacking) Add(ctx context.Context, evt *nostr.Event) (*nostr.Event, error) {
	time.Sleep(b.delay)
	return b.AsyncDatabase.Add(ctx, evt)
}

func TestBackingWritesApplyInOrder(t *testing.T) {
	backing := memindex.New()
	defer backing.Close()

	s := New(Options{Backing: slowBacking{WrapDatabase(backing), 30 * time.Millisecond}})
	defer s.Close()

	evt := makeEvent(1, nostr.KindTextNote, 1, 100)
	s.Add(evt)
	s.Remove(evt.ID)

	require.Eventually(t, func() bool { return !backing.HasEvent(evt.ID) },
		3*time.Second, 10*time.Millisecond,
		"the remove must land after the slow insert, not before it")

	// same ordering guarantee when a tombstone purges the event
	v1 := makeEvent(2, nostr.KindProfileMetadata, 9, 100)
	s.Add(v1)
	s.Add(deletionEvent(50, 9, 150, nostr.Tag{"e", v1.ID.Hex()}))

	require.Eventually(t, func() bool { return !backing.HasEvent(v1.ID) },
		3*time.Second, 10*time.Millisecond)
}

func TestRemoveByFilters(t *testing.T) {
	s := New(Options{})
	defer s.Close()

	s.Add(makeEvent(1, nostr.KindTextNote, 1, 100))
	s.Add(makeEvent(2, nostr.KindTextNote, 2, 200))
	s.Add(makeEvent(3, nostr.KindReaction, 1, 300))

	removed := s.RemoveByFilters(nostr.Filter{Kinds: []nostr.Kind{nostr.KindTextNote}})
	require.Equal(t, 2, removed)
	require.Len(t, s.GetByFilters(nostr.Filter{}), 1)
}
