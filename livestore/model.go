package livestore

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
)

// Model memoizes a derived reactive view by key: the first watcher of a key
// starts the derivation, later watchers share it and immediately receive the
// latest derived value, and the derivation is torn down when the last
// watcher leaves. The derivation itself is free to compose Watch,
// WatchReplaceable and WatchTimeline however it likes.
type Model[K comparable, V any] struct {
	store     *Store
	derive    func(ctx context.Context, store *Store, key K) <-chan V
	instances *xsync.MapOf[K, *modelInstance[V]]
}

func NewModel[K comparable, V any](
	store *Store,
	derive func(ctx context.Context, store *Store, key K) <-chan V,
) *Model[K, V] {
	return &Model[K, V]{
		store:     store,
		derive:    derive,
		instances: xsync.NewMapOf[K, *modelInstance[V]](),
	}
}

type modelInstance[V any] struct {
	mu     sync.Mutex
	refs   int
	serial uint64
	subs   map[uint64]chan V
	latest V
	seeded bool
	cancel context.CancelFunc
}

// Watch subscribes to the derived view for key. The channel conflates: a
// slow consumer observes the latest value, not every intermediate one.
//
// Subscribing and unsubscribing both go through the instance map's compute
// path so a key being torn down can never be joined mid-death.
func (m *Model[K, V]) Watch(ctx context.Context, key K) <-chan V {
	ch := make(chan V, 1)

	var inst *modelInstance[V]
	var serial uint64
	m.instances.Compute(key, func(cur *modelInstance[V], loaded bool) (*modelInstance[V], bool) {
		if !loaded {
			cur = &modelInstance[V]{subs: make(map[uint64]chan V, 2)}
			deriveCtx, cancel := context.WithCancel(context.Background())
			cur.cancel = cancel
			go m.run(deriveCtx, key, cur)
		}

		cur.mu.Lock()
		cur.refs++
		cur.serial++
		serial = cur.serial
		cur.subs[serial] = ch
		if cur.seeded {
			ch <- cur.latest
		}
		cur.mu.Unlock()

		inst = cur
		return cur, false
	})

	go func() {
		<-ctx.Done()

		m.instances.Compute(key, func(cur *modelInstance[V], loaded bool) (*modelInstance[V], bool) {
			inst.mu.Lock()
			delete(inst.subs, serial)
			inst.refs--
			last := inst.refs == 0
			inst.mu.Unlock()

			if last && loaded && cur == inst {
				inst.cancel()
				return nil, true
			}
			return cur, false
		})
	}()

	return ch
}

// run pumps the derivation's output into every subscriber, keeping the
// latest value around for subscribers that arrive later.
func (m *Model[K, V]) run(ctx context.Context, key K, inst *modelInstance[V]) {
	src := m.derive(ctx, m.store, key)
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}

			inst.mu.Lock()
			inst.latest = v
			inst.seeded = true
			for _, sub := range inst.subs {
				// conflate: drop the stale value if the subscriber
				// hasn't picked it up yet
				select {
				case sub <- v:
				default:
					select {
					case <-sub:
					default:
					}
					sub <- v
				}
			}
			inst.mu.Unlock()
		}
	}
}
