package livestore

import (
	"context"
	"sync"

	nostr "github.com/nostrhq/nostrmem"
)

type changeKind int

const (
	changeInsert changeKind = iota
	changeUpdate
	changeRemove
)

type change struct {
	kind changeKind
	evt  *nostr.Event
}

// subscriber receives changes through an unbounded queue so that the
// store's mutation path never blocks on a slow consumer.
type subscriber struct {
	mu    sync.Mutex
	queue []change
	wake  chan struct{}
}

func (sub *subscriber) push(c change) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, c)
	sub.mu.Unlock()

	select {
	case sub.wake <- struct{}{}:
	default:
	}
}

func (sub *subscriber) drain() []change {
	sub.mu.Lock()
	batch := sub.queue
	sub.queue = nil
	sub.mu.Unlock()
	return batch
}

// bus fans mutations out to every subscriber, preserving the order in which
// they were applied: publish is always called while the store mutex is held.
type bus struct {
	mu     sync.Mutex
	serial uint64
	subs   map[uint64]*subscriber
}

func (b *bus) subscribe() (*subscriber, func()) {
	sub := &subscriber{wake: make(chan struct{}, 1)}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[uint64]*subscriber, 8)
	}
	b.serial++
	serial := b.serial
	b.subs[serial] = sub
	b.mu.Unlock()

	return sub, func() {
		b.mu.Lock()
		delete(b.subs, serial)
		b.mu.Unlock()
	}
}

func (b *bus) publish(c change) {
	b.mu.Lock()
	for _, sub := range b.subs {
		sub.push(c)
	}
	b.mu.Unlock()
}

// forward pumps drained changes through handle until the context is torn
// down or handle says to stop.
func (sub *subscriber) forward(ctx context.Context, handle func(change) bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.wake:
		}

		for _, c := range sub.drain() {
			if !handle(c) {
				return
			}
		}
	}
}
