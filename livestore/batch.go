package livestore

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/rs/zerolog"

	nostr "github.com/nostrhq/nostrmem"
)

const (
	defaultBatchWindow  = 200 * time.Millisecond
	defaultBatchMaxSize = 256
)

// cacheBatcher buffers newly inserted events and hands them to the
// cache-write callback once a quiet window elapses or the buffer fills up.
// A failed write is logged and dropped; the events stay live in memory and
// are not retried.
type cacheBatcher struct {
	mu      sync.Mutex
	pending []*nostr.Event

	debounced func(func())
	maxSize   int
	write     func(ctx context.Context, events []*nostr.Event) error
	log       zerolog.Logger
	ctx       context.Context
}

func newCacheBatcher(
	ctx context.Context,
	write func(ctx context.Context, events []*nostr.Event) error,
	window time.Duration,
	maxSize int,
	log zerolog.Logger,
) *cacheBatcher {
	if window == 0 {
		window = defaultBatchWindow
	}
	if maxSize == 0 {
		maxSize = defaultBatchMaxSize
	}

	return &cacheBatcher{
		debounced: debounce.New(window),
		maxSize:   maxSize,
		write:     write,
		log:       log,
		ctx:       ctx,
	}
}

func (b *cacheBatcher) enqueue(evt *nostr.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, evt)
	full := len(b.pending) >= b.maxSize
	b.mu.Unlock()

	if full {
		go b.flush()
	} else {
		b.debounced(b.flush)
	}
}

func (b *cacheBatcher) flush() {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	if err := b.write(b.ctx, batch); err != nil {
		b.log.Warn().Err(err).Int("events", len(batch)).Msg("cache write batch failed")
	}
}
