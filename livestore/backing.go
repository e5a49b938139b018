package livestore

import (
	"context"
	"sync"
)

// backingWriter funnels every backing-database mutation through a single
// goroutine. Mutations are enqueued while the store mutex is held, so the
// backing database observes them in exactly the order the memory tier
// applied them; one slow write can never be overtaken by a later one.
type backingWriter struct {
	mu    sync.Mutex
	queue []func(context.Context)
	wake  chan struct{}
}

func newBackingWriter() *backingWriter {
	return &backingWriter{wake: make(chan struct{}, 1)}
}

func (w *backingWriter) push(op func(context.Context)) {
	w.mu.Lock()
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *backingWriter) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		w.mu.Lock()
		batch := w.queue
		w.queue = nil
		w.mu.Unlock()

		for _, op := range batch {
			op(ctx)
		}
	}
}
