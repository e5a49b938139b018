package livestore

import (
	"context"

	nostr "github.com/nostrhq/nostrmem"
)

// Database is the synchronous backing contract the reactive store is built
// on. memindex.Index satisfies it.
type Database interface {
	Add(evt *nostr.Event) *nostr.Event
	Update(evt *nostr.Event) *nostr.Event
	Remove(id nostr.ID) bool
	RemoveByFilters(filters ...nostr.Filter) int
	HasEvent(id nostr.ID) bool
	GetEvent(id nostr.ID) *nostr.Event
	HasReplaceable(kind nostr.Kind, pk nostr.PubKey, identifier string) bool
	GetReplaceable(kind nostr.Kind, pk nostr.PubKey, identifier string) *nostr.Event
	GetReplaceableHistory(kind nostr.Kind, pk nostr.PubKey, identifier string) []*nostr.Event
	GetByFilters(filters ...nostr.Filter) []*nostr.Event
	GetTimeline(filters ...nostr.Filter) []*nostr.Event
}

// AsyncDatabase is the same contract for durable backends whose operations
// may suspend (a local cache database, a remote store). The reactive store
// keeps its own memory tier in front of it so reads rarely have to wait.
type AsyncDatabase interface {
	Add(ctx context.Context, evt *nostr.Event) (*nostr.Event, error)
	Update(ctx context.Context, evt *nostr.Event) (*nostr.Event, error)
	Remove(ctx context.Context, id nostr.ID) (bool, error)
	RemoveByFilters(ctx context.Context, filters ...nostr.Filter) (int, error)
	HasEvent(ctx context.Context, id nostr.ID) (bool, error)
	GetEvent(ctx context.Context, id nostr.ID) (*nostr.Event, error)
	HasReplaceable(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (bool, error)
	GetReplaceable(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (*nostr.Event, error)
	GetReplaceableHistory(ctx context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) ([]*nostr.Event, error)
	GetByFilters(ctx context.Context, filters ...nostr.Filter) ([]*nostr.Event, error)
	GetTimeline(ctx context.Context, filters ...nostr.Filter) ([]*nostr.Event, error)
}

// WrapDatabase adapts a synchronous Database to the AsyncDatabase contract.
func WrapDatabase(db Database) AsyncDatabase {
	return wrappedDatabase{db}
}

type wrappedDatabase struct {
	db Database
}

func (w wrappedDatabase) Add(_ context.Context, evt *nostr.Event) (*nostr.Event, error) {
	return w.db.Add(evt), nil
}

func (w wrappedDatabase) Update(_ context.Context, evt *nostr.Event) (*nostr.Event, error) {
	return w.db.Update(evt), nil
}

func (w wrappedDatabase) Remove(_ context.Context, id nostr.ID) (bool, error) {
	return w.db.Remove(id), nil
}

func (w wrappedDatabase) RemoveByFilters(_ context.Context, filters ...nostr.Filter) (int, error) {
	return w.db.RemoveByFilters(filters...), nil
}

func (w wrappedDatabase) HasEvent(_ context.Context, id nostr.ID) (bool, error) {
	return w.db.HasEvent(id), nil
}

func (w wrappedDatabase) GetEvent(_ context.Context, id nostr.ID) (*nostr.Event, error) {
	return w.db.GetEvent(id), nil
}

func (w wrappedDatabase) HasReplaceable(_ context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (bool, error) {
	return w.db.HasReplaceable(kind, pk, identifier), nil
}

func (w wrappedDatabase) GetReplaceable(_ context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) (*nostr.Event, error) {
	return w.db.GetReplaceable(kind, pk, identifier), nil
}

func (w wrappedDatabase) GetReplaceableHistory(_ context.Context, kind nostr.Kind, pk nostr.PubKey, identifier string) ([]*nostr.Event, error) {
	return w.db.GetReplaceableHistory(kind, pk, identifier), nil
}

func (w wrappedDatabase) GetByFilters(_ context.Context, filters ...nostr.Filter) ([]*nostr.Event, error) {
	return w.db.GetByFilters(filters...), nil
}

func (w wrappedDatabase) GetTimeline(_ context.Context, filters ...nostr.Filter) ([]*nostr.Event, error) {
	return w.db.GetTimeline(filters...), nil
}
