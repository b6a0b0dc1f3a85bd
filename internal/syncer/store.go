// Package syncer keeps the entity caches in step with the server: it
// applies snapshots fetched on demand and entity events pushed over the
// transport, buffering events until the snapshot they depend on lands.
package syncer

import (
	"github.com/alsoamit/manager-dash-sub001/internal/cache"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

// Collection is the cache type used for every entity collection.
type Collection = cache.Collection[entity.Record]

// Store holds one cache per entity collection. Consumers read from it; only
// the Coordinator writes.
type Store struct {
	collections map[entity.Collection]*Collection
}

// NewStore creates empty caches for every known collection.
func NewStore() *Store {
	s := &Store{collections: make(map[entity.Collection]*Collection, len(entity.All))}
	for _, c := range entity.All {
		s.collections[c] = cache.New(entity.Key)
	}
	return s
}

// Get returns the cache for c, or nil for an unknown collection.
func (s *Store) Get(c entity.Collection) *Collection {
	return s.collections[c]
}

func (s *Store) Products() *Collection  { return s.collections[entity.Products] }
func (s *Store) Salons() *Collection    { return s.collections[entity.Salons] }
func (s *Store) Employees() *Collection { return s.collections[entity.Employees] }
func (s *Store) Targets() *Collection   { return s.collections[entity.Targets] }
func (s *Store) Beats() *Collection     { return s.collections[entity.Beats] }
func (s *Store) Orders() *Collection    { return s.collections[entity.Orders] }

// Subscribe calls fn with the collection name after any change to any
// collection. The returned func removes every subscription.
func (s *Store) Subscribe(fn func(entity.Collection)) (cancel func()) {
	cancels := make([]func(), 0, len(entity.All))
	for _, name := range entity.All {
		name := name
		cancels = append(cancels, s.collections[name].Subscribe(func() { fn(name) }))
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
