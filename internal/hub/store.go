package hub

import (
	"github.com/alsoamit/manager-dash-sub001/internal/cache"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

// Store is the server-side copy of every collection.
type Store struct {
	collections map[entity.Collection]*cache.Collection[entity.Record]
}

func NewStore() *Store {
	s := &Store{collections: make(map[entity.Collection]*cache.Collection[entity.Record], len(entity.All))}
	for _, c := range entity.All {
		col := cache.New(entity.Key)
		col.ReplaceAll(nil)
		s.collections[c] = col
	}
	return s
}

func (s *Store) Get(coll entity.Collection, id string) (entity.Record, bool) {
	col, ok := s.collections[coll]
	if !ok {
		return entity.Record{}, false
	}
	return col.Get(id)
}

// Snapshot lists coll. With a date, records carrying a different "date"
// field are left out; records without one are always included.
func (s *Store) Snapshot(coll entity.Collection, date string) []entity.Record {
	col, ok := s.collections[coll]
	if !ok {
		return nil
	}
	all := col.List()
	if date == "" {
		return all
	}
	out := make([]entity.Record, 0, len(all))
	for _, r := range all {
		if r.InDate(date) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) Upsert(coll entity.Collection, r entity.Record) bool {
	col, ok := s.collections[coll]
	if !ok {
		return false
	}
	col.Upsert(r)
	return true
}

func (s *Store) Remove(coll entity.Collection, id string) bool {
	col, ok := s.collections[coll]
	if !ok {
		return false
	}
	return col.Remove(id)
}

func (s *Store) Replace(coll entity.Collection, recs []entity.Record) bool {
	col, ok := s.collections[coll]
	if !ok {
		return false
	}
	col.ReplaceAll(recs)
	return true
}

func (s *Store) Keys(coll entity.Collection) []string {
	col, ok := s.collections[coll]
	if !ok {
		return nil
	}
	return col.Keys()
}
