package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/alsoamit/manager-dash-sub001/internal/cache"
	"github.com/alsoamit/manager-dash-sub001/internal/client"
	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

const defaultMaxPending = 1024

// ErrUnknownCollection is returned for a collection the store does not hold.
var ErrUnknownCollection = errors.New("syncer: unknown collection")

// SnapshotLoader fetches the full contents of one collection.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, coll entity.Collection, p client.SnapshotParams) ([]entity.Record, error)
}

// LoaderFunc adapts a function to SnapshotLoader.
type LoaderFunc func(ctx context.Context, coll entity.Collection, p client.SnapshotParams) ([]entity.Record, error)

func (f LoaderFunc) LoadSnapshot(ctx context.Context, coll entity.Collection, p client.SnapshotParams) ([]entity.Record, error) {
	return f(ctx, coll, p)
}

// lane is the per-collection sync state.
type lane struct {
	name   entity.Collection
	cache  *Collection
	loader SnapshotLoader

	pending  []client.SyncEvent // received while Idle or Loading, in order
	overflow bool               // pending was dropped during the current load

	gen     uint64 // bumped per load request; older completions are discarded
	version uint64 // bumped per applied mutation
	params  client.SnapshotParams
	loaded  bool // a load has been requested at least once
}

// Coordinator is the only writer of the Store. Every cache mutation happens
// under one lock, so events and snapshot completions are applied one at a
// time in the order they reach it.
type Coordinator struct {
	store      *Store
	tracer     trace.Tracer
	maxPending int

	mu        sync.Mutex
	lanes     map[entity.Collection]*lane
	suspended bool
	ctx       context.Context
	wg        sync.WaitGroup
}

// NewCoordinator wires every collection in store to loader.
func NewCoordinator(store *Store, loader SnapshotLoader) *Coordinator {
	c := &Coordinator{
		store:      store,
		tracer:     otel.Tracer("syncer/coordinator"),
		maxPending: defaultMaxPending,
		lanes:      make(map[entity.Collection]*lane, len(entity.All)),
		ctx:        context.Background(),
	}
	for _, name := range entity.All {
		c.lanes[name] = &lane{name: name, cache: store.Get(name), loader: loader}
	}
	return c
}

// SetLoader overrides the snapshot loader for one collection.
func (c *Coordinator) SetLoader(name entity.Collection, loader SnapshotLoader) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ln, ok := c.lanes[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	ln.loader = loader
	return nil
}

// SetMaxPending caps how many events a lane buffers while waiting for a
// snapshot.
func (c *Coordinator) SetMaxPending(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.maxPending = n
	c.mu.Unlock()
}

// Store returns the store the coordinator writes to.
func (c *Coordinator) Store() *Store { return c.store }

// Load fetches a snapshot for name and applies it. Events arriving while
// the fetch is in flight are buffered and replayed on top of the result.
// On failure the cache is flagged Error, its data is kept, and the error is
// returned; there is no automatic retry.
func (c *Coordinator) Load(ctx context.Context, name entity.Collection, p client.SnapshotParams) error {
	c.mu.Lock()
	ln, ok := c.lanes[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	gen, requested := c.beginLoadLocked(ln, p)
	c.mu.Unlock()

	return c.finishLoad(ctx, ln, gen, requested, p)
}

// LoadAll loads every collection concurrently with the same params. It
// returns the first failure after all loads finish.
func (c *Coordinator) LoadAll(ctx context.Context, p client.SnapshotParams) error {
	var g errgroup.Group
	for _, name := range entity.All {
		name := name
		g.Go(func() error { return c.Load(ctx, name, p) })
	}
	return g.Wait()
}

// Reload repeats the last load of name with its previous params.
func (c *Coordinator) Reload(ctx context.Context, name entity.Collection) error {
	c.mu.Lock()
	ln, ok := c.lanes[name]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	p := ln.params
	c.mu.Unlock()
	return c.Load(ctx, name, p)
}

func (c *Coordinator) beginLoadLocked(ln *lane, p client.SnapshotParams) (gen, requested uint64) {
	ln.gen++
	ln.params = p
	ln.loaded = true
	ln.overflow = false
	ln.cache.SetLoading()
	return ln.gen, ln.version
}

func (c *Coordinator) finishLoad(ctx context.Context, ln *lane, gen, requested uint64, p client.SnapshotParams) error {
	ctx, span := c.tracer.Start(ctx, "Coordinator.Load", trace.WithAttributes(
		attribute.String("collection", string(ln.name)),
		attribute.String("params.date", p.Date),
	))
	defer span.End()

	c.mu.Lock()
	loader := ln.loader
	c.mu.Unlock()

	var (
		records []entity.Record
		err     error
	)
	if loader == nil {
		err = fmt.Errorf("no snapshot loader for %s", ln.name)
	} else {
		records, err = loader.LoadSnapshot(ctx, ln.name, p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != ln.gen {
		// A newer load owns the lane and its buffer now.
		span.AddEvent("superseded")
		return nil
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Printf("sync: %s snapshot failed: %v", ln.name, err)
		if ln.overflow {
			ln.overflow = false
			log.Printf("sync: %s lost buffered events that overflowed during the failed load; reload to recover", ln.name)
			span.AddEvent("buffered events lost")
		}
		ln.cache.SetError(err)
		c.replayLocked(ln)
		return err
	}

	if ln.version != requested {
		// Something newer than this snapshot was applied after it was
		// requested (a pushed snapshot). Keep the newer state.
		log.Printf("sync: %s snapshot older than applied state, skipped", ln.name)
		span.AddEvent("stale snapshot skipped")
	} else {
		ln.cache.ReplaceAll(records)
		ln.version++
	}
	span.SetAttributes(attribute.Int("records", len(records)), attribute.Int("replayed", len(ln.pending)))
	c.replayLocked(ln)

	if ln.overflow {
		ln.overflow = false
		log.Printf("sync: %s dropped buffered events during load, reloading", ln.name)
		c.reloadLocked(ln)
	}
	return nil
}

// HandlePush decodes and applies one sync message. Malformed messages are
// logged and dropped; the returned error is informational only.
func (c *Coordinator) HandlePush(msg client.Message) error {
	ev, err := client.DecodeSync(msg)
	if err != nil {
		log.Printf("sync: dropped %s event for %q: %v", msg.Op, msg.Collection, err)
		return err
	}
	c.Apply(ev)
	return nil
}

// Apply applies a decoded sync event, or buffers it when its collection
// has no trusted snapshot yet.
func (c *Coordinator) Apply(ev client.SyncEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ln, ok := c.lanes[ev.Target()]
	if !ok {
		log.Printf("sync: dropped event for unknown collection %q", ev.Target())
		return
	}

	if _, isSnapshot := ev.(client.SnapshotSync); !isSnapshot && buffering(ln.cache.Status()) {
		if len(ln.pending) >= c.maxPending {
			log.Printf("sync: %s buffer full (%d), dropping buffered events", ln.name, len(ln.pending))
			ln.pending = nil
			if ln.cache.Status() == cache.Loading {
				ln.overflow = true
			}
		}
		ln.pending = append(ln.pending, ev)
		return
	}
	c.applyLocked(ln, ev)
}

func buffering(s cache.Status) bool {
	return s == cache.Idle || s == cache.Loading
}

func (c *Coordinator) applyLocked(ln *lane, ev client.SyncEvent) {
	switch e := ev.(type) {
	case client.SnapshotSync:
		// Everything buffered arrived before this snapshot, which replaces it.
		ln.pending = nil
		ln.overflow = false
		ln.cache.ReplaceAll(inDate(e.Records, ln.params.Date))
		ln.version++
	case client.UpsertSync:
		if !e.Record.InDate(ln.params.Date) {
			// The record moved out of (or never was in) the loaded day.
			if ln.cache.Remove(e.Record.ID) {
				ln.version++
			}
			return
		}
		ln.cache.Upsert(e.Record)
		ln.version++
	case client.RemoveSync:
		if ln.cache.Remove(e.ID) {
			ln.version++
		}
	default:
		log.Printf("sync: unhandled event type %T", ev)
	}
}

// inDate keeps the records that belong to the view for date.
func inDate(recs []entity.Record, date string) []entity.Record {
	if date == "" {
		return recs
	}
	out := make([]entity.Record, 0, len(recs))
	for _, r := range recs {
		if r.InDate(date) {
			out = append(out, r)
		}
	}
	return out
}

func (c *Coordinator) replayLocked(ln *lane) {
	pending := ln.pending
	ln.pending = nil
	for _, ev := range pending {
		c.applyLocked(ln, ev)
	}
}

// reloadLocked marks ln Loading now, so events that follow are buffered,
// and fetches in the background.
func (c *Coordinator) reloadLocked(ln *lane) {
	p := ln.params
	gen, requested := c.beginLoadLocked(ln, p)
	ctx := c.ctx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.finishLoad(ctx, ln, gen, requested, p)
	}()
}

// Attach subscribes the coordinator to a connection manager: sync messages
// are applied, a reconnect reloads every collection that was loaded before,
// and a Failed connection suspends reloads until the next connect. ctx
// bounds background reloads. The returned func detaches.
func (c *Coordinator) Attach(ctx context.Context, m *client.Manager) (detach func()) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	syncID := m.On(client.EventSync, func(ev client.Event) {
		if pe, ok := ev.(client.PushEvent); ok {
			c.HandlePush(pe.Message)
		}
	})
	connID := m.On(client.EventConnect, func(ev client.Event) {
		if ce, ok := ev.(client.ConnectEvent); ok {
			c.onConnect(ce)
		}
	})
	stateID := m.On(client.EventState, func(ev client.Event) {
		if se, ok := ev.(client.StateEvent); ok && se.To == client.Failed {
			c.mu.Lock()
			c.suspended = true
			c.mu.Unlock()
			log.Printf("sync: connection failed permanently, synchronization suspended")
		}
	})
	return func() {
		m.Off(client.EventSync, syncID)
		m.Off(client.EventConnect, connID)
		m.Off(client.EventState, stateID)
	}
}

// onConnect runs on the manager goroutine before any message of the new
// connection is read. After a gap the event stream cannot be trusted, so
// every loaded collection is marked Loading and refetched.
func (c *Coordinator) onConnect(ev client.ConnectEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.suspended = false
	if !ev.Reconnect {
		return
	}
	for _, name := range entity.All {
		ln := c.lanes[name]
		if !ln.loaded {
			continue
		}
		c.reloadLocked(ln)
	}
}

// Suspended reports whether synchronization stopped because the
// connection failed permanently (for example, rejected credentials).
func (c *Coordinator) Suspended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suspended
}

// Pending returns how many events are buffered for name.
func (c *Coordinator) Pending(name entity.Collection) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ln, ok := c.lanes[name]; ok {
		return len(ln.pending)
	}
	return 0
}

// Wait blocks until background reloads finish.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
