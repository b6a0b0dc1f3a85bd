// Package prefs keeps small pieces of local user intent that must survive
// restarts. Today that is a single value: the selected report date.
package prefs

import (
	"log"
	"sync"
	"time"
)

const (
	// ReportDateKey is the storage key holding the report date.
	ReportDateKey = "report_date"

	// DateLayout is the calendar representation used for report dates.
	DateLayout = "2006-01-02"
)

// Backend is durable key/value storage.
type Backend interface {
	Load(key string) (value string, ok bool, err error)
	Save(key, value string) error
}

// ReportDate is the persisted report date preference. It reads the backend
// once, then serves from memory and writes through on every Set.
type ReportDate struct {
	backend Backend
	loc     *time.Location
	now     func() time.Time

	mu     sync.Mutex
	value  string
	loaded bool

	subMu   sync.Mutex
	subs    map[int]func(string)
	nextSub int
}

// NewReportDate creates the preference over backend. loc fixes which
// calendar day "today" is; nil means time.Local.
func NewReportDate(backend Backend, loc *time.Location) *ReportDate {
	if loc == nil {
		loc = time.Local
	}
	return &ReportDate{
		backend: backend,
		loc:     loc,
		now:     time.Now,
		subs:    make(map[int]func(string)),
	}
}

// SetClock replaces the time source. Tests only.
func (r *ReportDate) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Get returns the stored date. With nothing stored it computes today,
// persists it and returns it; from then on the value is sticky.
func (r *ReportDate) Get() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked()
	if r.value == "" {
		r.value = r.now().In(r.loc).Format(DateLayout)
		r.persistLocked(r.value)
	}
	return r.value
}

// Set stores date and notifies subscribers. Malformed dates are logged
// and stored as given; Set never fails.
func (r *ReportDate) Set(date string) {
	if _, err := time.Parse(DateLayout, date); err != nil {
		log.Printf("prefs: report date %q is not %s: %v", date, DateLayout, err)
	}
	r.mu.Lock()
	r.loaded = true
	r.value = date
	r.persistLocked(date)
	r.mu.Unlock()
	r.notify(date)
}

// Shift moves the stored date by days and returns the new value. A stored
// value that does not parse is replaced by today before shifting.
func (r *ReportDate) Shift(days int) string {
	cur := r.Get()
	t, err := time.ParseInLocation(DateLayout, cur, r.loc)
	if err != nil {
		r.mu.Lock()
		t = r.now().In(r.loc)
		r.mu.Unlock()
	}
	next := t.AddDate(0, 0, days).Format(DateLayout)
	r.Set(next)
	return next
}

// Today sets the stored date to the current day and returns it.
func (r *ReportDate) Today() string {
	r.mu.Lock()
	today := r.now().In(r.loc).Format(DateLayout)
	r.mu.Unlock()
	r.Set(today)
	return today
}

// Subscribe registers fn to receive every new value. The returned func
// removes the subscription.
func (r *ReportDate) Subscribe(fn func(string)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()
	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *ReportDate) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true
	v, ok, err := r.backend.Load(ReportDateKey)
	if err != nil {
		log.Printf("prefs: reading %s: %v", ReportDateKey, err)
		return
	}
	if ok {
		r.value = v
	}
}

// persistLocked writes through. On failure the in-memory value stays
// authoritative for the rest of the process.
func (r *ReportDate) persistLocked(v string) {
	if err := r.backend.Save(ReportDateKey, v); err != nil {
		log.Printf("prefs: saving %s (keeping in memory): %v", ReportDateKey, err)
	}
}

func (r *ReportDate) notify(v string) {
	r.subMu.Lock()
	fns := make([]func(string), 0, len(r.subs))
	for i := 0; i < r.nextSub; i++ {
		if fn, ok := r.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	r.subMu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}
