package prefs

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

type failingBackend struct {
	loadErr error
	saveErr error
	saves   int
}

func (f *failingBackend) Load(string) (string, bool, error) { return "", false, f.loadErr }
func (f *failingBackend) Save(string, string) error {
	f.saves++
	return f.saveErr
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGetFirstRunPersistsToday(t *testing.T) {
	backend := NewMemoryBackend()
	r := NewReportDate(backend, time.UTC)
	r.SetClock(fixedClock(time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)))

	if got := r.Get(); got != "2026-10-18" {
		t.Fatalf("Get() = %q, want 2026-10-18", got)
	}
	v, ok, _ := backend.Load(ReportDateKey)
	if !ok || v != "2026-10-18" {
		t.Errorf("persisted = %q (ok=%v), want 2026-10-18", v, ok)
	}
}

func TestGetIsSticky(t *testing.T) {
	now := time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC)
	r := NewReportDate(NewMemoryBackend(), time.UTC)
	r.SetClock(func() time.Time { return now })

	first := r.Get()
	now = now.Add(2 * time.Hour) // next calendar day
	if got := r.Get(); got != first {
		t.Errorf("Get() after midnight = %q, want sticky %q", got, first)
	}
}

func TestGetUsesFixedLocation(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	r := NewReportDate(NewMemoryBackend(), ist)
	// 20:00 UTC is already the next day at +05:30.
	r.SetClock(fixedClock(time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)))
	if got := r.Get(); got != "2026-10-19" {
		t.Errorf("Get() = %q, want 2026-10-19", got)
	}
}

func TestGetReadsStoredValue(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Save(ReportDateKey, "2025-01-31")
	r := NewReportDate(backend, time.UTC)
	if got := r.Get(); got != "2025-01-31" {
		t.Errorf("Get() = %q, want stored 2025-01-31", got)
	}
}

func TestGetEmptyStoredValueFallsBackToToday(t *testing.T) {
	backend := NewMemoryBackend()
	backend.Save(ReportDateKey, "")
	r := NewReportDate(backend, time.UTC)
	r.SetClock(fixedClock(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)))
	if got := r.Get(); got != "2026-02-03" {
		t.Errorf("Get() = %q, want 2026-02-03", got)
	}
}

func TestSetPersistsAndNotifies(t *testing.T) {
	backend := NewMemoryBackend()
	r := NewReportDate(backend, time.UTC)

	var seen []string
	cancel := r.Subscribe(func(v string) { seen = append(seen, v) })

	r.Set("2026-05-01")
	if got := r.Get(); got != "2026-05-01" {
		t.Errorf("Get() = %q, want 2026-05-01", got)
	}
	if v, _, _ := backend.Load(ReportDateKey); v != "2026-05-01" {
		t.Errorf("persisted %q, want 2026-05-01", v)
	}

	cancel()
	r.Set("2026-05-02")
	if !reflect.DeepEqual(seen, []string{"2026-05-01"}) {
		t.Errorf("notifications = %v, want [2026-05-01]", seen)
	}
}

func TestSetMalformedStoredAsGiven(t *testing.T) {
	backend := NewMemoryBackend()
	r := NewReportDate(backend, time.UTC)
	r.Set("not-a-date")
	if got := r.Get(); got != "not-a-date" {
		t.Errorf("Get() = %q, want not-a-date", got)
	}
}

func TestSaveFailureKeepsValueInMemory(t *testing.T) {
	backend := &failingBackend{saveErr: errors.New("quota exceeded")}
	r := NewReportDate(backend, time.UTC)
	r.SetClock(fixedClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))

	if got := r.Get(); got != "2026-01-01" {
		t.Errorf("Get() = %q, want 2026-01-01", got)
	}
	r.Set("2026-01-05")
	if got := r.Get(); got != "2026-01-05" {
		t.Errorf("Get() after failed save = %q, want 2026-01-05", got)
	}
	if backend.saves != 2 {
		t.Errorf("saves = %d, want 2", backend.saves)
	}
}

func TestLoadFailureDefaultsToToday(t *testing.T) {
	backend := &failingBackend{loadErr: errors.New("io error")}
	r := NewReportDate(backend, time.UTC)
	r.SetClock(fixedClock(time.Date(2026, 7, 4, 8, 0, 0, 0, time.UTC)))
	if got := r.Get(); got != "2026-07-04" {
		t.Errorf("Get() = %q, want 2026-07-04", got)
	}
}

func TestShift(t *testing.T) {
	r := NewReportDate(NewMemoryBackend(), time.UTC)
	r.Set("2026-02-28")
	if got := r.Shift(1); got != "2026-03-01" {
		t.Errorf("Shift(1) = %q, want 2026-03-01", got)
	}
	if got := r.Shift(-2); got != "2026-02-27" {
		t.Errorf("Shift(-2) = %q, want 2026-02-27", got)
	}

	r.Set("garbage")
	r.SetClock(fixedClock(time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)))
	if got := r.Shift(-1); got != "2026-06-09" {
		t.Errorf("Shift on malformed value = %q, want 2026-06-09", got)
	}
}

func TestToday(t *testing.T) {
	b := NewMemoryBackend()
	r := NewReportDate(b, time.UTC)
	r.Set("2025-12-31")
	r.SetClock(fixedClock(time.Date(2026, 10, 18, 23, 30, 0, 0, time.UTC)))

	var notified string
	r.Subscribe(func(v string) { notified = v })
	if got := r.Today(); got != "2026-10-18" {
		t.Errorf("Today() = %q", got)
	}
	if v, _, _ := b.Load(ReportDateKey); v != "2026-10-18" {
		t.Errorf("stored = %q", v)
	}
	if notified != "2026-10-18" {
		t.Errorf("notified = %q", notified)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)

	if _, ok, err := b.Load(ReportDateKey); err != nil || ok {
		t.Fatalf("Load on empty dir = ok %v, err %v", ok, err)
	}
	if err := b.Save(ReportDateKey, "2026-03-03"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save("other", "x"); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	// A fresh backend on the same dir sees the value, as after a restart.
	v, ok, err := NewFileBackend(dir).Load(ReportDateKey)
	if err != nil || !ok || v != "2026-03-03" {
		t.Errorf("Load = %q, %v, %v; want 2026-03-03", v, ok, err)
	}

	matches, _ := filepath.Glob(filepath.Join(dir, ".prefs-*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestFileBackendCorruptFile(t *testing.T) {
	dir := t.TempDir()
	b := NewFileBackend(dir)
	if err := os.WriteFile(b.Path(), []byte("report_date = "), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := b.Load(ReportDateKey); err == nil {
		t.Error("expected parse error for a corrupt file")
	}
	if err := b.Save(ReportDateKey, "2026-01-01"); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
	if v, ok, _ := b.Load(ReportDateKey); !ok || v != "2026-01-01" {
		t.Errorf("Load after repair = %q, %v", v, ok)
	}
}

func TestFileBackendPersistsAcrossReportDates(t *testing.T) {
	dir := t.TempDir()
	first := NewReportDate(NewFileBackend(dir), time.UTC)
	first.SetClock(fixedClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)))
	want := first.Get()

	second := NewReportDate(NewFileBackend(dir), time.UTC)
	second.SetClock(fixedClock(time.Date(2026, 4, 9, 0, 0, 0, 0, time.UTC)))
	if got := second.Get(); got != want {
		t.Errorf("after restart Get() = %q, want %q", got, want)
	}
}

func TestDefaultDirRespectsXDG(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/xdg-test")
	if got := DefaultDir(); got != "/tmp/xdg-test/dashsync" {
		t.Errorf("DefaultDir() = %q", got)
	}
}

func TestSQLiteBackendRoundTrip(t *testing.T) {
	dir := t.TempDir()
	b, err := OpenSQLiteBackend(dir)
	if err != nil {
		t.Fatalf("OpenSQLiteBackend: %v", err)
	}

	if _, ok, err := b.Load(ReportDateKey); err != nil || ok {
		t.Fatalf("Load on empty db = ok %v, err %v", ok, err)
	}
	if err := b.Save(ReportDateKey, "2026-08-01"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Save(ReportDateKey, "2026-08-02"); err != nil {
		t.Fatalf("Save overwrite: %v", err)
	}
	b.Close()

	b2, err := OpenSQLiteBackend(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b2.Close()
	v, ok, err := b2.Load(ReportDateKey)
	if err != nil || !ok || v != "2026-08-02" {
		t.Errorf("Load = %q, %v, %v; want 2026-08-02", v, ok, err)
	}
}

func TestOpenKinds(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		kind string
		want string
	}{
		{"", "*prefs.FileBackend"},
		{KindFile, "*prefs.FileBackend"},
		{KindSQLite, "*prefs.SQLiteBackend"},
		{KindMemory, "*prefs.MemoryBackend"},
		{"redis", "*prefs.MemoryBackend"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			b, closer := Open(tt.kind, dir)
			defer closer.Close()
			if got := reflect.TypeOf(b).String(); got != tt.want {
				t.Errorf("Open(%q) = %s, want %s", tt.kind, got, tt.want)
			}
		})
	}
}
