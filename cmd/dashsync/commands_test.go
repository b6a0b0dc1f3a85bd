package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alsoamit/manager-dash-sub001/internal/access"
	"github.com/alsoamit/manager-dash-sub001/internal/prefs"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "prefs:\n  backend: file\n  dir: " + filepath.Join(dir, "state") + "\n  timezone: UTC\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return strings.TrimSpace(out.String()), err
}

func TestDateSetThenGet(t *testing.T) {
	cfg := writeConfig(t)

	out, err := execute(t, "--config", cfg, "date", "set", "2026-03-01")
	if err != nil {
		t.Fatalf("date set: %v", err)
	}
	if out != "2026-03-01" {
		t.Errorf("date set printed %q", out)
	}

	out, err = execute(t, "--config", cfg, "date", "get")
	if err != nil {
		t.Fatalf("date get: %v", err)
	}
	if out != "2026-03-01" {
		t.Errorf("date get = %q, want the stored date", out)
	}

	out, err = execute(t, "--config", cfg, "date", "set", "+2")
	if err != nil {
		t.Fatalf("date set +2: %v", err)
	}
	if out != "2026-03-03" {
		t.Errorf("date set +2 = %q, want 2026-03-03", out)
	}
}

func TestDateSetRejectsGarbage(t *testing.T) {
	cfg := writeConfig(t)
	if _, err := execute(t, "--config", cfg, "date", "set", "yesterday-ish"); err == nil {
		t.Fatal("expected error for malformed date")
	}
}

func TestApplyDate(t *testing.T) {
	clock := func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }
	tests := []struct {
		name    string
		start   string
		arg     string
		want    string
		wantErr bool
	}{
		{"absolute", "2026-01-01", "2026-02-14", "2026-02-14", false},
		{"today", "2026-01-01", "today", "2026-10-18", false},
		{"forward", "2026-02-28", "+1", "2026-03-01", false},
		{"backward", "2026-03-01", "-1", "2026-02-28", false},
		{"bad offset", "2026-03-01", "+x", "", true},
		{"bad date", "2026-03-01", "18/10/2026", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := prefs.NewReportDate(prefs.NewMemoryBackend(), time.UTC)
			r.SetClock(clock)
			r.Set(tt.start)

			got, err := applyDate(r, tt.arg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("applyDate(%q) error = %v, wantErr %v", tt.arg, err, tt.wantErr)
			}
			if tt.wantErr {
				if r.Get() != tt.start {
					t.Errorf("stored date changed to %q on error", r.Get())
				}
				return
			}
			if got != tt.want || r.Get() != tt.want {
				t.Errorf("applyDate(%q) = %q (stored %q), want %q", tt.arg, got, r.Get(), tt.want)
			}
		})
	}
}

func TestCheckAccess(t *testing.T) {
	tests := []struct {
		name    string
		lookup  access.StaticLookup
		wantErr bool
		wantMsg string
	}{
		{"admin", access.StaticLookup{Session: &access.Session{UserID: "u1", Role: access.RoleAdmin}}, false, ""},
		{"signed out", access.StaticLookup{}, true, "/login"},
		{"lookup error", access.StaticLookup{Err: errors.New("offline")}, true, "/login"},
		{"not admin", access.StaticLookup{Session: &access.Session{UserID: "u2", Role: "sales"}}, true, "admins only"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			err := checkAccess(context.Background(), tt.lookup, &stderr)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkAccess() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errAccessDenied) {
				t.Errorf("error %v is not errAccessDenied", err)
			}
			if !strings.Contains(stderr.String(), tt.wantMsg) {
				t.Errorf("stderr = %q, want it to mention %q", stderr.String(), tt.wantMsg)
			}
		})
	}
}

func TestDevSession(t *testing.T) {
	if s := devSession("none"); s != nil {
		t.Errorf("devSession(none) = %+v, want nil", s)
	}
	s := devSession(access.RoleAdmin)
	if s == nil || s.Role != access.RoleAdmin {
		t.Errorf("devSession(admin) = %+v", s)
	}
}
