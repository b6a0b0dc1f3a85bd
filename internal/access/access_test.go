package access

import (
	"context"
	"errors"
	"testing"
)

type countingLookup struct {
	calls   int
	session *Session
}

func (l *countingLookup) CurrentSession(context.Context) (*Session, error) {
	l.calls++
	return l.session, nil
}

func TestCheckAdmin(t *testing.T) {
	admin := &Session{UserID: "u1", Role: RoleAdmin}
	tests := []struct {
		name         string
		lookup       StaticLookup
		wantOutcome  Outcome
		wantRedirect string
		wantSession  bool
	}{
		{"no session", StaticLookup{}, RedirectLogin, LoginPath, false},
		{"lookup error", StaticLookup{Err: errors.New("timeout")}, RedirectLogin, LoginPath, false},
		{"non admin", StaticLookup{Session: &Session{UserID: "u2", Role: "employee"}}, RedirectHome, HomePath, false},
		{"empty role", StaticLookup{Session: &Session{UserID: "u3"}}, RedirectHome, HomePath, false},
		{"admin", StaticLookup{Session: admin}, Allow, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewGate(tt.lookup).CheckAdmin(context.Background())
			if d.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %v, want %v", d.Outcome, tt.wantOutcome)
			}
			if d.Redirect != tt.wantRedirect {
				t.Errorf("Redirect = %q, want %q", d.Redirect, tt.wantRedirect)
			}
			if (d.Session != nil) != tt.wantSession {
				t.Errorf("Session = %v, want present=%v", d.Session, tt.wantSession)
			}
			if d.Allowed() != (tt.wantOutcome == Allow) {
				t.Errorf("Allowed() = %v", d.Allowed())
			}
		})
	}
}

func TestCheckAdminNeverCaches(t *testing.T) {
	l := &countingLookup{session: &Session{Role: RoleAdmin}}
	g := NewGate(l)

	if !g.CheckAdmin(context.Background()).Allowed() {
		t.Fatal("first check should allow")
	}
	l.session = nil
	if g.CheckAdmin(context.Background()).Allowed() {
		t.Error("second check should see the logout")
	}
	if l.calls != 2 {
		t.Errorf("lookup called %d times, want 2", l.calls)
	}
}
