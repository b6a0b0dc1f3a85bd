// Package access decides whether the current caller may open the admin
// dashboard. Decisions are computed fresh on every check; session state can
// change out-of-band (logout, expiry) so nothing is cached.
package access

import (
	"context"
	"log"
)

const (
	RoleAdmin = "admin"

	LoginPath = "/login"
	HomePath  = "/"
)

// Session is the caller identity returned by the session collaborator.
type Session struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// SessionLookup returns the current session, or nil when there is none.
type SessionLookup interface {
	CurrentSession(ctx context.Context) (*Session, error)
}

// Outcome is the gate verdict.
type Outcome int

const (
	Allow Outcome = iota
	RedirectLogin
	RedirectHome
)

func (o Outcome) String() string {
	switch o {
	case Allow:
		return "allow"
	case RedirectLogin:
		return "redirect_login"
	case RedirectHome:
		return "redirect_home"
	}
	return "unknown"
}

// Decision is the result of a single gate evaluation.
type Decision struct {
	Outcome  Outcome
	Redirect string   // empty when allowed
	Session  *Session // set only when allowed
}

// Allowed reports whether the caller may proceed.
func (d Decision) Allowed() bool { return d.Outcome == Allow }

// Gate evaluates admin access against a session lookup.
type Gate struct {
	lookup SessionLookup
}

func NewGate(lookup SessionLookup) *Gate {
	return &Gate{lookup: lookup}
}

// CheckAdmin evaluates the current session. A lookup error counts as no
// session; the redirect outcomes are ordinary results, not errors.
func (g *Gate) CheckAdmin(ctx context.Context) Decision {
	s, err := g.lookup.CurrentSession(ctx)
	if err != nil {
		log.Printf("access: session lookup failed: %v", err)
		s = nil
	}
	switch {
	case s == nil:
		return Decision{Outcome: RedirectLogin, Redirect: LoginPath}
	case s.Role != RoleAdmin:
		return Decision{Outcome: RedirectHome, Redirect: HomePath}
	}
	return Decision{Outcome: Allow, Session: s}
}

// StaticLookup always returns the same session. Useful for local tools and
// tests.
type StaticLookup struct {
	Session *Session
	Err     error
}

func (l StaticLookup) CurrentSession(context.Context) (*Session, error) {
	return l.Session, l.Err
}
