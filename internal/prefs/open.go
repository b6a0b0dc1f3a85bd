package prefs

import (
	"fmt"
	"io"
	"log"
)

// Backend kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the backend named by kind. If a durable backend cannot be
// opened it falls back to memory and logs why, so the caller always gets a
// usable backend. The closer releases backend resources.
func Open(kind, dir string) (Backend, io.Closer) {
	switch kind {
	case "", KindFile:
		return NewFileBackend(dir), nopCloser{}
	case KindSQLite:
		b, err := OpenSQLiteBackend(dir)
		if err != nil {
			log.Printf("prefs: %v (falling back to memory)", err)
			return NewMemoryBackend(), nopCloser{}
		}
		return b, b
	case KindMemory:
		return NewMemoryBackend(), nopCloser{}
	}
	log.Printf("prefs: %v (falling back to memory)", fmt.Errorf("unknown backend %q", kind))
	return NewMemoryBackend(), nopCloser{}
}
