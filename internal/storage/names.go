package storage

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/benengr/bbb-programmer/internal/models"
)

// SanitizeName reduces a client-supplied filename to a safe base name inside
// the upload directory. Both '/' and '\' count as separators.
func SanitizeName(name string) (string, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSpace(base)

	switch {
	case base == "", base == ".", base == "..":
		return "", fmt.Errorf("%w: %q", models.ErrInvalidName, name)
	case strings.HasPrefix(base, stagingPrefix):
		return "", fmt.Errorf("%w: reserved prefix in %q", models.ErrInvalidName, name)
	case len(base) > 255:
		return "", fmt.Errorf("%w: name too long", models.ErrInvalidName)
	}
	for _, r := range base {
		if r == 0 || unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character in %q", models.ErrInvalidName, name)
		}
	}
	return base, nil
}

// NameLocks hands out one mutex per archive name. Entries are reference
// counted and dropped once no holder or waiter remains.
type NameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	mu   sync.Mutex
	refs int
}

// NewNameLocks creates an empty lock table.
func NewNameLocks() *NameLocks {
	return &NameLocks{locks: make(map[string]*nameLock)}
}

// Lock blocks until name is free and returns the matching unlock function.
func (l *NameLocks) Lock(name string) func() {
	l.mu.Lock()
	nl, ok := l.locks[name]
	if !ok {
		nl = &nameLock{}
		l.locks[name] = nl
	}
	nl.refs++
	l.mu.Unlock()

	nl.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			nl.mu.Unlock()
			l.mu.Lock()
			nl.refs--
			if nl.refs == 0 {
				delete(l.locks, name)
			}
			l.mu.Unlock()
		})
	}
}

// Len reports how many names currently have holders or waiters.
func (l *NameLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
