// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package props provides an in-memory system property store implementing
// the property surface the builtin core expects. On a full system the
// store is backed by the platform property service; this implementation
// serves the command driver and tests.
package props

import (
	"strings"
	"sync"
)

// Store is a concurrency-safe key/value property store.
type Store struct {
	mu      sync.RWMutex
	values  map[string]string
	waiters map[string][]chan struct{}
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		values:  make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Get returns the property value, or def if it is unset.
func (s *Store) Get(name, def string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if value, ok := s.values[name]; ok {
		return value
	}

	return def
}

// GetBool interprets the property as a boolean. Unset or unparseable
// values return def.
func (s *Store) GetBool(name string, def bool) bool {
	switch strings.ToLower(s.Get(name, "")) {
	case "1", "true", "y", "yes", "on":
		return true
	case "0", "false", "n", "no", "off":
		return false
	default:
		return def
	}
}

// Set stores the property value and releases any waiters for it.
func (s *Store) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[name] = value

	key := waiterKey(name, value)
	for _, ch := range s.waiters[key] {
		close(ch)
	}

	delete(s.waiters, key)
}

// WaitFor returns a channel that is closed once the property holds the
// given value. If it already does, the returned channel is closed.
func (s *Store) WaitFor(name, value string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan struct{})
	if s.values[name] == value {
		close(ch)
		return ch
	}

	key := waiterKey(name, value)
	s.waiters[key] = append(s.waiters[key], ch)

	return ch
}

func waiterKey(name, value string) string {
	return name + "=" + value
}

// IsLegalName reports whether the property name is well formed: non-empty,
// no leading or trailing separator, no consecutive separators, and drawn
// from the property name alphabet.
func IsLegalName(name string) bool {
	if name == "" || name[0] == '.' || name[len(name)-1] == '.' {
		return false
	}

	for idx := 0; idx < len(name); idx++ {
		c := name[idx]

		switch {
		case c == '.':
			if name[idx-1] == '.' {
				return false
			}
		case c == '_' || c == '-' || c == '@' || c == ':':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}

	return true
}
