// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"fmt"
	"slices"
)

// Set holds all known services in definition order.
type Set struct {
	records []*Record
	byName  map[string]*Record

	execCount int
	updated   bool
}

// NewSet creates an empty service set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*Record)}
}

// Add registers a service. A record with the same name replaces the
// previous one.
func (s *Set) Add(record *Record) {
	if previous, ok := s.byName[record.config.Name]; ok {
		idx := slices.Index(s.records, previous)
		s.records[idx] = record
	} else {
		s.records = append(s.records, record)
	}

	s.byName[record.config.Name] = record
}

// FindService returns the service with the given name, or nil.
func (s *Set) FindService(name string) *Record {
	return s.byName[name]
}

// FindInterface returns the service publishing the given interface, or
// nil.
func (s *Set) FindInterface(name string) *Record {
	for _, record := range s.records {
		if slices.Contains(record.config.Interfaces, name) {
			return record
		}
	}

	return nil
}

// Services returns all records in definition order.
func (s *Set) Services() []*Record {
	return slices.Clone(s.records)
}

// MarkPostData snapshots which services are running. The post-data start
// and reset variants act on this snapshot.
func (s *Set) MarkPostData() {
	for _, record := range s.records {
		record.markPostData()
	}
}

// MarkServicesUpdate flags that service definitions changed after the
// initial parse, for consumers polling for dynamic updates.
func (s *Set) MarkServicesUpdate() {
	s.updated = true
}

// ServicesUpdated reports whether MarkServicesUpdate has been called.
func (s *Set) ServicesUpdated() bool {
	return s.updated
}

// MakeExecService creates and registers a temporary oneshot service from
// an exec command line. Arguments before a "--" separator are execution
// attributes and are not part of the command.
func (s *Set) MakeExecService(args []string) (*Record, error) {
	command := args
	if idx := slices.Index(args, "--"); idx >= 0 {
		command = args[idx+1:]
	}

	if len(command) == 0 {
		return nil, ErrNoCommand
	}

	s.execCount++

	record := New(Config{
		Name:    fmt.Sprintf("exec %d (%s)", s.execCount, command[0]),
		Classes: []string{"default"},
		Command: command,
		Oneshot: true,
	})
	s.Add(record)

	return record, nil
}
