// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fstab reads filesystem tables consumed at boot. Only the fields
// the mount machinery consumes are parsed; everything else in an entry is
// carried verbatim.
package fstab

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrEmpty is returned when a table contains no usable entries.
var ErrEmpty = errors.New("fstab contains no entries")

// Entry is a single line of a filesystem table.
type Entry struct {
	// Source is the block device or pseudo source to mount.
	Source string
	// MountPoint is the target path.
	MountPoint string
	// FSType is the filesystem type.
	FSType string
	// MountOptions are the comma separated mount(2) options.
	MountOptions []string
	// ManagerFlags are the comma separated mount-manager flags, such as
	// encryption directives. Carried verbatim.
	ManagerFlags []string
}

// HasManagerFlag reports whether the entry carries the given manager flag,
// matching either the bare flag or a "flag=value" form.
func (e *Entry) HasManagerFlag(name string) bool {
	for _, flag := range e.ManagerFlags {
		if flag == name || strings.HasPrefix(flag, name+"=") {
			return true
		}
	}

	return false
}

// Table is an ordered filesystem table.
type Table struct {
	Entries []Entry
}

// EntryFor returns the entry mounted at the given path, or nil.
func (t *Table) EntryFor(mountPoint string) *Entry {
	for idx := range t.Entries {
		if t.Entries[idx].MountPoint == mountPoint {
			return &t.Entries[idx]
		}
	}

	return nil
}

// Read reads and parses the table at the given path.
//
// Lines are whitespace separated with at least four fields: source, mount
// point, type and mount options. A fifth field holds manager flags. Blank
// lines and '#' comments are skipped. An error is returned if the file
// cannot be read, a line is malformed, or no entry remains.
func Read(path string) (*Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fstab: %w", err)
	}
	defer file.Close()

	table := &Table{}
	scanner := bufio.NewScanner(file)
	lineNo := 0

	for scanner.Scan() {
		lineNo++

		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%s:%d: short entry", path, lineNo)
		}

		entry := Entry{
			Source:       fields[0],
			MountPoint:   fields[1],
			FSType:       fields[2],
			MountOptions: splitFlags(fields[3]),
		}
		if len(fields) > 4 {
			entry.ManagerFlags = splitFlags(fields[4])
		}

		table.Entries = append(table.Entries, entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read fstab: %w", err)
	}

	if len(table.Entries) == 0 {
		return nil, ErrEmpty
	}

	return table, nil
}

func splitFlags(field string) []string {
	if field == "defaults" {
		return nil
	}

	return strings.Split(field, ",")
}
