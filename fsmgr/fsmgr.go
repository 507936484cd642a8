// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package fsmgr defines the mount-all outcome contract consumed by the
// boot-time filesystem event machinery and provides a local reference
// implementation that drives a [fstab.Table] directly against the kernel.
package fsmgr

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/emberos/init/fstab"
	"github.com/emberos/init/internal/logging"
)

// Outcome codes returned by a mount-all run. The numeric values are wire
// protocol between the mount manager and the init event machinery and must
// not be renumbered.
const (
	MntAllFail                       = -1
	MntAllDevNotEncryptable          = 0
	MntAllDevNotEncrypted            = 1
	MntAllDevMightBeEncrypted        = 2
	MntAllDevNeedsEncryption         = 3
	MntAllDevNeedsRecovery           = 4
	MntAllDevFileEncrypted           = 5
	MntAllDevIsMetadataEncrypted     = 6
	MntAllDevNeedsMetadataEncryption = 7
)

// Mode selects which subset of a table a mount-all run handles.
type Mode int

const (
	ModeDefault Mode = iota
	ModeEarly
	ModeLate
)

func (m Mode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeEarly:
		return "early"
	case ModeLate:
		return "late"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

const userdataMountPoint = "/data"

// Local mounts fstab entries directly. The syscall surface is held in
// fields so tests can run without privileges.
type Local struct {
	MountFn   func(source, target, fstype string, flags uintptr, data string) error
	UnmountFn func(target string) error
	SwaponFn  func(path string) error
	MkdirFn   func(path string) error
}

// NewLocal returns a Local operating on the real kernel interfaces.
func NewLocal() *Local {
	return &Local{
		MountFn: func(source, target, fstype string, flags uintptr, data string) error {
			return unix.Mount(source, target, fstype, flags, data)
		},
		MkdirFn: func(path string) error {
			return os.MkdirAll(path, 0o755)
		},
		UnmountFn: func(target string) error {
			return unix.Unmount(target, 0)
		},
		SwaponFn: swapon,
	}
}

// swapon issues the raw syscall; x/sys/unix carries the syscall number
// but no wrapper.
func swapon(path string) error {
	pathPtr, err := unix.BytePtrFromString(path)
	if err != nil {
		return err
	}

	_, _, errno := unix.Syscall(
		unix.SYS_SWAPON, uintptr(unsafe.Pointer(pathPtr)), 0, 0,
	)
	if errno != 0 {
		return errno
	}

	return nil
}

// Entry mount options understood by the local implementation. The mount
// manager holds its own table independent of the mount builtin's.
var entryFlags = map[string]uintptr{
	"ro":         unix.MS_RDONLY,
	"rw":         0,
	"noatime":    unix.MS_NOATIME,
	"nosuid":     unix.MS_NOSUID,
	"nodev":      unix.MS_NODEV,
	"noexec":     unix.MS_NOEXEC,
	"nodiratime": unix.MS_NODIRATIME,
}

func entryMountArgs(entry *fstab.Entry) (uintptr, string) {
	var flags uintptr

	data := ""

	for _, opt := range entry.MountOptions {
		if bit, ok := entryFlags[opt]; ok {
			flags |= bit
			continue
		}

		if data != "" {
			data += ","
		}

		data += opt
	}

	return flags, data
}

// MountAll mounts every entry of the table and classifies the userdata
// encryption situation into one of the MntAll outcome codes.
//
// The early mode handles only entries marked "first_stage_mount"; the late
// mode handles only entries marked "latemount"; the default mode handles
// everything not claimed by early mode.
func (l *Local) MountAll(table *fstab.Table, mode Mode) int {
	logger := logging.Default()

	for idx := range table.Entries {
		entry := &table.Entries[idx]
		if !entryInMode(entry, mode) {
			continue
		}

		if err := l.mountEntry(entry); err != nil {
			if entry.HasManagerFlag("nofail") {
				logger.Info("optional mount %s failed: %v", entry.MountPoint, err)
				continue
			}

			if entry.MountPoint == userdataMountPoint && entry.HasManagerFlag("formattable") {
				logger.Error("userdata mount failed, recovery required: %v", err)
				return MntAllDevNeedsRecovery
			}

			logger.Error("mount %s failed: %v", entry.MountPoint, err)

			return MntAllFail
		}
	}

	return classifyUserdata(table)
}

func (l *Local) mountEntry(entry *fstab.Entry) error {
	if l.MkdirFn != nil {
		if err := l.MkdirFn(entry.MountPoint); err != nil {
			return fmt.Errorf("mkdir %s: %w", entry.MountPoint, err)
		}
	}

	flags, data := entryMountArgs(entry)

	err := l.MountFn(entry.Source, entry.MountPoint, entry.FSType, flags, data)
	if err != nil {
		return fmt.Errorf("mount %s: %w", entry.MountPoint, err)
	}

	return nil
}

func entryInMode(entry *fstab.Entry, mode Mode) bool {
	switch mode {
	case ModeEarly:
		return entry.HasManagerFlag("first_stage_mount")
	case ModeLate:
		return entry.HasManagerFlag("latemount")
	default:
		return !entry.HasManagerFlag("first_stage_mount")
	}
}

func classifyUserdata(table *fstab.Table) int {
	entry := table.EntryFor(userdataMountPoint)
	if entry == nil {
		return MntAllDevNotEncryptable
	}

	switch {
	case entry.HasManagerFlag("metadata_encryption"), entry.HasManagerFlag("keydirectory"):
		return MntAllDevIsMetadataEncrypted
	case entry.HasManagerFlag("fileencryption"):
		return MntAllDevFileEncrypted
	case entry.HasManagerFlag("forceencrypt"):
		return MntAllDevNeedsEncryption
	case entry.HasManagerFlag("encryptable"):
		return MntAllDevMightBeEncrypted
	default:
		return MntAllDevNotEncrypted
	}
}

// UmountAll unmounts every entry of the table in reverse order. It returns
// the number of entries that could not be unmounted.
func (l *Local) UmountAll(table *fstab.Table) int {
	failed := 0

	for idx := len(table.Entries) - 1; idx >= 0; idx-- {
		entry := &table.Entries[idx]
		if err := l.UnmountFn(entry.MountPoint); err != nil {
			logging.Default().Error("umount %s: %v", entry.MountPoint, err)
			failed++
		}
	}

	return failed
}

// SwaponAll enables every swap entry of the table.
func (l *Local) SwaponAll(table *fstab.Table) error {
	for idx := range table.Entries {
		entry := &table.Entries[idx]
		if entry.FSType != "swap" {
			continue
		}

		if err := l.SwaponFn(entry.Source); err != nil {
			return fmt.Errorf("swapon %s: %w", entry.Source, err)
		}
	}

	return nil
}

// RemountUserdataIntoCheckpointing remounts the userdata entry for
// filesystem checkpointing. Returns a negative value on failure, matching
// the mount-all code convention.
func (l *Local) RemountUserdataIntoCheckpointing(table *fstab.Table) int {
	entry := table.EntryFor(userdataMountPoint)
	if entry == nil {
		return MntAllFail
	}

	flags, data := entryMountArgs(entry)
	flags |= unix.MS_REMOUNT

	err := l.MountFn(entry.Source, entry.MountPoint, entry.FSType, flags, data)
	if err != nil {
		logging.Default().Error("remount %s: %v", entry.MountPoint, err)
		return MntAllFail
	}

	return 0
}
