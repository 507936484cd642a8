// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package loopdev binds regular files to loopback block devices. The scan
// over the device nodes is bounded so a system without a free device
// reports an explicit error instead of spinning.
package loopdev

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	// DefaultDir is where loop device nodes live.
	DefaultDir = "/dev/block"
	// DefaultLimit bounds the device scan.
	DefaultLimit = 256
)

// ErrExhausted is returned when no unbound loop device exists within the
// scan limit.
var ErrExhausted = errors.New("out of loopback devices")

// Attacher scans loop devices and binds backing files to them. The kernel
// interface is held in fields so tests can run without device nodes.
type Attacher struct {
	Dir   string
	Limit int

	OpenFn   func(path string, readOnly bool) (int, error)
	CloseFn  func(fd int)
	StatusFn func(fd int) error
	SetFdFn  func(loopFd, backingFd int) error
	ClearFn  func(fd int) error
}

// New returns an Attacher operating on the real kernel interfaces with
// the default device directory and scan limit.
func New() *Attacher {
	return &Attacher{
		Dir:   DefaultDir,
		Limit: DefaultLimit,
		OpenFn: func(path string, readOnly bool) (int, error) {
			flag := unix.O_RDWR
			if readOnly {
				flag = unix.O_RDONLY
			}

			return unix.Open(path, flag|unix.O_CLOEXEC, 0)
		},
		CloseFn: func(fd int) { _ = unix.Close(fd) },
		StatusFn: func(fd int) error {
			_, err := unix.IoctlLoopGetStatus64(fd)
			return err
		},
		SetFdFn: func(loopFd, backingFd int) error {
			return unix.IoctlSetInt(loopFd, unix.LOOP_SET_FD, backingFd)
		},
		ClearFn: func(fd int) error {
			return unix.IoctlSetInt(fd, unix.LOOP_CLR_FD, 0)
		},
	}
}

// Attach binds the backing file to the first unbound loop device and
// returns the device path. A device is unbound when its status query
// fails with ENXIO. A bind failure on a blank device is not fatal, the
// scan moves on. With no unbound device within the limit, [ErrExhausted]
// is returned.
func (a *Attacher) Attach(backing string, readOnly bool) (string, error) {
	backingFd, err := a.OpenFn(backing, readOnly)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", backing, err)
	}
	defer a.CloseFn(backingFd)

	for n := 0; n < a.Limit; n++ {
		path := fmt.Sprintf("%s/loop%d", a.Dir, n)

		loopFd, err := a.OpenFn(path, readOnly)
		if err != nil {
			return "", fmt.Errorf("open %s: %w", path, err)
		}

		err = a.StatusFn(loopFd)
		if errors.Is(err, unix.ENXIO) {
			if err := a.SetFdFn(loopFd, backingFd); err == nil {
				a.CloseFn(loopFd)
				return path, nil
			}
		}

		a.CloseFn(loopFd)
	}

	return "", ErrExhausted
}

// Detach releases the backing file of the loop device at path. Used to
// undo a bind whose subsequent mount failed.
func (a *Attacher) Detach(path string) error {
	fd, err := a.OpenFn(path, true)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer a.CloseFn(fd)

	if err := a.ClearFn(fd); err != nil {
		return fmt.Errorf("clear %s: %w", path, err)
	}

	return nil
}
