// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package readahead pre-reads files so later accesses do not stall on
// slow storage. It is designed to run as a background unit of work off
// the control thread; failures are reported to the caller for logging
// only and never affect boot.
package readahead

import (
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"syscall"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/emberos/init/internal/logging"
)

const (
	ioprioWhoProcess = 1
	ioprioClassIdle  = 3
	ioprioClassShift = 13
)

// Run reads ahead the file or directory hierarchy at path. Directory
// traversal does not cross filesystem boundaries. With fully set, file
// contents are read through to memory instead of merely advised.
//
// The calling goroutine's OS thread is switched to idle I/O scheduling
// for the duration.
func Run(path string, fully bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	setIdleIOPriority()

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Mode().IsRegular() {
		return file(path, fully)
	}

	if !info.IsDir() {
		return nil
	}

	return tree(path, info, fully)
}

// tree reads ahead every regular file below root, in parallel, staying on
// root's filesystem. Per-file failures are logged and skipped.
func tree(root string, rootInfo os.FileInfo, fully bool) error {
	rootDev := deviceOf(rootInfo)

	group := errgroup.Group{}
	group.SetLimit(runtime.GOMAXPROCS(0))

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.IsDir() && deviceOf(info) != rootDev {
			return filepath.SkipDir
		}

		if !d.Type().IsRegular() {
			return nil
		}

		group.Go(func() error {
			if err := file(path, fully); err != nil {
				logging.Default().Warn("readahead %s: %v", path, err)
			}

			return nil
		})

		return nil
	})

	_ = group.Wait()

	if walkErr != nil {
		return fmt.Errorf("walk %s: %w", root, walkErr)
	}

	return nil
}

func file(path string, fully bool) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	fd := int(f.Fd())

	if err := unix.Fadvise(fd, 0, 0, unix.FADV_WILLNEED); err != nil {
		return fmt.Errorf("fadvise: %w", err)
	}

	if err := readaheadFd(fd, math.MaxInt32); err != nil {
		return fmt.Errorf("readahead: %w", err)
	}

	if fully {
		if _, err := io.Copy(io.Discard, f); err != nil {
			return fmt.Errorf("read: %w", err)
		}
	}

	return nil
}

// readaheadFd issues the raw readahead(2) syscall; x/sys/unix carries
// the syscall number but no wrapper.
func readaheadFd(fd int, count int64) error {
	_, _, errno := unix.Syscall(
		unix.SYS_READAHEAD, uintptr(fd), 0, uintptr(count),
	)
	if errno != 0 {
		return errno
	}

	return nil
}

func deviceOf(info os.FileInfo) uint64 {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(stat.Dev)
	}

	return 0
}

// setIdleIOPriority is best effort, a failure only costs scheduling
// fairness during boot.
func setIdleIOPriority() {
	tid := unix.Gettid()
	prio := uintptr(ioprioClassIdle<<ioprioClassShift | 7)

	_, _, errno := unix.Syscall(
		unix.SYS_IOPRIO_SET, ioprioWhoProcess, uintptr(tid), prio,
	)
	if errno != 0 {
		logging.Default().Warn("set idle ioprio: %v", errno)
	}
}
