// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/emberos/init/internal/logging"
)

// commandRetryTimeout bounds how long a "wait" mount blocks for its source
// device node to show up.
const commandRetryTimeout = 5 * time.Second

// mountFlags maps script flag tokens to mount syscall bits. "rw" and
// "defaults" are recognized tokens that contribute no bits.
var mountFlags = map[string]uintptr{
	"noatime":    unix.MS_NOATIME,
	"noexec":     unix.MS_NOEXEC,
	"nosuid":     unix.MS_NOSUID,
	"nodev":      unix.MS_NODEV,
	"nodiratime": unix.MS_NODIRATIME,
	"ro":         unix.MS_RDONLY,
	"rw":         0,
	"remount":    unix.MS_REMOUNT,
	"bind":       unix.MS_BIND,
	"rec":        unix.MS_REC,
	"unbindable": unix.MS_UNBINDABLE,
	"private":    unix.MS_PRIVATE,
	"slave":      unix.MS_SLAVE,
	"shared":     unix.MS_SHARED,
	"defaults":   0,
}

// MountRequest is a single mount operation decoded from script arguments.
type MountRequest struct {
	FSType string
	Source string
	Target string
	Flags  uintptr
	Data   string
	Wait   bool
}

// parseMountRequest decodes "mount <type> <source> <target> [flag]...".
// Tokens after the target are matched against the flag table; "wait" asks
// for the source device to appear first. The final token may instead be a
// filesystem option string passed through verbatim. An unrecognized token
// in any other position is an error.
func parseMountRequest(args []string) (*MountRequest, error) {
	req := &MountRequest{
		FSType: args[0],
		Source: args[1],
		Target: args[2],
	}

	rest := args[3:]
	for idx, token := range rest {
		if bits, ok := mountFlags[token]; ok {
			req.Flags |= bits
			continue
		}

		if token == "wait" {
			req.Wait = true
			continue
		}

		if idx == len(rest)-1 {
			req.Data = token
			continue
		}

		return nil, fmt.Errorf("unrecognized mount flag %q", token)
	}

	return req, nil
}

func doMount(session *Session, args Arguments) error {
	req, err := parseMountRequest(args.Args)
	if err != nil {
		return err
	}

	if backing, isLoop := strings.CutPrefix(req.Source, "loop@"); isLoop {
		readOnly := req.Flags&unix.MS_RDONLY != 0

		device, err := session.Loop.Attach(backing, readOnly)
		if err != nil {
			return fmt.Errorf("attach loop device for %s: %w", backing, err)
		}

		err = session.MountFn(device, req.Target, req.FSType, req.Flags, req.Data)
		if err != nil {
			if derr := session.Loop.Detach(device); derr != nil {
				logging.Default().Warn("detach %s: %v", device, derr)
			}

			return errnoError("mount "+req.Target, err)
		}

		return nil
	}

	if req.Wait {
		// The mount reports its own failure if the device never shows up.
		_ = session.WaitForFile(req.Source, commandRetryTimeout)
	}

	err = session.MountFn(req.Source, req.Target, req.FSType, req.Flags, req.Data)
	if err != nil {
		return ignoreEnoent(errnoError("mount "+req.Target, err))
	}

	return nil
}

func doUmount(session *Session, args Arguments) error {
	if err := session.UmountFn(args.Args[0]); err != nil {
		return errnoError("unmount "+args.Args[0], err)
	}

	return nil
}
