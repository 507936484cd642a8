// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"errors"
	"fmt"
	"io/fs"

	"golang.org/x/sys/unix"

	"github.com/emberos/init/internal/logging"
)

// ErrInvalidCode is returned when a mount-all outcome code is not in the
// state-machine table.
var ErrInvalidCode = errors.New("invalid mount-all code")

// errnoError labels a kernel interface failure with the operation that
// produced it. A nil error stays nil so call sites can wrap
// unconditionally.
func errnoError(op string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", op, err)
}

// ignoreEnoent drops a not-found failure when debug logging is off. Many
// legacy script lines name paths that never exist on current hardware;
// reporting each would only spam the log. The error still aborts nothing
// because the caller treats nil as success.
func ignoreEnoent(err error) error {
	if err == nil {
		return nil
	}

	notFound := errors.Is(err, unix.ENOENT) || errors.Is(err, fs.ErrNotExist)
	if notFound && logging.Default().MinLevel() > logging.LevelDebug {
		return nil
	}

	return err
}
