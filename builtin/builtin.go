// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package builtin implements the native commands of the init process: the
// registry of per-command contracts, the dispatcher enforcing them, and
// the handlers driving mounts, the boot-time encryption state machine and
// the service-class control surface.
package builtin

import (
	"errors"
	"fmt"
	"math"

	"github.com/emberos/init/internal/logging"
)

// Context identifies which init domain issued a command. Some commands
// are only valid in the privileged init context.
type Context int

const (
	// ContextInit is the privileged init process.
	ContextInit Context = iota
	// ContextVendor is the vendor init helper.
	ContextVendor
)

func (c Context) String() string {
	switch c {
	case ContextInit:
		return "init"
	case ContextVendor:
		return "vendor_init"
	default:
		return fmt.Sprintf("Context(%d)", int(c))
	}
}

// Unbounded marks a command without an upper argument bound.
const Unbounded = math.MaxInt

// Contract violations reported by the dispatcher before a handler runs.
var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrArity          = errors.New("wrong number of arguments")
	ErrContext        = errors.New("command not available in this context")
)

// HandlerFunc executes one builtin command against the session.
type HandlerFunc func(s *Session, args Arguments) error

// Arguments is the argument vector of a single invocation, excluding the
// command name, plus the issuing context.
type Arguments struct {
	Args    []string
	Context Context
}

// Function is the immutable contract of a registered command.
type Function struct {
	// MinArgs and MaxArgs bound the argument count, excluding the
	// command name. MaxArgs may be [Unbounded].
	MinArgs int
	MaxArgs int
	// RestoreFileContext tells the embedding process to snapshot and
	// restore the ambient file-creation security context around the
	// handler. The dispatcher only exposes the flag.
	RestoreFileContext bool
	// InitOnly restricts the command to [ContextInit].
	InitOnly bool

	Handler HandlerFunc
}

// Map is the command registry.
type Map map[string]Function

// Invocation is one parsed command line.
type Invocation struct {
	Command string
	Args    []string
	Context Context
}

// Find returns the contract for the named command.
func (m Map) Find(name string) (Function, bool) {
	fn, ok := m[name]
	return fn, ok
}

// Dispatch validates the invocation against its contract and runs the
// handler. Contract violations are returned without invoking the
// handler. Handler failures are logged with the originating command name
// and returned; the dispatcher never retries.
func (m Map) Dispatch(s *Session, inv Invocation) error {
	fn, ok := m[inv.Command]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, inv.Command)
	}

	if got := len(inv.Args); got < fn.MinArgs || got > fn.MaxArgs {
		return fmt.Errorf("%w: %q requires %s, got %d",
			ErrArity, inv.Command, arityText(fn), got)
	}

	if fn.InitOnly && inv.Context != ContextInit {
		return fmt.Errorf("%w: %q is only available in the %s context",
			ErrContext, inv.Command, ContextInit)
	}

	err := fn.Handler(s, Arguments{Args: inv.Args, Context: inv.Context})
	if err != nil {
		logging.Default().Error("command %q failed: %v", inv.Command, err)
	}

	return err
}

func arityText(fn Function) string {
	if fn.MaxArgs == Unbounded {
		return fmt.Sprintf("at least %d argument(s)", fn.MinArgs)
	}

	if fn.MinArgs == fn.MaxArgs {
		return fmt.Sprintf("exactly %d argument(s)", fn.MinArgs)
	}

	return fmt.Sprintf("%d to %d arguments", fn.MinArgs, fn.MaxArgs)
}
