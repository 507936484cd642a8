// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service implements the service collection the builtin command
// core controls. It covers the control surface the builtins exercise:
// lookup by name or published interface, class-tag selection, and the
// per-service start/stop family including the post-data variants.
package service

import (
	"errors"
	"fmt"
	"os/exec"
	"slices"

	"github.com/emberos/init/internal/logging"
)

// ErrNoCommand is returned when a service without a command line is
// exec-started.
var ErrNoCommand = errors.New("service has no command")

// Starter launches a service process. The default starter hands the
// command line to the OS; tests install spies.
type Starter func(name string, command []string) error

func execStarter(_ string, command []string) (err error) {
	cmd := exec.Command(command[0], command[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// Reap in the background so the child does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	return nil
}

// Config describes a service.
type Config struct {
	Name       string
	Classes    []string
	Interfaces []string
	Command    []string
	Disabled   bool
	Oneshot    bool
	Starter    Starter
}

// Record is a single known service.
type Record struct {
	config  Config
	starter Starter

	running           bool
	disabled          bool
	runningAtPostData bool
}

// New creates a service record from its configuration.
func New(config Config) *Record {
	starter := config.Starter
	if starter == nil {
		starter = execStarter
	}

	if len(config.Classes) == 0 {
		config.Classes = []string{"default"}
	}

	return &Record{
		config:   config,
		starter:  starter,
		disabled: config.Disabled,
	}
}

// Name returns the service name.
func (r *Record) Name() string { return r.config.Name }

// InClass reports whether the service carries the class tag.
func (r *Record) InClass(class string) bool {
	return slices.Contains(r.config.Classes, class)
}

// Running reports whether the service is currently considered running.
func (r *Record) Running() bool { return r.running }

// Disabled reports whether the service is excluded from class starts.
func (r *Record) Disabled() bool { return r.disabled }

// Start launches the service. Already running services are left alone.
func (r *Record) Start() error {
	if r.running {
		return nil
	}

	if len(r.config.Command) > 0 {
		if err := r.starter(r.config.Name, r.config.Command); err != nil {
			return err
		}
	}

	r.running = true

	return nil
}

// StartIfNotDisabled starts the service unless it was explicitly
// disabled. Disabled services must be started individually.
func (r *Record) StartIfNotDisabled() error {
	if r.disabled {
		return nil
	}

	return r.Start()
}

// ExecStart launches the service and waits for the process to finish.
func (r *Record) ExecStart() error {
	if len(r.config.Command) == 0 {
		return ErrNoCommand
	}

	if err := r.starter(r.config.Name, r.config.Command); err != nil {
		return err
	}

	r.running = !r.config.Oneshot

	return nil
}

// Stop stops the service and disables it until started explicitly again.
func (r *Record) Stop() {
	r.running = false
	r.disabled = true
}

// Reset stops the service but leaves it eligible for the next class
// start.
func (r *Record) Reset() {
	r.running = false
}

// Restart stops a running service and starts it again.
func (r *Record) Restart() {
	if r.running {
		r.Reset()
	}

	if err := r.Start(); err != nil {
		logging.Default().Error(
			"could not restart service %q: %v", r.config.Name, err,
		)
		r.running = false
	}
}

// Enable clears the disabled flag so the service participates in class
// starts again.
func (r *Record) Enable() error {
	r.disabled = false
	return nil
}

// StartIfPostData starts the service only if it was running when
// post-data was marked.
func (r *Record) StartIfPostData() error {
	if !r.runningAtPostData {
		return nil
	}

	return r.Start()
}

// ResetIfPostData resets the service only if it was running when
// post-data was marked.
func (r *Record) ResetIfPostData() {
	if r.runningAtPostData {
		r.Reset()
	}
}

func (r *Record) markPostData() {
	r.runningAtPostData = r.running
}
