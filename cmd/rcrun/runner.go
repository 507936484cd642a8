// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/emberos/init/builtin"
	"github.com/emberos/init/fsmgr"
	"github.com/emberos/init/fstab"
	"github.com/emberos/init/internal/logging"
	"github.com/emberos/init/props"
	"github.com/emberos/init/service"
)

// serviceList adapts [service.Set] to the interface the command handlers
// expect. The wrapper keeps failed lookups as untyped nils.
type serviceList struct {
	set *service.Set
}

func (l serviceList) FindService(name string) builtin.Service {
	if record := l.set.FindService(name); record != nil {
		return record
	}

	return nil
}

func (l serviceList) FindInterface(name string) builtin.Service {
	if record := l.set.FindInterface(name); record != nil {
		return record
	}

	return nil
}

func (l serviceList) Each(fn func(builtin.Service)) {
	for _, record := range l.set.Services() {
		fn(record)
	}
}

func (l serviceList) MarkPostData()       { l.set.MarkPostData() }
func (l serviceList) MarkServicesUpdate() { l.set.MarkServicesUpdate() }

func (l serviceList) MakeExecService(args []string) (builtin.Service, error) {
	record, err := l.set.MakeExecService(args)
	if err != nil {
		return nil, err
	}

	return record, nil
}

// triggerLog records queued events. A profile run has no trigger engine
// to hand them to, the log is the observable outcome.
type triggerLog struct {
	events []string
}

func (t *triggerLog) QueueEventTrigger(name string) {
	t.events = append(t.events, name)
	logging.Default().Info("queued event trigger %q", name)
}

// propWaiter allows one outstanding asynchronous property wait, backed
// by the store's waiter channels.
type propWaiter struct {
	store *props.Store

	mu     sync.Mutex
	active bool
}

func (w *propWaiter) start(name, value string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active {
		return false
	}

	w.active = true
	done := w.store.WaitFor(name, value)

	go func() {
		<-done

		w.mu.Lock()
		w.active = false
		w.mu.Unlock()

		logging.Default().Info("property %s reached %q", name, value)
	}()

	return true
}

// runner owns a command session built from a profile and executes
// command lines against it.
type runner struct {
	session  *builtin.Session
	context  builtin.Context
	triggers *triggerLog
}

func newRunner(profile *Profile, context builtin.Context) *runner {
	set := service.NewSet()
	for _, svc := range profile.Services {
		set.Add(service.New(service.Config{
			Name:       svc.Name,
			Classes:    svc.Classes,
			Interfaces: svc.Interfaces,
			Command:    svc.Command,
			Disabled:   svc.Disabled,
			Oneshot:    svc.Oneshot,
		}))
	}

	store := props.NewStore()
	for name, value := range profile.Properties {
		store.Set(name, value)
	}

	triggers := &triggerLog{}
	waiter := &propWaiter{store: store}

	fstabPath := profile.Fstab
	if fstabPath == "" {
		fstabPath = "/etc/fstab"
	}

	session := builtin.NewSession()
	session.Services = serviceList{set: set}
	session.Properties = store
	session.Triggers = triggers
	session.Mounts = fsmgr.NewLocal()
	session.ApexUpdatable = profile.ApexUpdatable

	session.Shutdown = func(reason string) {
		logging.Default().Error("shutdown requested: %s", reason)
		store.Set("sys.powerctl", reason)
	}
	session.WriteBootloaderMessage = func(options []string) error {
		logging.Default().Warn(
			"bootloader message: %s", strings.Join(options, " "),
		)

		return nil
	}
	session.InstallKeyring = func() error {
		logging.Default().Info("file-encryption keyring handled by the kernel")
		return nil
	}
	session.IsGsiRunning = func() bool {
		_, err := os.Stat("/metadata/gsi/dsu/booted")
		return err == nil
	}
	session.StartWaitingForProperty = waiter.start
	session.DefaultFstab = func() (*fstab.Table, error) {
		return fstab.Read(fstabPath)
	}

	if profile.CryptoHelper != "" {
		helper := profile.CryptoHelper
		session.CryptoExec = func(verb string) error {
			return exec.Command(helper, verb).Run()
		}
	}

	for _, path := range profile.LateImports {
		session.QueueLateImport(path)
	}

	r := &runner{
		session:  session,
		context:  context,
		triggers: triggers,
	}
	session.ImportConfig = r.importFile

	return r
}

// run executes the command lines in order and stops at the first
// contract violation or handler failure.
func (r *runner) run(commands []string) error {
	for idx, line := range commands {
		fields := strings.Fields(line)
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}

		invocation := builtin.Invocation{
			Command: fields[0],
			Args:    fields[1:],
			Context: r.context,
		}

		if err := builtin.Commands.Dispatch(r.session, invocation); err != nil {
			return fmt.Errorf("line %d (%q): %w", idx+1, line, err)
		}
	}

	return nil
}

// importFile runs a plain-text command fragment, one command per line.
// mount_all and parse_apex_configs hand their deferred fragments here.
func (r *runner) importFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open fragment: %w", err)
	}
	defer file.Close()

	var commands []string

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		commands = append(commands, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read fragment: %w", err)
	}

	return r.run(commands)
}
