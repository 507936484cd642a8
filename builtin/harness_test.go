// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"slices"
	"time"

	"github.com/emberos/init/fsmgr"
	"github.com/emberos/init/fstab"
)

type fakeService struct {
	name    string
	classes []string

	startErr error

	starts         int
	postDataStarts int
	execStarts     int
	stops          int
	resets         int
	postDataResets int
	restarts       int
	enables        int
}

var _ Service = (*fakeService)(nil)

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) InClass(class string) bool {
	return slices.Contains(s.classes, class)
}

func (s *fakeService) Start() error {
	s.starts++
	return s.startErr
}

func (s *fakeService) StartIfNotDisabled() error {
	s.starts++
	return s.startErr
}

func (s *fakeService) StartIfPostData() error {
	s.postDataStarts++
	return s.startErr
}

func (s *fakeService) ExecStart() error {
	s.execStarts++
	return s.startErr
}

func (s *fakeService) Stop()            { s.stops++ }
func (s *fakeService) Reset()           { s.resets++ }
func (s *fakeService) ResetIfPostData() { s.postDataResets++ }
func (s *fakeService) Restart()         { s.restarts++ }

func (s *fakeService) Enable() error {
	s.enables++
	return nil
}

type fakeServiceList struct {
	services []*fakeService

	execService *fakeService
	execArgs    []string
	execErr     error

	postDataMarks  int
	serviceUpdates int
}

var _ ServiceList = (*fakeServiceList)(nil)

func (l *fakeServiceList) FindService(name string) Service {
	for _, svc := range l.services {
		if svc.name == name {
			return svc
		}
	}

	return nil
}

func (l *fakeServiceList) FindInterface(name string) Service {
	return l.FindService(name)
}

func (l *fakeServiceList) Each(fn func(Service)) {
	for _, svc := range l.services {
		fn(svc)
	}
}

func (l *fakeServiceList) MarkPostData()       { l.postDataMarks++ }
func (l *fakeServiceList) MarkServicesUpdate() { l.serviceUpdates++ }

func (l *fakeServiceList) MakeExecService(args []string) (Service, error) {
	l.execArgs = slices.Clone(args)
	if l.execErr != nil {
		return nil, l.execErr
	}

	return l.execService, nil
}

type propWrite struct {
	name  string
	value string
}

type fakeProps struct {
	values map[string]string
	writes []propWrite
}

var _ PropertyStore = (*fakeProps)(nil)

func newFakeProps() *fakeProps {
	return &fakeProps{values: make(map[string]string)}
}

func (p *fakeProps) Get(name, def string) string {
	if value, ok := p.values[name]; ok {
		return value
	}

	return def
}

func (p *fakeProps) GetBool(name string, def bool) bool {
	switch p.Get(name, "") {
	case "1", "true", "on", "yes":
		return true
	case "0", "false", "off", "no":
		return false
	default:
		return def
	}
}

func (p *fakeProps) Set(name, value string) {
	p.values[name] = value
	p.writes = append(p.writes, propWrite{name: name, value: value})
}

type fakeTriggers struct {
	events []string
}

var _ TriggerQueue = (*fakeTriggers)(nil)

func (t *fakeTriggers) QueueEventTrigger(name string) {
	t.events = append(t.events, name)
}

type fakeMounts struct {
	mountCode   int
	mountMode   fsmgr.Mode
	mountCalls  int
	umountCalls int
	failedUmnts int
	swaponErr   error
	remountCode int
	remounts    int
}

var _ MountManager = (*fakeMounts)(nil)

func (m *fakeMounts) MountAll(_ *fstab.Table, mode fsmgr.Mode) int {
	m.mountCalls++
	m.mountMode = mode

	return m.mountCode
}

func (m *fakeMounts) UmountAll(_ *fstab.Table) int {
	m.umountCalls++
	return m.failedUmnts
}

func (m *fakeMounts) SwaponAll(_ *fstab.Table) error {
	return m.swaponErr
}

func (m *fakeMounts) RemountUserdataIntoCheckpointing(_ *fstab.Table) int {
	m.remounts++
	return m.remountCode
}

type fakeLoop struct {
	path      string
	attachErr error
	detachErr error

	attachedBacking  string
	attachedReadOnly bool
	attaches         int
	detaches         int
	detachedPath     string
}

var _ LoopAttacher = (*fakeLoop)(nil)

func (l *fakeLoop) Attach(backing string, readOnly bool) (string, error) {
	l.attaches++
	l.attachedBacking = backing
	l.attachedReadOnly = readOnly

	if l.attachErr != nil {
		return "", l.attachErr
	}

	return l.path, nil
}

func (l *fakeLoop) Detach(path string) error {
	l.detaches++
	l.detachedPath = path

	return l.detachErr
}

// harness bundles a Session with its fake collaborators and recorders
// for the delegated hooks.
type harness struct {
	session  *Session
	services *fakeServiceList
	props    *fakeProps
	triggers *fakeTriggers
	mounts   *fakeMounts
	loop     *fakeLoop

	shutdowns       []string
	bootloaderOpts  [][]string
	keyringInstalls int
	imported        []string
}

func newHarness() *harness {
	h := &harness{
		services: &fakeServiceList{},
		props:    newFakeProps(),
		triggers: &fakeTriggers{},
		mounts:   &fakeMounts{},
		loop:     &fakeLoop{path: "/dev/block/loop3"},
	}

	h.session = &Session{
		Services:   h.services,
		Properties: h.props,
		Triggers:   h.triggers,
		Mounts:     h.mounts,
		Loop:       h.loop,

		Pid1: true,

		Shutdown: func(reason string) {
			h.shutdowns = append(h.shutdowns, reason)
		},
		WriteBootloaderMessage: func(options []string) error {
			h.bootloaderOpts = append(h.bootloaderOpts, options)
			return nil
		},
		InstallKeyring: func() error {
			h.keyringInstalls++
			return nil
		},
		IsGsiRunning: func() bool { return false },
		ImportConfig: func(path string) error {
			h.imported = append(h.imported, path)
			return nil
		},

		ReadFstab: func(_ string) (*fstab.Table, error) {
			return &fstab.Table{}, nil
		},
		DefaultFstab: func() (*fstab.Table, error) {
			return &fstab.Table{}, nil
		},

		MountFn: func(_, _, _ string, _ uintptr, _ string) error {
			return nil
		},
		UmountFn: func(_ string) error { return nil },
		WaitForFile: func(_ string, _ time.Duration) error {
			return nil
		},
		Spawn: func(fn func()) { fn() },
		Now:   time.Now,
	}

	return h
}
