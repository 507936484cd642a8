// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/emberos/init/fsmgr"
	"github.com/emberos/init/fstab"
	"github.com/emberos/init/internal/filewait"
	"github.com/emberos/init/loopdev"
)

// Service is the per-service control surface of the externally owned
// service collection.
type Service interface {
	Name() string
	InClass(class string) bool
	Start() error
	StartIfNotDisabled() error
	StartIfPostData() error
	ExecStart() error
	Stop()
	Reset()
	ResetIfPostData()
	Restart()
	Enable() error
}

// ServiceList is the externally owned collection of services the command
// core controls. Lookups return nil when nothing matches.
type ServiceList interface {
	FindService(name string) Service
	FindInterface(name string) Service
	Each(fn func(Service))
	MarkPostData()
	MarkServicesUpdate()
	MakeExecService(args []string) (Service, error)
}

// PropertyStore is the system property surface. Set is fire and forget.
type PropertyStore interface {
	Get(name, def string) string
	GetBool(name string, def bool) bool
	Set(name, value string)
}

// TriggerQueue receives named events for the external trigger engine.
type TriggerQueue interface {
	QueueEventTrigger(name string)
}

// MountManager is the external mount-all primitive. The integer results
// follow the fsmgr outcome code convention.
type MountManager interface {
	MountAll(table *fstab.Table, mode fsmgr.Mode) int
	UmountAll(table *fstab.Table) int
	SwaponAll(table *fstab.Table) error
	RemountUserdataIntoCheckpointing(table *fstab.Table) int
}

// LoopAttacher binds backing files to loop devices.
type LoopAttacher interface {
	Attach(backing string, readOnly bool) (string, error)
	Detach(path string) error
}

// Session carries the collaborators and the boot-scoped state the
// builtin handlers operate on. One Session lives for the whole boot; the
// single-threaded dispatcher is its only user, so no locking is needed.
type Session struct {
	Services   ServiceList
	Properties PropertyStore
	Triggers   TriggerQueue
	Mounts     MountManager
	Loop       LoopAttacher

	// Pid1 selects the in-process shutdown path for recovery reboots;
	// unprivileged helpers relay through the property store instead.
	Pid1 bool
	// ApexUpdatable gates the post-data class operations on platforms
	// with dynamically updatable components.
	ApexUpdatable bool

	// Shutdown triggers an init-driven shutdown with the given reason.
	// On a real system it does not return.
	Shutdown func(reason string)
	// WriteBootloaderMessage persists recovery options for the
	// bootloader.
	WriteBootloaderMessage func(options []string) error
	// InstallKeyring installs the file-encryption session keyring.
	InstallKeyring func() error
	// IsGsiRunning reports whether a generic system image is active.
	IsGsiRunning func() bool
	// ImportConfig hands a deferred configuration fragment to the
	// external parser.
	ImportConfig func(path string) error
	// RestoreFileContexts relabels paths; nil means labeling is not
	// compiled in and the commands are accepted as no-ops.
	RestoreFileContexts func(path string, recursive bool) error
	// SetDirEncryptionPolicy applies a directory encryption policy.
	SetDirEncryptionPolicy func(dir, keyRef, action string) error
	// CryptoExec runs the platform crypto helper with the given verb,
	// synchronously.
	CryptoExec func(verb string) error
	// SwitchDefaultMountNS enters the default mount namespace.
	SwitchDefaultMountNS func() error
	// LoadPersistentProperties asks the property service to load the
	// persistent properties from storage.
	LoadPersistentProperties func() error
	// StartWaitingForProperty registers an asynchronous wait for a
	// property value; false means a wait is already outstanding.
	StartWaitingForProperty func(name, value string) bool
	// VerityState loads the global verity enforcement mode.
	VerityState func() (int, error)

	// ReadFstab reads a filesystem table; DefaultFstab locates and reads
	// the device's default table.
	ReadFstab    func(path string) (*fstab.Table, error)
	DefaultFstab func() (*fstab.Table, error)

	// Syscall surface, held in fields so tests run unprivileged.
	MountFn     func(source, target, fstype string, flags uintptr, data string) error
	UmountFn    func(target string) error
	WaitForFile func(path string, timeout time.Duration) error
	// Spawn runs fire-and-forget background work.
	Spawn func(fn func())

	// Clock for boot-time properties.
	Now func() time.Time

	// mountFstabCode is written once by the initial mount_all and read
	// once by remount_userdata. The flag distinguishes a recorded
	// failure code from mount_all never having run.
	mountFstabCode    int
	mountFstabCodeSet bool
	// lateImportPaths queues configuration fragments for partitions
	// without early mount.
	lateImportPaths []string
	// persistPropsLoads counts load_persist_props calls for the
	// block-encryption double-mount dance.
	persistPropsLoads int
}

// NewSession creates a Session with the kernel-backed defaults. The
// collaborator interfaces must be supplied by the embedding process.
func NewSession() *Session {
	return &Session{
		Pid1:      unix.Getpid() == 1,
		ReadFstab: fstab.Read,
		MountFn: func(source, target, fstype string, flags uintptr, data string) error {
			return unix.Mount(source, target, fstype, flags, data)
		},
		UmountFn: func(target string) error {
			return unix.Unmount(target, 0)
		},
		WaitForFile: filewait.WaitForFile,
		Loop:        loopdev.New(),
		Spawn:       func(fn func()) { go fn() },
		Now:         time.Now,
	}
}

// QueueLateImport queues a configuration fragment path for the next
// mount_all run without explicit paths. Called by the external parser
// while handling early-boot imports.
func (s *Session) QueueLateImport(path string) {
	s.lateImportPaths = append(s.lateImportPaths, path)
}
