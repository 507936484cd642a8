// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/emberos/init/fsmgr"
	"github.com/emberos/init/internal/logging"
)

// rebootIntoRecovery persists the recovery options and initiates the
// reboot. As pid 1 the shutdown runs in process; helpers relay the
// request through the power-control property.
func (s *Session) rebootIntoRecovery(options []string) error {
	if err := s.WriteBootloaderMessage(options); err != nil {
		return fmt.Errorf("set bootloader message: %w", err)
	}

	if s.Pid1 {
		s.Shutdown("reboot,recovery")
		return nil
	}

	s.Properties.Set("sys.powerctl", "reboot,recovery")

	return nil
}

// queueFsEvent translates a mount-all outcome code into crypto state
// properties and the boot event that resumes the encryption flow.
// userdataRemount marks the re-entrant call from remount_userdata, where
// block-encryption outcomes are impossible on a correctly configured
// device and escalate to a reboot.
func queueFsEvent(session *Session, code int, userdataRemount bool) error {
	switch code {
	case fsmgr.MntAllDevNeedsEncryption:
		if userdataRemount {
			logging.Default().Error("block-encrypted device found on remount")
			session.Shutdown("reboot,requested-userdata-remount-on-fde-device")

			return nil
		}

		session.Triggers.QueueEventTrigger("encrypt")

		return nil
	case fsmgr.MntAllDevMightBeEncrypted:
		if userdataRemount {
			logging.Default().Error("block-encrypted device found on remount")
			session.Shutdown("reboot,requested-userdata-remount-on-fde-device")

			return nil
		}

		session.Properties.Set("ro.crypto.state", "encrypted")
		session.Properties.Set("ro.crypto.type", "block")
		session.Triggers.QueueEventTrigger("defaultcrypto")

		return nil
	case fsmgr.MntAllDevNotEncrypted:
		session.Properties.Set("ro.crypto.state", "unencrypted")
		session.Triggers.QueueEventTrigger("nonencrypted")

		return nil
	case fsmgr.MntAllDevNotEncryptable:
		session.Properties.Set("ro.crypto.state", "unsupported")
		session.Triggers.QueueEventTrigger("nonencrypted")

		return nil
	case fsmgr.MntAllDevNeedsRecovery:
		if session.IsGsiRunning() {
			return errors.New("cannot wipe within a generic system image")
		}

		logging.Default().Error("userdata needs recovery, wiping")

		return session.rebootIntoRecovery(
			[]string{"--wipe_data", "--reason=fs_mgr_mount_all"},
		)
	case fsmgr.MntAllDevFileEncrypted,
		fsmgr.MntAllDevIsMetadataEncrypted,
		fsmgr.MntAllDevNeedsMetadataEncryption:
		if !userdataRemount {
			if err := session.InstallKeyring(); err != nil {
				return fmt.Errorf("install file-encryption keyring: %w", err)
			}
		}

		session.Properties.Set("ro.crypto.state", "encrypted")
		session.Properties.Set("ro.crypto.type", "file")
		session.Triggers.QueueEventTrigger("nonencrypted")

		return nil
	default:
		if code > 0 {
			logging.Default().Error("unexpected mount-all code %d", code)
		}

		return fmt.Errorf("%w: %d", ErrInvalidCode, code)
	}
}

func doMountAll(session *Session, args Arguments) error {
	fstabPath := args.Args[0]

	mode := fsmgr.ModeDefault
	propSuffix := "default"
	importRc := true
	queueEvent := true
	pathArgsEnd := len(args.Args)

	// Mode flags trail the import paths; scan from the back.
	for idx := len(args.Args) - 1; idx > 0; idx-- {
		switch args.Args[idx] {
		case "--early":
			pathArgsEnd = idx
			queueEvent = false
			mode = fsmgr.ModeEarly
			propSuffix = "early"
		case "--late":
			pathArgsEnd = idx
			importRc = false
			mode = fsmgr.ModeLate
			propSuffix = "late"
		}
	}

	start := session.Now()

	table, err := session.ReadFstab(fstabPath)
	if err != nil {
		return fmt.Errorf("read fstab %s: %w", fstabPath, err)
	}

	code := session.Mounts.MountAll(table, mode)

	elapsed := session.Now().Sub(start).Milliseconds()
	session.Properties.Set(
		"ro.boottime.init.mount_all."+propSuffix,
		strconv.FormatInt(elapsed, 10),
	)

	if importRc {
		session.importLate(args.Args[1:pathArgsEnd])
	}

	if !queueEvent {
		return nil
	}

	session.mountFstabCode = code
	session.mountFstabCodeSet = true

	if err := queueFsEvent(session, code, false); err != nil {
		return fmt.Errorf("queue fs event: %w", err)
	}

	return nil
}

// importLate parses the configuration fragments of partitions that were
// not mounted when the main configuration was read. Without explicit
// paths the fragments queued during early parsing are consumed.
func (s *Session) importLate(paths []string) {
	if len(paths) == 0 {
		paths = s.lateImportPaths
		s.lateImportPaths = nil
	}

	if s.ImportConfig == nil {
		return
	}

	for _, path := range paths {
		if err := s.ImportConfig(path); err != nil {
			logging.Default().Error("import %s: %v", path, err)
		}
	}
}

func doUmountAll(session *Session, args Arguments) error {
	table, err := session.ReadFstab(args.Args[0])
	if err != nil {
		return fmt.Errorf("read fstab %s: %w", args.Args[0], err)
	}

	if failed := session.Mounts.UmountAll(table); failed != 0 {
		return fmt.Errorf("unmounting %d entries failed", failed)
	}

	return nil
}

func doSwaponAll(session *Session, args Arguments) error {
	table, err := session.ReadFstab(args.Args[0])
	if err != nil {
		return fmt.Errorf("read fstab %s: %w", args.Args[0], err)
	}

	if err := session.Mounts.SwaponAll(table); err != nil {
		return fmt.Errorf("swapon all: %w", err)
	}

	return nil
}

func doRemountUserdata(session *Session, args Arguments) error {
	if !session.mountFstabCodeSet {
		return errors.New("remount_userdata called before mount_all")
	}

	if session.DefaultFstab == nil {
		return errors.New("no default fstab configured")
	}

	table, err := session.DefaultFstab()
	if err != nil {
		return fmt.Errorf("read default fstab: %w", err)
	}

	if session.Mounts.RemountUserdataIntoCheckpointing(table) < 0 {
		session.Shutdown("reboot,mount-userdata-failed")

		return nil
	}

	if err := queueFsEvent(session, session.mountFstabCode, true); err != nil {
		return fmt.Errorf("queue fs event: %w", err)
	}

	return nil
}
