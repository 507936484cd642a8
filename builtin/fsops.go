// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"strconv"
	"strings"
	"unsafe"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/emberos/init/internal/logging"
)

// parseMode decodes a strictly octal permission string.
func parseMode(arg string) (uint32, error) {
	mode, err := strconv.ParseUint(arg, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q", arg)
	}

	return uint32(mode), nil
}

// decodeUID resolves a numeric ID or user name.
func decodeUID(arg string) (int, error) {
	if id, err := strconv.Atoi(arg); err == nil {
		return id, nil
	}

	usr, err := user.Lookup(arg)
	if err != nil {
		return 0, fmt.Errorf("unknown user %q", arg)
	}

	return strconv.Atoi(usr.Uid)
}

// decodeGID resolves a numeric ID or group name.
func decodeGID(arg string) (int, error) {
	if id, err := strconv.Atoi(arg); err == nil {
		return id, nil
	}

	grp, err := user.LookupGroup(arg)
	if err != nil {
		return 0, fmt.Errorf("unknown group %q", arg)
	}

	return strconv.Atoi(grp.Gid)
}

func doChmod(_ *Session, args Arguments) error {
	mode, err := parseMode(args.Args[0])
	if err != nil {
		return err
	}

	path := args.Args[1]
	err = unix.Fchmodat(unix.AT_FDCWD, path, mode, unix.AT_SYMLINK_NOFOLLOW)

	return ignoreEnoent(errnoError("chmod "+path, err))
}

func doChown(_ *Session, args Arguments) error {
	uid, err := decodeUID(args.Args[0])
	if err != nil {
		return err
	}

	gid := -1
	path := args.Args[1]

	if len(args.Args) == 3 {
		gid, err = decodeGID(args.Args[1])
		if err != nil {
			return err
		}

		path = args.Args[2]
	}

	err = unix.Lchown(path, uid, gid)

	return ignoreEnoent(errnoError("chown "+path, err))
}

// writeFile writes content without following a symlink at path,
// creating the file when absent.
func writeFile(path, content string) error {
	flags := os.O_WRONLY | os.O_CREATE | unix.O_NOFOLLOW | unix.O_CLOEXEC

	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}

	_, werr := file.WriteString(content)
	cerr := file.Close()

	if werr != nil {
		return werr
	}

	return cerr
}

func doCopy(_ *Session, args Arguments) error {
	content, err := os.ReadFile(args.Args[0])
	if err != nil {
		return errnoError("read "+args.Args[0], err)
	}

	if err := writeFile(args.Args[1], string(content)); err != nil {
		return errnoError("write "+args.Args[1], err)
	}

	return nil
}

func doWrite(_ *Session, args Arguments) error {
	err := writeFile(args.Args[0], args.Args[1])

	return ignoreEnoent(errnoError("write "+args.Args[0], err))
}

func doDomainname(_ *Session, args Arguments) error {
	if err := writeFile("/proc/sys/kernel/domainname", args.Args[0]); err != nil {
		return errnoError("set domainname", err)
	}

	return nil
}

func doHostname(_ *Session, args Arguments) error {
	if err := writeFile("/proc/sys/kernel/hostname", args.Args[0]); err != nil {
		return errnoError("set hostname", err)
	}

	return nil
}

func doRm(_ *Session, args Arguments) error {
	if err := unix.Unlink(args.Args[0]); err != nil {
		return errnoError("rm "+args.Args[0], err)
	}

	return nil
}

func doRmdir(_ *Session, args Arguments) error {
	if err := unix.Rmdir(args.Args[0]); err != nil {
		return errnoError("rmdir "+args.Args[0], err)
	}

	return nil
}

func doSymlink(_ *Session, args Arguments) error {
	err := os.Symlink(args.Args[0], args.Args[1])

	return ignoreEnoent(errnoError("symlink "+args.Args[1], err))
}

func doExport(_ *Session, args Arguments) error {
	if err := os.Setenv(args.Args[0], args.Args[1]); err != nil {
		return fmt.Errorf("export %s: %w", args.Args[0], err)
	}

	return nil
}

func doIfup(_ *Session, args Arguments) error {
	link, err := netlink.LinkByName(args.Args[0])
	if err != nil {
		return fmt.Errorf("find interface %q: %w", args.Args[0], err)
	}

	if err := netlink.LinkSetUp(link); err != nil {
		return fmt.Errorf("bring up interface %q: %w", args.Args[0], err)
	}

	return nil
}

func doInsmod(_ *Session, args Arguments) error {
	rest := args.Args
	flags := 0

	if rest[0] == "-f" {
		flags = unix.MODULE_INIT_IGNORE_VERMAGIC |
			unix.MODULE_INIT_IGNORE_MODVERSIONS
		rest = rest[1:]

		if len(rest) == 0 {
			return errors.New("insmod: missing module path")
		}
	}

	path := rest[0]
	params := strings.Join(rest[1:], " ")

	file, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return errnoError("open module "+path, err)
	}
	defer file.Close()

	if err := unix.FinitModule(int(file.Fd()), params, flags); err != nil {
		return errnoError("load module "+path, err)
	}

	return nil
}

// rlimitResources maps script resource names to the kernel constants.
// Both the bare name and the RLIM_ prefixed spelling are accepted.
var rlimitResources = map[string]int{
	"cpu":        unix.RLIMIT_CPU,
	"fsize":      unix.RLIMIT_FSIZE,
	"data":       unix.RLIMIT_DATA,
	"stack":      unix.RLIMIT_STACK,
	"core":       unix.RLIMIT_CORE,
	"rss":        unix.RLIMIT_RSS,
	"nproc":      unix.RLIMIT_NPROC,
	"nofile":     unix.RLIMIT_NOFILE,
	"memlock":    unix.RLIMIT_MEMLOCK,
	"as":         unix.RLIMIT_AS,
	"locks":      unix.RLIMIT_LOCKS,
	"sigpending": unix.RLIMIT_SIGPENDING,
	"msgqueue":   unix.RLIMIT_MSGQUEUE,
	"nice":       unix.RLIMIT_NICE,
	"rtprio":     unix.RLIMIT_RTPRIO,
	"rttime":     unix.RLIMIT_RTTIME,
}

func parseRlimitResource(arg string) (int, error) {
	name := strings.ToLower(strings.TrimPrefix(arg, "RLIM_"))
	if res, ok := rlimitResources[name]; ok {
		return res, nil
	}

	if res, err := strconv.Atoi(arg); err == nil {
		return res, nil
	}

	return 0, fmt.Errorf("unknown rlimit resource %q", arg)
}

func parseRlimitValue(arg string) (uint64, error) {
	if arg == "unlimited" || arg == "-1" {
		return unix.RLIM_INFINITY, nil
	}

	value, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rlimit value %q", arg)
	}

	return value, nil
}

func doSetrlimit(_ *Session, args Arguments) error {
	resource, err := parseRlimitResource(args.Args[0])
	if err != nil {
		return err
	}

	cur, err := parseRlimitValue(args.Args[1])
	if err != nil {
		return err
	}

	max, err := parseRlimitValue(args.Args[2])
	if err != nil {
		return err
	}

	limit := unix.Rlimit{Cur: cur, Max: max}
	if err := unix.Setrlimit(resource, &limit); err != nil {
		return errnoError("setrlimit "+args.Args[0], err)
	}

	return nil
}

// kernelTimezone mirrors struct timezone of settimeofday(2).
type kernelTimezone struct {
	minutesWest int32
	dstTime     int32
}

func doSysclktz(_ *Session, args Arguments) error {
	minutesWest, err := strconv.Atoi(args.Args[0])
	if err != nil {
		return fmt.Errorf("invalid timezone offset %q", args.Args[0])
	}

	tz := kernelTimezone{minutesWest: int32(minutesWest)}

	_, _, errno := unix.Syscall(
		unix.SYS_SETTIMEOFDAY, 0, uintptr(unsafe.Pointer(&tz)), 0,
	)
	if errno != 0 {
		return errnoError("set kernel timezone", errno)
	}

	return nil
}

// parsedMkdir is a decoded mkdir invocation.
type parsedMkdir struct {
	path   string
	mode   uint32
	uid    int
	gid    int
	action string
	keyRef string
}

// parseMkdirArgs decodes "mkdir <path> [mode] [owner] [group]
// [encryption=<action>] [key=<ref>]".
func parseMkdirArgs(args []string) (parsedMkdir, error) {
	parsed := parsedMkdir{
		path:   args[0],
		mode:   0o755,
		uid:    -1,
		gid:    -1,
		action: "Require",
		keyRef: "ref",
	}

	positional := 0

	for _, arg := range args[1:] {
		if action, ok := strings.CutPrefix(arg, "encryption="); ok {
			parsed.action = action
			continue
		}

		if ref, ok := strings.CutPrefix(arg, "key="); ok {
			parsed.keyRef = ref
			continue
		}

		var err error

		switch positional {
		case 0:
			parsed.mode, err = parseMode(arg)
		case 1:
			parsed.uid, err = decodeUID(arg)
		case 2:
			parsed.gid, err = decodeGID(arg)
		default:
			err = fmt.Errorf("unexpected mkdir argument %q", arg)
		}

		if err != nil {
			return parsedMkdir{}, err
		}

		positional++
	}

	switch parsed.action {
	case "None", "Attempt", "Require", "DeleteIfNecessary":
	default:
		return parsedMkdir{}, fmt.Errorf(
			"unknown encryption action %q", parsed.action,
		)
	}

	return parsed, nil
}

func doMkdir(session *Session, args Arguments) error {
	parsed, err := parseMkdirArgs(args.Args)
	if err != nil {
		return err
	}

	info, err := os.Lstat(parsed.path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.Mkdir(parsed.path, fs.FileMode(parsed.mode)); err != nil {
			return errnoError("mkdir "+parsed.path, err)
		}
	case err != nil:
		return errnoError("stat "+parsed.path, err)
	case !info.IsDir():
		return fmt.Errorf("%s exists and is not a directory", parsed.path)
	default:
		// os.Mkdir applies the umask; an existing directory may also
		// carry stale bits. Set the mode explicitly either way.
	}

	if err := unix.Chmod(parsed.path, parsed.mode); err != nil {
		return errnoError("chmod "+parsed.path, err)
	}

	if parsed.uid != -1 || parsed.gid != -1 {
		if err := unix.Lchown(parsed.path, parsed.uid, parsed.gid); err != nil {
			return errnoError("chown "+parsed.path, err)
		}

		// chown may clear setuid/setgid bits.
		if err := unix.Chmod(parsed.path, parsed.mode); err != nil {
			return errnoError("chmod "+parsed.path, err)
		}
	}

	return applyDirEncryption(session, parsed)
}

// applyDirEncryption delegates the directory encryption policy and
// escalates a refused mandatory policy into a wipe via recovery.
func applyDirEncryption(session *Session, parsed parsedMkdir) error {
	if parsed.action == "None" || session.SetDirEncryptionPolicy == nil {
		return nil
	}

	if session.Properties.Get("ro.crypto.type", "") != "file" {
		return nil
	}

	err := session.SetDirEncryptionPolicy(parsed.path, parsed.keyRef, parsed.action)
	if err == nil {
		return nil
	}

	if parsed.action != "Require" {
		logging.Default().Warn(
			"encryption policy for %s not applied: %v", parsed.path, err,
		)

		return nil
	}

	logging.Default().Error(
		"mandatory encryption policy for %s failed, wiping: %v",
		parsed.path, err,
	)

	return session.rebootIntoRecovery([]string{
		"--prompt_and_wipe_data",
		"--reason=set_policy_failed:" + parsed.path,
	})
}

func doRestorecon(session *Session, args Arguments) error {
	return restoreContexts(session, args.Args, false)
}

func doRestoreconRecursive(session *Session, args Arguments) error {
	return restoreContexts(session, args.Args, true)
}

func restoreContexts(session *Session, paths []string, recursive bool) error {
	if session.RestoreFileContexts == nil {
		return nil
	}

	for _, path := range paths {
		err := session.RestoreFileContexts(path, recursive)
		if err := ignoreEnoent(err); err != nil {
			return fmt.Errorf("restore context of %s: %w", path, err)
		}
	}

	return nil
}
