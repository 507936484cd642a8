// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberos/init/fstab"
	"github.com/emberos/init/internal/logging"
)

func TestSetprop(t *testing.T) {
	t.Run("sets the property", func(t *testing.T) {
		h := newHarness()

		err := doSetprop(h.session, Arguments{
			Args: []string{"vendor.debug.enabled", "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, "1", h.props.Get("vendor.debug.enabled", ""))
	})

	t.Run("rejects control properties", func(t *testing.T) {
		h := newHarness()

		err := doSetprop(h.session, Arguments{
			Args: []string{"ctl.start", "netd"},
		})
		require.ErrorContains(t, err, "ctl.")
		assert.Empty(t, h.props.writes)
	})

	t.Run("rejects the labeling property", func(t *testing.T) {
		h := newHarness()

		err := doSetprop(h.session, Arguments{
			Args: []string{restoreconProperty, "/data"},
		})
		require.ErrorContains(t, err, "reserved")
		assert.Empty(t, h.props.writes)
	})
}

func TestTrigger(t *testing.T) {
	h := newHarness()

	require.NoError(t, doTrigger(h.session, Arguments{Args: []string{"late-init"}}))
	assert.Equal(t, []string{"late-init"}, h.triggers.events)
}

func TestLoglevel(t *testing.T) {
	previous := logging.Default().MinLevel()
	t.Cleanup(func() { logging.Default().SetLevel(previous) })

	h := newHarness()

	require.NoError(t, doLoglevel(h.session, Arguments{Args: []string{"7"}}))
	assert.Equal(t, logging.LevelDebug, logging.Default().MinLevel())

	require.NoError(t, doLoglevel(h.session, Arguments{Args: []string{"3"}}))
	assert.Equal(t, logging.LevelError, logging.Default().MinLevel())

	assert.Error(t, doLoglevel(h.session, Arguments{Args: []string{"11"}}))
	assert.Error(t, doLoglevel(h.session, Arguments{Args: []string{"high"}}))
}

func TestWaitForProp(t *testing.T) {
	newSession := func() (*Session, *[]string) {
		h := newHarness()
		waits := &[]string{}
		h.session.StartWaitingForProperty = func(name, value string) bool {
			*waits = append(*waits, name+"="+value)
			return len(*waits) == 1
		}

		return h.session, waits
	}

	t.Run("registers the wait", func(t *testing.T) {
		session, waits := newSession()

		err := doWaitForProp(session, Arguments{
			Args: []string{"sys.boot_completed", "1"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"sys.boot_completed=1"}, *waits)
	})

	t.Run("a second wait is refused", func(t *testing.T) {
		session, _ := newSession()

		require.NoError(t, doWaitForProp(session, Arguments{
			Args: []string{"sys.boot_completed", "1"},
		}))

		err := doWaitForProp(session, Arguments{
			Args: []string{"sys.shutdown_requested", "1"},
		})
		assert.ErrorContains(t, err, "already waiting")
	})

	t.Run("validates the name", func(t *testing.T) {
		session, waits := newSession()

		err := doWaitForProp(session, Arguments{
			Args: []string{".bad.name", "1"},
		})
		assert.ErrorContains(t, err, "illegal property name")
		assert.Empty(t, *waits)
	})

	t.Run("bounds the value", func(t *testing.T) {
		session, waits := newSession()

		long := make([]byte, propValueMax)
		for i := range long {
			long[i] = 'x'
		}

		err := doWaitForProp(session, Arguments{
			Args: []string{"sys.boot_completed", string(long)},
		})
		assert.ErrorContains(t, err, "too long")
		assert.Empty(t, *waits)
	})
}

func TestLoadPersistProps(t *testing.T) {
	t.Run("loads", func(t *testing.T) {
		h := newHarness()

		loads := 0
		h.session.LoadPersistentProperties = func() error {
			loads++
			return nil
		}

		require.NoError(t, doLoadPersistProps(h.session, Arguments{}))
		assert.Equal(t, 1, loads)
	})

	t.Run("skips the pre-decryption call on block crypto", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.state", "encrypted")
		h.props.Set("ro.crypto.type", "block")

		loads := 0
		h.session.LoadPersistentProperties = func() error {
			loads++
			return nil
		}

		require.NoError(t, doLoadPersistProps(h.session, Arguments{}))
		assert.Zero(t, loads)

		require.NoError(t, doLoadPersistProps(h.session, Arguments{}))
		assert.Equal(t, 1, loads)
	})
}

func TestCryptoHelper(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness()

		var verbs []string
		h.session.CryptoExec = func(verb string) error {
			verbs = append(verbs, verb)
			return nil
		}

		require.NoError(t, doInitUser0(h.session, Arguments{}))
		assert.Equal(t, []string{"init_user0"}, verbs)
	})

	t.Run("failure on file crypto wipes", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.type", "file")
		h.session.CryptoExec = func(string) error { return assert.AnError }

		require.NoError(t, doInitUser0(h.session, Arguments{}))

		require.Len(t, h.bootloaderOpts, 1)
		assert.Equal(t,
			[]string{"--prompt_and_wipe_data", "--reason=init_user0_failed"},
			h.bootloaderOpts[0],
		)
		assert.Equal(t, []string{"reboot,recovery"}, h.shutdowns)
	})

	t.Run("failure elsewhere only logs", func(t *testing.T) {
		h := newHarness()
		h.session.CryptoExec = func(string) error { return assert.AnError }

		require.NoError(t, doInitUser0(h.session, Arguments{}))
		assert.Empty(t, h.shutdowns)
	})
}

func TestInstallkey(t *testing.T) {
	t.Run("no-op without file crypto", func(t *testing.T) {
		h := newHarness()

		called := false
		h.session.CryptoExec = func(string) error {
			called = true
			return nil
		}

		err := doInstallkey(h.session, Arguments{Args: []string{t.TempDir()}})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("prepares the unencrypted directory", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.type", "file")

		var verbs []string
		h.session.CryptoExec = func(verb string) error {
			verbs = append(verbs, verb)
			return nil
		}

		dir := t.TempDir()
		err := doInstallkey(h.session, Arguments{Args: []string{dir}})
		require.NoError(t, err)

		info, err := os.Stat(filepath.Join(dir, "unencrypted"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, []string{"enablefilecrypto"}, verbs)
	})
}

func TestMkdir(t *testing.T) {
	t.Run("creates with mode", func(t *testing.T) {
		h := newHarness()

		path := filepath.Join(t.TempDir(), "vendor")
		err := doMkdir(h.session, Arguments{Args: []string{path, "0700"}})
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
	})

	t.Run("reapplies the mode to an existing directory", func(t *testing.T) {
		h := newHarness()

		path := filepath.Join(t.TempDir(), "data")
		require.NoError(t, os.Mkdir(path, 0o777))

		err := doMkdir(h.session, Arguments{Args: []string{path, "0711"}})
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o711), info.Mode().Perm())
	})

	t.Run("refuses a non-directory", func(t *testing.T) {
		h := newHarness()

		path := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		err := doMkdir(h.session, Arguments{Args: []string{path}})
		assert.ErrorContains(t, err, "not a directory")
	})

	t.Run("invalid mode", func(t *testing.T) {
		h := newHarness()

		err := doMkdir(h.session, Arguments{
			Args: []string{filepath.Join(t.TempDir(), "x"), "rwx"},
		})
		assert.ErrorContains(t, err, "invalid mode")
	})

	t.Run("applies the encryption policy", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.type", "file")

		var gotDir, gotRef, gotAction string
		h.session.SetDirEncryptionPolicy = func(dir, ref, action string) error {
			gotDir, gotRef, gotAction = dir, ref, action
			return nil
		}

		path := filepath.Join(t.TempDir(), "misc_de")
		err := doMkdir(h.session, Arguments{Args: []string{
			path, "0700", "encryption=Attempt", "key=per_boot_ref",
		}})
		require.NoError(t, err)

		assert.Equal(t, path, gotDir)
		assert.Equal(t, "per_boot_ref", gotRef)
		assert.Equal(t, "Attempt", gotAction)
	})

	t.Run("mandatory policy failure wipes", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.type", "file")
		h.session.SetDirEncryptionPolicy = func(_, _, _ string) error {
			return assert.AnError
		}

		path := filepath.Join(t.TempDir(), "system_de")
		err := doMkdir(h.session, Arguments{Args: []string{path, "0700"}})
		require.NoError(t, err)

		require.Len(t, h.bootloaderOpts, 1)
		assert.Equal(t, "--prompt_and_wipe_data", h.bootloaderOpts[0][0])
		assert.Equal(t, []string{"reboot,recovery"}, h.shutdowns)
	})

	t.Run("optional policy failure is tolerated", func(t *testing.T) {
		h := newHarness()
		h.props.Set("ro.crypto.type", "file")
		h.session.SetDirEncryptionPolicy = func(_, _, _ string) error {
			return assert.AnError
		}

		path := filepath.Join(t.TempDir(), "per_boot")
		err := doMkdir(h.session, Arguments{Args: []string{
			path, "0700", "encryption=Attempt",
		}})
		require.NoError(t, err)
		assert.Empty(t, h.shutdowns)
	})

	t.Run("unknown encryption action", func(t *testing.T) {
		h := newHarness()

		err := doMkdir(h.session, Arguments{Args: []string{
			filepath.Join(t.TempDir(), "x"), "0700", "encryption=Maybe",
		}})
		assert.ErrorContains(t, err, "unknown encryption action")
	})
}

func TestFileCommands(t *testing.T) {
	t.Run("write and copy", func(t *testing.T) {
		h := newHarness()
		dir := t.TempDir()

		src := filepath.Join(dir, "src")
		dst := filepath.Join(dir, "dst")

		err := doWrite(h.session, Arguments{Args: []string{src, "payload"}})
		require.NoError(t, err)

		err = doCopy(h.session, Arguments{Args: []string{src, dst}})
		require.NoError(t, err)

		content, err := os.ReadFile(dst)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(content))
	})

	t.Run("chmod", func(t *testing.T) {
		h := newHarness()

		path := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		err := doChmod(h.session, Arguments{Args: []string{"0640", path}})
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

		err = doChmod(h.session, Arguments{Args: []string{"worldwide", path}})
		assert.ErrorContains(t, err, "invalid mode")
	})

	t.Run("chown", func(t *testing.T) {
		h := newHarness()

		path := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		uid := strconv.Itoa(os.Getuid())
		gid := strconv.Itoa(os.Getgid())

		err := doChown(h.session, Arguments{Args: []string{uid, path}})
		assert.NoError(t, err)

		err = doChown(h.session, Arguments{Args: []string{uid, gid, path}})
		assert.NoError(t, err)

		err = doChown(h.session, Arguments{Args: []string{"no-such-user", path}})
		assert.ErrorContains(t, err, "unknown user")
	})

	t.Run("chown on a missing path is suppressed", func(t *testing.T) {
		h := newHarness()

		err := doChown(h.session, Arguments{Args: []string{
			strconv.Itoa(os.Getuid()),
			filepath.Join(t.TempDir(), "missing"),
		}})
		assert.NoError(t, err)
	})

	t.Run("chmod on a missing path is suppressed", func(t *testing.T) {
		h := newHarness()

		err := doChmod(h.session, Arguments{
			Args: []string{"0640", filepath.Join(t.TempDir(), "missing")},
		})
		assert.NoError(t, err)
	})

	t.Run("symlink", func(t *testing.T) {
		h := newHarness()
		dir := t.TempDir()

		link := filepath.Join(dir, "link")
		err := doSymlink(h.session, Arguments{Args: []string{"/oldpath", link}})
		require.NoError(t, err)

		target, err := os.Readlink(link)
		require.NoError(t, err)
		assert.Equal(t, "/oldpath", target)
	})

	t.Run("rm and rmdir", func(t *testing.T) {
		h := newHarness()
		dir := t.TempDir()

		file := filepath.Join(dir, "f")
		require.NoError(t, os.WriteFile(file, nil, 0o600))
		sub := filepath.Join(dir, "d")
		require.NoError(t, os.Mkdir(sub, 0o755))

		require.NoError(t, doRm(h.session, Arguments{Args: []string{file}}))
		assert.NoFileExists(t, file)

		// rm only unlinks, it must not remove directories.
		assert.Error(t, doRm(h.session, Arguments{Args: []string{sub}}))

		require.NoError(t, doRmdir(h.session, Arguments{Args: []string{sub}}))
		assert.NoDirExists(t, sub)
	})
}

func TestReadahead(t *testing.T) {
	t.Run("rejects unknown options", func(t *testing.T) {
		h := newHarness()

		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		err := doReadahead(h.session, Arguments{Args: []string{file, "--partially"}})
		assert.ErrorContains(t, err, "invalid readahead option")
	})

	t.Run("rejects missing paths", func(t *testing.T) {
		h := newHarness()

		spawned := false
		h.session.Spawn = func(func()) { spawned = true }

		err := doReadahead(h.session, Arguments{
			Args: []string{filepath.Join(t.TempDir(), "missing")},
		})
		assert.Error(t, err)
		assert.False(t, spawned)
	})

	t.Run("spawns background work", func(t *testing.T) {
		h := newHarness()

		spawned := false
		h.session.Spawn = func(func()) { spawned = true }

		file := filepath.Join(t.TempDir(), "f")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		err := doReadahead(h.session, Arguments{Args: []string{file, "--fully"}})
		require.NoError(t, err)
		assert.True(t, spawned)
	})
}

func TestVerityUpdateState(t *testing.T) {
	h := newHarness()
	h.session.VerityState = func() (int, error) { return 1, nil }
	h.session.DefaultFstab = func() (*fstab.Table, error) {
		return &fstab.Table{Entries: []fstab.Entry{
			{
				Source:       "/dev/block/by-name/system",
				MountPoint:   "/",
				FSType:       "ext4",
				ManagerFlags: []string{"verify"},
			},
			{
				Source:       "/dev/block/by-name/vendor",
				MountPoint:   "/vendor",
				FSType:       "ext4",
				ManagerFlags: []string{"verify"},
			},
			{
				Source:     "/dev/block/by-name/userdata",
				MountPoint: "/data",
				FSType:     "ext4",
			},
		}}, nil
	}

	require.NoError(t, doVerityUpdateState(h.session, Arguments{}))

	assert.Equal(t, "1", h.props.Get("partition.system.verified", ""))
	assert.Equal(t, "1", h.props.Get("partition.vendor.verified", ""))
	assert.NotContains(t, h.props.values, "partition.data.verified")
}

func TestRestoreconDelegation(t *testing.T) {
	t.Run("delegates each path", func(t *testing.T) {
		h := newHarness()

		type call struct {
			path      string
			recursive bool
		}

		var calls []call
		h.session.RestoreFileContexts = func(path string, recursive bool) error {
			calls = append(calls, call{path: path, recursive: recursive})
			return nil
		}

		err := doRestorecon(h.session, Arguments{Args: []string{"/dev", "/sys"}})
		require.NoError(t, err)

		err = doRestoreconRecursive(h.session, Arguments{Args: []string{"/data"}})
		require.NoError(t, err)

		assert.Equal(t, []call{
			{path: "/dev"},
			{path: "/sys"},
			{path: "/data", recursive: true},
		}, calls)
	})

	t.Run("accepted without a labeling engine", func(t *testing.T) {
		h := newHarness()

		err := doRestorecon(h.session, Arguments{Args: []string{"/dev"}})
		assert.NoError(t, err)
	})
}

func TestExportSetsEnvironment(t *testing.T) {
	h := newHarness()
	t.Setenv("EMBER_TEST_EXPORT", "old")

	err := doExport(h.session, Arguments{
		Args: []string{"EMBER_TEST_EXPORT", "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, "new", os.Getenv("EMBER_TEST_EXPORT"))
}

func TestParseRlimit(t *testing.T) {
	res, err := parseRlimitResource("nofile")
	require.NoError(t, err)
	assert.Equal(t, 7, res)

	res, err = parseRlimitResource("RLIM_NPROC")
	require.NoError(t, err)
	assert.Equal(t, 6, res)

	res, err = parseRlimitResource("13")
	require.NoError(t, err)
	assert.Equal(t, 13, res)

	_, err = parseRlimitResource("spoons")
	assert.Error(t, err)

	value, err := parseRlimitValue("unlimited")
	require.NoError(t, err)
	assert.Equal(t, uint64(^uint64(0)), value)

	value, err = parseRlimitValue("1024")
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), value)

	_, err = parseRlimitValue("lots")
	assert.Error(t, err)
}
