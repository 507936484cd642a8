// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/emberos/init/internal/logging"
)

// fileCrypto reports whether the device uses file-based encryption.
func fileCrypto(session *Session) bool {
	return session.Properties.Get("ro.crypto.type", "") == "file"
}

// cryptoHelper runs the platform crypto helper. A helper failure on a
// file-encrypted device wipes userdata via recovery; anywhere else it is
// only logged, the boot may still limp along.
func (s *Session) cryptoHelper(verb string) error {
	if s.CryptoExec == nil {
		return errors.New("crypto helper not available")
	}

	err := s.CryptoExec(verb)
	if err == nil {
		return nil
	}

	reason := verb + "_failed"

	if fileCrypto(s) && !s.IsGsiRunning() {
		logging.Default().Error("%s, wiping: %v", reason, err)

		return s.rebootIntoRecovery([]string{
			"--prompt_and_wipe_data",
			"--reason=" + reason,
		})
	}

	logging.Default().Error("%s: %v", reason, err)

	return nil
}

func doInstallkey(session *Session, args Arguments) error {
	if !fileCrypto(session) {
		return nil
	}

	unencrypted := args.Args[0] + "/unencrypted"
	if err := os.Mkdir(unencrypted, 0o700); err != nil &&
		!errors.Is(err, fs.ErrExist) {
		return errnoError("create "+unencrypted, err)
	}

	return session.cryptoHelper("enablefilecrypto")
}

func doInitUser0(session *Session, _ Arguments) error {
	return session.cryptoHelper("init_user0")
}

func doLoadPersistProps(session *Session, _ Arguments) error {
	session.persistPropsLoads++

	// On a block-encrypted device the first call runs against the
	// temporary pre-decryption userdata and must be skipped; the real
	// load happens after the second mount.
	if session.persistPropsLoads == 1 &&
		session.Properties.Get("ro.crypto.state", "") == "encrypted" &&
		session.Properties.Get("ro.crypto.type", "") == "block" {
		return nil
	}

	if session.LoadPersistentProperties == nil {
		return errors.New("persistent properties not available")
	}

	if err := session.LoadPersistentProperties(); err != nil {
		return fmt.Errorf("load persistent properties: %w", err)
	}

	return nil
}

func doLoadSystemProps(_ *Session, _ Arguments) error {
	logging.Default().Warn("load_system_props is deprecated and does nothing")

	return nil
}
