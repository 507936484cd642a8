// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// rcrun executes a boot profile of init builtin commands. It is meant
// for bring-up and recovery shells where the full init process is not
// running but its command surface is needed.
package main

import (
	"os"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
