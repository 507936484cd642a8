// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberos/init/builtin"
	"github.com/emberos/init/internal/logging"
)

func newCommand() *cobra.Command {
	var contextName string

	cmd := &cobra.Command{
		Use:          "rcrun <profile>",
		Short:        "Execute a boot profile of init builtin commands",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			context, err := parseContext(contextName)
			if err != nil {
				return err
			}

			profile, err := loadProfile(args[0])
			if err != nil {
				return err
			}

			if profile.Loglevel != nil {
				level, err := logging.FromBootLevel(*profile.Loglevel)
				if err != nil {
					return err
				}

				logging.Default().SetLevel(level)
			}

			return newRunner(profile, context).run(profile.Commands)
		},
	}

	cmd.Flags().StringVar(
		&contextName, "context", "init",
		"issuing context, init or vendor_init",
	)

	return cmd
}

func parseContext(name string) (builtin.Context, error) {
	switch name {
	case "init":
		return builtin.ContextInit, nil
	case "vendor_init":
		return builtin.ContextVendor, nil
	default:
		return 0, fmt.Errorf("unknown context %q", name)
	}
}
