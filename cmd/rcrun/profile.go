// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Profile is a declarative boot fragment: the services the commands may
// address and the command lines to execute in order.
type Profile struct {
	// Loglevel is a kernel-style severity, 0 (most severe) to 7.
	Loglevel *int `yaml:"loglevel"`
	// ApexUpdatable enables the post-data service-class commands.
	ApexUpdatable bool `yaml:"apex_updatable"`
	// Fstab is the table used by remount_userdata and
	// verity_update_state. Empty selects /etc/fstab.
	Fstab string `yaml:"fstab"`
	// CryptoHelper is the binary invoked for installkey and init_user0
	// verbs. Without it those commands fail.
	CryptoHelper string `yaml:"crypto_helper"`

	// Properties seeds the property store before any command runs.
	Properties map[string]string `yaml:"properties"`
	// LateImports queues command fragments consumed by the first
	// mount_all without explicit paths.
	LateImports []string `yaml:"late_imports"`

	Services []ServiceProfile `yaml:"services"`
	Commands []string         `yaml:"commands"`
}

// ServiceProfile declares one controllable service.
type ServiceProfile struct {
	Name       string   `yaml:"name"`
	Classes    []string `yaml:"classes"`
	Interfaces []string `yaml:"interfaces"`
	Command    []string `yaml:"command"`
	Disabled   bool     `yaml:"disabled"`
	Oneshot    bool     `yaml:"oneshot"`
}

func loadProfile(path string) (*Profile, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)

	var profile Profile
	if err := decoder.Decode(&profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}

	for idx, svc := range profile.Services {
		if svc.Name == "" {
			return nil, fmt.Errorf("service %d has no name", idx)
		}
	}

	return &profile, nil
}
