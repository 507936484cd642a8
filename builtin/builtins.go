// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/emberos/init/internal/logging"
	"github.com/emberos/init/internal/readahead"
	"github.com/emberos/init/props"
)

// propValueMax bounds property values, matching the property service.
const propValueMax = 92

// restoreconProperty is reserved for the labeling engine and must not be
// set from scripts.
const restoreconProperty = "selinux.restorecon_recursive"

func doSetprop(session *Session, args Arguments) error {
	name, value := args.Args[0], args.Args[1]

	if strings.HasPrefix(name, "ctl.") {
		return errors.New(
			"do not set ctl. properties from scripts, use the service commands",
		)
	}

	if name == restoreconProperty {
		return fmt.Errorf(
			"%q is reserved, use the restorecon command", restoreconProperty,
		)
	}

	session.Properties.Set(name, value)

	return nil
}

func doTrigger(session *Session, args Arguments) error {
	session.Triggers.QueueEventTrigger(args.Args[0])

	return nil
}

func doLoglevel(_ *Session, args Arguments) error {
	boot, err := strconv.Atoi(args.Args[0])
	if err != nil {
		return fmt.Errorf("invalid log level %q", args.Args[0])
	}

	level, err := logging.FromBootLevel(boot)
	if err != nil {
		return err
	}

	logging.Default().SetLevel(level)

	return nil
}

func doWait(session *Session, args Arguments) error {
	timeout := commandRetryTimeout

	if len(args.Args) == 2 {
		secs, err := strconv.Atoi(args.Args[1])
		if err != nil {
			return fmt.Errorf("invalid timeout %q", args.Args[1])
		}

		timeout = time.Duration(secs) * time.Second
	}

	if err := session.WaitForFile(args.Args[0], timeout); err != nil {
		return fmt.Errorf("wait for %s: %w", args.Args[0], err)
	}

	return nil
}

func doWaitForProp(session *Session, args Arguments) error {
	name, value := args.Args[0], args.Args[1]

	if !props.IsLegalName(name) {
		return fmt.Errorf("illegal property name %q", name)
	}

	if len(value) >= propValueMax {
		return fmt.Errorf("property value for %q too long", name)
	}

	if session.StartWaitingForProperty == nil {
		return errors.New("property waits not available")
	}

	if !session.StartWaitingForProperty(name, value) {
		return errors.New("already waiting for a property")
	}

	return nil
}

func doReadahead(session *Session, args Arguments) error {
	fully := false

	if len(args.Args) == 2 {
		if args.Args[1] != "--fully" {
			return fmt.Errorf("invalid readahead option %q", args.Args[1])
		}

		fully = true
	}

	path := args.Args[0]

	info, err := os.Stat(path)
	if err != nil {
		return errnoError("stat "+path, err)
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return fmt.Errorf("readahead requires a regular file or directory: %s", path)
	}

	session.Spawn(func() {
		if err := readahead.Run(path, fully); err != nil {
			logging.Default().Warn("readahead %s: %v", path, err)
		}
	})

	return nil
}

// apexConfigGlob matches the configuration fragments of mounted apex
// images. Versioned duplicate mounts carry an @ and are skipped.
const apexConfigGlob = "/apex/*/etc/*.rc"

func doParseApexConfigs(session *Session, _ Arguments) error {
	configs, err := filepath.Glob(apexConfigGlob)
	if err != nil {
		return fmt.Errorf("glob apex configs: %w", err)
	}

	var errs []error

	for _, config := range configs {
		if strings.Contains(config, "@") {
			continue
		}

		if session.ImportConfig == nil {
			break
		}

		if err := session.ImportConfig(config); err != nil {
			errs = append(errs, fmt.Errorf("parse %s: %w", config, err))
		}
	}

	session.Services.MarkServicesUpdate()

	return errors.Join(errs...)
}

func doVerityUpdateState(session *Session, _ Arguments) error {
	if session.VerityState == nil || session.DefaultFstab == nil {
		return nil
	}

	mode, err := session.VerityState()
	if err != nil {
		return fmt.Errorf("load verity state: %w", err)
	}

	table, err := session.DefaultFstab()
	if err != nil {
		return fmt.Errorf("read default fstab: %w", err)
	}

	for _, entry := range table.Entries {
		if !entry.HasManagerFlag("verify") {
			continue
		}

		partition := filepath.Base(entry.MountPoint)
		if entry.MountPoint == "/" {
			partition = "system"
		}

		session.Properties.Set(
			"partition."+partition+".verified", strconv.Itoa(mode),
		)
	}

	return nil
}

func doEnterDefaultMountNS(session *Session, _ Arguments) error {
	if session.SwitchDefaultMountNS == nil {
		return errors.New("mount namespaces not available")
	}

	if err := session.SwitchDefaultMountNS(); err != nil {
		return fmt.Errorf("switch to default mount namespace: %w", err)
	}

	return nil
}

// Commands is the builtin registry. Argument bounds exclude the command
// name itself.
var Commands = Map{
	"chmod":                  {MinArgs: 2, MaxArgs: 2, RestoreFileContext: true, Handler: doChmod},
	"chown":                  {MinArgs: 2, MaxArgs: 3, RestoreFileContext: true, Handler: doChown},
	"class_reset":            {MinArgs: 1, MaxArgs: 1, Handler: doClassReset},
	"class_reset_post_data":  {MinArgs: 1, MaxArgs: 1, InitOnly: true, Handler: doClassResetPostData},
	"class_restart":          {MinArgs: 1, MaxArgs: 1, Handler: doClassRestart},
	"class_start":            {MinArgs: 1, MaxArgs: 1, Handler: doClassStart},
	"class_start_post_data":  {MinArgs: 1, MaxArgs: 1, InitOnly: true, Handler: doClassStartPostData},
	"class_stop":             {MinArgs: 1, MaxArgs: 1, Handler: doClassStop},
	"copy":                   {MinArgs: 2, MaxArgs: 2, RestoreFileContext: true, Handler: doCopy},
	"domainname":             {MinArgs: 1, MaxArgs: 1, RestoreFileContext: true, Handler: doDomainname},
	"enable":                 {MinArgs: 1, MaxArgs: 1, Handler: doEnable},
	"enter_default_mount_ns": {MinArgs: 0, MaxArgs: 0, Handler: doEnterDefaultMountNS},
	"exec":                   {MinArgs: 1, MaxArgs: Unbounded, Handler: doExec},
	"exec_background":        {MinArgs: 1, MaxArgs: Unbounded, Handler: doExecBackground},
	"exec_start":             {MinArgs: 1, MaxArgs: 1, Handler: doExecStart},
	"export":                 {MinArgs: 2, MaxArgs: 2, Handler: doExport},
	"hostname":               {MinArgs: 1, MaxArgs: 1, RestoreFileContext: true, Handler: doHostname},
	"ifup":                   {MinArgs: 1, MaxArgs: 1, RestoreFileContext: true, Handler: doIfup},
	"init_user0":             {MinArgs: 0, MaxArgs: 0, Handler: doInitUser0},
	"insmod":                 {MinArgs: 1, MaxArgs: Unbounded, RestoreFileContext: true, Handler: doInsmod},
	"installkey":             {MinArgs: 1, MaxArgs: 1, Handler: doInstallkey},
	"interface_restart":      {MinArgs: 1, MaxArgs: 1, Handler: doInterfaceRestart},
	"interface_start":        {MinArgs: 1, MaxArgs: 1, Handler: doInterfaceStart},
	"interface_stop":         {MinArgs: 1, MaxArgs: 1, Handler: doInterfaceStop},
	"load_persist_props":     {MinArgs: 0, MaxArgs: 0, Handler: doLoadPersistProps},
	"load_system_props":      {MinArgs: 0, MaxArgs: 0, Handler: doLoadSystemProps},
	"loglevel":               {MinArgs: 1, MaxArgs: 1, Handler: doLoglevel},
	"mark_post_data":         {MinArgs: 0, MaxArgs: 0, Handler: doMarkPostData},
	"mkdir":                  {MinArgs: 1, MaxArgs: 6, RestoreFileContext: true, Handler: doMkdir},
	"mount":                  {MinArgs: 3, MaxArgs: Unbounded, Handler: doMount},
	"mount_all":              {MinArgs: 1, MaxArgs: Unbounded, Handler: doMountAll},
	"parse_apex_configs":     {MinArgs: 0, MaxArgs: 0, Handler: doParseApexConfigs},
	"readahead":              {MinArgs: 1, MaxArgs: 2, RestoreFileContext: true, Handler: doReadahead},
	"remount_userdata":       {MinArgs: 0, MaxArgs: 0, Handler: doRemountUserdata},
	"restart":                {MinArgs: 1, MaxArgs: 1, Handler: doRestart},
	"restorecon":             {MinArgs: 1, MaxArgs: Unbounded, RestoreFileContext: true, Handler: doRestorecon},
	"restorecon_recursive":   {MinArgs: 1, MaxArgs: Unbounded, RestoreFileContext: true, Handler: doRestoreconRecursive},
	"rm":                     {MinArgs: 1, MaxArgs: 1, RestoreFileContext: true, Handler: doRm},
	"rmdir":                  {MinArgs: 1, MaxArgs: 1, RestoreFileContext: true, Handler: doRmdir},
	"setprop":                {MinArgs: 2, MaxArgs: 2, RestoreFileContext: true, Handler: doSetprop},
	"setrlimit":              {MinArgs: 3, MaxArgs: 3, Handler: doSetrlimit},
	"start":                  {MinArgs: 1, MaxArgs: 1, Handler: doStart},
	"stop":                   {MinArgs: 1, MaxArgs: 1, Handler: doStop},
	"swapon_all":             {MinArgs: 1, MaxArgs: 1, Handler: doSwaponAll},
	"symlink":                {MinArgs: 2, MaxArgs: 2, RestoreFileContext: true, Handler: doSymlink},
	"sysclktz":               {MinArgs: 1, MaxArgs: 1, Handler: doSysclktz},
	"trigger":                {MinArgs: 1, MaxArgs: 1, Handler: doTrigger},
	"umount":                 {MinArgs: 1, MaxArgs: 1, Handler: doUmount},
	"umount_all":             {MinArgs: 1, MaxArgs: 1, Handler: doUmountAll},
	"verity_update_state":    {MinArgs: 0, MaxArgs: 0, Handler: doVerityUpdateState},
	"wait":                   {MinArgs: 1, MaxArgs: 2, RestoreFileContext: true, Handler: doWait},
	"wait_for_prop":          {MinArgs: 2, MaxArgs: 2, Handler: doWaitForProp},
	"write":                  {MinArgs: 2, MaxArgs: 2, RestoreFileContext: true, Handler: doWrite},
}
