// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package builtin

import (
	"fmt"

	"github.com/emberos/init/internal/logging"
)

// classDisabledProp reports whether starting the class has been vetoed
// through the property store.
func classDisabledProp(session *Session, class string) bool {
	return session.Properties.GetBool(
		"persist.init.dont_start_class."+class, false,
	)
}

// forEachInClass applies fn to every service in the class. Per-service
// failures are logged and do not stop the sweep.
func forEachInClass(session *Session, class, verb string, fn func(Service) error) {
	session.Services.Each(func(svc Service) {
		if !svc.InClass(class) {
			return
		}

		if err := fn(svc); err != nil {
			logging.Default().Error(
				"could not %s service %q of class %q: %v",
				verb, svc.Name(), class, err,
			)
		}
	})
}

func doClassStart(session *Session, args Arguments) error {
	class := args.Args[0]
	if classDisabledProp(session, class) {
		return nil
	}

	forEachInClass(session, class, "start", Service.StartIfNotDisabled)

	return nil
}

func doClassStartPostData(session *Session, args Arguments) error {
	if !session.ApexUpdatable {
		return nil
	}

	forEachInClass(session, args.Args[0], "start", Service.StartIfPostData)

	return nil
}

func doClassStop(session *Session, args Arguments) error {
	forEachInClass(session, args.Args[0], "stop", func(svc Service) error {
		svc.Stop()
		return nil
	})

	return nil
}

func doClassReset(session *Session, args Arguments) error {
	forEachInClass(session, args.Args[0], "reset", func(svc Service) error {
		svc.Reset()
		return nil
	})

	return nil
}

func doClassResetPostData(session *Session, args Arguments) error {
	if !session.ApexUpdatable {
		return nil
	}

	forEachInClass(session, args.Args[0], "reset", func(svc Service) error {
		svc.ResetIfPostData()
		return nil
	})

	return nil
}

func doClassRestart(session *Session, args Arguments) error {
	class := args.Args[0]
	if classDisabledProp(session, class) {
		return nil
	}

	forEachInClass(session, class, "restart", func(svc Service) error {
		svc.Restart()
		return nil
	})

	return nil
}

func findService(session *Session, name string) (Service, error) {
	svc := session.Services.FindService(name)
	if svc == nil {
		return nil, fmt.Errorf("service %q not found", name)
	}

	return svc, nil
}

func doEnable(session *Session, args Arguments) error {
	svc, err := findService(session, args.Args[0])
	if err != nil {
		return err
	}

	if err := svc.Enable(); err != nil {
		return fmt.Errorf("enable service %q: %w", args.Args[0], err)
	}

	return nil
}

func doStart(session *Session, args Arguments) error {
	svc, err := findService(session, args.Args[0])
	if err != nil {
		return err
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start service %q: %w", args.Args[0], err)
	}

	return nil
}

func doStop(session *Session, args Arguments) error {
	svc, err := findService(session, args.Args[0])
	if err != nil {
		return err
	}

	svc.Stop()

	return nil
}

func doRestart(session *Session, args Arguments) error {
	svc, err := findService(session, args.Args[0])
	if err != nil {
		return err
	}

	svc.Restart()

	return nil
}

func findInterface(session *Session, name string) (Service, error) {
	svc := session.Services.FindInterface(name)
	if svc == nil {
		return nil, fmt.Errorf("interface %q not found", name)
	}

	return svc, nil
}

func doInterfaceStart(session *Session, args Arguments) error {
	svc, err := findInterface(session, args.Args[0])
	if err != nil {
		return err
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start interface %q: %w", args.Args[0], err)
	}

	return nil
}

func doInterfaceStop(session *Session, args Arguments) error {
	svc, err := findInterface(session, args.Args[0])
	if err != nil {
		return err
	}

	svc.Stop()

	return nil
}

func doInterfaceRestart(session *Session, args Arguments) error {
	svc, err := findInterface(session, args.Args[0])
	if err != nil {
		return err
	}

	svc.Restart()

	return nil
}

// doExec runs a transient service synchronously. The dispatcher blocks
// until the process exits.
func doExec(session *Session, args Arguments) error {
	svc, err := session.Services.MakeExecService(args.Args)
	if err != nil {
		return fmt.Errorf("create exec service: %w", err)
	}

	if err := svc.ExecStart(); err != nil {
		return fmt.Errorf("start exec service: %w", err)
	}

	return nil
}

func doExecBackground(session *Session, args Arguments) error {
	svc, err := session.Services.MakeExecService(args.Args)
	if err != nil {
		return fmt.Errorf("create exec service: %w", err)
	}

	if err := svc.Start(); err != nil {
		return fmt.Errorf("start exec service: %w", err)
	}

	return nil
}

func doExecStart(session *Session, args Arguments) error {
	svc, err := findService(session, args.Args[0])
	if err != nil {
		return err
	}

	if err := svc.ExecStart(); err != nil {
		return fmt.Errorf("start service %q: %w", args.Args[0], err)
	}

	return nil
}

func doMarkPostData(session *Session, _ Arguments) error {
	session.Services.MarkPostData()

	return nil
}
