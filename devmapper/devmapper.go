// SPDX-FileCopyrightText: 2026 The emberos authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package devmapper talks to the kernel device-mapper control device. It
// builds the fixed-layout control block each request requires and decodes
// the fields the boot code consumes.
package devmapper

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ControlDevice is the device-mapper control node.
const ControlDevice = "/dev/device-mapper"

// ioctlBlock mirrors struct dm_ioctl. The layout is kernel ABI and must
// not change.
type ioctlBlock struct {
	version     [3]uint32
	dataSize    uint32
	dataStart   uint32
	targetCount uint32
	openCount   int32
	flags       uint32
	eventNr     uint32
	padding     uint32
	dev         uint64
	name        [unix.DM_NAME_LEN]byte
	uuid        [unix.DM_UUID_LEN]byte
	data        [7]byte
}

// Handle is an open control-device descriptor with a reusable control
// block. It is intended for a single operation sequence and must be
// closed afterwards.
type Handle struct {
	fd    int
	block ioctlBlock
	ioctl func(fd int, req uint, block *ioctlBlock) error
}

// Open opens the device-mapper control device.
func Open() (*Handle, error) {
	fd, err := unix.Open(ControlDevice, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", ControlDevice, err)
	}

	return &Handle{fd: fd, ioctl: sysIoctl}, nil
}

// Close releases the control-device descriptor.
func (h *Handle) Close() error {
	if err := unix.Close(h.fd); err != nil {
		return fmt.Errorf("close control device: %w", err)
	}

	return nil
}

// initBlock zeroes the control block, stamps the interface version and
// copies the device name, truncated to the kernel name-field length.
func (h *Handle) initBlock(name string) {
	h.block = ioctlBlock{}
	h.block.dataSize = uint32(unsafe.Sizeof(h.block))
	h.block.dataStart = uint32(unsafe.Sizeof(h.block))
	h.block.version = [3]uint32{4, 0, 0}

	if name != "" {
		copy(h.block.name[:len(h.block.name)-1], name)
	}
}

// CreateDevice registers a new device-mapper device under the given name.
func (h *Handle) CreateDevice(name string) error {
	h.initBlock(name)

	if err := h.ioctl(h.fd, unix.DM_DEV_CREATE, &h.block); err != nil {
		return fmt.Errorf("create device mapping: %w", err)
	}

	return nil
}

// DestroyDevice removes the device-mapper device with the given name.
func (h *Handle) DestroyDevice(name string) error {
	h.initBlock(name)

	if err := h.ioctl(h.fd, unix.DM_DEV_REMOVE, &h.block); err != nil {
		return fmt.Errorf("remove device mapping: %w", err)
	}

	return nil
}

// DeviceName returns the block-device path of the named device-mapper
// device, derived from the packed device number the status request
// reports.
func (h *Handle) DeviceName(name string) (string, error) {
	h.initBlock(name)

	if err := h.ioctl(h.fd, unix.DM_DEV_STATUS, &h.block); err != nil {
		return "", fmt.Errorf("fetch device-mapper device number: %w", err)
	}

	return devicePath(h.block.dev), nil
}

// ResumeTable activates the most recently loaded table of the named
// device.
func (h *Handle) ResumeTable(name string) error {
	h.initBlock(name)

	if err := h.ioctl(h.fd, unix.DM_DEV_SUSPEND, &h.block); err != nil {
		return fmt.Errorf("activate device table: %w", err)
	}

	return nil
}

// devicePath unpacks the huge-dev encoded device number into the dm block
// device path.
func devicePath(raw uint64) string {
	num := (raw & 0xff) | ((raw >> 12) & 0xfff00)
	return fmt.Sprintf("/dev/block/dm-%d", num)
}

func sysIoctl(fd int, req uint, block *ioctlBlock) error {
	_, _, errno := unix.Syscall(
		unix.SYS_IOCTL,
		uintptr(fd),
		uintptr(req),
		uintptr(unsafe.Pointer(block)),
	)
	if errno != 0 {
		return errno
	}

	return nil
}
