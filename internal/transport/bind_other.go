//go:build !linux

package transport

import (
	"errors"
	"syscall"
)

// bindToDevice is not supported on this platform.
func bindToDevice(c syscall.RawConn, dev string) error {
	return errors.New("binding to a device is not supported on this platform")
}
