//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindToDevice binds the socket to the given network device.
func bindToDevice(c syscall.RawConn, dev string) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.BindToDevice(int(fd), dev)
	})
	if err != nil {
		return err
	}
	return serr
}
