//go:build unix

package hardware

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// listenControl lets a rebooted actuator be re-accepted on its port straight after a previous
// session, while the old socket is still in TIME_WAIT.
func listenControl(network, address string, c syscall.RawConn) (err error) {
	cerr := c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if cerr != nil {
		return cerr
	}
	return
}
