//go:build !unix

package hardware

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error {
	return nil
}
