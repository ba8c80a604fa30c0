// +build windows

package rmi

import "net"

// tuneTCPConn uses the standard library's portable setters on Windows,
// where golang.org/x/sys/unix does not apply; see tcpopts_unix.go for the
// raw-fd path used everywhere else.
func tuneTCPConn(conn net.Conn) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tcp.SetKeepAlive(true); err != nil {
		return err
	}
	return tcp.SetNoDelay(true)
}
